package mapview

import (
	apperrors "github.com/aditya/resq/internal/errors"
	"github.com/aditya/resq/internal/models"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const defaultMapboxStyle = "mapbox://styles/mapbox/streets-v12"

type mapboxProvider struct {
	layer
	accessToken string
	style       string
}

func NewMapbox(accessToken string) Provider {
	return &mapboxProvider{layer: newLayer("mapbox"), accessToken: accessToken, style: defaultMapboxStyle}
}

func (p *mapboxProvider) RenderBase(center models.Coordinates, zoom float64) error {
	if p.accessToken == "" {
		return &apperrors.ProviderInitError{Provider: p.name, Reason: "missing access token"}
	}
	p.base(center, zoom)
	return nil
}

type MapboxScene struct {
	AccessToken string                     `json:"access_token"`
	Style       string                     `json:"style"`
	Center      [2]float64                 `json:"center"` // [lng, lat]
	Zoom        float64                    `json:"zoom"`
	Markers     *geojson.FeatureCollection `json:"markers"`
}

func (p *mapboxProvider) Scene() any {
	markers, center, zoom := p.snapshot()
	fc := geojson.NewFeatureCollection()
	for _, m := range markers {
		f := geojson.NewFeature(orb.Point{m.Coords.Lng, m.Coords.Lat})
		f.ID = m.ID
		f.Properties["id"] = m.ID
		f.Properties["style"] = string(m.Style)
		fc.Append(f)
	}
	return MapboxScene{
		AccessToken: p.accessToken,
		Style:       p.style,
		Center:      [2]float64{center.Lng, center.Lat},
		Zoom:        zoom,
		Markers:     fc,
	}
}
