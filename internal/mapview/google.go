package mapview

import (
	apperrors "github.com/aditya/resq/internal/errors"
	"github.com/aditya/resq/internal/models"
)

type googleProvider struct {
	layer
	apiKey string
}

func NewGoogle(apiKey string) Provider {
	return &googleProvider{layer: newLayer("google"), apiKey: apiKey}
}

func (p *googleProvider) RenderBase(center models.Coordinates, zoom float64) error {
	if p.apiKey == "" {
		return &apperrors.ProviderInitError{Provider: p.name, Reason: "missing API key"}
	}
	p.base(center, zoom)
	return nil
}

type LatLngLiteral struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type GoogleMarker struct {
	ID       string        `json:"id"`
	Position LatLngLiteral `json:"position"`
	Icon     string        `json:"icon"`
}

type GoogleScene struct {
	APIKey  string         `json:"api_key"`
	Center  LatLngLiteral  `json:"center"`
	Zoom    float64        `json:"zoom"`
	Markers []GoogleMarker `json:"markers"`
}

func (p *googleProvider) Scene() any {
	markers, center, zoom := p.snapshot()
	out := make([]GoogleMarker, len(markers))
	for i, m := range markers {
		out[i] = GoogleMarker{
			ID:       m.ID,
			Position: LatLngLiteral{Lat: m.Coords.Lat, Lng: m.Coords.Lng},
			Icon:     string(m.Style),
		}
	}
	return GoogleScene{
		APIKey:  p.apiKey,
		Center:  LatLngLiteral{Lat: center.Lat, Lng: center.Lng},
		Zoom:    zoom,
		Markers: out,
	}
}
