package mapview

import (
	apperrors "github.com/aditya/resq/internal/errors"
	"github.com/aditya/resq/internal/models"
)

const DefaultLeafletTileURL = "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"

type leafletProvider struct {
	layer
	tileURL string
}

func NewLeaflet(tileURL string) Provider {
	if tileURL == "" {
		tileURL = DefaultLeafletTileURL
	}
	return &leafletProvider{layer: newLayer("leaflet"), tileURL: tileURL}
}

func (p *leafletProvider) RenderBase(center models.Coordinates, zoom float64) error {
	if p.tileURL == "" {
		return &apperrors.ProviderInitError{Provider: p.name, Reason: "missing tile URL"}
	}
	p.base(center, zoom)
	return nil
}

type LeafletMarker struct {
	ID     string     `json:"id"`
	LatLng [2]float64 `json:"latlng"` // [lat, lng]
	Class  string     `json:"class"`
}

type LeafletScene struct {
	TileURL string          `json:"tile_url"`
	Center  [2]float64      `json:"center"` // [lat, lng]
	Zoom    float64         `json:"zoom"`
	Markers []LeafletMarker `json:"markers"`
}

func (p *leafletProvider) Scene() any {
	markers, center, zoom := p.snapshot()
	out := make([]LeafletMarker, len(markers))
	for i, m := range markers {
		out[i] = LeafletMarker{ID: m.ID, LatLng: [2]float64{m.Coords.Lat, m.Coords.Lng}, Class: string(m.Style)}
	}
	return LeafletScene{
		TileURL: p.tileURL,
		Center:  [2]float64{center.Lat, center.Lng},
		Zoom:    zoom,
		Markers: out,
	}
}
