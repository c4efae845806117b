package features

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Feature ids
const (
	MapMapbox        = "map-mapbox"
	MapGoogle        = "map-google"
	MapLeaflet       = "map-leaflet"
	EmergencyForm    = "emergency-form"
	MechanicList     = "mechanic-list"
	RealTimeTracking = "real-time-tracking"
)

const ProviderNone = "none"

// mapProviders in precedence order.
var mapProviders = []string{MapMapbox, MapGoogle, MapLeaflet}

type Flags struct {
	mu    sync.RWMutex
	flags map[string]bool
}

func Defaults() *Flags {
	return &Flags{flags: map[string]bool{
		MapMapbox:        true,
		MapGoogle:        false,
		MapLeaflet:       false,
		EmergencyForm:    true,
		MechanicList:     true,
		RealTimeTracking: true,
	}}
}

// Parse applies a comma separated list of id=bool pairs on top of the defaults.
func Parse(spec string) (*Flags, error) {
	f := Defaults()
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, errors.Errorf("feature %q: expected id=bool", pair)
		}
		on, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, errors.Wrapf(err, "feature %q", id)
		}
		f.Set(strings.TrimSpace(id), on)
	}
	return f, nil
}

// Enabled reports whether id is on. Unknown features are off.
func (f *Flags) Enabled(id string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.flags[id]
}

// Set toggles id. Turning a map provider on turns the other providers off.
func (f *Flags) Set(id string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if on && isMapProvider(id) {
		for _, p := range mapProviders {
			f.flags[p] = false
		}
	}
	f.flags[id] = on
}

// UseMapProvider selects name ("mapbox", "google", "leaflet" or "none").
func (f *Flags) UseMapProvider(name string) error {
	if name == ProviderNone {
		f.mu.Lock()
		for _, p := range mapProviders {
			f.flags[p] = false
		}
		f.mu.Unlock()
		return nil
	}
	id := "map-" + name
	if !isMapProvider(id) {
		return errors.Errorf("unknown map provider %q", name)
	}
	f.Set(id, true)
	return nil
}

// MapProvider returns the active provider name, or "none".
func (f *Flags) MapProvider() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, p := range mapProviders {
		if f.flags[p] {
			return strings.TrimPrefix(p, "map-")
		}
	}
	return ProviderNone
}

type Flag struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

func (f *Flags) List() []Flag {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Flag, 0, len(f.flags))
	for id, on := range f.flags {
		out = append(out, Flag{ID: id, Enabled: on})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func isMapProvider(id string) bool {
	for _, p := range mapProviders {
		if p == id {
			return true
		}
	}
	return false
}
