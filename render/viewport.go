package render

import (
	"fmt"
	"sync"
)

// LatLng is a WGS84 coordinate.
type LatLng struct {
	Lat float64
	Lon float64
}

func (p LatLng) String() string {
	return fmt.Sprintf("%.5f, %.5f", p.Lat, p.Lon)
}

// Bounds is the smallest box holding a set of points.
type Bounds struct {
	SouthWest LatLng
	NorthEast LatLng
}

// Center returns the middle of the box.
func (b Bounds) Center() LatLng {
	return LatLng{
		Lat: (b.SouthWest.Lat + b.NorthEast.Lat) / 2,
		Lon: (b.SouthWest.Lon + b.NorthEast.Lon) / 2,
	}
}

// BoundsOf returns the bounds of points. ok is false for an empty slice.
func BoundsOf(points []LatLng) (b Bounds, ok bool) {
	if len(points) == 0 {
		return Bounds{}, false
	}
	b = Bounds{SouthWest: points[0], NorthEast: points[0]}
	for _, p := range points[1:] {
		b.SouthWest.Lat = min(b.SouthWest.Lat, p.Lat)
		b.SouthWest.Lon = min(b.SouthWest.Lon, p.Lon)
		b.NorthEast.Lat = max(b.NorthEast.Lat, p.Lat)
		b.NorthEast.Lon = max(b.NorthEast.Lon, p.Lon)
	}
	return b, true
}

// Popup is the summary shown when a marker is opened.
type Popup struct {
	ImageURL string
	Date     string
	Location string
}

// Marker is the map visual of one GPS-bearing record.
type Marker struct {
	ID       int64
	Position LatLng
	Popup    Popup
}

// Map is the viewport the engine draws into.
type Map interface {
	SetView(center LatLng, zoom int)
	Clear()
	AddMarker(m *Marker)
	FitBounds(b Bounds, padding int)
	// FlyTo animates to center and calls done once the move has ended.
	FlyTo(center LatLng, zoom int, done func())
	OpenPopup(id int64)
}

// Viewport is a headless Map. Moves complete immediately.
type Viewport struct {
	mu      sync.Mutex
	center  LatLng
	zoom    int
	markers []*Marker
	fitted  *Bounds
	padding int
	popup   int64
}

var _ Map = (*Viewport)(nil)

// ViewportState is a snapshot of a Viewport.
type ViewportState struct {
	Center  LatLng
	Zoom    int
	Markers []*Marker
	Fitted  *Bounds
	Padding int
	// OpenPopup is the id of the marker whose popup is open, or 0.
	OpenPopup int64
}

func (v *Viewport) SetView(center LatLng, zoom int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.center, v.zoom, v.fitted = center, zoom, nil
}

func (v *Viewport) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.markers = nil
	v.popup = 0
}

func (v *Viewport) AddMarker(m *Marker) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.markers = append(v.markers, m)
}

func (v *Viewport) FitBounds(b Bounds, padding int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.center = b.Center()
	v.fitted = &b
	v.padding = padding
}

func (v *Viewport) FlyTo(center LatLng, zoom int, done func()) {
	v.mu.Lock()
	v.center, v.zoom, v.fitted = center, zoom, nil
	v.popup = 0
	v.mu.Unlock()

	if done != nil {
		done()
	}
}

func (v *Viewport) OpenPopup(id int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, m := range v.markers {
		if m.ID == id {
			v.popup = id
			return
		}
	}
}

// State returns a snapshot of the viewport.
func (v *Viewport) State() ViewportState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return ViewportState{
		Center:    v.center,
		Zoom:      v.zoom,
		Markers:   append([]*Marker(nil), v.markers...),
		Fitted:    v.fitted,
		Padding:   v.padding,
		OpenPopup: v.popup,
	}
}
