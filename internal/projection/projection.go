// Package projection turns geographic coordinates into page coordinates for
// one frozen viewport of a detached rendering surface.
package projection

import (
	"fmt"

	"github.com/joeblew999/plat-siteplan/internal/geom"
)

// Viewport is the camera state of a rendering surface. Two equal viewports
// project every coordinate to the same device pixel.
type Viewport struct {
	CenterLng float64 `json:"centerLng"`
	CenterLat float64 `json:"centerLat"`
	Zoom      float64 `json:"zoom"`
	Bearing   float64 `json:"bearing"`
	Pitch     float64 `json:"pitch"`
}

// Source is the part of a rendering surface the adapter needs.
type Source interface {
	Project(lng, lat float64) (x, y float64)
	Viewport() Viewport
}

// Adapter maps (lng, lat) to page units. It is only valid for the viewport
// it was built against; build a new one after the surface moves.
type Adapter struct {
	src      Source
	frozen   Viewport
	scale    float64
	origin   geom.Point
	pageSize geom.Point
}

// New builds an adapter over src. pixelsPerPageUnit converts device pixels to
// page units and origin is where the surface's top-left pixel lands on the
// page. New panics on a non-positive scale.
func New(src Source, pixelsPerPageUnit float64, origin geom.Point) *Adapter {
	if pixelsPerPageUnit <= 0 {
		panic(fmt.Sprintf("projection: pixelsPerPageUnit must be positive, got %v", pixelsPerPageUnit))
	}
	return &Adapter{
		src:    src,
		frozen: src.Viewport(),
		scale:  pixelsPerPageUnit,
		origin: origin,
	}
}

// WithPageSize records the size of the map area in page units, used by
// visibility checks.
func (a *Adapter) WithPageSize(width, height float64) *Adapter {
	a.pageSize = geom.Point{X: width, Y: height}
	return a
}

// PageSize returns the map area size set by WithPageSize.
func (a *Adapter) PageSize() (width, height float64) {
	return a.pageSize.X, a.pageSize.Y
}

// Scale returns the device pixels per page unit.
func (a *Adapter) Scale() float64 {
	return a.scale
}

// ToPage projects (lng, lat) into page units.
//
// Using an adapter after the surface's viewport changed is a programming
// error and panics rather than returning silently misplaced points.
func (a *Adapter) ToPage(lng, lat float64) geom.Point {
	if vp := a.src.Viewport(); vp != a.frozen {
		panic(fmt.Sprintf("projection: viewport moved from %+v to %+v after adapter was built", a.frozen, vp))
	}
	x, y := a.src.Project(lng, lat)
	return geom.Point{
		X: a.origin.X + x/a.scale,
		Y: a.origin.Y + y/a.scale,
	}
}

// Surface returns the device-pixel projection without page scaling, for
// callers that reason about what appears in the captured image.
func (a *Adapter) Surface(lng, lat float64) (x, y float64) {
	return a.src.Project(lng, lat)
}
