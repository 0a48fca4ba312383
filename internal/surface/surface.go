// Package surface defines the detached rendering surface an export owns:
// an off-screen map that is positioned once, waited on, captured and then
// disposed. It supplies the projection the overlay draws with.
package surface

import (
	"context"
	"errors"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-siteplan/internal/projection"
)

// ErrNotIdle is returned by Capture before the surface has settled.
var ErrNotIdle = errors.New("surface: not idle")

// ErrClosed is returned by every method after Close.
var ErrClosed = errors.New("surface: closed")

// Surface is a detached map instance.
type Surface interface {
	SetLayerVisibility(id string, visible bool)
	// FitBounds centres b in the viewport with padding CSS pixels on each
	// side, without animation.
	FitBounds(b orb.Bound, padding float64) error
	// WaitUntilIdle blocks until the style and every tile have loaded.
	WaitUntilIdle(ctx context.Context) error
	// Project maps a coordinate to CSS pixels of the current viewport.
	Project(lng, lat float64) (x, y float64)
	Viewport() projection.Viewport
	// Size is the viewport size in CSS pixels.
	Size() (width, height int)
	// Capture returns the rendered image as PNG at Size×PixelRatio.
	Capture(ctx context.Context) ([]byte, error)
	Close() error
}

// Factory creates surfaces.
type Factory interface {
	NewSurface(ctx context.Context, cfg Config) (Surface, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, cfg Config) (Surface, error)

// NewSurface calls f.
func (f FactoryFunc) NewSurface(ctx context.Context, cfg Config) (Surface, error) { return f(ctx, cfg) }

// Layer kinds.
const (
	KindFill   = "fill"
	KindLine   = "line"
	KindCircle = "circle"
)

// StyleLayer is one layer of the style snapshot.
type StyleLayer struct {
	ID string
	// SourceLayer names the basemap layer the features come from.
	SourceLayer string
	Kind        string
	Color       string
	Opacity     float64
	// Width is a line width or circle radius in CSS pixels.
	Width   float64
	Visible bool
	// Tool marks editing overlays, hidden on export.
	Tool bool
}

// Config describes the surface to create.
type Config struct {
	// Width and Height are in CSS pixels.
	Width, Height int
	PixelRatio    float64
	Background    string
	Layers        []StyleLayer
	// Basemap is a PMTiles archive of vector tiles; empty draws the
	// background only.
	Basemap string
	// Highlight is drawn over the basemap as the focused feature.
	Highlight      orb.Geometry
	HighlightColor string
	Bearing        float64
	// PitchDeg is recorded in the viewport. Static surfaces render flat.
	PitchDeg float64
}
