// Package render defines the drawing contract shared by the raster and
// vector document backends, plus the pieces both must compute identically:
// word wrapping, colour parsing and unit conversion.
//
// Overlay and legend code is written once against Backend. Nothing in this
// package draws.
package render

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/gogpu/gg"

	"github.com/joeblew999/plat-siteplan/internal/geom"
)

// ErrNoTile is returned by DrawIcon when there is no tile to draw. Callers
// fall back to DrawMarker.
var ErrNoTile = errors.New("render: no icon tile")

// Color is a straight-alpha colour with components in [0, 1].
type Color = gg.RGBA

// Common colours.
var (
	Black = Color{A: 1}
	White = Color{R: 1, G: 1, B: 1, A: 1}
	Grey  = Color{R: 0.45, G: 0.45, B: 0.45, A: 1}
)

// ParseColor parses a CSS hex colour ("#rgb", "#rrggbb", "#rrggbbaa"),
// returning fallback when s is empty or malformed.
func ParseColor(s string, fallback Color) Color {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	switch len(hex) {
	case 3, 4, 6, 8:
	default:
		return fallback
	}
	for _, r := range hex {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return fallback
		}
	}
	return gg.Hex(hex)
}

// Units converts physical sizes into a backend's page units.
type Units struct {
	// PerMM is the number of page units in one millimetre.
	PerMM float64
}

// MM converts millimetres to page units.
func (u Units) MM(mm float64) float64 {
	return mm * u.PerMM
}

// IconTile is a square raster icon at a fixed pixel size. The same tile is
// embedded by every backend so icons look identical in all outputs.
type IconTile struct {
	SourceRef string
	PixelSize int
	Image     *image.RGBA
}

// Key identifies the tile within one export.
func (t *IconTile) Key() string {
	return TileKey(t.SourceRef, t.PixelSize)
}

// TileKey builds the cache key for a source at a pixel size.
func TileKey(ref string, size int) string {
	return fmt.Sprintf("%s@%d", ref, size)
}

// Font selects text size (page units), weight and colour.
type Font struct {
	Size  float64
	Bold  bool
	Color Color
}

// IconOptions controls icon placement.
type IconOptions struct {
	// Size is the edge length of the drawn icon in page units.
	Size        float64
	RotationDeg float64
	Flipped     bool
}

// LineStyle controls polylines.
type LineStyle struct {
	Color   Color
	Width   float64
	Opacity float64
	Dashed  bool
}

// PolygonStyle controls rings. A nil Fill draws the stroke only.
type PolygonStyle struct {
	Fill        *Color
	FillOpacity float64
	Stroke      Color
	StrokeWidth float64
}

// MarkerStyle is the primitive circle used when an icon cannot be drawn.
type MarkerStyle struct {
	Fill   Color
	Stroke Color
	Radius float64
}

// Backend is an output surface. Every method draws in page units with the
// origin at the top-left of the current page.
//
// Primitives return an error for a single unusable feature (missing tile,
// degenerate ring). Callers log and continue; an error never invalidates the
// backend.
type Backend interface {
	Units() Units
	PageSize() (width, height float64)

	// DrawImage draws a bitmap scaled into the given box.
	DrawImage(img image.Image, topLeft geom.Point, width, height float64) error
	DrawIcon(tile *IconTile, center geom.Point, opts IconOptions) error
	DrawMarker(center geom.Point, style MarkerStyle) error
	DrawPolyline(points []geom.Point, style LineStyle) error
	DrawPolygon(ring []geom.Point, style PolygonStyle) error
	// DrawBadge draws a numbered circle of a fixed physical radius.
	DrawBadge(center geom.Point, n int) error
	// DrawWrappedText wraps text to maxWidth with Wrap and draws one line
	// per lineHeight starting at topLeft. It returns the height used.
	DrawWrappedText(text string, topLeft geom.Point, maxWidth, lineHeight float64, font Font) (float64, error)

	// Measure returns the advance width of text in page units.
	Measure(text string, font Font) float64

	// NewPage starts a fresh page. Single-page backends ignore it.
	NewPage()
}

// BadgeRadiusMM is the printed badge radius.
const BadgeRadiusMM = 2.2

// RectRing returns the closed ring of an axis-aligned rectangle.
func RectRing(x, y, w, h float64) []geom.Point {
	return []geom.Point{{X: x, Y: y}, {X: x + w, Y: y}, {X: x + w, Y: y + h}, {X: x, Y: y + h}}
}
