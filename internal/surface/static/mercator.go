package static

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// TileSize is the world size in CSS pixels at zoom 0.
const TileSize = 256

// MaxZoom caps FitBounds on tiny or degenerate bounds.
const MaxZoom = 22

const earthCircumference = 2 * math.Pi * 6378137

// world returns the Web Mercator position of p in [0,1]², y down.
func world(p orb.Point) (float64, float64) {
	m := project.WGS84.ToMercator(p)
	return m[0]/earthCircumference + 0.5, 0.5 - m[1]/earthCircumference
}

// unworld inverts world.
func unworld(x, y float64) orb.Point {
	m := orb.Point{(x - 0.5) * earthCircumference, (0.5 - y) * earthCircumference}
	return project.Mercator.ToWGS84(m)
}

// camera is a viewport over the Mercator plane.
type camera struct {
	cx, cy  float64 // centre in world units
	zoom    float64
	bearing float64 // degrees clockwise
	w, h    float64 // CSS pixels
}

func (c camera) scale() float64 { return TileSize * math.Exp2(c.zoom) }

// toScreen maps world units to CSS pixels.
func (c camera) toScreen(x, y float64) (float64, float64) {
	s := c.scale()
	dx, dy := (x-c.cx)*s, (y-c.cy)*s
	sin, cos := math.Sincos(-c.bearing * math.Pi / 180)
	return c.w/2 + dx*cos - dy*sin, c.h/2 + dx*sin + dy*cos
}

// toWorld maps CSS pixels back to world units.
func (c camera) toWorld(sx, sy float64) (float64, float64) {
	s := c.scale()
	dx, dy := sx-c.w/2, sy-c.h/2
	sin, cos := math.Sincos(c.bearing * math.Pi / 180)
	return c.cx + (dx*cos-dy*sin)/s, c.cy + (dx*sin+dy*cos)/s
}

// fit returns a camera showing b inside the viewport less padding.
func fit(b orb.Bound, w, h, padding, bearing float64) camera {
	x0, y0 := world(orb.Point{b.Min.Lon(), b.Max.Lat()})
	x1, y1 := world(orb.Point{b.Max.Lon(), b.Min.Lat()})
	c := camera{cx: (x0 + x1) / 2, cy: (y0 + y1) / 2, bearing: bearing, w: w, h: h}

	// Extent of the rotated bound around its centre, in world units.
	sin, cos := math.Sincos(-bearing * math.Pi / 180)
	var ex, ey float64
	for _, p := range [][2]float64{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}} {
		dx, dy := p[0]-c.cx, p[1]-c.cy
		ex = math.Max(ex, math.Abs(dx*cos-dy*sin))
		ey = math.Max(ey, math.Abs(dx*sin+dy*cos))
	}

	availW, availH := math.Max(w-2*padding, 1), math.Max(h-2*padding, 1)
	zoom := float64(MaxZoom)
	if ex > 0 || ey > 0 {
		z := math.Inf(1)
		if ex > 0 {
			z = math.Min(z, math.Log2(availW/(2*ex*TileSize)))
		}
		if ey > 0 {
			z = math.Min(z, math.Log2(availH/(2*ey*TileSize)))
		}
		zoom = math.Min(z, MaxZoom)
	}
	c.zoom = math.Max(zoom, 0)
	return c
}
