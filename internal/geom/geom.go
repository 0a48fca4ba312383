// Package geom holds the pure geometry used by the export pipeline:
// focus-area bounding boxes, point containment and page-space ring helpers.
//
// Only outer rings are considered. Inner rings (holes) are ignored both when
// computing bounds and when testing containment, so a point inside a hole
// still counts as inside the focus area.
package geom

import (
	"math"

	"github.com/paulmach/orb"
)

// RingEpsilon is the distance, in page units, under which the last point of a
// ring is treated as a repeat of the first.
const RingEpsilon = 1e-6

// Point is a position in page units (millimetres or device pixels).
type Point struct {
	X, Y float64
}

// Add returns p translated by v.
func (p Point) Add(v Vector) Point {
	return Point{X: p.X + v.DX, Y: p.Y + v.DY}
}

// Sub returns the vector from q to p.
func (p Point) Sub(q Point) Vector {
	return Vector{DX: p.X - q.X, DY: p.Y - q.Y}
}

// Vector is a displacement in page units.
type Vector struct {
	DX, DY float64
}

// BoundingBox returns the bounds of the outer rings of a Polygon or
// MultiPolygon. It reports false when the geometry is nil, of another type,
// or has no coordinates; callers treat that as "cannot export".
func BoundingBox(g orb.Geometry) (orb.Bound, bool) {
	var rings []orb.Ring
	switch v := g.(type) {
	case orb.Polygon:
		if len(v) > 0 {
			rings = append(rings, v[0])
		}
	case orb.MultiPolygon:
		for _, poly := range v {
			if len(poly) > 0 {
				rings = append(rings, poly[0])
			}
		}
	default:
		return orb.Bound{}, false
	}

	var (
		b     orb.Bound
		found bool
	)
	for _, ring := range rings {
		for _, p := range ring {
			if !found {
				b = orb.Bound{Min: p, Max: p}
				found = true
				continue
			}
			b = b.Extend(p)
		}
	}
	return b, found
}

// PointInPolygon reports whether (lng, lat) lies inside ring using even-odd
// ray casting. An edge counts only when exactly one of its endpoints lies
// strictly above lat; this half-open rule keeps results stable for points
// level with a vertex.
func PointInPolygon(lng, lat float64, ring orb.Ring) bool {
	inside := false
	n := len(ring)
	if n < 3 {
		return false
	}
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > lat) != (yj > lat) && lng < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// PointInFocusArea tests (lng, lat) against the outer ring of a Polygon, or
// against the outer ring of every member of a MultiPolygon (union). Any other
// geometry contains nothing.
func PointInFocusArea(lng, lat float64, area orb.Geometry) bool {
	switch v := area.(type) {
	case orb.Polygon:
		return len(v) > 0 && PointInPolygon(lng, lat, v[0])
	case orb.MultiPolygon:
		for _, poly := range v {
			if len(poly) > 0 && PointInPolygon(lng, lat, poly[0]) {
				return true
			}
		}
	}
	return false
}

// NormalizeRing drops trailing points that repeat the first point within
// RingEpsilon. Path primitives close rings themselves and would otherwise
// draw a zero-length final segment. The input slice is not modified.
func NormalizeRing(points []Point) []Point {
	n := len(points)
	for n > 1 && near(points[n-1], points[0]) {
		n--
	}
	out := make([]Point, n)
	copy(out, points[:n])
	return out
}

// ToRelativeSegments converts an absolute point sequence into the deltas
// between consecutive points. The first point is the move-to origin and is
// not part of the result.
func ToRelativeSegments(points []Point) []Vector {
	if len(points) < 2 {
		return nil
	}
	out := make([]Vector, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		out = append(out, points[i].Sub(points[i-1]))
	}
	return out
}

// VertexCentroid is the unweighted mean of the ring's vertices after
// normalization. It is not an area centroid; for the small shapes drawn by
// users the difference is not visible.
func VertexCentroid(points []Point) (Point, bool) {
	ring := NormalizeRing(points)
	if len(ring) == 0 {
		return Point{}, false
	}
	var c Point
	for _, p := range ring {
		c.X += p.X
		c.Y += p.Y
	}
	c.X /= float64(len(ring))
	c.Y /= float64(len(ring))
	return c, true
}

// MidVertex returns the vertex at the middle index of a path.
func MidVertex(points []Point) (Point, bool) {
	if len(points) == 0 {
		return Point{}, false
	}
	return points[len(points)/2], true
}

func near(a, b Point) bool {
	return math.Abs(a.X-b.X) <= RingEpsilon && math.Abs(a.Y-b.Y) <= RingEpsilon
}
