package inventory

import (
	"cmp"
	"slices"
	"strings"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-siteplan/internal/plan"
)

// GeometryRank orders annotation geometry types: points, then lines, then
// polygons, then anything else.
func GeometryRank(g orb.Geometry) int {
	switch g.(type) {
	case orb.Point, orb.MultiPoint:
		return 0
	case orb.LineString, orb.MultiLineString:
		return 1
	case orb.Polygon, orb.MultiPolygon:
		return 2
	default:
		return 3
	}
}

// NumberAnnotations returns a sorted copy of anns with Number set to 1..N.
// The key is (geometry rank, lower-cased label); ties keep input order. The
// input slice is not modified.
func NumberAnnotations(anns []plan.Annotation) []plan.Annotation {
	out := slices.Clone(anns)
	slices.SortStableFunc(out, func(a, b plan.Annotation) int {
		return cmp.Or(
			cmp.Compare(GeometryRank(a.Geometry), GeometryRank(b.Geometry)),
			cmp.Compare(strings.ToLower(a.Label), strings.ToLower(b.Label)),
		)
	})
	for i := range out {
		out[i].Number = i + 1
	}
	return out
}
