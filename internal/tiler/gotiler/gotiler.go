// Package gotiler builds vector-tile basemaps in pure Go: features are
// bucketed into tiles, clipped, simplified per zoom and encoded as
// multi-layer MVT inside a PMTiles archive.
package gotiler

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"

	"github.com/joeblew999/plat-siteplan/internal/pmtiles"
	"github.com/joeblew999/plat-siteplan/internal/tiler"
)

// MaxZoom is the deepest zoom generated.
const MaxZoom = 16

// GoTiler implements tiler.Tiler.
type GoTiler struct{}

// New returns a GoTiler.
func New() *GoTiler { return &GoTiler{} }

// Name returns the engine name.
func (g *GoTiler) Name() string { return "go" }

// Available is always true.
func (g *GoTiler) Available() bool { return true }

type layer struct {
	name string
	fc   *geojson.FeatureCollection
}

// Tile writes the archive to outputPath.
func (g *GoTiler) Tile(ctx context.Context, inputs []tiler.Input, outputPath string, cfg tiler.Config, progress tiler.ProgressFunc) error {
	var buf bytes.Buffer
	if err := g.Build(ctx, inputs, &buf, cfg, progress); err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing basemap: %w", err)
	}
	return nil
}

// Build encodes the archive into buf.
func (g *GoTiler) Build(ctx context.Context, inputs []tiler.Input, buf *bytes.Buffer, cfg tiler.Config, progress tiler.ProgressFunc) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no input layers")
	}
	cfg = cfg.Normalize(MaxZoom)
	report := func(p int, s string) {
		if progress != nil {
			progress(p, s)
		}
	}

	var layers []layer
	bound := orb.Bound{}
	first := true
	for _, in := range inputs {
		fc, err := in.Load()
		if err != nil {
			return err
		}
		for _, f := range fc.Features {
			if f == nil || f.Geometry == nil {
				continue
			}
			if first {
				bound, first = f.Geometry.Bound(), false
			} else {
				bound = bound.Union(f.Geometry.Bound())
			}
		}
		layers = append(layers, layer{name: in.Layer, fc: fc})
	}
	if first {
		return fmt.Errorf("input layers have no features")
	}
	report(10, "Layers loaded")

	tiles := make(map[uint64][]byte)
	span := cfg.MaxZoom - cfg.MinZoom + 1
	for z := cfg.MinZoom; z <= cfg.MaxZoom; z++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for t, data := range zoomLevel(layers, maptile.Zoom(z)) {
			tiles[pmtiles.ZxyToID(uint8(t.Z), t.X, t.Y)] = data
		}
		report(10+80*(z-cfg.MinZoom+1)/span, fmt.Sprintf("Zoom %d done", z))
	}
	if len(tiles) == 0 {
		return fmt.Errorf("no tiles generated")
	}

	names := make([]any, len(layers))
	for i, l := range layers {
		names[i] = map[string]any{"id": l.name}
	}
	err := pmtiles.Write(buf, pmtiles.Archive{
		Tiles: tiles,
		Metadata: map[string]any{
			"name":          cfg.Name,
			"format":        "pbf",
			"vector_layers": names,
		},
		TileType:        pmtiles.Mvt,
		TileCompression: pmtiles.Gzip,
		MinZoom:         uint8(cfg.MinZoom),
		MaxZoom:         uint8(cfg.MaxZoom),
		Bounds:          bound,
	})
	if err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}
	report(100, "Basemap generated")
	return nil
}

// zoomLevel encodes every non-empty tile at zoom z.
func zoomLevel(layers []layer, z maptile.Zoom) map[maptile.Tile][]byte {
	buckets := make(map[maptile.Tile][][]*geojson.Feature)
	for li, l := range layers {
		for _, f := range l.fc.Features {
			if f == nil || f.Geometry == nil {
				continue
			}
			for _, t := range tilesInBounds(f.Geometry.Bound(), z) {
				b := buckets[t]
				if b == nil {
					b = make([][]*geojson.Feature, len(layers))
					buckets[t] = b
				}
				b[li] = append(b[li], f)
			}
		}
	}

	out := make(map[maptile.Tile][]byte)
	for t, perLayer := range buckets {
		if data := encodeTile(t, layers, perLayer); data != nil {
			out[t] = data
		}
	}
	return out
}

// encodeTile builds one gzipped MVT with a layer per input.
func encodeTile(t maptile.Tile, layers []layer, perLayer [][]*geojson.Feature) []byte {
	bound := t.Bound()
	var mvtLayers mvt.Layers
	for li, features := range perLayer {
		fc := geojson.NewFeatureCollection()
		for _, f := range features {
			if !intersects(f.Geometry, bound) {
				continue
			}
			// Clip and ProjectToTile rewrite coordinates in place; the
			// source feature is shared by neighbouring tiles.
			g := orb.Clone(f.Geometry)
			c := geojson.NewFeature(g)
			for k, v := range f.Properties {
				c.Properties[k] = v
			}
			fc.Append(c)
		}
		if len(fc.Features) == 0 {
			continue
		}
		l := mvt.NewLayer(layers[li].name, fc)
		if eps := epsilon(t.Z); eps > 0 {
			l.Simplify(simplify.DouglasPeucker(eps))
		}
		l.Clip(bound)
		l.ProjectToTile(t)
		l.RemoveEmpty(0.5, 0.5)
		if len(l.Features) > 0 {
			mvtLayers = append(mvtLayers, l)
		}
	}
	if len(mvtLayers) == 0 {
		return nil
	}
	data, err := mvt.MarshalGzipped(mvtLayers)
	if err != nil {
		return nil
	}
	return data
}

// intersects refines a bound check for points and polygons.
func intersects(g orb.Geometry, tile orb.Bound) bool {
	if !g.Bound().Intersects(tile) {
		return false
	}
	switch g := g.(type) {
	case orb.Point:
		return tile.Contains(g)
	case orb.MultiPoint:
		for _, p := range g {
			if tile.Contains(p) {
				return true
			}
		}
		return false
	case orb.Polygon:
		for _, ring := range g {
			for _, p := range ring {
				if tile.Contains(p) {
					return true
				}
			}
		}
		// The polygon may cover the tile without a vertex inside it.
		corners := []orb.Point{tile.Min, tile.Max, {tile.Min[0], tile.Max[1]}, {tile.Max[0], tile.Min[1]}, tile.Center()}
		for _, p := range corners {
			if planar.PolygonContains(g, p) {
				return true
			}
		}
		return false
	case orb.MultiPolygon:
		for _, p := range g {
			if intersects(p, tile) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func tilesInBounds(b orb.Bound, z maptile.Zoom) []maptile.Tile {
	lo := maptile.At(orb.Point{b.Min[0], b.Max[1]}, z)
	hi := maptile.At(orb.Point{b.Max[0], b.Min[1]}, z)
	minX, maxX := min(lo.X, hi.X), max(lo.X, hi.X)
	minY, maxY := min(lo.Y, hi.Y), max(lo.Y, hi.Y)

	var tiles []maptile.Tile
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			tiles = append(tiles, maptile.New(x, y, z))
		}
	}
	return tiles
}

// epsilon is the simplification tolerance in degrees for a zoom level.
// Street-scale zooms keep full detail.
func epsilon(z maptile.Zoom) float64 {
	switch {
	case z >= 14:
		return 0
	case z >= 10:
		return 0.00001
	case z >= 6:
		return 0.0001
	default:
		return 0.001
	}
}

var _ tiler.Tiler = (*GoTiler)(nil)
