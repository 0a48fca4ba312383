// Package tiler defines the basemap tile engines: GeoJSON layers in, one
// PMTiles archive of vector tiles out.
package tiler

import (
	"context"
	"fmt"
	"os"

	"github.com/paulmach/orb/geojson"
)

// Config controls tile generation.
type Config struct {
	MinZoom int `json:"minZoom" minimum:"0" maximum:"22" doc:"Minimum zoom level"`
	MaxZoom int `json:"maxZoom" minimum:"0" maximum:"22" doc:"Maximum zoom level"`
	// Name is stored in the archive metadata.
	Name string `json:"name,omitempty" doc:"Archive name"`
}

// Normalize applies defaults and clamps the zoom range to [0, limit].
func (c Config) Normalize(limit int) Config {
	if c.MinZoom < 0 {
		c.MinZoom = 0
	}
	if c.MaxZoom <= 0 || c.MaxZoom > limit {
		c.MaxZoom = limit
	}
	if c.MinZoom > c.MaxZoom {
		c.MinZoom = c.MaxZoom
	}
	return c
}

// Input is one layer of the basemap. Features wins over Path when both are
// set.
type Input struct {
	Layer    string
	Path     string
	Features *geojson.FeatureCollection
}

// Load returns the input's features, reading Path when needed.
func (in Input) Load() (*geojson.FeatureCollection, error) {
	if in.Features != nil {
		return in.Features, nil
	}
	data, err := os.ReadFile(in.Path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", in.Layer, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", in.Layer, err)
	}
	return fc, nil
}

// ProgressFunc reports progress in percent.
type ProgressFunc func(progress int, status string)

// Tiler builds an archive at outputPath from inputs.
type Tiler interface {
	Name() string
	Available() bool
	Tile(ctx context.Context, inputs []Input, outputPath string, cfg Config, progress ProgressFunc) error
}
