// Package service holds the stores and workers behind the API: layer
// catalog, source files, basemap archives, plans and basemap generation.
package service

import "github.com/joeblew999/plat-siteplan/internal/plan"

// LayerConfig is a catalog layer. Huma reads the plan package's tags for
// OpenAPI and validation.
type LayerConfig = plan.LayerConfig

// RenderRule defines conditional styling rules for a layer.
type RenderRule = plan.RenderRule

// LegendItem defines a legend entry.
type LegendItem = plan.LegendItem

// SourceFile represents a source data file (GeoJSON, etc.).
type SourceFile struct {
	Name     string `json:"name" doc:"File name" example:"hydrants.geojson"`
	Size     string `json:"size" doc:"Human-readable file size" example:"1.2 MB"`
	FileType string `json:"fileType" doc:"File type: GeoJSON or GeoParquet" example:"GeoJSON"`
}

// TileFile represents a PMTiles basemap archive.
type TileFile struct {
	Name    string    `json:"name" doc:"PMTiles file name" example:"midtown.pmtiles"`
	Size    string    `json:"size" doc:"Human-readable file size" example:"5.4 MB"`
	MinZoom int       `json:"minZoom" doc:"Lowest zoom in the archive"`
	MaxZoom int       `json:"maxZoom" doc:"Highest zoom in the archive"`
	Bounds  []float64 `json:"bounds,omitempty" doc:"west, south, east, north"`
	Layers  []string  `json:"layers,omitempty" doc:"Vector layer names"`
}

// PlanSummary is a plan listing entry.
type PlanSummary struct {
	ID      string `json:"id" doc:"Plan identifier" example:"night-market"`
	Title   string `json:"title,omitempty" doc:"Document title"`
	Layers  int    `json:"layers" doc:"Number of layers"`
	Objects int    `json:"objects" doc:"Number of placed objects"`
}
