package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeblew999/plat-siteplan/internal/tiler"
)

// TilerService builds basemap archives from source files with the first
// available tile engine.
type TilerService struct {
	sources  *SourceService
	tilesDir string
	engines  []tiler.Tiler
	logger   *slog.Logger
}

// NewTilerService creates a tiler service. Engines are tried in order.
func NewTilerService(dataDir string, sources *SourceService, logger *slog.Logger, engines ...tiler.Tiler) *TilerService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &TilerService{
		sources:  sources,
		tilesDir: filepath.Join(dataDir, "tiles"),
		engines:  engines,
		logger:   logger,
	}
}

// BasemapLayer maps a source file to a layer of the archive.
type BasemapLayer struct {
	Layer  string `json:"layer" required:"true" doc:"Layer name in tiles" example:"parks"`
	Source string `json:"source" required:"true" doc:"Source file name" example:"parks.geojson"`
}

// TileGenerateOptions contains options for tile generation.
type TileGenerateOptions struct {
	Layers     []BasemapLayer `json:"layers" required:"true" minItems:"1" doc:"Layers to include"`
	OutputName string         `json:"outputName" required:"true" doc:"Output PMTiles name"`
	MinZoom    int            `json:"minZoom" minimum:"0" maximum:"22" doc:"Minimum zoom level"`
	MaxZoom    int            `json:"maxZoom" minimum:"0" maximum:"22" doc:"Maximum zoom level"`
	Engine     string         `json:"engine,omitempty" enum:"go,tippecanoe" doc:"Tile engine; default is the first available"`
}

// ProgressFunc is called with progress updates during tile generation.
type ProgressFunc = tiler.ProgressFunc

// Engines returns the names of the engines available on this host.
func (s *TilerService) Engines() []string {
	var names []string
	for _, e := range s.engines {
		if e.Available() {
			names = append(names, e.Name())
		}
	}
	return names
}

// Generate writes tilesDir/OutputName.pmtiles and returns its path.
func (s *TilerService) Generate(ctx context.Context, opts TileGenerateOptions, onProgress ProgressFunc) (string, error) {
	if len(opts.Layers) == 0 {
		return "", fmt.Errorf("no layers")
	}
	engine, err := s.engine(opts.Engine)
	if err != nil {
		return "", err
	}
	name := strings.TrimSuffix(opts.OutputName, ".pmtiles")
	if err := validName(name); err != nil {
		return "", err
	}

	inputs := make([]tiler.Input, 0, len(opts.Layers))
	for _, l := range opts.Layers {
		if err := validName(l.Source); err != nil {
			return "", err
		}
		in := tiler.Input{Layer: l.Layer, Path: filepath.Join(s.sources.SourcesDir(), l.Source)}
		if !isGeoJSON(l.Source) {
			fc, err := s.sources.Load(ctx, l.Source)
			if err != nil {
				return "", err
			}
			in.Features = fc
		} else if _, err := os.Stat(in.Path); os.IsNotExist(err) {
			return "", fmt.Errorf("source %q: %w", l.Source, ErrNotFound)
		}
		inputs = append(inputs, in)
	}

	if err := os.MkdirAll(s.tilesDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create tiles directory: %w", err)
	}
	out := filepath.Join(s.tilesDir, name+".pmtiles")
	cfg := tiler.Config{MinZoom: opts.MinZoom, MaxZoom: opts.MaxZoom, Name: name}
	s.logger.Info("generating basemap", "engine", engine.Name(), "output", out, "layers", len(inputs))
	if err := engine.Tile(ctx, inputs, out, cfg, onProgress); err != nil {
		return "", fmt.Errorf("tile generation failed: %w", err)
	}
	return out, nil
}

// TilesDir returns the tiles directory path.
func (s *TilerService) TilesDir() string {
	return s.tilesDir
}

func (s *TilerService) engine(name string) (tiler.Tiler, error) {
	for _, e := range s.engines {
		if name != "" && e.Name() != name {
			continue
		}
		if e.Available() {
			return e, nil
		}
		if name != "" {
			return nil, fmt.Errorf("tile engine %q is not available", name)
		}
	}
	if name != "" {
		return nil, fmt.Errorf("unknown tile engine %q", name)
	}
	return nil, fmt.Errorf("no tile engine available")
}

func isGeoJSON(name string) bool {
	return extToType[strings.ToLower(filepath.Ext(name))] == "GeoJSON"
}
