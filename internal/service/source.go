package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-siteplan/internal/db"
	"github.com/joeblew999/plat-siteplan/internal/plan"
)

// Supported source file extensions and their types.
var extToType = map[string]string{
	".geojson":    "GeoJSON",
	".json":       "GeoJSON",
	".parquet":    "GeoParquet",
	".geoparquet": "GeoParquet",
}

// SourceService reads layer source files. GeoParquet needs a DuckDB
// connection; without one only GeoJSON loads.
type SourceService struct {
	sourcesDir string
	duck       *sql.DB
	logger     *slog.Logger
}

// NewSourceService creates a new source service.
func NewSourceService(dataDir string, duck *sql.DB, logger *slog.Logger) *SourceService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SourceService{
		sourcesDir: filepath.Join(dataDir, "sources"),
		duck:       duck,
		logger:     logger,
	}
}

// List returns all available source files.
func (s *SourceService) List() ([]SourceFile, error) {
	entries, err := os.ReadDir(s.sourcesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SourceFile{}, nil
		}
		return nil, err
	}

	var files []SourceFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileType, ok := extToType[strings.ToLower(filepath.Ext(entry.Name()))]
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, SourceFile{
			Name:     entry.Name(),
			Size:     formatSize(info.Size()),
			FileType: fileType,
		})
	}
	return files, nil
}

// Load reads one source file as features.
func (s *SourceService) Load(ctx context.Context, name string) (*geojson.FeatureCollection, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	path := filepath.Join(s.sourcesDir, name)
	switch extToType[strings.ToLower(filepath.Ext(name))] {
	case "GeoJSON":
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("source %q: %w", name, ErrNotFound)
			}
			return nil, err
		}
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
		return fc, nil
	case "GeoParquet":
		if s.duck == nil {
			return nil, fmt.Errorf("source %q: GeoParquet needs DuckDB", name)
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("source %q: %w", name, ErrNotFound)
		}
		return db.ReadFeatures(ctx, s.duck, path)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filepath.Ext(name))
	}
}

// Resolve loads features for every visible plan layer that names a source
// and has no features yet. A layer whose source fails to load is logged
// and left empty; the export draws the rest.
func (s *SourceService) Resolve(ctx context.Context, p *plan.Plan) {
	if p.Features == nil {
		p.Features = make(map[string]*geojson.FeatureCollection)
	}
	for _, id := range p.LayerIDs() {
		l := p.Layers[id]
		if l.Source == "" || !l.Visible || l.Base || p.Features[id] != nil {
			continue
		}
		fc, err := s.Load(ctx, l.Source)
		if err != nil {
			s.logger.Warn("layer source not loaded", "layer", id, "source", l.Source, "error", err)
			continue
		}
		p.Features[id] = fc
	}
}

// Fields lists the property names of a source, for choosing inventory
// columns. GeoParquet columns come from the file schema; GeoJSON fields are
// the union over all features, typed by their first non-null value.
func (s *SourceService) Fields(ctx context.Context, name string) ([]db.Column, error) {
	if extToType[strings.ToLower(filepath.Ext(name))] == "GeoParquet" && s.duck != nil {
		if err := validName(name); err != nil {
			return nil, err
		}
		path := filepath.Join(s.sourcesDir, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("source %q: %w", name, ErrNotFound)
		}
		return db.Describe(ctx, s.duck, path)
	}

	fc, err := s.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	types := map[string]string{}
	for _, f := range fc.Features {
		for k, v := range f.Properties {
			if types[k] == "" && v != nil {
				types[k] = jsonType(v)
			} else if _, ok := types[k]; !ok {
				types[k] = ""
			}
		}
	}
	fields := make([]db.Column, 0, len(types))
	for k, t := range types {
		fields = append(fields, db.Column{Name: k, Type: t})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields, nil
}

func jsonType(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64, int, int64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return ""
}

// SourcesDir returns the path to the sources directory.
func (s *SourceService) SourcesDir() string {
	return s.sourcesDir
}

// validName rejects names that escape the data directory.
func validName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid filename %q", name)
	}
	return nil
}
