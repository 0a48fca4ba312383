package service

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/joeblew999/plat-siteplan/internal/pmtiles"
)

// TileService lists basemap archives.
type TileService struct {
	tilesDir string
}

// NewTileService creates a new tile service.
func NewTileService(dataDir string) *TileService {
	return &TileService{
		tilesDir: filepath.Join(dataDir, "tiles"),
	}
}

// List returns every PMTiles archive with its header summary. Archives that
// cannot be opened are listed by name and size only.
func (s *TileService) List() ([]TileFile, error) {
	entries, err := os.ReadDir(s.tilesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []TileFile{}, nil
		}
		return nil, err
	}

	files := []TileFile{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".pmtiles" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		tf := TileFile{Name: entry.Name(), Size: formatSize(info.Size())}
		describe(&tf, filepath.Join(s.tilesDir, entry.Name()))
		files = append(files, tf)
	}
	return files, nil
}

// TilesDir returns the path to the tiles directory.
func (s *TileService) TilesDir() string {
	return s.tilesDir
}

func describe(tf *TileFile, path string) {
	r, err := pmtiles.Open(path)
	if err != nil {
		return
	}
	defer r.Close()

	h := r.Header()
	tf.MinZoom, tf.MaxZoom = int(h.MinZoom), int(h.MaxZoom)
	tf.Bounds = []float64{
		float64(h.MinLonE7) / 1e7, float64(h.MinLatE7) / 1e7,
		float64(h.MaxLonE7) / 1e7, float64(h.MaxLatE7) / 1e7,
	}
	meta, err := r.Metadata()
	if err != nil {
		return
	}
	layers, _ := meta["vector_layers"].([]any)
	for _, l := range layers {
		if m, ok := l.(map[string]any); ok {
			if id, ok := m["id"].(string); ok {
				tf.Layers = append(tf.Layers, id)
			}
		}
	}
	sort.Strings(tf.Layers)
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
