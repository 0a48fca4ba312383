// Package tippecanoe runs the tippecanoe binary as a tiler.Tiler. It is
// preferred over the pure Go engine when installed.
package tippecanoe

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joeblew999/plat-siteplan/internal/tiler"
)

// Tippecanoe implements tiler.Tiler.
type Tippecanoe struct {
	// Bin is the executable; empty means "tippecanoe" on PATH.
	Bin string
}

// New returns an engine using the binary on PATH.
func New() *Tippecanoe { return &Tippecanoe{} }

// Name returns the engine name.
func (t *Tippecanoe) Name() string { return "tippecanoe" }

func (t *Tippecanoe) bin() string {
	if t.Bin != "" {
		return t.Bin
	}
	return "tippecanoe"
}

// Available reports whether the binary can be found.
func (t *Tippecanoe) Available() bool {
	_, err := exec.LookPath(t.bin())
	return err == nil
}

// Args returns the command line for inputs already on disk.
func Args(layers map[string]string, outputPath string, cfg tiler.Config) []string {
	args := []string{
		"-o", outputPath,
		"-Z", strconv.Itoa(cfg.MinZoom),
		"-z", strconv.Itoa(cfg.MaxZoom),
		"--force",
		"--drop-densest-as-needed",
	}
	if cfg.Name != "" {
		args = append(args, "-n", cfg.Name)
	}
	names := make([]string, 0, len(layers))
	for name := range layers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		args = append(args, "-L", name+":"+layers[name])
	}
	return args
}

// Tile runs tippecanoe. In-memory inputs are written to a temporary
// directory first.
func (t *Tippecanoe) Tile(ctx context.Context, inputs []tiler.Input, outputPath string, cfg tiler.Config, progress tiler.ProgressFunc) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no input layers")
	}
	cfg = cfg.Normalize(22)
	report := func(p int, s string) {
		if progress != nil {
			progress(p, s)
		}
	}

	tmp, err := os.MkdirTemp("", "tippecanoe-*")
	if err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	layers := make(map[string]string, len(inputs))
	for _, in := range inputs {
		path := in.Path
		if in.Features != nil || path == "" {
			fc, err := in.Load()
			if err != nil {
				return err
			}
			data, err := json.Marshal(fc)
			if err != nil {
				return fmt.Errorf("encoding %s: %w", in.Layer, err)
			}
			path = filepath.Join(tmp, in.Layer+".geojson")
			if err := os.WriteFile(path, data, 0644); err != nil {
				return fmt.Errorf("writing %s: %w", in.Layer, err)
			}
		}
		layers[in.Layer] = path
	}
	report(10, "Starting tile generation...")

	cmd := exec.CommandContext(ctx, t.bin(), Args(layers, outputPath, cfg)...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if strings.Contains(err.Error(), "executable file not found") {
			return fmt.Errorf("tippecanoe is not installed")
		}
		return fmt.Errorf("starting tippecanoe: %w", err)
	}

	// Progress lines look like "99.9%  11/14".
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 || !strings.HasSuffix(parts[0], "%") {
			continue
		}
		if pct, err := strconv.ParseFloat(strings.TrimSuffix(parts[0], "%"), 64); err == nil {
			report(10+int(pct*0.8), fmt.Sprintf("Processing: %s", parts[0]))
		}
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("tile generation failed: %w", err)
	}
	report(100, "Basemap generated")
	return nil
}

var _ tiler.Tiler = (*Tippecanoe)(nil)
