package api

import (
	"context"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-siteplan/internal/humastar"
	"github.com/joeblew999/plat-siteplan/internal/service"
)

// GenerateTiles builds a basemap archive from one source file. It receives
// Datastar signals via RawBody and streams progress via SSE.
func (h *APIHandler) GenerateTiles(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}

	// Datastar data-bind creates lowercase signal names.
	source := signals.String("sourcefile")
	layer := signals.String("layername")
	if layer == "" {
		layer = "default"
	}
	opts := service.TileGenerateOptions{
		Layers:     []service.BasemapLayer{{Layer: layer, Source: source}},
		OutputName: signals.String("outputname"),
		MinZoom:    signals.Int("minzoom"),
		MaxZoom:    signals.Int("maxzoom"),
		Engine:     signals.String("engine"),
	}
	if source == "" {
		return nil, huma.Error400BadRequest("Source file is required")
	}
	if opts.OutputName == "" {
		return nil, huma.Error400BadRequest("Output name is required")
	}
	if h.svc.Tiler == nil {
		return nil, huma.Error503ServiceUnavailable("Tiler service not configured")
	}

	return humastar.Stream(func(sse humastar.SSE) {
		path, err := h.svc.Tiler.Generate(ctx, opts, func(progress int, status string) {
			sse.Signals(map[string]any{
				"tileStatus":   status,
				"tileProgress": progress,
			})
		})
		if err != nil {
			sse.Error(err.Error())
			return
		}
		name := filepath.Base(path)
		h.publish("tiles", "created", name)
		sse.Signals(map[string]any{"tileStatus": "Complete: " + name, "tileProgress": 100})
		sse.Success("Tiles generated: " + name)
	}), nil
}
