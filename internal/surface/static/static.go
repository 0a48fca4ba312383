// Package static is a headless surface.Surface that draws a PMTiles vector
// basemap with gogpu/gg. It renders in Web Mercator on 256 px tiles.
package static

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gogpu/gg"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/maptile"

	"github.com/joeblew999/plat-siteplan/internal/pmtiles"
	"github.com/joeblew999/plat-siteplan/internal/projection"
	"github.com/joeblew999/plat-siteplan/internal/render"
	"github.com/joeblew999/plat-siteplan/internal/surface"
)

// maxTiles bounds the basemap tiles fetched for one frame.
const maxTiles = 256

// Surface renders a frame on WaitUntilIdle and keeps it until the camera or
// layer visibility changes.
type Surface struct {
	cfg    surface.Config
	logger *slog.Logger

	mu      sync.Mutex
	cam     camera
	visible map[string]bool
	tiles   *pmtiles.Reader
	dc      *gg.Context
	idle    bool
	closed  bool
}

// New opens the basemap (if any) and returns a surface centred on 0,0.
func New(cfg surface.Config, logger *slog.Logger) (*Surface, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("static: invalid size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.PixelRatio <= 0 {
		cfg.PixelRatio = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Surface{
		cfg:     cfg,
		logger:  logger,
		cam:     camera{cx: 0.5, cy: 0.5, bearing: cfg.Bearing, w: float64(cfg.Width), h: float64(cfg.Height)},
		visible: make(map[string]bool, len(cfg.Layers)),
	}
	for _, l := range cfg.Layers {
		s.visible[l.ID] = l.Visible
	}
	if cfg.Basemap != "" {
		r, err := pmtiles.Open(cfg.Basemap)
		if err != nil {
			return nil, fmt.Errorf("static: open basemap: %w", err)
		}
		s.tiles = r
	}
	return s, nil
}

// Factory returns a surface.Factory creating static surfaces.
func Factory(logger *slog.Logger) surface.Factory {
	return surface.FactoryFunc(func(_ context.Context, cfg surface.Config) (surface.Surface, error) {
		return New(cfg, logger)
	})
}

// SetLayerVisibility shows or hides a style layer. Unknown ids are ignored.
func (s *Surface) SetLayerVisibility(id string, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.visible[id]; ok && cur != visible {
		s.visible[id] = visible
		s.idle = false
	}
}

// FitBounds centres b with padding CSS pixels on each side.
func (s *Surface) FitBounds(b orb.Bound, padding float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return surface.ErrClosed
	}
	for _, v := range []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("static: bound is not finite")
		}
	}
	s.cam = fit(b, float64(s.cfg.Width), float64(s.cfg.Height), padding, s.cfg.Bearing)
	s.idle = false
	return nil
}

// WaitUntilIdle draws the frame.
func (s *Surface) WaitUntilIdle(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return surface.ErrClosed
	}
	if s.idle {
		return nil
	}
	if err := s.draw(ctx); err != nil {
		return err
	}
	s.idle = true
	return nil
}

// Project maps lng/lat to CSS pixels.
func (s *Surface) Project(lng, lat float64) (float64, float64) {
	s.mu.Lock()
	cam := s.cam
	s.mu.Unlock()
	return cam.toScreen(world(orb.Point{lng, lat}))
}

// Viewport reports the camera.
func (s *Surface) Viewport() projection.Viewport {
	s.mu.Lock()
	cam := s.cam
	s.mu.Unlock()
	c := unworld(cam.cx, cam.cy)
	return projection.Viewport{
		CenterLng: c.Lon(),
		CenterLat: c.Lat(),
		Zoom:      cam.zoom,
		Bearing:   cam.bearing,
		Pitch:     s.cfg.PitchDeg,
	}
}

// Size returns the viewport in CSS pixels.
func (s *Surface) Size() (int, int) { return s.cfg.Width, s.cfg.Height }

// Capture encodes the last frame as PNG.
func (s *Surface) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, surface.ErrClosed
	}
	if !s.idle || s.dc == nil {
		return nil, surface.ErrNotIdle
	}
	var buf bytes.Buffer
	if err := s.dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("static: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Close releases the canvas and basemap. It is safe to call twice.
func (s *Surface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	if s.dc != nil {
		err = s.dc.Close()
		s.dc = nil
	}
	if s.tiles != nil {
		if cerr := s.tiles.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (s *Surface) draw(ctx context.Context) error {
	w := int(math.Round(float64(s.cfg.Width) * s.cfg.PixelRatio))
	h := int(math.Round(float64(s.cfg.Height) * s.cfg.PixelRatio))
	if s.dc != nil {
		s.dc.Close()
	}
	s.dc = gg.NewContext(w, h)
	s.dc.ClearWithColor(render.ParseColor(s.cfg.Background, render.White))

	if s.tiles != nil {
		if err := s.drawBasemap(ctx); err != nil {
			return err
		}
	}
	if s.cfg.Highlight != nil {
		s.drawHighlight()
	}
	return ctx.Err()
}

func (s *Surface) drawBasemap(ctx context.Context) error {
	hdr := s.tiles.Header()
	z := int(math.Floor(s.cam.zoom))
	z = max(int(hdr.MinZoom), min(z, int(hdr.MaxZoom)))

	// Tile range covering the rotated viewport.
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range [][2]float64{{0, 0}, {s.cam.w, 0}, {s.cam.w, s.cam.h}, {0, s.cam.h}} {
		x, y := s.cam.toWorld(c[0], c[1])
		minX, minY = math.Min(minX, x), math.Min(minY, y)
		maxX, maxY = math.Max(maxX, x), math.Max(maxY, y)
	}
	n := math.Exp2(float64(z))
	x0, x1 := clampTile(minX*n, n), clampTile(maxX*n, n)
	y0, y1 := clampTile(minY*n, n), clampTile(maxY*n, n)
	if count := (x1 - x0 + 1) * (y1 - y0 + 1); count > maxTiles {
		return fmt.Errorf("static: %d basemap tiles at zoom %d exceeds %d", count, z, maxTiles)
	}

	var layers mvt.Layers
	for ty := y0; ty <= y1; ty++ {
		for tx := x0; tx <= x1; tx++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, ok, err := s.tiles.Tile(uint8(z), uint32(tx), uint32(ty))
			if err != nil {
				return fmt.Errorf("static: tile %d/%d/%d: %w", z, tx, ty, err)
			}
			if !ok {
				continue
			}
			ls, err := mvt.Unmarshal(data)
			if err == mvt.ErrDataIsGZipped {
				ls, err = mvt.UnmarshalGzipped(data)
			}
			if err != nil {
				s.logger.Warn("skipping undecodable tile", "z", z, "x", tx, "y", ty, "error", err)
				continue
			}
			ls.ProjectToWGS84(maptile.New(uint32(tx), uint32(ty), maptile.Zoom(z)))
			layers = append(layers, ls...)
		}
	}

	// Style order decides paint order across tiles.
	for _, sl := range s.cfg.Layers {
		if !s.visible[sl.ID] || sl.SourceLayer == "" {
			continue
		}
		for _, l := range layers {
			if l.Name != sl.SourceLayer {
				continue
			}
			for _, f := range l.Features {
				s.drawGeometry(f.Geometry, sl)
			}
		}
	}
	return nil
}

func clampTile(v, n float64) int {
	return int(math.Max(0, math.Min(math.Floor(v), n-1)))
}

func (s *Surface) drawHighlight() {
	sl := surface.StyleLayer{
		Kind:    surface.KindFill,
		Color:   s.cfg.HighlightColor,
		Opacity: 0.15,
		Width:   2,
	}
	s.drawGeometry(s.cfg.Highlight, sl)
	sl.Kind = surface.KindLine
	sl.Opacity = 1
	s.drawGeometry(s.cfg.Highlight, sl)
}

func (s *Surface) drawGeometry(g orb.Geometry, sl surface.StyleLayer) {
	c := render.ParseColor(sl.Color, render.Grey)
	if sl.Opacity > 0 && sl.Opacity <= 1 {
		c.A *= sl.Opacity
	}
	dc := s.dc
	ratio := s.cfg.PixelRatio
	width := sl.Width
	if width <= 0 {
		width = 1
	}

	switch g := g.(type) {
	case orb.Point:
		x, y := s.screen(g)
		dc.SetColor(c.Color())
		dc.DrawCircle(x, y, width*ratio)
		dc.Fill()
	case orb.MultiPoint:
		for _, p := range g {
			s.drawGeometry(p, sl)
		}
	case orb.LineString:
		if len(g) < 2 {
			return
		}
		s.path(g, false)
		dc.SetColor(c.Color())
		dc.SetLineWidth(width * ratio)
		dc.Stroke()
	case orb.MultiLineString:
		for _, l := range g {
			s.drawGeometry(l, sl)
		}
	case orb.Polygon:
		for i, ring := range g {
			s.path(ring, i > 0)
		}
		dc.SetColor(c.Color())
		if sl.Kind == surface.KindLine {
			dc.SetLineWidth(width * ratio)
			dc.Stroke()
			return
		}
		dc.SetFillRule(gg.FillRuleEvenOdd)
		dc.Fill()
	case orb.MultiPolygon:
		for _, p := range g {
			s.drawGeometry(p, sl)
		}
	case orb.Collection:
		for _, sub := range g {
			s.drawGeometry(sub, sl)
		}
	}
}

// path appends pts to the current path in device pixels.
func (s *Surface) path(pts []orb.Point, sub bool) {
	if sub {
		s.dc.NewSubPath()
	}
	for i, p := range pts {
		x, y := s.screen(p)
		if i == 0 {
			s.dc.MoveTo(x, y)
		} else {
			s.dc.LineTo(x, y)
		}
	}
	if len(pts) > 2 && pts[0] == pts[len(pts)-1] {
		s.dc.ClosePath()
	}
}

func (s *Surface) screen(p orb.Point) (float64, float64) {
	x, y := s.cam.toScreen(world(p))
	return x * s.cfg.PixelRatio, y * s.cfg.PixelRatio
}

var _ surface.Surface = (*Surface)(nil)
