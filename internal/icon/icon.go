// Package icon turns icon sources (PNG, JPEG, GIF, WebP or SVG) into square
// raster tiles at a fixed device resolution so every backend embeds the same
// bitmap.
//
// A Rasterizer belongs to one export. Its cache is dropped with it.
package icon

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/joeblew999/plat-siteplan/internal/render"
)

// MinPixelRatio is the lowest device pixel ratio tiles are rendered at.
const MinPixelRatio = 2

// CSS reference pixels per millimetre.
const pxPerMM = 96 / 25.4

// preloadLimit bounds concurrent loads in Preload.
const preloadLimit = 4

// Loader fetches the raw bytes of an icon source.
type Loader interface {
	Load(ctx context.Context, ref string) ([]byte, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, ref string) ([]byte, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, ref string) ([]byte, error) { return f(ctx, ref) }

// FSLoader reads icons from a file system. Leading slashes are stripped so
// web-style refs ("/icons/stage.svg") resolve inside the FS.
type FSLoader struct {
	FS fs.FS
}

// Load reads ref from the file system.
func (l FSLoader) Load(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fs.ReadFile(l.FS, strings.TrimLeft(ref, "/"))
}

// Rasterizer produces icon tiles and caches them by (ref, pixel size).
// Concurrent requests for the same key share one load.
type Rasterizer struct {
	loader     Loader
	pixelRatio float64
	logger     *slog.Logger

	group singleflight.Group
	mu    sync.Mutex
	tiles map[string]*render.IconTile
}

// NewRasterizer returns a rasterizer rendering at pixelRatio (raised to
// MinPixelRatio). A nil logger discards output.
func NewRasterizer(loader Loader, pixelRatio float64, logger *slog.Logger) *Rasterizer {
	if pixelRatio < MinPixelRatio {
		pixelRatio = MinPixelRatio
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Rasterizer{
		loader:     loader,
		pixelRatio: pixelRatio,
		logger:     logger,
		tiles:      make(map[string]*render.IconTile),
	}
}

// PixelSize returns the tile edge in device pixels for an icon drawn sizeMM
// wide.
func (r *Rasterizer) PixelSize(sizeMM float64) int {
	px := int(math.Ceil(sizeMM * pxPerMM * r.pixelRatio))
	if px < 1 {
		px = 1
	}
	return px
}

// Tile returns the tile for ref drawn sizeMM wide, or nil when the source
// cannot be loaded or decoded. Failures are logged and cached so a bad
// source is only tried once per export.
func (r *Rasterizer) Tile(ctx context.Context, ref string, sizeMM float64) *render.IconTile {
	if ref == "" {
		return nil
	}
	px := r.PixelSize(sizeMM)
	key := render.TileKey(ref, px)

	r.mu.Lock()
	tile, ok := r.tiles[key]
	r.mu.Unlock()
	if ok {
		return tile
	}

	v, _, _ := r.group.Do(key, func() (any, error) {
		r.mu.Lock()
		tile, ok := r.tiles[key]
		r.mu.Unlock()
		if ok {
			return tile, nil
		}
		tile, err := r.rasterize(ctx, ref, px)
		if err != nil {
			r.logger.Warn("icon unavailable", "ref", ref, "px", px, "error", err)
			tile = nil
		}
		r.mu.Lock()
		r.tiles[key] = tile
		r.mu.Unlock()
		return tile, nil
	})
	return v.(*render.IconTile)
}

// Request names one tile: a source drawn SizeMM wide.
type Request struct {
	Ref    string
	SizeMM float64
}

// Requests pairs every ref with every size.
func Requests(refs []string, sizesMM ...float64) []Request {
	out := make([]Request, 0, len(refs)*len(sizesMM))
	for _, ref := range refs {
		for _, s := range sizesMM {
			out = append(out, Request{Ref: ref, SizeMM: s})
		}
	}
	return out
}

// Preload rasterizes reqs concurrently, at most preloadLimit at a time.
// Requests that map to the same tile are loaded once. Individual failures
// leave a nil tile; only context cancellation is returned.
func (r *Rasterizer) Preload(ctx context.Context, reqs []Request) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(preloadLimit)
	seen := make(map[string]bool, len(reqs))
	for _, req := range reqs {
		if req.Ref == "" {
			continue
		}
		key := render.TileKey(req.Ref, r.PixelSize(req.SizeMM))
		if seen[key] {
			continue
		}
		seen[key] = true
		g.Go(func() error {
			r.Tile(ctx, req.Ref, req.SizeMM)
			return ctx.Err()
		})
	}
	return g.Wait()
}

// Len returns the number of cached entries, failed ones included.
func (r *Rasterizer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tiles)
}

func (r *Rasterizer) rasterize(ctx context.Context, ref string, px int) (*render.IconTile, error) {
	if r.loader == nil {
		return nil, fmt.Errorf("no icon loader")
	}
	data, err := r.loader.Load(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ref, err)
	}
	var img *image.RGBA
	if isSVG(ref, data) {
		img, err = rasterizeSVG(data, px)
	} else {
		img, err = rasterizeBitmap(data, px)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", ref, err)
	}
	return &render.IconTile{SourceRef: ref, PixelSize: px, Image: img}, nil
}

// Contain returns the scale that fits a w×h source inside a square of edge
// target while keeping its aspect ratio.
func Contain(w, h, target float64) float64 {
	if w <= 0 || h <= 0 {
		return 0
	}
	return math.Min(target/w, target/h)
}

// centered returns the destination rectangle for a w×h source contained in
// a px square.
func centered(w, h float64, px int) (x, y, dw, dh float64) {
	s := Contain(w, h, float64(px))
	dw, dh = w*s, h*s
	return (float64(px) - dw) / 2, (float64(px) - dh) / 2, dw, dh
}

func rasterizeBitmap(data []byte, px int) (*image.RGBA, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("empty image")
	}
	x, y, dw, dh := centered(float64(b.Dx()), float64(b.Dy()), px)
	dst := image.NewRGBA(image.Rect(0, 0, px, px))
	rect := image.Rect(int(math.Round(x)), int(math.Round(y)), int(math.Round(x+dw)), int(math.Round(y+dh)))
	draw.CatmullRom.Scale(dst, rect, src, b, draw.Over, nil)
	return dst, nil
}

func rasterizeSVG(data []byte, px int) (*image.RGBA, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, err
	}
	w, h := icon.ViewBox.W, icon.ViewBox.H
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("svg has no view box")
	}
	x, y, dw, dh := centered(w, h, px)
	icon.SetTarget(x, y, dw, dh)

	dst := image.NewRGBA(image.Rect(0, 0, px, px))
	scanner := rasterx.NewScannerGV(px, px, dst, dst.Bounds())
	icon.Draw(rasterx.NewDasher(px, px, scanner), 1)
	return dst, nil
}

func isSVG(ref string, data []byte) bool {
	if strings.HasSuffix(strings.ToLower(ref), ".svg") {
		return true
	}
	head := bytes.TrimSpace(data)
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.HasPrefix(head, []byte("<")) && bytes.Contains(head, []byte("<svg"))
}
