// Package export runs the export pipeline: it owns a detached surface for
// the duration of one call, captures the base image, draws the overlay,
// legend and summary tables through one render.Backend, and returns the
// finished artifact.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/joeblew999/plat-siteplan/internal/geom"
	"github.com/joeblew999/plat-siteplan/internal/icon"
	"github.com/joeblew999/plat-siteplan/internal/inventory"
	"github.com/joeblew999/plat-siteplan/internal/legend"
	"github.com/joeblew999/plat-siteplan/internal/overlay"
	"github.com/joeblew999/plat-siteplan/internal/plan"
	"github.com/joeblew999/plat-siteplan/internal/projection"
	"github.com/joeblew999/plat-siteplan/internal/render"
	"github.com/joeblew999/plat-siteplan/internal/render/pdfdoc"
	"github.com/joeblew999/plat-siteplan/internal/render/raster"
	"github.com/joeblew999/plat-siteplan/internal/service"
	"github.com/joeblew999/plat-siteplan/internal/surface"
)

// Output formats.
const (
	FormatRaster   = "raster"
	FormatDocument = "document"
)

var (
	ErrNoFocusGeometry = errors.New("export: focus area has no geometry")
	ErrSurfaceNotReady = errors.New("export: surface did not become ready")
	ErrInvalidCapture  = errors.New("export: surface capture is not a valid image")
	ErrUnknownFormat   = errors.New("export: unknown format")
)

// Document layout, in millimetres.
const (
	PageMarginMM  = 10
	LegendWidthMM = 70
	LegendGapMM   = 5
)

const cssPixelsPerMM = 96 / 25.4

// Options configure one export. Zero values take the defaults documented
// per field.
type Options struct {
	// Format is FormatRaster (default) or FormatDocument.
	Format string
	// Title overrides the plan title in the legend.
	Title             string
	SuppressLegend    bool
	IncludeDimensions bool
	// IncludeSummary appends inventory tables to documents.
	IncludeSummary bool
	// Debug logs per-feature detail for this export.
	Debug            bool
	PitchOverrideDeg *float64
	Bearing          float64
	// ReadyTimeout bounds the wait for the surface. Default 30s.
	ReadyTimeout time.Duration
	// Width and Height size the raster map in CSS pixels. Default 1200x800.
	Width, Height int
	// PixelRatio is the capture density. Default 2.
	PixelRatio float64
	// Paper is the document paper size. Default A4.
	Paper string
	// Padding is the FitBounds padding in CSS pixels. Default 40.
	Padding float64
}

func (o Options) withDefaults() Options {
	if o.Format == "" {
		o.Format = FormatRaster
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = 30 * time.Second
	}
	if o.Width <= 0 {
		o.Width = 1200
	}
	if o.Height <= 0 {
		o.Height = 800
	}
	if o.PixelRatio <= 0 {
		o.PixelRatio = 2
	}
	if o.Paper == "" {
		o.Paper = "A4"
	}
	if o.Padding <= 0 {
		o.Padding = 40
	}
	return o
}

// Artifact is a finished export.
type Artifact struct {
	Format      string `json:"format"`
	ContentType string `json:"contentType"`
	Filename    string `json:"filename"`
	Data        []byte `json:"-"`
	Pages       int    `json:"pages"`
}

// Exporter turns plans into artifacts.
type Exporter struct {
	Surfaces surface.Factory
	// Icons loads icon sources. Nil draws markers in place of icons.
	Icons  icon.Loader
	Logger *slog.Logger
	// Bus receives lifecycle events when set.
	Bus *service.EventBus
}

// output is the backend an export draws into plus its encoder.
type output interface {
	render.Backend
	Bytes() ([]byte, error)
}

// Export renders p. The surface is closed before Export returns, whether it
// succeeds or not.
func (e *Exporter) Export(ctx context.Context, p *plan.Plan, opts Options) (art *Artifact, err error) {
	opts = opts.withDefaults()
	if opts.Format != FormatRaster && opts.Format != FormatDocument {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, opts.Format)
	}
	if p == nil {
		return nil, ErrNoFocusGeometry
	}
	logger := e.logger(opts.Debug).With("plan", p.ID, "format", opts.Format)
	started := time.Now()
	e.publish("started", p.ID, opts.Format)
	defer func() {
		if err != nil {
			logger.Warn("export failed", "error", err)
			e.publish("failed", p.ID, err.Error())
			return
		}
		logger.Info("export complete", "bytes", len(art.Data), "pages", art.Pages, "elapsed", time.Since(started))
		e.publish("completed", p.ID, art.Filename)
	}()

	bound, ok := geom.BoundingBox(p.Focus.Geometry)
	if !ok {
		return nil, ErrNoFocusGeometry
	}
	if e.Surfaces == nil {
		return nil, errors.New("export: no surface factory")
	}

	lay := newLayout(opts)
	cfg := surfaceConfig(p, opts, lay)
	surf, err := e.Surfaces.NewSurface(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("export: create surface: %w", err)
	}
	defer func() {
		if cerr := surf.Close(); cerr != nil {
			logger.Warn("closing surface", "error", cerr)
		}
	}()

	for _, id := range p.LayerIDs() {
		if l := p.Layers[id]; l.Tool || (id == p.Focus.Layer && p.Focus.Layer != "") {
			surf.SetLayerVisibility(id, false)
		}
	}
	if err := surf.FitBounds(bound, opts.Padding); err != nil {
		return nil, fmt.Errorf("export: fit bounds: %w", err)
	}

	wctx, cancel := context.WithTimeout(ctx, opts.ReadyTimeout)
	err = surf.WaitUntilIdle(wctx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrSurfaceNotReady, err)
	}

	data, err := surf.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCapture, err)
	}
	base, err := decodeCapture(data)
	if err != nil {
		return nil, err
	}
	e.publish("captured", p.ID, fmt.Sprintf("%dx%d", base.Bounds().Dx(), base.Bounds().Dy()))
	logger.Debug("base image captured", "width", base.Bounds().Dx(), "height", base.Bounds().Dy(), "viewport", surf.Viewport())

	icons := icon.NewRasterizer(e.Icons, opts.PixelRatio, logger)
	if err := icons.Preload(ctx, iconRequests(p)); err != nil {
		return nil, err
	}

	anns := inventory.NumberAnnotations(p.Annotations)
	lg := legend.Build(p, anns, opts.Title)

	out, mapBox, legendFrame, err := lay.backend(base, lg)
	if err != nil {
		return nil, err
	}
	if c, ok := out.(interface{ Close() error }); ok {
		defer c.Close()
	}

	proj := projection.New(surf, lay.pixelsPerPageUnit(surf), geom.Point{X: mapBox.X, Y: mapBox.Y}).
		WithPageSize(mapBox.W, mapBox.H)

	w, h := surf.Size()
	scope := inventory.Scope{
		Area: p.Focus.Geometry,
		Project: func(lng, lat float64) geom.Point {
			x, y := proj.Surface(lng, lat)
			return geom.Point{X: x, Y: y}
		},
		Width:  float64(w),
		Height: float64(h),
	}
	badges := make(map[string][]inventory.Row)
	var tables []legend.Table
	for _, id := range p.LayerIDs() {
		l := p.Layers[id]
		if !l.Visible || l.Inventory == nil {
			continue
		}
		rows := inventory.Build(*l.Inventory, p.Features[id], scope)
		badges[id] = rows
		tables = append(tables, legend.TableFor(l, rows))
		logger.Debug("inventory built", "layer", id, "kind", l.Inventory.Kind, "rows", len(rows))
	}

	if err := out.DrawImage(base, geom.Point{X: mapBox.X, Y: mapBox.Y}, mapBox.W, mapBox.H); err != nil {
		return nil, fmt.Errorf("export: draw base image: %w", err)
	}
	stats := overlay.New(overlay.Options{IncludeDimensions: opts.IncludeDimensions}, logger).Render(ctx, overlay.Input{
		Plan:        p,
		Annotations: anns,
		Badges:      badges,
		Projection:  proj,
		Backend:     out,
		Icons:       icons,
	})
	if stats.Failed > 0 {
		logger.Info("overlay features skipped", "failed", stats.Failed, "fallbacks", stats.Fallbacks)
	}

	if !opts.SuppressLegend {
		if legendFrame.Bottom > 0 {
			lg = lg.Fit(out, legendFrame.Width, legendFrame.Bottom-legendFrame.Y)
		}
		if _, err := lg.Draw(ctx, out, icons, legendFrame); err != nil {
			logger.Debug("legend drawn with errors", "error", err)
		}
	}
	if opts.Format == FormatDocument && opts.IncludeSummary {
		if _, err := legend.Tables(out, tables); err != nil {
			logger.Debug("tables drawn with errors", "error", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	encoded, err := out.Bytes()
	if err != nil {
		return nil, fmt.Errorf("assemble document: %w", err)
	}
	art = &Artifact{
		Format:   opts.Format,
		Filename: Filename(p, opts.Format),
		Data:     encoded,
		Pages:    1,
	}
	switch d := out.(type) {
	case *pdfdoc.Document:
		art.ContentType = "application/pdf"
		art.Pages = d.Pages()
	default:
		art.ContentType = "image/png"
	}
	return art, nil
}

func (e *Exporter) logger(debug bool) *slog.Logger {
	l := e.Logger
	if l == nil {
		return slog.New(slog.DiscardHandler)
	}
	if debug {
		return slog.New(debugHandler{l.Handler()})
	}
	return l
}

func (e *Exporter) publish(action, id, detail string) {
	if e.Bus != nil {
		e.Bus.Publish(service.Event{Resource: "exports", Action: action, ID: id, Detail: detail})
	}
}

// decodeCapture checks that data is a non-empty PNG.
// iconRequests lists every tile the overlay and legend draw: layer icons as
// point symbols and swatches, equipment icons as placed objects and swatches.
func iconRequests(p *plan.Plan) []icon.Request {
	layers, equipment := p.IconRefs()
	return append(
		icon.Requests(layers, overlay.IconSizeMM, legend.SwatchMM),
		icon.Requests(equipment, overlay.ObjectSizeMM, legend.SwatchMM)...,
	)
}

func decodeCapture(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidCapture)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCapture, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: zero size", ErrInvalidCapture)
	}
	return img, nil
}

var unsafeName = regexp.MustCompile(`[^a-z0-9]+`)

// Filename derives the download name of an artifact.
func Filename(p *plan.Plan, format string) string {
	name := p.Title
	if name == "" {
		name = p.ID
	}
	name = strings.Trim(unsafeName.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if name == "" {
		name = "siteplan"
	}
	if format == FormatDocument {
		return name + ".pdf"
	}
	return name + ".png"
}

// surfaceConfig builds the style snapshot. Base layers are drawn by the
// surface; tool layers and the focus source start visible and are hidden
// before capture.
func surfaceConfig(p *plan.Plan, opts Options, lay layout) surface.Config {
	cfg := surface.Config{
		Width:          lay.surfaceW,
		Height:         lay.surfaceH,
		PixelRatio:     opts.PixelRatio,
		Background:     p.Style.Background,
		Basemap:        p.Style.Basemap,
		Highlight:      p.Focus.Geometry,
		HighlightColor: "#ff6d00",
		Bearing:        opts.Bearing,
	}
	if opts.PitchOverrideDeg != nil {
		cfg.PitchDeg = *opts.PitchOverrideDeg
	}
	for _, id := range p.LayerIDs() {
		l := p.Layers[id]
		if !l.Base && !l.Tool && id != p.Focus.Layer {
			continue
		}
		if id == p.Focus.Layer && l.Color != "" {
			cfg.HighlightColor = l.Color
		}
		cfg.Layers = append(cfg.Layers, surface.StyleLayer{
			ID:          id,
			SourceLayer: l.SourceLayer,
			Kind:        styleKind(l.GeomType),
			Color:       l.Color,
			Opacity:     l.Opacity,
			Width:       1.5,
			Visible:     l.Visible || l.Tool,
			Tool:        l.Tool,
		})
	}
	return cfg
}

func styleKind(geomType string) string {
	switch geomType {
	case plan.GeomLine:
		return surface.KindLine
	case plan.GeomPoint:
		return surface.KindCircle
	default:
		return surface.KindFill
	}
}

// box is a rectangle in page units.
type box struct{ X, Y, W, H float64 }

// layout sizes the surface and places the map and legend for a format.
type layout struct {
	format     string
	paper      string
	ratio      float64
	legend     bool
	surfaceW   int
	surfaceH   int
	mapW, mapH float64 // document map box, mm
}

func newLayout(opts Options) layout {
	l := layout{format: opts.Format, paper: opts.Paper, ratio: opts.PixelRatio, legend: !opts.SuppressLegend}
	if opts.Format == FormatRaster {
		l.surfaceW, l.surfaceH = opts.Width, opts.Height
		return l
	}
	pw, ph := pdfdoc.New(opts.Paper).PageSize()
	l.mapW = pw - 2*PageMarginMM
	if l.legend {
		l.mapW -= LegendWidthMM + LegendGapMM
	}
	l.mapH = ph - 2*PageMarginMM
	l.surfaceW = int(math.Round(l.mapW * cssPixelsPerMM))
	l.surfaceH = int(math.Round(l.mapH * cssPixelsPerMM))
	return l
}

// pixelsPerPageUnit converts the surface's CSS pixels to page units.
func (l layout) pixelsPerPageUnit(s surface.Surface) float64 {
	if l.format == FormatRaster {
		return 1 / l.ratio
	}
	w, _ := s.Size()
	return float64(w) / l.mapW
}

// backend creates the output for base and returns the map box and legend
// frame within it.
func (l layout) backend(base image.Image, lg legend.Legend) (output, box, legend.Frame, error) {
	if l.format == FormatDocument {
		doc := pdfdoc.New(l.paper)
		doc.SetTitle(lg.Title)
		_, ph := doc.PageSize()
		mapBox := box{X: PageMarginMM, Y: PageMarginMM, W: l.mapW, H: l.mapH}
		frame := legend.Frame{
			X:      PageMarginMM + l.mapW + LegendGapMM,
			Y:      PageMarginMM,
			Width:  LegendWidthMM,
			Top:    PageMarginMM,
			Bottom: ph - PageMarginMM,
		}
		return doc, mapBox, frame, nil
	}

	bw, bh := base.Bounds().Dx(), base.Bounds().Dy()
	width, height := bw, bh
	var frame legend.Frame
	if l.legend {
		measure, err := raster.New(1, 1, l.ratio)
		if err != nil {
			return nil, box{}, legend.Frame{}, err
		}
		panel := measure.Units().MM(LegendWidthMM)
		lh := lg.Height(measure, panel)
		measure.Close()
		width += int(math.Ceil(panel))
		height = max(height, int(math.Ceil(lh)))
		frame = legend.Frame{X: float64(bw), Y: 0, Width: panel}
	}
	canvas, err := raster.New(width, height, l.ratio)
	if err != nil {
		return nil, box{}, legend.Frame{}, err
	}
	return canvas, box{W: float64(bw), H: float64(bh)}, frame, nil
}

// debugHandler lets every level through to the wrapped handler.
type debugHandler struct{ slog.Handler }

func (debugHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h debugHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return debugHandler{h.Handler.WithAttrs(attrs)}
}

func (h debugHandler) WithGroup(name string) slog.Handler {
	return debugHandler{h.Handler.WithGroup(name)}
}
