// Package overlay draws plan content over the captured base image: data
// layers first, then annotations, then placed equipment, so equipment is
// always on top.
//
// Everything is drawn through render.Backend, so the raster and document
// outputs share one algorithm. A feature that cannot be drawn is logged and
// skipped, or replaced by a marker; it never fails the pass.
package overlay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/simplify"

	"github.com/joeblew999/plat-siteplan/internal/geom"
	"github.com/joeblew999/plat-siteplan/internal/inventory"
	"github.com/joeblew999/plat-siteplan/internal/plan"
	"github.com/joeblew999/plat-siteplan/internal/render"
)

// Physical sizes, in millimetres.
const (
	IconSizeMM      = 5
	ObjectSizeMM    = 8
	MarkerRadiusMM  = 1.4
	LineWidthMM     = 0.5
	RouteWidthMM    = 1.6
	RouteOpacity    = 0.55
	AnnotationMM    = 0.6
	LabelFontMM     = 2.4
	DimensionFontMM = 2
	// SimplifyMM is the Douglas-Peucker tolerance applied to projected
	// lines.
	SimplifyMM = 0.1
)

var (
	annotationColor = render.Color{R: 0.9, G: 0.32, B: 0, A: 1}
	objectFallback  = render.Color{R: 0.25, G: 0.25, B: 0.3, A: 1}
	chipFill        = render.Color{R: 1, G: 1, B: 1, A: 1}
)

// Projector maps coordinates to page units.
type Projector interface {
	ToPage(lng, lat float64) geom.Point
}

// Icons supplies icon tiles. A nil tile means the icon is unavailable.
type Icons interface {
	Tile(ctx context.Context, ref string, sizeMM float64) *render.IconTile
}

// Input is one overlay pass.
type Input struct {
	Plan *plan.Plan
	// Annotations are the plan's annotations with numbers assigned.
	Annotations []plan.Annotation
	// Badges holds the numbered rows to mark on the map, by layer id.
	Badges     map[string][]inventory.Row
	Projection Projector
	Backend    render.Backend
	Icons      Icons
}

// Options tune the pass.
type Options struct {
	// IncludeDimensions labels annotation edges with their length.
	IncludeDimensions bool
}

// Stats counts what a pass drew.
type Stats struct {
	Points      int
	Lines       int
	Skipped     int
	Fallbacks   int
	Badges      int
	Annotations int
	Objects     int
	Failed      int
}

// Renderer draws overlays.
type Renderer struct {
	opts   Options
	logger *slog.Logger
}

// New returns a renderer. A nil logger discards output.
func New(opts Options, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Renderer{opts: opts, logger: logger}
}

// pass carries per-call state.
type pass struct {
	*Renderer
	ctx   context.Context
	in    Input
	units render.Units
	dp    *simplify.DouglasPeuckerSimplifier
	stats Stats
}

// Render draws in into in.Backend.
func (r *Renderer) Render(ctx context.Context, in Input) Stats {
	units := in.Backend.Units()
	p := &pass{
		Renderer: r,
		ctx:      ctx,
		in:       in,
		units:    units,
		dp:       simplify.DouglasPeucker(units.MM(SimplifyMM)),
	}
	if in.Plan != nil {
		for _, id := range in.Plan.LayerIDs() {
			p.layer(in.Plan.Layers[id])
		}
	}
	for _, a := range in.Annotations {
		p.annotation(a)
	}
	if in.Plan != nil {
		eq := in.Plan.EquipmentByID()
		for _, o := range in.Plan.Objects {
			p.object(o, eq)
		}
	}
	r.logger.Debug("overlay drawn",
		"points", p.stats.Points, "lines", p.stats.Lines, "skipped", p.stats.Skipped,
		"fallbacks", p.stats.Fallbacks, "badges", p.stats.Badges,
		"annotations", p.stats.Annotations, "objects", p.stats.Objects, "failed", p.stats.Failed)
	return p.stats
}

func (p *pass) fail(what string, err error, attrs ...any) {
	p.stats.Failed++
	p.logger.Debug("overlay: "+what, append(attrs, "error", err)...)
}

func (p *pass) layer(l plan.LayerConfig) {
	if !l.Visible || l.Base || l.Tool {
		return
	}
	fc := p.in.Plan.Features[l.ID]
	if fc == nil {
		return
	}
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		p.feature(l, f)
	}
	if rows := p.in.Badges[l.ID]; len(rows) > 0 {
		p.badges(rows)
	}
}

func (p *pass) feature(l plan.LayerConfig, f *geojson.Feature) {
	st := styleFor(l, f.Properties)
	switch g := f.Geometry.(type) {
	case orb.Point:
		p.point(l, g, st)
	case orb.MultiPoint:
		for _, pt := range g {
			p.point(l, pt, st)
		}
	case orb.LineString:
		p.line(l, g, st)
	case orb.MultiLineString:
		for _, ls := range g {
			p.line(l, ls, st)
		}
	default:
		// Polygons are left to the basemap, which already draws them with
		// the same data; an overlay fill would not line up with it.
		p.stats.Skipped++
	}
}

func (p *pass) point(l plan.LayerConfig, pt orb.Point, st style) {
	at := p.in.Projection.ToPage(pt.Lon(), pt.Lat())
	p.stats.Points++
	if st.radius == 0 && l.Icon != "" && p.in.Icons != nil {
		tile := p.in.Icons.Tile(p.ctx, l.Icon, IconSizeMM)
		err := p.in.Backend.DrawIcon(tile, at, render.IconOptions{Size: p.units.MM(IconSizeMM)})
		if err == nil {
			return
		}
		p.logger.Debug("overlay: icon fallback", "layer", l.ID, "icon", l.Icon, "error", err)
	}
	p.marker(at, st.color, st.radius)
}

// marker draws the themed circle used when no icon is drawn.
func (p *pass) marker(at geom.Point, c render.Color, radiusMM float64) {
	if radiusMM <= 0 {
		radiusMM = MarkerRadiusMM
	}
	p.stats.Fallbacks++
	err := p.in.Backend.DrawMarker(at, render.MarkerStyle{Fill: c, Stroke: render.White, Radius: p.units.MM(radiusMM)})
	if err != nil {
		p.fail("marker", err)
	}
}

func (p *pass) line(l plan.LayerConfig, ls orb.LineString, st style) {
	pts := p.project(ls)
	if len(pts) < 2 {
		p.stats.Skipped++
		return
	}
	lst := lineStyle(l, st)
	lst.Width = p.units.MM(lst.Width)
	if err := p.in.Backend.DrawPolyline(pts, lst); err != nil {
		p.fail("line", err, "layer", l.ID)
		return
	}
	p.stats.Lines++
}

// lineStyle returns the style of a layer's lines with Width in millimetres.
func lineStyle(l plan.LayerConfig, st style) render.LineStyle {
	out := render.LineStyle{Color: st.color, Width: LineWidthMM, Opacity: st.opacity}
	if st.width > 0 {
		out.Width = st.width
	}
	if l.LineStyle == plan.LineRoute {
		out.Width = RouteWidthMM
		out.Opacity = RouteOpacity
	}
	return out
}

// project maps a path to page units and simplifies it.
func (p *pass) project(ls orb.LineString) []geom.Point {
	if len(ls) == 0 {
		return nil
	}
	paged := make(orb.LineString, len(ls))
	for i, pt := range ls {
		pp := p.in.Projection.ToPage(pt.Lon(), pt.Lat())
		paged[i] = orb.Point{pp.X, pp.Y}
	}
	if len(paged) > 2 {
		paged = p.dp.LineString(paged)
	}
	return toPoints(paged)
}

// projectRaw projects every vertex of ls without simplification.
func (p *pass) projectRaw(ls orb.LineString) []geom.Point {
	out := make([]geom.Point, len(ls))
	for i, pt := range ls {
		out[i] = p.in.Projection.ToPage(pt.Lon(), pt.Lat())
	}
	return out
}

func (p *pass) projectRing(r orb.Ring) []geom.Point {
	out := make([]geom.Point, len(r))
	for i, pt := range r {
		out[i] = p.in.Projection.ToPage(pt.Lon(), pt.Lat())
	}
	return out
}

func (p *pass) badges(rows []inventory.Row) {
	off := p.units.MM(IconSizeMM / 2)
	for _, row := range rows {
		at := p.in.Projection.ToPage(row.Lng, row.Lat)
		at = at.Add(geom.Vector{DX: off, DY: -off})
		if err := p.in.Backend.DrawBadge(at, row.Index); err != nil {
			p.fail("badge", err, "index", row.Index)
			continue
		}
		p.stats.Badges++
	}
}

func (p *pass) annotation(a plan.Annotation) {
	b := p.in.Backend
	stroke := render.LineStyle{Color: annotationColor, Width: p.units.MM(AnnotationMM), Opacity: 1}

	switch g := a.Geometry.(type) {
	case orb.Point:
		at := p.in.Projection.ToPage(g.Lon(), g.Lat())
		if err := b.DrawMarker(at, render.MarkerStyle{Fill: annotationColor, Stroke: render.White, Radius: p.units.MM(MarkerRadiusMM)}); err != nil {
			p.fail("annotation marker", err)
			return
		}
		p.chip(a.Label, at.Add(geom.Vector{DX: p.units.MM(MarkerRadiusMM + 1)}), LabelFontMM)

	case orb.LineString:
		pts := p.project(g)
		if err := b.DrawPolyline(pts, stroke); err != nil {
			p.fail("annotation line", err)
			return
		}
		if mid, ok := geom.MidVertex(p.projectRaw(g)); ok {
			p.chip(a.Label, mid, LabelFontMM)
		}
		if p.opts.IncludeDimensions {
			p.dimensions(g)
		}

	case orb.Polygon:
		if len(g) == 0 {
			p.fail("annotation polygon", fmt.Errorf("no rings"))
			return
		}
		ring := p.projectRing(g[0])
		err := b.DrawPolygon(ring, render.PolygonStyle{Stroke: annotationColor, StrokeWidth: stroke.Width})
		if err != nil {
			p.fail("annotation polygon", err)
			return
		}
		if c, ok := geom.VertexCentroid(ring); ok {
			p.chip(a.Label, c, LabelFontMM)
		}
		if p.opts.IncludeDimensions {
			p.dimensions(orb.LineString(g[0]))
		}

	default:
		p.fail("annotation", fmt.Errorf("unsupported geometry %T", a.Geometry))
		return
	}
	p.stats.Annotations++
}

// dimensions labels each edge of ls with its geodesic length.
func (p *pass) dimensions(ls orb.LineString) {
	for i := 1; i < len(ls); i++ {
		m := geo.Distance(ls[i-1], ls[i])
		if m < 0.5 {
			continue
		}
		a := p.in.Projection.ToPage(ls[i-1].Lon(), ls[i-1].Lat())
		b := p.in.Projection.ToPage(ls[i].Lon(), ls[i].Lat())
		mid := geom.Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
		p.chip(FormatLength(m), mid, DimensionFontMM)
	}
}

// FormatLength renders metres for dimension labels.
func FormatLength(m float64) string {
	if m >= 1000 {
		return fmt.Sprintf("%.2f km", m/1000)
	}
	if m >= 100 {
		return fmt.Sprintf("%.0f m", m)
	}
	return fmt.Sprintf("%.1f m", m)
}

// chip draws text on a white box whose left edge sits at anchor.
func (p *pass) chip(label string, anchor geom.Point, sizeMM float64) {
	if label == "" {
		return
	}
	b := p.in.Backend
	font := render.Font{Size: p.units.MM(sizeMM), Color: render.Black}
	pad := p.units.MM(0.6)
	lh := font.Size * 1.3
	w := b.Measure(label, font)
	box := render.RectRing(anchor.X, anchor.Y-lh/2-pad, w+2*pad, lh+2*pad)
	fill := chipFill
	err := b.DrawPolygon(box, render.PolygonStyle{Fill: &fill, FillOpacity: 0.85, Stroke: render.Grey, StrokeWidth: p.units.MM(0.15)})
	if err != nil {
		p.fail("label", err)
		return
	}
	if _, err := b.DrawWrappedText(label, geom.Point{X: anchor.X + pad, Y: anchor.Y - lh/2}, w+pad, lh, font); err != nil {
		p.fail("label", err)
	}
}

func (p *pass) object(o plan.PlacedObject, eq map[string]plan.EquipmentType) {
	at := p.in.Projection.ToPage(o.Position.Lng, o.Position.Lat)
	p.stats.Objects++

	ref := eq[o.Type].Icon
	if ref != "" && p.in.Icons != nil {
		tile := p.in.Icons.Tile(p.ctx, ref, ObjectSizeMM)
		opts := render.IconOptions{Size: p.units.MM(ObjectSizeMM), RotationDeg: o.RotationDeg, Flipped: o.Flipped}
		err := p.in.Backend.DrawIcon(tile, at, opts)
		if err == nil {
			return
		}
		p.logger.Debug("overlay: object fallback", "type", o.Type, "icon", ref, "error", err)
	} else {
		p.logger.Debug("overlay: object has no icon", "type", o.Type)
	}
	p.marker(at, objectFallback, ObjectSizeMM/4)
}

func toPoints(ls orb.LineString) []geom.Point {
	out := make([]geom.Point, len(ls))
	for i, pt := range ls {
		out[i] = geom.Point{X: pt[0], Y: pt[1]}
	}
	return out
}
