// Package legend lays out the legend panel and the paginated summary tables.
//
// Layout is computed before drawing so callers know the panel height up
// front; text is wrapped with render.Wrap against the backend's own
// measurements, so both outputs break lines at the same words.
package legend

import (
	"context"
	"fmt"
	"sort"

	"github.com/joeblew999/plat-siteplan/internal/geom"
	"github.com/joeblew999/plat-siteplan/internal/plan"
	"github.com/joeblew999/plat-siteplan/internal/render"
)

// Sizes in millimetres.
const (
	TitleMM    = 4.5
	SubtitleMM = 3
	HeadingMM  = 3.2
	TextMM     = 2.8
	SwatchMM   = 4
	PaddingMM  = 3
	GapMM      = 1.5
	// Leading is line height as a multiple of font size.
	Leading = 1.35
	// MinScale is the smallest scale Fit shrinks a legend to.
	MinScale = 0.5
)

// Icons supplies icon tiles; nil means unavailable.
type Icons interface {
	Tile(ctx context.Context, ref string, sizeMM float64) *render.IconTile
}

// Legend is the content of the legend panel.
type Legend struct {
	Title       string
	Subtitle    string
	Layers      []LayerEntry
	Equipment   []EquipmentEntry
	Annotations []AnnotationEntry
	// Scale multiplies every size; zero means 1.
	Scale float64
}

// LayerEntry is one visible data layer.
type LayerEntry struct {
	Name     string
	Color    render.Color
	GeomType string
	Icon     string
	Items    []plan.LegendItem
}

// EquipmentEntry counts placed objects of one type.
type EquipmentEntry struct {
	Name  string
	Icon  string
	Count int
}

// Text is the entry label.
func (e EquipmentEntry) Text() string {
	return fmt.Sprintf("%s (%d)", e.Name, e.Count)
}

// AnnotationEntry is one numbered annotation.
type AnnotationEntry struct {
	Number int
	Label  string
}

// Text is the entry label.
func (e AnnotationEntry) Text() string {
	if e.Label == "" {
		return fmt.Sprintf("%d.", e.Number)
	}
	return fmt.Sprintf("%d. %s", e.Number, e.Label)
}

var defaultColor = render.Color{R: 0.2, G: 0.53, B: 1, A: 1}

// Build collects legend content from a plan. anns must already be numbered.
// Layers are listed by display name, equipment by name.
func Build(p *plan.Plan, anns []plan.Annotation, title string) Legend {
	l := Legend{Title: title}
	if p == nil {
		return l
	}
	if l.Title == "" {
		l.Title = p.Title
	}
	l.Subtitle = p.Focus.Name

	for _, id := range p.LayerIDs() {
		lc := p.Layers[id]
		if !lc.Visible || lc.Base || lc.Tool {
			continue
		}
		l.Layers = append(l.Layers, LayerEntry{
			Name:     lc.DisplayName(),
			Color:    render.ParseColor(lc.Color, defaultColor),
			GeomType: lc.GeomType,
			Icon:     lc.Icon,
			Items:    lc.Legend,
		})
	}
	sort.SliceStable(l.Layers, func(i, j int) bool { return l.Layers[i].Name < l.Layers[j].Name })

	eq := p.EquipmentByID()
	counts := make(map[string]*EquipmentEntry)
	for _, o := range p.Objects {
		e, ok := counts[o.Type]
		if !ok {
			t := eq[o.Type]
			name := t.Name
			if name == "" {
				name = o.Type
			}
			e = &EquipmentEntry{Name: name, Icon: t.Icon}
			counts[o.Type] = e
		}
		e.Count++
	}
	for _, e := range counts {
		l.Equipment = append(l.Equipment, *e)
	}
	sort.Slice(l.Equipment, func(i, j int) bool { return l.Equipment[i].Name < l.Equipment[j].Name })

	for _, a := range anns {
		l.Annotations = append(l.Annotations, AnnotationEntry{Number: a.Number, Label: a.Label})
	}
	return l
}

// Frame is where the legend is drawn, in page units.
type Frame struct {
	X, Y, Width float64
	// Bottom ends the usable area; zero means unlimited. Past it the
	// legend continues on a new page at Top.
	Bottom float64
	Top    float64
}

type blockKind int

const (
	blockTitle blockKind = iota
	blockSubtitle
	blockHeading
	blockLayer
	blockItem
	blockEquipment
	blockAnnotation
)

// block is one laid-out row of the legend.
type block struct {
	kind   blockKind
	text   string
	height float64
	layer  LayerEntry
	item   plan.LegendItem
	icon   string
}

type metrics struct {
	units   render.Units
	pad     float64
	gap     float64
	swatch  float64
	title   render.Font
	sub     render.Font
	heading render.Font
	body    render.Font
}

func newMetrics(u render.Units, scale float64) metrics {
	if scale <= 0 {
		scale = 1
	}
	mm := func(v float64) float64 { return u.MM(v * scale) }
	return metrics{
		units:   u,
		pad:     mm(PaddingMM),
		gap:     mm(GapMM),
		swatch:  mm(SwatchMM),
		title:   render.Font{Size: mm(TitleMM), Bold: true, Color: render.Black},
		sub:     render.Font{Size: mm(SubtitleMM), Color: render.Grey},
		heading: render.Font{Size: mm(HeadingMM), Bold: true, Color: render.Black},
		body:    render.Font{Size: mm(TextMM), Color: render.Black},
	}
}

func (m metrics) font(k blockKind) render.Font {
	switch k {
	case blockTitle:
		return m.title
	case blockSubtitle:
		return m.sub
	case blockHeading:
		return m.heading
	default:
		return m.body
	}
}

// layout computes the blocks for a frame width.
func (l Legend) layout(b render.Backend, width float64) ([]block, metrics) {
	m := newMetrics(b.Units(), l.Scale)
	inner := width - 2*m.pad
	entryWidth := inner - m.swatch - m.gap

	var blocks []block
	add := func(k blockKind, text string, w, floor float64) *block {
		f := m.font(k)
		lines := render.Wrap(text, w, func(s string) float64 { return b.Measure(s, f) })
		h := float64(max(len(lines), 1)) * f.Size * Leading
		blocks = append(blocks, block{kind: k, text: text, height: max(h, floor)})
		return &blocks[len(blocks)-1]
	}

	add(blockTitle, l.Title, inner, 0)
	if l.Subtitle != "" {
		add(blockSubtitle, l.Subtitle, inner, 0)
	}
	if len(l.Layers) > 0 {
		add(blockHeading, "Layers", inner, 0)
		for _, e := range l.Layers {
			add(blockLayer, e.Name, entryWidth, m.swatch+m.gap/2).layer = e
			for _, it := range e.Items {
				add(blockItem, it.Label, entryWidth-m.swatch/2, m.swatch/2+m.gap/2).item = it
			}
		}
	}
	if len(l.Equipment) > 0 {
		add(blockHeading, "Equipment", inner, 0)
		for _, e := range l.Equipment {
			add(blockEquipment, e.Text(), entryWidth, m.swatch+m.gap/2).icon = e.Icon
		}
	}
	if len(l.Annotations) > 0 {
		add(blockHeading, "Annotations", inner, 0)
		for _, e := range l.Annotations {
			add(blockAnnotation, e.Text(), inner, 0)
		}
	}
	return blocks, m
}

// Height returns the height Draw uses at width, padding included.
func (l Legend) Height(b render.Backend, width float64) float64 {
	blocks, m := l.layout(b, width)
	h := 2 * m.pad
	for _, bl := range blocks {
		h += bl.height
	}
	return h
}

// Fit returns l scaled down so that it is at most height tall at width.
// The scale never drops below MinScale; a legend still too tall at that
// scale continues on a new page when drawn.
func (l Legend) Fit(b render.Backend, width, height float64) Legend {
	l.Scale = 1
	if height <= 0 || l.Height(b, width) <= height {
		return l
	}
	lo, hi := MinScale, 1.0
	for range 12 {
		l.Scale = (lo + hi) / 2
		if l.Height(b, width) <= height {
			lo = l.Scale
		} else {
			hi = l.Scale
		}
	}
	l.Scale = lo
	return l
}

// Draw draws the legend into f and returns the number of pages it started.
// A block that fails to draw is skipped.
func (l Legend) Draw(ctx context.Context, b render.Backend, icons Icons, f Frame) (int, error) {
	blocks, m := l.layout(b, f.Width)
	x := f.X + m.pad
	y := f.Y + m.pad
	inner := f.Width - 2*m.pad
	pages := 0
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, bl := range blocks {
		if f.Bottom > 0 && y+bl.height > f.Bottom && y > f.Top+m.pad {
			b.NewPage()
			pages++
			y = f.Top + m.pad
		}
		font := m.font(bl.kind)
		lh := font.Size * Leading
		textX := x + m.swatch + m.gap

		switch bl.kind {
		case blockTitle, blockSubtitle, blockHeading, blockAnnotation:
			_, err := b.DrawWrappedText(bl.text, geom.Point{X: x, Y: y}, inner, lh, font)
			keep(err)
			if bl.kind == blockTitle {
				rule := []geom.Point{{X: x, Y: y + bl.height}, {X: x + inner, Y: y + bl.height}}
				keep(b.DrawPolyline(rule, render.LineStyle{Color: render.Grey, Width: m.units.MM(0.2), Opacity: 1}))
			}
		case blockLayer:
			keep(swatch(ctx, b, icons, bl.layer, geom.Point{X: x, Y: y}, m.swatch, m.units))
			_, err := b.DrawWrappedText(bl.text, geom.Point{X: textX, Y: y}, inner-m.swatch-m.gap, lh, font)
			keep(err)
		case blockItem:
			s := m.swatch / 2
			fill := render.ParseColor(bl.item.Color, render.Grey)
			keep(b.DrawPolygon(render.RectRing(textX, y+s/4, s, s), render.PolygonStyle{Fill: &fill, FillOpacity: 1, Stroke: render.Grey, StrokeWidth: m.units.MM(0.1)}))
			_, err := b.DrawWrappedText(bl.text, geom.Point{X: textX + s + m.gap, Y: y}, inner-m.swatch-m.gap-s, lh, font)
			keep(err)
		case blockEquipment:
			keep(iconOrMarker(ctx, b, icons, bl.icon, geom.Point{X: x + m.swatch/2, Y: y + m.swatch/2}, m.swatch))
			_, err := b.DrawWrappedText(bl.text, geom.Point{X: textX, Y: y}, inner-m.swatch-m.gap, lh, font)
			keep(err)
		}
		y += bl.height
	}
	return pages, firstErr
}

// swatch draws the symbol of a layer in a size×size box at topLeft.
func swatch(ctx context.Context, b render.Backend, icons Icons, e LayerEntry, topLeft geom.Point, size float64, u render.Units) error {
	center := geom.Point{X: topLeft.X + size/2, Y: topLeft.Y + size/2}
	switch e.GeomType {
	case plan.GeomLine:
		pts := []geom.Point{{X: topLeft.X, Y: center.Y}, {X: topLeft.X + size, Y: center.Y}}
		return b.DrawPolyline(pts, render.LineStyle{Color: e.Color, Width: u.MM(0.8), Opacity: 1})
	case plan.GeomPolygon:
		fill := e.Color
		return b.DrawPolygon(render.RectRing(topLeft.X, topLeft.Y, size, size), render.PolygonStyle{Fill: &fill, FillOpacity: 0.6, Stroke: e.Color, StrokeWidth: u.MM(0.2)})
	default:
		if e.Icon != "" && icons != nil {
			if err := b.DrawIcon(icons.Tile(ctx, e.Icon, SwatchMM), center, render.IconOptions{Size: size}); err == nil {
				return nil
			}
		}
		return b.DrawMarker(center, render.MarkerStyle{Fill: e.Color, Stroke: render.White, Radius: size / 3})
	}
}

func iconOrMarker(ctx context.Context, b render.Backend, icons Icons, ref string, center geom.Point, size float64) error {
	if ref != "" && icons != nil {
		if err := b.DrawIcon(icons.Tile(ctx, ref, SwatchMM), center, render.IconOptions{Size: size}); err == nil {
			return nil
		}
	}
	return b.DrawMarker(center, render.MarkerStyle{Fill: render.Grey, Stroke: render.White, Radius: size / 3})
}
