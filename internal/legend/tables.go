package legend

import (
	"fmt"

	"github.com/joeblew999/plat-siteplan/internal/geom"
	"github.com/joeblew999/plat-siteplan/internal/inventory"
	"github.com/joeblew999/plat-siteplan/internal/plan"
	"github.com/joeblew999/plat-siteplan/internal/render"
)

// LocationField is a pseudo-field that renders a row's coordinates.
const LocationField = "_location"

// Table sizes in millimetres.
const (
	TableMarginMM = 12
	TableTitleMM  = 4
	HeaderMM      = 2.8
	CellMM        = 2.6
	CellPadMM     = 1
	IndexColMM    = 10
	TableGapMM    = 6
)

var headerFill = render.Color{R: 0.88, G: 0.88, B: 0.88, A: 1}

// Table is one inventory summary.
type Table struct {
	Title   string
	Columns []plan.Column
	Rows    []inventory.Row
}

// TableFor builds the summary table of a layer's inventory, supplying
// default columns for the inventory kind when none are configured.
func TableFor(l plan.LayerConfig, rows []inventory.Row) Table {
	t := Table{Title: l.DisplayName(), Rows: rows}
	if l.Inventory == nil {
		return t
	}
	if l.Inventory.Title != "" {
		t.Title = l.Inventory.Title
	}
	t.Columns = l.Inventory.Columns
	if len(t.Columns) == 0 {
		t.Columns = defaultColumns(*l.Inventory)
	}
	return t
}

func defaultColumns(spec plan.InventorySpec) []plan.Column {
	if spec.Kind == plan.InventoryStations {
		name, routes := spec.NameField, spec.RoutesField
		if name == "" {
			name = "name"
		}
		if routes == "" {
			routes = "routes"
		}
		return []plan.Column{
			{Header: "Station", Field: name, Weight: 2},
			{Header: "Routes", Field: routes, Weight: 1},
		}
	}
	return []plan.Column{
		{Header: "On street", Field: inventory.OnStreetField, Weight: 2},
		{Header: "From street", Field: inventory.FromStreetField, Weight: 2},
		{Header: "Location", Field: LocationField, Weight: 2},
	}
}

// Cell returns the display text of a column for a row.
func Cell(r inventory.Row, c plan.Column) string {
	if c.Field == LocationField {
		return fmt.Sprintf("%.6f, %.6f", r.Lat, r.Lng)
	}
	return r.Field(c.Field)
}

type tableMetrics struct {
	margin, pad, indexW, gap float64
	title, header, cell      render.Font
}

func newTableMetrics(u render.Units) tableMetrics {
	return tableMetrics{
		margin: u.MM(TableMarginMM),
		pad:    u.MM(CellPadMM),
		indexW: u.MM(IndexColMM),
		gap:    u.MM(TableGapMM),
		title:  render.Font{Size: u.MM(TableTitleMM), Bold: true, Color: render.Black},
		header: render.Font{Size: u.MM(HeaderMM), Bold: true, Color: render.Black},
		cell:   render.Font{Size: u.MM(CellMM), Color: render.Black},
	}
}

// Tables draws the summary tables starting on a fresh page and returns how
// many pages it added. Rows advance at a fixed line height per wrapped
// line; a row that would cross the bottom margin moves to a new page, which
// repeats the table title and header band.
func Tables(b render.Backend, tables []Table) (int, error) {
	if len(tables) == 0 {
		return 0, nil
	}
	m := newTableMetrics(b.Units())
	pw, ph := b.PageSize()
	width := pw - 2*m.margin
	bottom := ph - m.margin

	tw := &tableWriter{b: b, m: m, x: m.margin, width: width, bottom: bottom}
	tw.newPage()
	for i, t := range tables {
		if i > 0 {
			tw.y += m.gap
		}
		tw.table(t)
	}
	return tw.pages, tw.err
}

type tableWriter struct {
	b      render.Backend
	m      tableMetrics
	x, y   float64
	width  float64
	bottom float64
	pages  int
	err    error
}

func (w *tableWriter) keep(err error) {
	if err != nil && w.err == nil {
		w.err = err
	}
}

func (w *tableWriter) newPage() {
	w.b.NewPage()
	w.pages++
	w.y = w.m.margin
}

func (w *tableWriter) lineHeight(f render.Font) float64 { return f.Size * Leading }

func (w *tableWriter) widths(t Table) []float64 {
	rest := w.width - w.m.indexW
	total := 0.0
	for _, c := range t.Columns {
		total += weight(c)
	}
	out := []float64{w.m.indexW}
	for _, c := range t.Columns {
		out = append(out, rest*weight(c)/total)
	}
	return out
}

func weight(c plan.Column) float64 {
	if c.Weight <= 0 {
		return 1
	}
	return c.Weight
}

// cells returns the texts of one table line, index column first.
func cells(t Table, r inventory.Row) []string {
	out := []string{fmt.Sprint(r.Index)}
	for _, c := range t.Columns {
		out = append(out, Cell(r, c))
	}
	return out
}

func headers(t Table) []string {
	out := []string{"#"}
	for _, c := range t.Columns {
		out = append(out, c.Header)
	}
	return out
}

// height of a band of wrapped cells.
func (w *tableWriter) height(texts []string, widths []float64, f render.Font) float64 {
	lines := 1
	for i, s := range texts {
		n := len(render.Wrap(s, widths[i]-2*w.m.pad, func(s string) float64 { return w.b.Measure(s, f) }))
		lines = max(lines, n)
	}
	return float64(lines)*w.lineHeight(f) + 2*w.m.pad
}

func (w *tableWriter) table(t Table) {
	widths := w.widths(t)
	titleH := w.lineHeight(w.m.title) + w.m.pad
	head := headers(t)
	headH := w.height(head, widths, w.m.header)

	firstRowH := w.height([]string{"0"}, widths[:1], w.m.cell)
	if len(t.Rows) > 0 {
		firstRowH = w.height(cells(t, t.Rows[0]), widths, w.m.cell)
	}
	if w.y+titleH+headH+firstRowH > w.bottom && w.y > w.m.margin {
		w.newPage()
	}
	w.heading(t.Title, titleH)
	w.band(head, widths, headH, w.m.header, &headerFill)

	if len(t.Rows) == 0 {
		_, err := w.b.DrawWrappedText("No features.", geom.Point{X: w.x + w.m.pad, Y: w.y + w.m.pad}, w.width, w.lineHeight(w.m.cell), w.m.cell)
		w.keep(err)
		w.y += firstRowH
		return
	}
	for _, r := range t.Rows {
		texts := cells(t, r)
		h := w.height(texts, widths, w.m.cell)
		if w.y+h > w.bottom {
			w.newPage()
			w.heading(t.Title+" (continued)", titleH)
			w.band(head, widths, headH, w.m.header, &headerFill)
		}
		w.band(texts, widths, h, w.m.cell, nil)
	}
}

func (w *tableWriter) heading(title string, h float64) {
	_, err := w.b.DrawWrappedText(title, geom.Point{X: w.x, Y: w.y}, w.width, w.lineHeight(w.m.title), w.m.title)
	w.keep(err)
	w.y += h
}

// band draws one row of cells with an optional background and a rule below.
func (w *tableWriter) band(texts []string, widths []float64, h float64, f render.Font, fill *render.Color) {
	if fill != nil {
		w.keep(w.b.DrawPolygon(render.RectRing(w.x, w.y, w.width, h), render.PolygonStyle{Fill: fill, FillOpacity: 1}))
	}
	x := w.x
	for i, s := range texts {
		_, err := w.b.DrawWrappedText(s, geom.Point{X: x + w.m.pad, Y: w.y + w.m.pad}, widths[i]-2*w.m.pad, w.lineHeight(f), f)
		w.keep(err)
		x += widths[i]
	}
	rule := []geom.Point{{X: w.x, Y: w.y + h}, {X: w.x + w.width, Y: w.y + h}}
	w.keep(w.b.DrawPolyline(rule, render.LineStyle{Color: render.Grey, Width: w.m.pad / 6, Opacity: 1}))
	w.y += h
}
