package legend

import (
	"context"
	"fmt"
	"image"
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-siteplan/internal/geom"
	"github.com/joeblew999/plat-siteplan/internal/inventory"
	"github.com/joeblew999/plat-siteplan/internal/plan"
	"github.com/joeblew999/plat-siteplan/internal/render"
)

type placed struct {
	text string
	y    float64
	h    float64
}

// page is a render.Backend with a fixed-pitch font that records text.
type page struct {
	w, h  float64
	texts []placed
	pages int
	icons int
}

func (p *page) Units() render.Units { return render.Units{PerMM: 1} }

func (p *page) PageSize() (float64, float64) { return p.w, p.h }

func (p *page) Measure(s string, f render.Font) float64 {
	return float64(len([]rune(s))) * f.Size * 0.5
}

func (p *page) NewPage() { p.pages++ }

func (p *page) DrawImage(image.Image, geom.Point, float64, float64) error { return nil }

func (p *page) DrawIcon(tile *render.IconTile, _ geom.Point, _ render.IconOptions) error {
	if tile == nil {
		return render.ErrNoTile
	}
	p.icons++
	return nil
}

func (p *page) DrawMarker(geom.Point, render.MarkerStyle) error { return nil }

func (p *page) DrawPolyline([]geom.Point, render.LineStyle) error { return nil }

func (p *page) DrawPolygon([]geom.Point, render.PolygonStyle) error { return nil }

func (p *page) DrawBadge(geom.Point, int) error { return nil }

func (p *page) DrawWrappedText(s string, at geom.Point, maxW, lh float64, f render.Font) (float64, error) {
	lines := render.Wrap(s, maxW, func(t string) float64 { return p.Measure(t, f) })
	h := float64(len(lines)) * lh
	p.texts = append(p.texts, placed{text: s, y: at.Y, h: h})
	return h, nil
}

func (p *page) textList() []string {
	out := make([]string, len(p.texts))
	for i, t := range p.texts {
		out[i] = t.text
	}
	return out
}

type tiles struct{}

func (tiles) Tile(_ context.Context, ref string, _ float64) *render.IconTile {
	if ref == "" {
		return nil
	}
	return &render.IconTile{SourceRef: ref, PixelSize: 4, Image: image.NewRGBA(image.Rect(0, 0, 4, 4))}
}

func samplePlan() *plan.Plan {
	return &plan.Plan{
		Title: "Night Market",
		Focus: plan.FocusArea{Name: "Plaza permit 12"},
		Layers: map[string]plan.LayerConfig{
			"signs":  {ID: "signs", Name: "Parking signs", Visible: true, Icon: "sign.svg", GeomType: plan.GeomPoint},
			"bikes":  {ID: "bikes", Name: "Bike routes", Visible: true, GeomType: plan.GeomLine, Legend: []plan.LegendItem{{Label: "Protected", Color: "#00ff00"}}},
			"off":    {ID: "off", Name: "Hidden", Visible: false},
			"street": {ID: "street", Name: "Streets", Visible: true, Base: true},
		},
		Objects: []plan.PlacedObject{{Type: "stage"}, {Type: "barrier"}, {Type: "barrier"}, {Type: "tent"}},
		Equipment: []plan.EquipmentType{
			{ID: "stage", Name: "Stage", Icon: "stage.png"},
			{ID: "barrier", Name: "Barrier", Icon: "barrier.png"},
		},
	}
}

func TestBuild(t *testing.T) {
	anns := inventory.NumberAnnotations([]plan.Annotation{
		{Geometry: orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}, Label: "B"},
		{Geometry: orb.Point{0, 0}, Label: "A"},
	})
	l := Build(samplePlan(), anns, "")
	if l.Title != "Night Market" || l.Subtitle != "Plaza permit 12" {
		t.Fatalf("title = %q / %q", l.Title, l.Subtitle)
	}
	if len(l.Layers) != 2 || l.Layers[0].Name != "Bike routes" || l.Layers[1].Name != "Parking signs" {
		t.Fatalf("layers = %+v", l.Layers)
	}
	var eq []string
	for _, e := range l.Equipment {
		eq = append(eq, e.Text())
	}
	if got := strings.Join(eq, "|"); got != "Barrier (2)|Stage (1)|tent (1)" {
		t.Fatalf("equipment = %s", got)
	}
	if l.Annotations[0].Text() != "1. A" || l.Annotations[1].Text() != "2. B" {
		t.Fatalf("annotations = %+v", l.Annotations)
	}
}

func TestDrawSectionOrder(t *testing.T) {
	anns := []plan.Annotation{{Label: "Gate", Number: 1}}
	l := Build(samplePlan(), anns, "")
	p := &page{w: 300, h: 200}
	pages, err := l.Draw(context.Background(), p, tiles{}, Frame{X: 200, Y: 10, Width: 80})
	if err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if pages != 0 {
		t.Fatalf("pages = %d, want 0", pages)
	}
	want := []string{
		"Night Market", "Plaza permit 12",
		"Layers", "Bike routes", "Protected", "Parking signs",
		"Equipment", "Barrier (2)", "Stage (1)", "tent (1)",
		"Annotations", "1. Gate",
	}
	if got := strings.Join(p.textList(), "|"); got != strings.Join(want, "|") {
		t.Fatalf("texts =\n%s\nwant\n%s", got, strings.Join(want, "|"))
	}
	// sign icon, barrier and stage icons; tent has none.
	if p.icons != 3 {
		t.Fatalf("icons = %d, want 3", p.icons)
	}
	for i := 1; i < len(p.texts); i++ {
		if p.texts[i].y <= p.texts[i-1].y {
			t.Fatalf("%q drawn at %v, not below %q at %v", p.texts[i].text, p.texts[i].y, p.texts[i-1].text, p.texts[i-1].y)
		}
	}
	last := p.texts[len(p.texts)-1]
	if end := last.y + last.h; end > 10+l.Height(p, 80) {
		t.Fatalf("content ends at %v beyond height %v", end, 10+l.Height(p, 80))
	}
}

func TestEmptyLegendIsWellFormed(t *testing.T) {
	l := Build(&plan.Plan{}, nil, "Export")
	p := &page{w: 300, h: 200}
	if _, err := l.Draw(context.Background(), p, nil, Frame{Width: 60}); err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if got := p.textList(); len(got) != 1 || got[0] != "Export" {
		t.Fatalf("texts = %v, want only the title", got)
	}
	h := l.Height(p, 60)
	if want := 2*PaddingMM + TitleMM*Leading; h < want-1e-9 || h > want+1e-9 {
		t.Fatalf("Height = %v, want %v", h, want)
	}
}

func TestDrawBreaksPages(t *testing.T) {
	var anns []plan.Annotation
	for i := 1; i <= 40; i++ {
		anns = append(anns, plan.Annotation{Label: fmt.Sprintf("Note %d", i), Number: i})
	}
	l := Build(&plan.Plan{Title: "Long"}, anns, "")
	p := &page{w: 300, h: 100}
	pages, err := l.Draw(context.Background(), p, nil, Frame{Y: 10, Width: 80, Top: 10, Bottom: 90})
	if err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if pages == 0 || p.pages != pages {
		t.Fatalf("pages = %d, NewPage calls = %d", pages, p.pages)
	}
	for _, tx := range p.texts {
		if tx.y+tx.h > 90+1e-9 {
			t.Fatalf("%q crosses the bottom edge: %v", tx.text, tx.y+tx.h)
		}
	}
}

func TestFitKeepsLegendOnOnePage(t *testing.T) {
	var anns []plan.Annotation
	for i := 1; i <= 20; i++ {
		anns = append(anns, plan.Annotation{Label: fmt.Sprintf("Note %d", i), Number: i})
	}
	l := Build(&plan.Plan{Title: "Long"}, anns, "")
	p := &page{w: 300, h: 100}
	if l.Height(p, 80) <= 80 {
		t.Fatalf("legend already fits: %v", l.Height(p, 80))
	}

	fitted := l.Fit(p, 80, 80)
	if fitted.Scale >= 1 || fitted.Scale < MinScale {
		t.Fatalf("scale = %v", fitted.Scale)
	}
	if h := fitted.Height(p, 80); h > 80 {
		t.Fatalf("fitted height = %v", h)
	}
	pages, err := fitted.Draw(context.Background(), p, nil, Frame{Y: 10, Width: 80, Top: 10, Bottom: 90})
	if err != nil || pages != 0 || p.pages != 0 {
		t.Fatalf("pages = %d, NewPage calls = %d, err = %v", pages, p.pages, err)
	}

	if short := Build(&plan.Plan{Title: "Short"}, nil, ""); short.Fit(p, 80, 80).Scale != 1 {
		t.Fatal("short legend was scaled")
	}
}

func rows(n int) []inventory.Row {
	out := make([]inventory.Row, n)
	for i := range out {
		out[i] = inventory.Row{
			Index: i + 1,
			Lng:   -73.99,
			Lat:   40.73,
			Properties: map[string]any{
				"onStreetName":   "Broadway",
				"fromStreetName": "East 14th Street between University Place and Fifth Avenue",
			},
		}
	}
	return out
}

func TestTablesPaginate(t *testing.T) {
	l := plan.LayerConfig{ID: "signs", Name: "Signs", Inventory: &plan.InventorySpec{Kind: plan.InventoryArea, Title: "Parking signs"}}
	tbl := TableFor(l, rows(60))
	if len(tbl.Columns) != 3 || tbl.Title != "Parking signs" {
		t.Fatalf("table = %+v", tbl)
	}

	p := &page{w: 297, h: 210}
	pages, err := Tables(p, []Table{tbl})
	if err != nil {
		t.Fatalf("Tables: %v", err)
	}
	if pages < 2 || p.pages != pages {
		t.Fatalf("pages = %d, NewPage calls = %d", pages, p.pages)
	}

	headers, continued := 0, 0
	seen := make(map[string]int)
	for _, tx := range p.texts {
		switch {
		case tx.text == "#":
			headers++
		case strings.HasSuffix(tx.text, "(continued)"):
			continued++
		}
		seen[tx.text]++
		if tx.y+tx.h > 210-TableMarginMM+1e-9 {
			t.Fatalf("%q crosses the bottom margin", tx.text)
		}
	}
	if headers != pages || continued != pages-1 {
		t.Fatalf("headers = %d continued = %d for %d pages", headers, continued, pages)
	}
	for i := 1; i <= 60; i++ {
		if seen[fmt.Sprint(i)] != 1 {
			t.Fatalf("row %d drawn %d times", i, seen[fmt.Sprint(i)])
		}
	}
}

func TestTablesEmptyAndDefaults(t *testing.T) {
	p := &page{w: 297, h: 210}
	if pages, err := Tables(p, nil); pages != 0 || err != nil {
		t.Fatalf("Tables(nil) = %d, %v", pages, err)
	}

	st := TableFor(plan.LayerConfig{Name: "Subway", Inventory: &plan.InventorySpec{Kind: plan.InventoryStations}}, nil)
	if st.Columns[0].Field != "name" || st.Columns[1].Field != "routes" {
		t.Fatalf("station columns = %+v", st.Columns)
	}
	pages, err := Tables(p, []Table{st})
	if err != nil || pages != 1 {
		t.Fatalf("Tables = %d, %v", pages, err)
	}
	if got := p.textList(); got[len(got)-1] != "No features." {
		t.Fatalf("texts = %v", got)
	}

	r := inventory.Row{Lng: 1.5, Lat: -2.25}
	if got := Cell(r, plan.Column{Field: LocationField}); got != "-2.250000, 1.500000" {
		t.Fatalf("Cell = %q", got)
	}
}
