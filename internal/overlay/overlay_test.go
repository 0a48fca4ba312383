package overlay

import (
	"context"
	"errors"
	"image"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-siteplan/internal/geom"
	"github.com/joeblew999/plat-siteplan/internal/inventory"
	"github.com/joeblew999/plat-siteplan/internal/plan"
	"github.com/joeblew999/plat-siteplan/internal/render"
)

// recorder is a render.Backend that logs every call.
type recorder struct {
	ops       []string
	lines     []render.LineStyle
	polygons  []render.PolygonStyle
	icons     []render.IconOptions
	texts     []string
	textAt    []geom.Point
	failLines bool
}

func (r *recorder) Units() render.Units { return render.Units{PerMM: 1} }

func (r *recorder) PageSize() (float64, float64) { return 200, 200 }

func (r *recorder) Measure(s string, _ render.Font) float64 { return float64(len(s)) }

func (r *recorder) NewPage() { r.ops = append(r.ops, "page") }

func (r *recorder) DrawImage(image.Image, geom.Point, float64, float64) error {
	r.ops = append(r.ops, "image")
	return nil
}

func (r *recorder) DrawIcon(tile *render.IconTile, _ geom.Point, opts render.IconOptions) error {
	if tile == nil {
		return render.ErrNoTile
	}
	r.ops = append(r.ops, "icon:"+tile.SourceRef)
	r.icons = append(r.icons, opts)
	return nil
}

func (r *recorder) DrawMarker(geom.Point, render.MarkerStyle) error {
	r.ops = append(r.ops, "marker")
	return nil
}

func (r *recorder) DrawPolyline(_ []geom.Point, st render.LineStyle) error {
	if r.failLines {
		return errors.New("boom")
	}
	r.ops = append(r.ops, "line")
	r.lines = append(r.lines, st)
	return nil
}

func (r *recorder) DrawPolygon(_ []geom.Point, st render.PolygonStyle) error {
	r.ops = append(r.ops, "polygon")
	r.polygons = append(r.polygons, st)
	return nil
}

func (r *recorder) DrawBadge(_ geom.Point, n int) error {
	r.ops = append(r.ops, "badge")
	return nil
}

func (r *recorder) DrawWrappedText(s string, at geom.Point, _, lh float64, _ render.Font) (float64, error) {
	r.ops = append(r.ops, "text")
	r.texts = append(r.texts, s)
	r.textAt = append(r.textAt, at)
	return lh, nil
}

// scaled projects degrees to page units at 100 per degree.
type scaled struct{}

func (scaled) ToPage(lng, lat float64) geom.Point { return geom.Point{X: lng * 100, Y: lat * 100} }

// icons serves a tile for every ref except those named missing*.
type icons struct{}

func (icons) Tile(_ context.Context, ref string, _ float64) *render.IconTile {
	if strings.HasPrefix(ref, "missing") {
		return nil
	}
	return &render.IconTile{SourceRef: ref, PixelSize: 8, Image: image.NewRGBA(image.Rect(0, 0, 8, 8))}
}

func collection(gs ...orb.Geometry) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, g := range gs {
		fc.Append(geojson.NewFeature(g))
	}
	return fc
}

func testPlan() *plan.Plan {
	return &plan.Plan{
		Layers: map[string]plan.LayerConfig{
			"hydrants": {ID: "hydrants", Visible: true, Icon: "hydrant.svg", Color: "#ff0000"},
			"bikes":    {ID: "bikes", Visible: true, LineStyle: plan.LineRoute, Color: "#00aa00"},
			"parks":    {ID: "parks", Visible: true, GeomType: plan.GeomPolygon},
			"hidden":   {ID: "hidden", Visible: false},
			"streets":  {ID: "streets", Visible: true, Base: true},
		},
		Features: map[string]*geojson.FeatureCollection{
			"hydrants": collection(orb.Point{0.1, 0.1}, orb.MultiPoint{{0.2, 0.2}, {0.3, 0.3}}),
			"bikes":    collection(orb.LineString{{0, 0}, {0.5, 0.5}}),
			"parks":    collection(orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}),
			"hidden":   collection(orb.Point{0.4, 0.4}),
			"streets":  collection(orb.LineString{{0, 0}, {1, 1}}),
		},
		Objects: []plan.PlacedObject{
			{Type: "stage", Position: plan.LngLat{Lng: 0.5, Lat: 0.5}, RotationDeg: 90, Flipped: true},
			{Type: "unknown", Position: plan.LngLat{Lng: 0.6, Lat: 0.6}},
		},
		Equipment: []plan.EquipmentType{{ID: "stage", Name: "Stage", Icon: "stage.png"}},
	}
}

func TestRenderOrderAndSkips(t *testing.T) {
	rec := &recorder{}
	anns := inventory.NumberAnnotations([]plan.Annotation{
		{Geometry: orb.Polygon{{{0.1, 0.1}, {0.2, 0.1}, {0.2, 0.2}, {0.1, 0.1}}}, Label: "Stage area"},
	})
	stats := New(Options{}, nil).Render(context.Background(), Input{
		Plan:        testPlan(),
		Annotations: anns,
		Projection:  scaled{},
		Backend:     rec,
		Icons:       icons{},
	})

	// Layers in id order, the annotation ring with its label chip, then
	// objects.
	want := []string{
		"line",
		"icon:hydrant.svg", "icon:hydrant.svg", "icon:hydrant.svg",
		"polygon", "polygon", "text",
		"icon:stage.png", "marker",
	}
	if strings.Join(rec.ops, ",") != strings.Join(want, ",") {
		t.Fatalf("ops =\n%v\nwant\n%v", rec.ops, want)
	}
	if stats.Skipped != 1 {
		t.Fatalf("Skipped = %d, want 1 polygon", stats.Skipped)
	}
	if stats.Points != 3 || stats.Lines != 1 || stats.Objects != 2 || stats.Annotations != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if rec.polygons[0].Fill != nil {
		t.Fatal("annotation polygon was filled")
	}
	if rec.lines[0].Width != RouteWidthMM || rec.lines[0].Opacity != RouteOpacity {
		t.Fatalf("route style = %+v", rec.lines[0])
	}
	if rec.icons[3].RotationDeg != 90 || !rec.icons[3].Flipped {
		t.Fatalf("object icon options = %+v", rec.icons[3])
	}
	if rec.texts[0] != "Stage area" {
		t.Fatalf("label = %q", rec.texts[0])
	}
}

func TestRenderFallsBackToMarker(t *testing.T) {
	p := testPlan()
	l := p.Layers["hydrants"]
	l.Icon = "missing.svg"
	p.Layers["hydrants"] = l

	rec := &recorder{}
	stats := New(Options{}, nil).Render(context.Background(), Input{Plan: p, Projection: scaled{}, Backend: rec, Icons: icons{}})
	// Three hydrant markers plus the unknown object.
	if stats.Fallbacks != 4 {
		t.Fatalf("Fallbacks = %d, want 4", stats.Fallbacks)
	}
}

func TestRenderSurvivesBackendErrors(t *testing.T) {
	rec := &recorder{failLines: true}
	anns := []plan.Annotation{
		{Geometry: orb.LineString{{0, 0}, {0.1, 0}}, Label: "fence", Number: 1},
		{Geometry: orb.Point{0.3, 0.3}, Label: "gate", Number: 2},
		{Geometry: orb.Collection{}, Number: 3},
	}
	stats := New(Options{}, nil).Render(context.Background(), Input{
		Plan: testPlan(), Annotations: anns, Projection: scaled{}, Backend: rec, Icons: icons{},
	})
	// bike line, fence line and the collection fail; everything else draws.
	if stats.Failed != 3 {
		t.Fatalf("Failed = %d, want 3", stats.Failed)
	}
	if stats.Annotations != 1 || stats.Objects != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestRenderBadgesAndDimensions(t *testing.T) {
	rec := &recorder{}
	anns := []plan.Annotation{{Geometry: orb.LineString{{0, 0}, {0.001, 0}}, Label: "fence", Number: 1}}
	stats := New(Options{IncludeDimensions: true}, nil).Render(context.Background(), Input{
		Plan:        testPlan(),
		Annotations: anns,
		Badges:      map[string][]inventory.Row{"hydrants": {{Index: 1, Lng: 0.1, Lat: 0.1}, {Index: 2, Lng: 0.2, Lat: 0.2}}},
		Projection:  scaled{},
		Backend:     rec,
		Icons:       icons{},
	})
	if stats.Badges != 2 {
		t.Fatalf("Badges = %d, want 2", stats.Badges)
	}
	// 0.001 degrees of longitude at the equator is about 111 m.
	found := false
	for _, s := range rec.texts {
		if s == "111 m" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no dimension label in %v", rec.texts)
	}
}

func TestFormatLength(t *testing.T) {
	tests := map[float64]string{
		3.21:   "3.2 m",
		250:    "250 m",
		1520.4: "1.52 km",
	}
	for in, want := range tests {
		if got := FormatLength(in); got != want {
			t.Errorf("FormatLength(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestStyleForRules(t *testing.T) {
	l := plan.LayerConfig{
		Color: "#0000ff",
		RenderRules: []plan.RenderRule{
			{FilterProp: "status", FilterValue: "closed", Color: "#ff0000", Radius: 2},
		},
	}
	st := styleFor(l, geojson.Properties{"status": "closed"})
	if st.color.R != 1 || st.radius != 2 {
		t.Fatalf("rule not applied: %+v", st)
	}
	st = styleFor(l, geojson.Properties{"status": "open"})
	if st.color.B != 1 || st.radius != 0 || st.opacity != 1 {
		t.Fatalf("default style = %+v", st)
	}
}

func TestLineLabelUsesUnsimplifiedMidVertex(t *testing.T) {
	rec := &recorder{}
	anns := []plan.Annotation{{
		Geometry: orb.LineString{{0, 0}, {0.01, 0}, {0.02, 0}, {0.03, 0}, {0.1, 0.05}},
		Label:    "queue",
		Number:   1,
	}}
	New(Options{}, nil).Render(context.Background(), Input{
		Annotations: anns, Projection: scaled{}, Backend: rec, Icons: icons{},
	})
	if len(rec.textAt) != 1 {
		t.Fatalf("texts = %v", rec.texts)
	}
	// Vertex 2 is at page x=2; the chip pads its text by 0.6mm.
	if got := rec.textAt[0].X; got < 2.5 || got > 2.7 {
		t.Fatalf("label text drawn at x=%v, want about 2.6", got)
	}
}
