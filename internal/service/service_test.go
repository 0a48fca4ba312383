package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-siteplan/internal/plan"
	"github.com/joeblew999/plat-siteplan/internal/pmtiles"
	"github.com/joeblew999/plat-siteplan/internal/tiler"
	"github.com/joeblew999/plat-siteplan/internal/tiler/gotiler"
)

func writeSource(t *testing.T, dir, name string, fc *geojson.FeatureCollection) {
	t.Helper()
	data, err := fc.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "sources"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sources", name), data, 0644); err != nil {
		t.Fatal(err)
	}
}

func hydrants() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{-73.985, 40.735}))
	fc.Append(geojson.NewFeature(orb.Point{-73.982, 40.731}))
	return fc
}

func TestLayerServiceCRUD(t *testing.T) {
	dir := t.TempDir()
	s := NewLayerService(dir)

	l, err := s.Create(LayerConfig{Name: "Fire Hydrants", Color: "#ff0000"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if l.ID != "fire_hydrants" || l.GeomType != plan.GeomPoint || l.LineStyle != plan.LineNormal {
		t.Fatalf("created = %+v", l)
	}
	if _, err := s.Create(LayerConfig{Name: "Fire Hydrants"}); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate create = %v", err)
	}
	if _, err := s.Update("missing", LayerConfig{Name: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing = %v", err)
	}

	// A fresh service reads the persisted catalog.
	again := NewLayerService(dir)
	got, ok := again.Get("fire_hydrants")
	if !ok || got.Color != "#ff0000" {
		t.Fatalf("reloaded = %+v, %v", got, ok)
	}
	if err := again.Delete("fire_hydrants"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := again.Delete("fire_hydrants"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete = %v", err)
	}
}

func TestLayerServiceApply(t *testing.T) {
	s := NewLayerService(t.TempDir())
	if _, err := s.Create(LayerConfig{ID: "hydrants", Name: "Hydrants", Source: "hydrants.geojson", Color: "#ff0000", Icon: "icons/h.svg"}); err != nil {
		t.Fatal(err)
	}
	p := &plan.Plan{Layers: map[string]plan.LayerConfig{
		"hydrants": {ID: "hydrants", Color: "#00ff00", Visible: true},
		"other":    {ID: "other", Name: "Other"},
	}}
	s.Apply(p)
	h := p.Layers["hydrants"]
	if h.Color != "#00ff00" || h.Source != "hydrants.geojson" || h.Icon != "icons/h.svg" || h.Name != "Hydrants" {
		t.Fatalf("applied = %+v", h)
	}
	if p.Layers["other"].Source != "" {
		t.Fatal("unknown layer changed")
	}
}

func TestSourceServiceLoadAndResolve(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "hydrants.geojson", hydrants())
	s := NewSourceService(dir, nil, nil)

	files, err := s.List()
	if err != nil || len(files) != 1 || files[0].FileType != "GeoJSON" {
		t.Fatalf("List = %v, %v", files, err)
	}
	fc, err := s.Load(context.Background(), "hydrants.geojson")
	if err != nil || len(fc.Features) != 2 {
		t.Fatalf("Load = %v, %v", fc, err)
	}
	for _, name := range []string{"../etc/passwd", "a/b.geojson", ""} {
		if _, err := s.Load(context.Background(), name); err == nil {
			t.Fatalf("Load(%q) succeeded", name)
		}
	}
	if _, err := s.Load(context.Background(), "missing.geojson"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing = %v", err)
	}
	if _, err := s.Load(context.Background(), "x.parquet"); err == nil {
		t.Fatal("parquet without duckdb succeeded")
	}

	p := &plan.Plan{Layers: map[string]plan.LayerConfig{
		"hydrants": {ID: "hydrants", Source: "hydrants.geojson", Visible: true},
		"broken":   {ID: "broken", Source: "missing.geojson", Visible: true},
		"hidden":   {ID: "hidden", Source: "hydrants.geojson"},
	}}
	s.Resolve(context.Background(), p)
	if p.Features["hydrants"] == nil || len(p.Features["hydrants"].Features) != 2 {
		t.Fatalf("resolved = %v", p.Features)
	}
	if p.Features["broken"] != nil || p.Features["hidden"] != nil {
		t.Fatalf("unexpected features: %v", p.Features)
	}
}

func TestSourceServiceFields(t *testing.T) {
	dir := t.TempDir()
	fc := geojson.NewFeatureCollection()
	a := geojson.NewFeature(orb.Point{-73.98, 40.75})
	a.Properties["name"] = "Times Sq"
	a.Properties["note"] = nil
	b := geojson.NewFeature(orb.Point{-73.99, 40.75})
	b.Properties["routes"] = "1, 2, 3"
	b.Properties["note"] = "busy"
	b.Properties["ada"] = true
	fc.Append(a)
	fc.Append(b)
	writeSource(t, dir, "stations.geojson", fc)

	fields, err := NewSourceService(dir, nil, nil).Fields(context.Background(), "stations.geojson")
	if err != nil {
		t.Fatalf("Fields: %v", err)
	}
	var got []string
	for _, f := range fields {
		got = append(got, f.Name+":"+f.Type)
	}
	want := "ada:boolean,name:string,note:string,routes:string"
	if strings.Join(got, ",") != want {
		t.Fatalf("fields = %v, want %s", got, want)
	}
}

func TestPlanService(t *testing.T) {
	s := NewPlanService(t.TempDir())
	if plans, err := s.List(); err != nil || len(plans) != 0 {
		t.Fatalf("empty List = %v, %v", plans, err)
	}
	p := &plan.Plan{
		Title: "Night Market",
		Focus: plan.FocusArea{Geometry: orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}},
		Layers: map[string]plan.LayerConfig{
			"hydrants": {ID: "hydrants", Name: "Hydrants", Visible: true},
		},
	}
	if err := s.Put("market", p); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get("market")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != "market" || got.Title != "Night Market" || got.Focus.Geometry == nil {
		t.Fatalf("Get = %+v", got)
	}
	plans, err := s.List()
	if err != nil || len(plans) != 1 || plans[0].Layers != 1 || plans[0].ID != "market" {
		t.Fatalf("List = %+v, %v", plans, err)
	}
	if err := s.Put("../escape", p); err == nil {
		t.Fatal("Put accepted a path")
	}
	if err := s.Delete("market"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("market"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete = %v", err)
	}
}

type offline struct{ tiler.Tiler }

func (offline) Name() string    { return "tippecanoe" }
func (offline) Available() bool { return false }

func TestTilerServiceGenerate(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "hydrants.geojson", hydrants())
	sources := NewSourceService(dir, nil, nil)
	s := NewTilerService(dir, sources, nil, offline{}, gotiler.New())

	if got := s.Engines(); len(got) != 1 || got[0] != "go" {
		t.Fatalf("Engines = %v", got)
	}
	var last int
	path, err := s.Generate(context.Background(), TileGenerateOptions{
		Layers:     []BasemapLayer{{Layer: "hydrants", Source: "hydrants.geojson"}},
		OutputName: "midtown.pmtiles",
		MinZoom:    12,
		MaxZoom:    13,
	}, func(p int, _ string) { last = p })
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if filepath.Base(path) != "midtown.pmtiles" || last != 100 {
		t.Fatalf("path = %s, progress = %d", path, last)
	}
	r, err := pmtiles.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if h := r.Header(); h.MinZoom != 12 || h.MaxZoom != 13 {
		t.Fatalf("zooms = %d..%d", h.MinZoom, h.MaxZoom)
	}

	tiles, err := NewTileService(dir).List()
	if err != nil || len(tiles) != 1 {
		t.Fatalf("tiles = %v, %v", tiles, err)
	}
	if tf := tiles[0]; tf.MinZoom != 12 || tf.MaxZoom != 13 || len(tf.Layers) != 1 || tf.Layers[0] != "hydrants" || len(tf.Bounds) != 4 {
		t.Fatalf("tile file = %+v", tf)
	}

	if _, err := s.Generate(context.Background(), TileGenerateOptions{
		Layers: []BasemapLayer{{Layer: "x", Source: "hydrants.geojson"}}, OutputName: "x", Engine: "tippecanoe",
	}, nil); err == nil {
		t.Fatal("unavailable engine accepted")
	}
	if _, err := s.Generate(context.Background(), TileGenerateOptions{
		Layers: []BasemapLayer{{Layer: "x", Source: "missing.geojson"}}, OutputName: "x",
	}, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing source = %v", err)
	}
}

func TestEventBus(t *testing.T) {
	b := NewEventBus()
	ch := b.Subscribe()
	b.Publish(Event{Resource: "exports", Action: "started", ID: "market"})
	if ev := <-ch; ev.Action != "started" || ev.ID != "market" {
		t.Fatalf("event = %+v", ev)
	}
	b.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel still open")
	}
	// Publishing with no subscribers must not block.
	b.Publish(Event{Resource: "exports"})
}
