package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"

	"github.com/joeblew999/plat-siteplan/internal/export"
	"github.com/joeblew999/plat-siteplan/internal/service"
	"github.com/joeblew999/plat-siteplan/internal/surface/static"
)

const planYAML = `
title: Night Market
focus:
  name: Lot 1
  geometry:
    type: Polygon
    coordinates: [[[-73.99, 40.73], [-73.98, 40.73], [-73.98, 40.74], [-73.99, 40.74], [-73.99, 40.73]]]
layers:
  hydrants:
    name: Hydrants
    visible: true
    geomType: point
    inventory: {kind: area, title: Hydrants}
annotations:
  - label: Entrance
    geometry: {type: Point, coordinates: [-73.985, 40.735]}
`

func newTestAPI(t *testing.T) (humatest.TestAPI, *Services) {
	t.Helper()
	dir := t.TempDir()
	sources := service.NewSourceService(dir, nil, nil)
	svc := &Services{
		Layer:    service.NewLayerService(dir),
		Tile:     service.NewTileService(dir),
		Source:   sources,
		Plan:     service.NewPlanService(dir),
		Exporter: &export.Exporter{Surfaces: static.Factory(nil)},
		Bus:      service.NewEventBus(),
	}
	_, api := humatest.New(t)
	RegisterRoutes(api, svc)
	return api, svc
}

func TestHealth(t *testing.T) {
	api, _ := newTestAPI(t)
	resp := api.Get("/health")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"ok"`) {
		t.Fatalf("health = %d %s", resp.Code, resp.Body.String())
	}
}

func TestLayerRoutes(t *testing.T) {
	api, svc := newTestAPI(t)
	events := svc.Bus.Subscribe()
	defer svc.Bus.Unsubscribe(events)

	resp := api.Post("/api/v1/layers", map[string]any{"name": "Fire Hydrants", "geomType": "point", "visible": true})
	if resp.Code != http.StatusOK {
		t.Fatalf("create = %d %s", resp.Code, resp.Body.String())
	}
	if ev := <-events; ev.Resource != "layers" || ev.Action != "created" || ev.ID != "fire_hydrants" {
		t.Fatalf("event = %+v", ev)
	}
	if resp := api.Post("/api/v1/layers", map[string]any{"name": "Fire Hydrants", "geomType": "point"}); resp.Code != http.StatusConflict {
		t.Fatalf("duplicate = %d", resp.Code)
	}
	if resp := api.Get("/api/v1/layers/fire_hydrants"); resp.Code != http.StatusOK {
		t.Fatalf("get = %d", resp.Code)
	}
	if resp := api.Get("/api/v1/layers/nope"); resp.Code != http.StatusNotFound {
		t.Fatalf("get missing = %d", resp.Code)
	}
	if resp := api.Delete("/api/v1/layers/fire_hydrants"); resp.Code != http.StatusOK {
		t.Fatalf("delete = %d", resp.Code)
	}
}

func TestPlanRoutesAndExport(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := api.Put("/api/v1/plans/market", strings.NewReader(planYAML))
	if resp.Code != http.StatusOK {
		t.Fatalf("put = %d %s", resp.Code, resp.Body.String())
	}

	resp = api.Get("/api/v1/plans")
	var list []service.PlanSummary
	if err := json.Unmarshal(resp.Body.Bytes(), &list); err != nil || len(list) != 1 || list[0].ID != "market" {
		t.Fatalf("list = %s", resp.Body.String())
	}

	resp = api.Get("/api/v1/plans/market")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"Polygon"`) {
		t.Fatalf("get = %d %s", resp.Code, resp.Body.String())
	}

	resp = api.Post("/api/v1/plans/market/export?format=raster&width=300&height=200&ratio=1")
	if resp.Code != http.StatusOK {
		t.Fatalf("export = %d %s", resp.Code, resp.Body.String())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q", ct)
	}
	if cd := resp.Header().Get("Content-Disposition"); !strings.Contains(cd, "night-market.png") {
		t.Fatalf("disposition = %q", cd)
	}
	img, err := png.Decode(bytes.NewReader(resp.Body.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() <= 300 {
		t.Fatalf("width = %d, want map plus legend", img.Bounds().Dx())
	}

	resp = api.Post("/api/v1/plans/market/export?format=document&summary=true")
	if resp.Code != http.StatusOK || !bytes.HasPrefix(resp.Body.Bytes(), []byte("%PDF-")) {
		t.Fatalf("document export = %d", resp.Code)
	}
	if pages := resp.Header().Get("X-Page-Count"); pages == "" || pages == "0" {
		t.Fatalf("pages = %q", pages)
	}

	if resp := api.Post("/api/v1/plans/missing/export"); resp.Code != http.StatusNotFound {
		t.Fatalf("missing plan = %d", resp.Code)
	}
}

func TestPutPlanRejectsGarbage(t *testing.T) {
	api, _ := newTestAPI(t)
	if resp := api.Put("/api/v1/plans/bad", strings.NewReader("{not json")); resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("code = %d", resp.Code)
	}
}

func TestExportError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{export.ErrNoFocusGeometry, http.StatusUnprocessableEntity},
		{export.ErrSurfaceNotReady, http.StatusServiceUnavailable},
		{export.ErrInvalidCapture, http.StatusServiceUnavailable},
		{errors.New("assemble document: boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		var se huma.StatusError
		if !errors.As(exportError(tt.err), &se) || se.GetStatus() != tt.code {
			t.Errorf("exportError(%v) status = %v, want %d", tt.err, se, tt.code)
		}
	}
}

func TestGenerateTilesValidation(t *testing.T) {
	api, _ := newTestAPI(t)
	tests := []struct {
		body any
		code int
	}{
		{map[string]any{"outputname": "midtown"}, http.StatusBadRequest},
		{map[string]any{"sourcefile": "parks.geojson"}, http.StatusBadRequest},
		{map[string]any{"sourcefile": "parks.geojson", "outputname": "midtown"}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		if resp := api.Post("/api/v1/tiles/generate", tt.body); resp.Code != tt.code {
			t.Errorf("generate %v = %d, want %d", tt.body, resp.Code, tt.code)
		}
	}
}

func TestSourceFields(t *testing.T) {
	api, svc := newTestAPI(t)
	dir := svc.Source.SourcesDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	src := `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[-73.98,40.75]},"properties":{"name":"Times Sq","routes":"1, 2"}}]}`
	if err := os.WriteFile(filepath.Join(dir, "stations.geojson"), []byte(src), 0644); err != nil {
		t.Fatal(err)
	}

	resp := api.Get("/api/v1/sources/stations.geojson/fields")
	if resp.Code != http.StatusOK {
		t.Fatalf("fields = %d %s", resp.Code, resp.Body.String())
	}
	var fields []struct{ Name, Type string }
	if err := json.Unmarshal(resp.Body.Bytes(), &fields); err != nil || len(fields) != 2 || fields[0].Name != "name" || fields[1].Name != "routes" {
		t.Fatalf("fields = %s", resp.Body.String())
	}
	if resp := api.Get("/api/v1/sources/missing.geojson/fields"); resp.Code != http.StatusNotFound {
		t.Fatalf("missing source = %d", resp.Code)
	}
}
