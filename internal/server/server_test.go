package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/joeblew999/plat-siteplan/internal/surface"
)

func TestServerRoutes(t *testing.T) {
	srv := New(Config{Host: "localhost", Port: "0", DataDir: t.TempDir(), NoDB: true})
	defer srv.Close()

	for _, path := range []string{"/", "/health", "/api/v1/layers", "/api/v1/plans", "/api/v1/info"} {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d %s", path, rec.Code, rec.Body.String())
		}
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/tiles/basemap.pmtiles", nil))
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("tiles CORS headers missing")
	}

	if srv.OpenAPI().Paths["/api/v1/plans/{id}/export"] == nil {
		t.Fatalf("export route missing from OpenAPI document")
	}
}

func TestTilesRelative(t *testing.T) {
	var got string
	f := tilesRelative(surface.FactoryFunc(func(_ context.Context, cfg surface.Config) (surface.Surface, error) {
		got = cfg.Basemap
		return nil, nil
	}), "/data/tiles")

	tests := map[string]string{
		"":                   "",
		"city":               filepath.Join("/data/tiles", "city.pmtiles"),
		"city.pmtiles":       filepath.Join("/data/tiles", "city.pmtiles"),
		"/abs/city.pmtiles":  "/abs/city.pmtiles",
		"other/city.pmtiles": "other/city.pmtiles",
	}
	for in, want := range tests {
		f.NewSurface(context.Background(), surface.Config{Basemap: in})
		if got != want {
			t.Errorf("basemap %q resolved to %q, want %q", in, got, want)
		}
	}
}
