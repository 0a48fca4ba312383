// Package server wires the services, exporter and HTTP routes together.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/joeblew999/plat-siteplan/internal/api"
	"github.com/joeblew999/plat-siteplan/internal/db"
	"github.com/joeblew999/plat-siteplan/internal/export"
	"github.com/joeblew999/plat-siteplan/internal/icon"
	"github.com/joeblew999/plat-siteplan/internal/service"
	"github.com/joeblew999/plat-siteplan/internal/surface"
	"github.com/joeblew999/plat-siteplan/internal/surface/static"
	"github.com/joeblew999/plat-siteplan/internal/tiler/gotiler"
	"github.com/joeblew999/plat-siteplan/internal/tiler/tippecanoe"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string
	// NoDB skips DuckDB; GeoParquet sources and /api/v1/query are then
	// unavailable.
	NoDB   bool
	Logger *slog.Logger
	// Surfaces overrides the static surface factory.
	Surfaces surface.Factory
}

// Server is the siteplan HTTP server.
type Server struct {
	config   Config
	logger   *slog.Logger
	mux      *http.ServeMux
	humaAPI  huma.API
	db       *sql.DB
	services *api.Services
}

// New creates a new server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	mux := http.NewServeMux()

	humaConfig := huma.DefaultConfig("plat-siteplan API", "1.0.0")
	humaConfig.Info.Description = "Event site plan API: layer catalog, basemaps, plans and PNG/PDF export."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	s := &Server{
		config:  cfg,
		logger:  logger,
		mux:     mux,
		humaAPI: humago.New(mux, humaConfig),
	}

	if !cfg.NoDB {
		conn, err := db.Get(db.Config{DataDir: cfg.DataDir, DBName: "siteplan", Logger: logger})
		if err != nil {
			logger.Warn("duckdb unavailable", "error", err)
		} else {
			s.db = conn
		}
	}

	surfaces := cfg.Surfaces
	if surfaces == nil {
		surfaces = static.Factory(logger)
	}
	surfaces = tilesRelative(surfaces, filepath.Join(cfg.DataDir, "tiles"))
	bus := service.DefaultBus
	sources := service.NewSourceService(cfg.DataDir, s.db, logger)
	s.services = &api.Services{
		Layer:  service.NewLayerService(cfg.DataDir),
		Tile:   service.NewTileService(cfg.DataDir),
		Source: sources,
		Plan:   service.NewPlanService(cfg.DataDir),
		Tiler:  service.NewTilerService(cfg.DataDir, sources, logger, tippecanoe.New(), gotiler.New()),
		Exporter: &export.Exporter{
			Surfaces: surfaces,
			Icons:    icon.FSLoader{FS: os.DirFS(cfg.DataDir)},
			Logger:   logger,
			Bus:      bus,
		},
		Bus: bus,
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Services exposes the wired services to the CLI.
func (s *Server) Services() *api.Services {
	return s.services
}

// Close closes server resources.
func (s *Server) Close() error {
	if s.db == nil {
		return nil
	}
	return db.Close()
}

func (s *Server) routes() {
	api.RegisterRoutes(s.humaAPI, s.services)
	api.NewInfoHandler(s.config.DataDir, s.db != nil, s.services.Tiler.Engines()).RegisterRoutes(s.humaAPI)
	api.NewDBHandler(s.db).RegisterRoutes(s.humaAPI)

	tilesDir := filepath.Join(s.config.DataDir, "tiles")
	s.mux.Handle("/tiles/", http.StripPrefix("/tiles/", s.handleTiles(tilesDir)))
	s.mux.HandleFunc("/", s.handleRoot)
}

// tilesRelative resolves bare basemap names against the tiles directory.
func tilesRelative(f surface.Factory, tilesDir string) surface.Factory {
	return surface.FactoryFunc(func(ctx context.Context, cfg surface.Config) (surface.Surface, error) {
		if cfg.Basemap != "" && !filepath.IsAbs(cfg.Basemap) && !strings.ContainsRune(cfg.Basemap, filepath.Separator) {
			name := cfg.Basemap
			if filepath.Ext(name) == "" {
				name += ".pmtiles"
			}
			cfg.Basemap = filepath.Join(tilesDir, name)
		}
		return f.NewSurface(ctx, cfg)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "plat-siteplan",
		"status":  "running",
	})
}

// handleTiles serves basemap archives with the CORS and Range headers
// PMTiles clients need.
func (s *Server) handleTiles(tilesDir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		http.FileServer(http.Dir(tilesDir)).ServeHTTP(w, r)
	})
}
