package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-siteplan/internal/export"
	"github.com/joeblew999/plat-siteplan/internal/plan"
	"github.com/joeblew999/plat-siteplan/internal/server"
	"github.com/joeblew999/plat-siteplan/internal/service"
)

// Options defines all CLI flags and env vars for the siteplan server.
// Flags: --host, --port, --data-dir, --log-level, --log-format, --no-db
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_LOG_LEVEL, ...
type Options struct {
	Host      string `doc:"Host to bind to" default:"0.0.0.0"`
	Port      int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir   string `doc:"Directory for layers, sources, plans and tiles" default:".data"`
	LogLevel  string `doc:"Log level (debug, info, warn, error)" default:"info"`
	LogFormat string `doc:"Log format (text, json)" default:"text"`
	NoDB      bool   `doc:"Run without DuckDB (no GeoParquet sources)"`
}

func newLogger(opts *Options) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(opts.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts))
}

func newServer(opts *Options, logger *slog.Logger) *server.Server {
	return server.New(server.Config{
		Host:    opts.Host,
		Port:    fmt.Sprintf("%d", opts.Port),
		DataDir: opts.DataDir,
		NoDB:    opts.NoDB,
		Logger:  logger,
	})
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		logger := newLogger(opts)
		srv := newServer(opts, logger)

		hooks.OnStart(func() {
			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-siteplan API server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Data:    %s\n", opts.DataDir)
			fmt.Println()
			fmt.Printf("  Export:  POST %s/api/v1/plans/{id}/export\n", baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Println()

			logger.Info("listening", "addr", addr)
			if err := http.ListenAndServe(addr, srv); err != nil {
				log.Fatalf("Server error: %v", err)
			}
		})
		hooks.OnStop(func() {
			if err := srv.Close(); err != nil {
				logger.Warn("close", "error", err)
			}
		})
	})

	cli.Root().Use = "siteplan"
	cli.Root().Short = "Event site plan export server"
	cli.Root().Version = "0.1.0"

	cli.Root().AddCommand(specCommand(), exportCommand(), basemapCommand())
	cli.Run()
}

// spec subcommand: export OpenAPI spec
func specCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			opts.NoDB = true
			srv := newServer(opts, nil)
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			var err error
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fail("Error marshaling spec: %v", err)
			}
			fmt.Println(string(output))
		}),
	}
	cmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	return cmd
}

// export subcommand: render a plan file to PNG or PDF
func exportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <plan.yaml>",
		Short: "Render a plan file to a PNG image or PDF document",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			logger := newLogger(opts)
			srv := newServer(opts, logger)
			defer srv.Close()
			svc := srv.Services()

			p, err := plan.Load(args[0])
			if err != nil {
				fail("Error loading plan: %v", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			svc.Layer.Apply(p)
			svc.Source.Resolve(ctx, p)

			flags := cmd.Flags()
			format, _ := flags.GetString("format")
			paper, _ := flags.GetString("paper")
			title, _ := flags.GetString("title")
			noLegend, _ := flags.GetBool("no-legend")
			dims, _ := flags.GetBool("dimensions")
			summary, _ := flags.GetBool("summary")
			debug, _ := flags.GetBool("debug")
			width, _ := flags.GetInt("width")
			height, _ := flags.GetInt("height")
			ratio, _ := flags.GetFloat64("ratio")
			bearing, _ := flags.GetFloat64("bearing")

			art, err := svc.Exporter.Export(ctx, p, export.Options{
				Format:            format,
				Title:             title,
				Paper:             paper,
				SuppressLegend:    noLegend,
				IncludeDimensions: dims,
				IncludeSummary:    summary,
				Debug:             debug,
				Width:             width,
				Height:            height,
				PixelRatio:        ratio,
				Bearing:           bearing,
			})
			if err != nil {
				fail("Error exporting: %v", err)
			}

			out, _ := flags.GetString("output")
			if out == "" {
				out = art.Filename
			}
			if err := os.WriteFile(out, art.Data, 0644); err != nil {
				fail("Error writing %s: %v", out, err)
			}
			fmt.Printf("Wrote %s (%s, %d page(s), %d bytes)\n", out, art.ContentType, art.Pages, len(art.Data))
		}),
	}
	f := cmd.Flags()
	f.StringP("output", "o", "", "Output file (default derived from the plan title)")
	f.StringP("format", "f", export.FormatRaster, "Artifact format: raster or document")
	f.String("paper", "A4", "Document paper size: A4, A3 or Letter")
	f.String("title", "", "Override the plan title")
	f.Bool("no-legend", false, "Omit the legend panel")
	f.Bool("dimensions", false, "Label annotation lines with their length")
	f.Bool("summary", true, "Append summary tables to documents")
	f.Bool("debug", false, "Log per-feature detail")
	f.Int("width", 0, "Raster map width in CSS pixels")
	f.Int("height", 0, "Raster map height in CSS pixels")
	f.Float64("ratio", 0, "Device pixel ratio")
	f.Float64("bearing", 0, "Map bearing in degrees")
	return cmd
}

// basemap subcommand: tile source files into a PMTiles basemap
func basemapCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "basemap <layer=source> [layer=source...]",
		Short: "Build a PMTiles basemap from GeoJSON sources in the data directory",
		Args:  cobra.MinimumNArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			logger := newLogger(opts)
			srv := newServer(opts, logger)
			defer srv.Close()

			var layers []service.BasemapLayer
			for _, arg := range args {
				name, source, ok := strings.Cut(arg, "=")
				if !ok {
					source = arg
					name = strings.TrimSuffix(filepath.Base(arg), filepath.Ext(arg))
				}
				layers = append(layers, service.BasemapLayer{Layer: name, Source: source})
			}

			flags := cmd.Flags()
			output, _ := flags.GetString("output")
			minZoom, _ := flags.GetInt("min-zoom")
			maxZoom, _ := flags.GetInt("max-zoom")
			engine, _ := flags.GetString("engine")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			path, err := srv.Services().Tiler.Generate(ctx, service.TileGenerateOptions{
				Layers:     layers,
				OutputName: output,
				MinZoom:    minZoom,
				MaxZoom:    maxZoom,
				Engine:     engine,
			}, func(progress int, status string) {
				logger.Info("tiling", "progress", progress, "status", status)
			})
			if err != nil {
				fail("Error generating basemap: %v", err)
			}
			fmt.Printf("Wrote %s\n", path)
		}),
	}
	f := cmd.Flags()
	f.StringP("output", "o", "basemap", "Output archive name")
	f.Int("min-zoom", 0, "Minimum zoom level")
	f.Int("max-zoom", 14, "Maximum zoom level")
	f.String("engine", "", "Tile engine: go or tippecanoe (default first available)")
	return cmd
}
