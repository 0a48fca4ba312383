package static

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"math"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-siteplan/internal/surface"
	"github.com/joeblew999/plat-siteplan/internal/tiler"
	"github.com/joeblew999/plat-siteplan/internal/tiler/gotiler"
)

var park = orb.Polygon{{{-73.99, 40.73}, {-73.98, 40.73}, {-73.98, 40.74}, {-73.99, 40.74}, {-73.99, 40.73}}}

func TestWorldRoundTrip(t *testing.T) {
	for _, p := range []orb.Point{{0, 0}, {-73.985, 40.735}, {151.2, -33.86}} {
		x, y := world(p)
		back := unworld(x, y)
		if math.Abs(back.Lon()-p.Lon()) > 1e-9 || math.Abs(back.Lat()-p.Lat()) > 1e-9 {
			t.Fatalf("round trip %v = %v", p, back)
		}
	}
	if x, y := world(orb.Point{0, 0}); math.Abs(x-0.5) > 1e-12 || math.Abs(y-0.5) > 1e-12 {
		t.Fatalf("origin = %v,%v", x, y)
	}
}

func TestCameraInverse(t *testing.T) {
	c := camera{cx: 0.3, cy: 0.4, zoom: 14.5, bearing: 30, w: 800, h: 600}
	sx, sy := c.toScreen(0.30001, 0.39998)
	x, y := c.toWorld(sx, sy)
	if math.Abs(x-0.30001) > 1e-12 || math.Abs(y-0.39998) > 1e-12 {
		t.Fatalf("inverse = %v,%v", x, y)
	}
}

func TestFitBoundsCentresAndPads(t *testing.T) {
	for _, bearing := range []float64{0, 45} {
		s, err := New(surface.Config{Width: 400, Height: 300, PixelRatio: 2, Bearing: bearing}, nil)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		b := park.Bound()
		if err := s.FitBounds(b, 20); err != nil {
			t.Fatalf("FitBounds: %v", err)
		}
		cx, cy := s.Project(b.Center().Lon(), b.Center().Lat())
		if math.Abs(cx-200) > 0.5 || math.Abs(cy-150) > 0.5 {
			t.Fatalf("bearing %v: centre projects to %v,%v", bearing, cx, cy)
		}
		touches := false
		for _, p := range park[0] {
			x, y := s.Project(p.Lon(), p.Lat())
			if x < 20-1e-6 || x > 380+1e-6 || y < 20-1e-6 || y > 280+1e-6 {
				t.Fatalf("bearing %v: corner %v outside padded viewport at %v,%v", bearing, p, x, y)
			}
			if math.Abs(x-20) < 1e-6 || math.Abs(x-380) < 1e-6 || math.Abs(y-20) < 1e-6 || math.Abs(y-280) < 1e-6 {
				touches = true
			}
		}
		if !touches {
			t.Fatalf("bearing %v: fit is not tight", bearing)
		}
		vp := s.Viewport()
		if vp.Bearing != bearing || math.Abs(vp.CenterLng-b.Center().Lon()) > 1e-9 {
			t.Fatalf("viewport = %+v", vp)
		}
		s.Close()
	}
}

func TestCaptureRequiresIdle(t *testing.T) {
	s, err := New(surface.Config{Width: 100, Height: 50, PixelRatio: 2}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	if _, err := s.Capture(context.Background()); !errors.Is(err, surface.ErrNotIdle) {
		t.Fatalf("Capture before idle = %v", err)
	}
	if err := s.WaitUntilIdle(context.Background()); err != nil {
		t.Fatalf("WaitUntilIdle: %v", err)
	}
	data, err := s.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 200 || b.Dy() != 100 {
		t.Fatalf("capture size = %v", b)
	}

	// Moving the camera invalidates the frame.
	if err := s.FitBounds(park.Bound(), 0); err != nil {
		t.Fatalf("FitBounds: %v", err)
	}
	if _, err := s.Capture(context.Background()); !errors.Is(err, surface.ErrNotIdle) {
		t.Fatalf("Capture after move = %v", err)
	}
}

func TestWaitUntilIdleHonoursContext(t *testing.T) {
	s, err := New(surface.Config{Width: 10, Height: 10}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.WaitUntilIdle(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("WaitUntilIdle = %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := New(surface.Config{Width: 10, Height: 10}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := s.WaitUntilIdle(context.Background()); !errors.Is(err, surface.ErrClosed) {
		t.Fatalf("WaitUntilIdle after Close = %v", err)
	}
}

func TestNewRejectsEmptySize(t *testing.T) {
	if _, err := New(surface.Config{Width: 0, Height: 10}, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestBasemapAndVisibility(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(park))
	path := filepath.Join(t.TempDir(), "base.pmtiles")
	err := gotiler.New().Tile(context.Background(), []tiler.Input{{Layer: "parks", Features: fc}}, path, tiler.Config{MinZoom: 10, MaxZoom: 12}, nil)
	if err != nil {
		t.Fatalf("Tile: %v", err)
	}

	s, err := New(surface.Config{
		Width: 200, Height: 200, PixelRatio: 1,
		Background: "#ffffff",
		Basemap:    path,
		Layers: []surface.StyleLayer{
			{ID: "parks-fill", SourceLayer: "parks", Kind: surface.KindFill, Color: "#ff0000", Opacity: 1, Visible: true},
		},
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	if err := s.FitBounds(park.Bound(), 20); err != nil {
		t.Fatalf("FitBounds: %v", err)
	}

	centre := func() (r, g, b uint32) {
		if err := s.WaitUntilIdle(context.Background()); err != nil {
			t.Fatalf("WaitUntilIdle: %v", err)
		}
		data, err := s.Capture(context.Background())
		if err != nil {
			t.Fatalf("Capture: %v", err)
		}
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		r, g, b, _ = img.At(100, 100).RGBA()
		return r >> 8, g >> 8, b >> 8
	}

	if r, g, b := centre(); r < 200 || g > 60 || b > 60 {
		t.Fatalf("park centre = %d,%d,%d, want red", r, g, b)
	}
	s.SetLayerVisibility("parks-fill", false)
	if r, g, b := centre(); r < 240 || g < 240 || b < 240 {
		t.Fatalf("hidden park centre = %d,%d,%d, want white", r, g, b)
	}
}

