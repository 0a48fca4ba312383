package pdfdoc

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/joeblew999/plat-siteplan/internal/geom"
	"github.com/joeblew999/plat-siteplan/internal/render"
)

func tile(ref string) *render.IconTile {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	return &render.IconTile{SourceRef: ref, PixelSize: 8, Image: img}
}

func TestDocumentPrimitives(t *testing.T) {
	d := New("A4")
	d.SetTitle("Site plan")

	if u := d.Units(); u.PerMM != 1 {
		t.Fatalf("PerMM = %v, want 1", u.PerMM)
	}
	w, h := d.PageSize()
	if w < h {
		t.Fatalf("page %vx%v is not landscape", w, h)
	}

	fill := render.Color{R: 0, G: 0.5, B: 1, A: 1}
	if err := d.DrawPolygon(render.RectRing(10, 10, 50, 30), render.PolygonStyle{Fill: &fill, FillOpacity: 0.3, Stroke: render.Black, StrokeWidth: 0.5}); err != nil {
		t.Fatalf("DrawPolygon: %v", err)
	}
	line := []geom.Point{{X: 10, Y: 60}, {X: 40, Y: 70}, {X: 80, Y: 65}}
	if err := d.DrawPolyline(line, render.LineStyle{Color: render.Black, Width: 1, Opacity: 0.6, Dashed: true}); err != nil {
		t.Fatalf("DrawPolyline: %v", err)
	}
	if err := d.DrawIcon(tile("cone"), geom.Point{X: 100, Y: 50}, render.IconOptions{Size: 6, RotationDeg: 30, Flipped: true}); err != nil {
		t.Fatalf("DrawIcon: %v", err)
	}
	// Second use of the same tile reuses the registered image.
	if err := d.DrawIcon(tile("cone"), geom.Point{X: 120, Y: 50}, render.IconOptions{Size: 6}); err != nil {
		t.Fatalf("DrawIcon again: %v", err)
	}
	if err := d.DrawBadge(geom.Point{X: 140, Y: 50}, 12); err != nil {
		t.Fatalf("DrawBadge: %v", err)
	}
	used, err := d.DrawWrappedText("Barrier line along the north kerb of the plaza", geom.Point{X: 10, Y: 100}, 30, 4, render.Font{Size: 3, Color: render.Black})
	if err != nil {
		t.Fatalf("DrawWrappedText: %v", err)
	}
	if used < 8 {
		t.Fatalf("wrapped height = %v, want at least two lines", used)
	}

	d.NewPage()
	if d.Pages() != 2 {
		t.Fatalf("Pages = %d, want 2", d.Pages())
	}

	out, err := d.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF-")) {
		t.Fatalf("output does not start with a PDF header: %q", out[:8])
	}
}

func TestDocumentRejectsBadInput(t *testing.T) {
	d := New("")
	if err := d.DrawIcon(nil, geom.Point{}, render.IconOptions{}); !errors.Is(err, render.ErrNoTile) {
		t.Fatalf("DrawIcon(nil) = %v, want ErrNoTile", err)
	}
	if err := d.DrawPolyline([]geom.Point{{X: 1, Y: 1}}, render.LineStyle{}); err == nil {
		t.Fatal("single-point polyline accepted")
	}
	if err := d.DrawPolygon([]geom.Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 0}}, render.PolygonStyle{StrokeWidth: 1}); err == nil {
		t.Fatal("degenerate ring accepted")
	}
	if err := d.DrawMarker(geom.Point{}, render.MarkerStyle{}); err == nil {
		t.Fatal("zero-radius marker accepted")
	}
	// Rejected primitives leave the document usable.
	if _, err := d.Bytes(); err != nil {
		t.Fatalf("Bytes after rejected primitives: %v", err)
	}
}

func TestMeasureScalesWithSize(t *testing.T) {
	d := New("A3")
	small := d.Measure("Stage", render.Font{Size: 3})
	large := d.Measure("Stage", render.Font{Size: 6})
	if small <= 0 || large <= small*1.9 {
		t.Fatalf("Measure small=%v large=%v", small, large)
	}
	bold := d.Measure("Stage", render.Font{Size: 3, Bold: true})
	if bold < small {
		t.Fatalf("bold %v narrower than regular %v", bold, small)
	}
}
