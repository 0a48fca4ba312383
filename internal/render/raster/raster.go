// Package raster implements render.Backend on a single gogpu/gg canvas.
// Page units are device pixels.
package raster

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"strconv"

	"github.com/gogpu/gg"
	"github.com/gogpu/gg/text"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/joeblew999/plat-siteplan/internal/geom"
	"github.com/joeblew999/plat-siteplan/internal/render"
)

// cssPixelsPerMM is the CSS reference density (96 dpi).
const cssPixelsPerMM = 96 / 25.4

type faceKey struct {
	size float64
	bold bool
}

// Backend draws onto an in-memory RGBA canvas.
type Backend struct {
	dc      *gg.Context
	width   int
	height  int
	units   render.Units
	regular *text.FontSource
	bold    *text.FontSource
	faces   map[faceKey]text.Face
	bufs    map[string]*gg.ImageBuf
}

// New creates a white canvas of width x height device pixels. pixelRatio
// scales physical sizes (badges, fonts) and is clamped to at least 1.
func New(width, height int, pixelRatio float64) (*Backend, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("raster: invalid canvas size %dx%d", width, height)
	}
	if pixelRatio < 1 {
		pixelRatio = 1
	}
	regular, err := text.NewFontSource(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("raster: loading regular font: %w", err)
	}
	bold, err := text.NewFontSource(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("raster: loading bold font: %w", err)
	}

	dc := gg.NewContext(width, height)
	dc.ClearWithColor(render.White)

	return &Backend{
		dc:      dc,
		width:   width,
		height:  height,
		units:   render.Units{PerMM: cssPixelsPerMM * pixelRatio},
		regular: regular,
		bold:    bold,
		faces:   make(map[faceKey]text.Face),
		bufs:    make(map[string]*gg.ImageBuf),
	}, nil
}

// Units reports device pixels per millimetre.
func (b *Backend) Units() render.Units { return b.units }

// PageSize returns the canvas size in pixels.
func (b *Backend) PageSize() (float64, float64) {
	return float64(b.width), float64(b.height)
}

// NewPage is a no-op: the raster output is a single image.
func (b *Backend) NewPage() {}

// DrawImage draws img scaled into the given box.
func (b *Backend) DrawImage(img image.Image, topLeft geom.Point, width, height float64) error {
	if img == nil {
		return fmt.Errorf("raster: nil image")
	}
	b.dc.DrawImageEx(gg.ImageBufFromImage(img), gg.DrawImageOptions{
		X:         topLeft.X,
		Y:         topLeft.Y,
		DstWidth:  width,
		DstHeight: height,
	})
	return nil
}

// DrawIcon draws the tile centred on center, mirrored and rotated as asked.
func (b *Backend) DrawIcon(tile *render.IconTile, center geom.Point, opts render.IconOptions) error {
	if tile == nil || tile.Image == nil {
		return render.ErrNoTile
	}
	size := opts.Size
	if size <= 0 {
		size = float64(tile.PixelSize)
	}

	var buf *gg.ImageBuf
	if opts.RotationDeg == 0 && !opts.Flipped {
		key := tile.Key()
		if buf = b.bufs[key]; buf == nil {
			buf = gg.ImageBufFromImage(tile.Image)
			b.bufs[key] = buf
		}
	} else {
		img, grow := orient(tile.Image, opts.RotationDeg, opts.Flipped)
		buf = gg.ImageBufFromImage(img)
		size *= grow
	}

	b.dc.DrawImageEx(buf, gg.DrawImageOptions{
		X:         center.X - size/2,
		Y:         center.Y - size/2,
		DstWidth:  size,
		DstHeight: size,
	})
	return nil
}

// DrawMarker draws a filled and outlined circle.
func (b *Backend) DrawMarker(center geom.Point, style render.MarkerStyle) error {
	if style.Radius <= 0 {
		return fmt.Errorf("raster: marker radius %v", style.Radius)
	}
	b.dc.ClearDash()
	b.dc.ClearPath()
	b.dc.DrawCircle(center.X, center.Y, style.Radius)
	b.dc.SetColor(style.Fill.Color())
	if err := b.dc.FillPreserve(); err != nil {
		return err
	}
	b.dc.SetLineWidth(b.units.MM(0.3))
	b.dc.SetColor(style.Stroke.Color())
	return b.dc.Stroke()
}

// DrawPolyline strokes an open path.
func (b *Backend) DrawPolyline(points []geom.Point, style render.LineStyle) error {
	if len(points) < 2 {
		return fmt.Errorf("raster: polyline needs 2 points, got %d", len(points))
	}
	width := style.Width
	if width <= 0 {
		width = 1
	}
	b.dc.SetLineWidth(width)
	b.dc.SetLineCap(gg.LineCapRound)
	b.dc.SetLineJoin(gg.LineJoinRound)
	if style.Dashed {
		b.dc.SetDash(width*3, width*2)
	} else {
		b.dc.ClearDash()
	}
	b.dc.SetColor(withOpacity(style.Color, style.Opacity).Color())

	b.dc.ClearPath()
	b.dc.MoveTo(points[0].X, points[0].Y)
	for _, p := range points[1:] {
		b.dc.LineTo(p.X, p.Y)
	}
	err := b.dc.Stroke()
	b.dc.ClearDash()
	return err
}

// DrawPolygon fills (when style.Fill is set) and then strokes a ring.
func (b *Backend) DrawPolygon(ring []geom.Point, style render.PolygonStyle) error {
	ring = geom.NormalizeRing(ring)
	if len(ring) < 3 {
		return fmt.Errorf("raster: ring needs 3 distinct points, got %d", len(ring))
	}
	b.dc.ClearDash()
	b.dc.ClearPath()
	b.dc.MoveTo(ring[0].X, ring[0].Y)
	for _, p := range ring[1:] {
		b.dc.LineTo(p.X, p.Y)
	}
	b.dc.ClosePath()

	if style.Fill != nil {
		b.dc.SetColor(withOpacity(*style.Fill, style.FillOpacity).Color())
		if err := b.dc.FillPreserve(); err != nil {
			return err
		}
	}
	if style.StrokeWidth <= 0 {
		b.dc.ClearPath()
		return nil
	}
	b.dc.SetLineWidth(style.StrokeWidth)
	b.dc.SetLineJoin(gg.LineJoinRound)
	b.dc.SetColor(style.Stroke.Color())
	return b.dc.Stroke()
}

// DrawBadge draws a dark numbered disc with a white outline.
func (b *Backend) DrawBadge(center geom.Point, n int) error {
	r := b.units.MM(render.BadgeRadiusMM)
	err := b.DrawMarker(center, render.MarkerStyle{
		Fill:   badgeFill,
		Stroke: render.White,
		Radius: r,
	})
	if err != nil {
		return err
	}
	label := strconv.Itoa(n)
	size := r * 1.1
	if len(label) > 2 {
		size = r * 0.8
	}
	b.dc.SetFont(b.face(render.Font{Size: size, Bold: true}))
	b.dc.SetColor(render.White.Color())
	b.dc.DrawStringAnchored(label, center.X, center.Y, 0.5, 0.35)
	return nil
}

// DrawWrappedText draws text wrapped to maxWidth.
func (b *Backend) DrawWrappedText(s string, topLeft geom.Point, maxWidth, lineHeight float64, font render.Font) (float64, error) {
	lines := render.Wrap(s, maxWidth, func(line string) float64 { return b.Measure(line, font) })
	b.dc.SetFont(b.face(font))
	b.dc.SetColor(font.Color.Color())
	for i, line := range lines {
		baseline := topLeft.Y + float64(i)*lineHeight + lineHeight/2 + font.Size*0.35
		b.dc.DrawString(line, topLeft.X, baseline)
	}
	return float64(len(lines)) * lineHeight, nil
}

// Measure returns the advance width of s in pixels.
func (b *Backend) Measure(s string, font render.Font) float64 {
	w, _ := text.Measure(s, b.face(font))
	return w
}

// Image returns the canvas.
func (b *Backend) Image() image.Image {
	return b.dc.Image()
}

// WritePNG encodes the canvas as PNG.
func (b *Backend) WritePNG(w io.Writer) error {
	return b.dc.EncodePNG(w)
}

// Bytes returns the canvas encoded as PNG.
func (b *Backend) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.WritePNG(&buf); err != nil {
		return nil, fmt.Errorf("raster: encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

// Close releases the canvas and font sources.
func (b *Backend) Close() error {
	b.regular.Close()
	b.bold.Close()
	return b.dc.Close()
}

func (b *Backend) face(font render.Font) text.Face {
	size := font.Size
	if size <= 0 {
		size = b.units.MM(3)
	}
	key := faceKey{size: size, bold: font.Bold}
	if f, ok := b.faces[key]; ok {
		return f
	}
	src := b.regular
	if font.Bold {
		src = b.bold
	}
	f := src.Face(size)
	b.faces[key] = f
	return f
}

var badgeFill = render.Color{R: 0.12, G: 0.16, B: 0.22, A: 1}

func withOpacity(c render.Color, opacity float64) render.Color {
	if opacity <= 0 || opacity > 1 {
		return c
	}
	c.A *= opacity
	return c
}

var _ render.Backend = (*Backend)(nil)
