// Package pdfdoc implements render.Backend as a multi-page PDF built with
// gofpdf. Page units are millimetres.
package pdfdoc

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strconv"

	"github.com/jung-kurt/gofpdf"

	"github.com/joeblew999/plat-siteplan/internal/geom"
	"github.com/joeblew999/plat-siteplan/internal/render"
)

// mmToPt converts a font size in millimetres to points.
const mmToPt = 72 / 25.4

// Document is a paginated vector output.
type Document struct {
	pdf        *gofpdf.Fpdf
	tr         func(string) string
	registered map[string]bool
	images     int
}

// New creates a document with one landscape page of the named paper size
// ("A3", "A4", "Letter", ...).
func New(paper string) *Document {
	if paper == "" {
		paper = "A4"
	}
	pdf := gofpdf.New("L", "mm", paper, "")
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetMargins(0, 0, 0)
	pdf.SetCreator("plat-siteplan", true)
	pdf.AddPage()
	return &Document{
		pdf:        pdf,
		tr:         pdf.UnicodeTranslatorFromDescriptor(""),
		registered: make(map[string]bool),
	}
}

// SetTitle sets the document information title.
func (d *Document) SetTitle(title string) {
	d.pdf.SetTitle(title, true)
}

// Units reports one page unit per millimetre.
func (d *Document) Units() render.Units { return render.Units{PerMM: 1} }

// PageSize returns the current page size in millimetres.
func (d *Document) PageSize() (float64, float64) {
	return d.pdf.GetPageSize()
}

// Pages returns the number of pages so far.
func (d *Document) Pages() int {
	return d.pdf.PageCount()
}

// NewPage appends a page and makes it current.
func (d *Document) NewPage() {
	d.pdf.AddPage()
}

// DrawImage embeds img as PNG scaled into the given box.
func (d *Document) DrawImage(img image.Image, topLeft geom.Point, width, height float64) error {
	if img == nil {
		return fmt.Errorf("pdfdoc: nil image")
	}
	d.images++
	name := "image-" + strconv.Itoa(d.images)
	if err := d.register(name, img); err != nil {
		return err
	}
	d.pdf.ImageOptions(name, topLeft.X, topLeft.Y, width, height, false, pngOptions, 0, "")
	return d.pdf.Error()
}

// DrawIcon embeds the tile bitmap once and places it at center. Rotation
// and mirroring are applied with PDF transforms.
func (d *Document) DrawIcon(tile *render.IconTile, center geom.Point, opts render.IconOptions) error {
	if tile == nil || tile.Image == nil {
		return render.ErrNoTile
	}
	name := tile.Key()
	if !d.registered[name] {
		if err := d.register(name, tile.Image); err != nil {
			return err
		}
	}
	size := opts.Size
	if size <= 0 {
		size = 6
	}

	d.pdf.TransformBegin()
	if opts.RotationDeg != 0 {
		// gofpdf rotates counter-clockwise; map bearings run clockwise.
		d.pdf.TransformRotate(-opts.RotationDeg, center.X, center.Y)
	}
	if opts.Flipped {
		d.pdf.TransformMirrorHorizontal(center.X)
	}
	d.pdf.ImageOptions(name, center.X-size/2, center.Y-size/2, size, size, false, pngOptions, 0, "")
	d.pdf.TransformEnd()
	return d.pdf.Error()
}

// DrawMarker draws a filled and outlined circle.
func (d *Document) DrawMarker(center geom.Point, style render.MarkerStyle) error {
	if style.Radius <= 0 {
		return fmt.Errorf("pdfdoc: marker radius %v", style.Radius)
	}
	d.setFill(style.Fill)
	d.setDraw(style.Stroke)
	d.pdf.SetLineWidth(0.3)
	d.pdf.Circle(center.X, center.Y, style.Radius, "FD")
	return d.pdf.Error()
}

// DrawPolyline strokes an open path as move-to plus relative segments.
func (d *Document) DrawPolyline(points []geom.Point, style render.LineStyle) error {
	if len(points) < 2 {
		return fmt.Errorf("pdfdoc: polyline needs 2 points, got %d", len(points))
	}
	width := style.Width
	if width <= 0 {
		width = 0.3
	}
	d.setDraw(style.Color)
	d.pdf.SetLineWidth(width)
	d.pdf.SetLineCapStyle("round")
	d.pdf.SetLineJoinStyle("round")
	if style.Dashed {
		d.pdf.SetDashPattern([]float64{width * 3, width * 2}, 0)
	}
	d.setAlpha(style.Opacity)

	cur := points[0]
	d.pdf.MoveTo(cur.X, cur.Y)
	for _, v := range geom.ToRelativeSegments(points) {
		cur = cur.Add(v)
		d.pdf.LineTo(cur.X, cur.Y)
	}
	d.pdf.DrawPath("D")

	d.setAlpha(1)
	d.pdf.SetDashPattern([]float64{}, 0)
	return d.pdf.Error()
}

// DrawPolygon fills (when style.Fill is set) and then strokes a ring.
func (d *Document) DrawPolygon(ring []geom.Point, style render.PolygonStyle) error {
	ring = geom.NormalizeRing(ring)
	if len(ring) < 3 {
		return fmt.Errorf("pdfdoc: ring needs 3 distinct points, got %d", len(ring))
	}
	pts := make([]gofpdf.PointType, len(ring))
	for i, p := range ring {
		pts[i] = gofpdf.PointType{X: p.X, Y: p.Y}
	}

	if style.Fill != nil {
		d.setFill(*style.Fill)
		d.setAlpha(style.FillOpacity)
		d.pdf.Polygon(pts, "F")
		d.setAlpha(1)
	}
	if style.StrokeWidth > 0 {
		d.setDraw(style.Stroke)
		d.pdf.SetLineWidth(style.StrokeWidth)
		d.pdf.SetLineJoinStyle("round")
		d.pdf.Polygon(pts, "D")
	}
	return d.pdf.Error()
}

// DrawBadge draws a dark numbered disc with a white outline.
func (d *Document) DrawBadge(center geom.Point, n int) error {
	r := render.BadgeRadiusMM
	if err := d.DrawMarker(center, render.MarkerStyle{Fill: badgeFill, Stroke: render.White, Radius: r}); err != nil {
		return err
	}
	label := strconv.Itoa(n)
	size := r * 1.1
	if len(label) > 2 {
		size = r * 0.8
	}
	font := render.Font{Size: size, Bold: true, Color: render.White}
	d.setFont(font)
	w := d.pdf.GetStringWidth(label)
	d.pdf.Text(center.X-w/2, center.Y+size*0.35, label)
	return d.pdf.Error()
}

// DrawWrappedText draws text wrapped to maxWidth.
func (d *Document) DrawWrappedText(s string, topLeft geom.Point, maxWidth, lineHeight float64, font render.Font) (float64, error) {
	lines := render.Wrap(s, maxWidth, func(line string) float64 { return d.Measure(line, font) })
	d.setFont(font)
	for i, line := range lines {
		baseline := topLeft.Y + float64(i)*lineHeight + lineHeight/2 + font.Size*0.35
		d.pdf.Text(topLeft.X, baseline, d.tr(line))
	}
	return float64(len(lines)) * lineHeight, d.pdf.Error()
}

// Measure returns the width of s in millimetres.
func (d *Document) Measure(s string, font render.Font) float64 {
	d.setFont(font)
	return d.pdf.GetStringWidth(d.tr(s))
}

// Bytes finishes the document and returns the PDF.
func (d *Document) Bytes() ([]byte, error) {
	if err := d.pdf.Error(); err != nil {
		return nil, fmt.Errorf("pdfdoc: %w", err)
	}
	var buf bytes.Buffer
	if err := d.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdfdoc: writing document: %w", err)
	}
	return buf.Bytes(), nil
}

func (d *Document) register(name string, img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("pdfdoc: encoding %s: %w", name, err)
	}
	d.pdf.RegisterImageOptionsReader(name, pngOptions, &buf)
	if err := d.pdf.Error(); err != nil {
		return fmt.Errorf("pdfdoc: registering %s: %w", name, err)
	}
	d.registered[name] = true
	return nil
}

func (d *Document) setFont(font render.Font) {
	style := ""
	if font.Bold {
		style = "B"
	}
	size := font.Size
	if size <= 0 {
		size = 3
	}
	d.pdf.SetFont("Helvetica", style, size*mmToPt)
	r, g, b := rgb(font.Color)
	d.pdf.SetTextColor(r, g, b)
}

func (d *Document) setFill(c render.Color) {
	r, g, b := rgb(c)
	d.pdf.SetFillColor(r, g, b)
}

func (d *Document) setDraw(c render.Color) {
	r, g, b := rgb(c)
	d.pdf.SetDrawColor(r, g, b)
}

func (d *Document) setAlpha(a float64) {
	if a <= 0 || a > 1 {
		a = 1
	}
	d.pdf.SetAlpha(a, "Normal")
}

func rgb(c render.Color) (int, int, int) {
	return int(c.R*255 + 0.5), int(c.G*255 + 0.5), int(c.B*255 + 0.5)
}

var (
	pngOptions = gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	badgeFill  = render.Color{R: 0.12, G: 0.16, B: 0.22, A: 1}
)

var _ render.Backend = (*Document)(nil)
