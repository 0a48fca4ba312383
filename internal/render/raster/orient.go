package raster

import (
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// orient mirrors src horizontally when flipped and rotates it clockwise by
// deg about its centre. Rotated output is a larger square so corners are not
// clipped; grow is its edge length relative to src.
func orient(src *image.RGBA, deg float64, flipped bool) (img *image.RGBA, grow float64) {
	img = src
	if flipped {
		img = mirror(src)
	}
	deg = math.Mod(deg, 360)
	if deg == 0 {
		return img, 1
	}

	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	side := int(math.Ceil(math.Hypot(w, h)))
	dst := image.NewRGBA(image.Rect(0, 0, side, side))

	theta := deg * math.Pi / 180
	sin, cos := math.Sincos(theta)
	cx, cy := float64(b.Min.X)+w/2, float64(b.Min.Y)+h/2
	dx, dy := float64(side)/2, float64(side)/2

	// dst = R·(src − c) + d
	m := f64.Aff3{
		cos, -sin, dx - cos*cx + sin*cy,
		sin, cos, dy - sin*cx - cos*cy,
	}
	draw.BiLinear.Transform(dst, m, img, b, draw.Over, nil)
	return dst, float64(side) / w
}

func mirror(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.SetRGBA(b.Max.X-1-(x-b.Min.X), y, src.RGBAAt(x, y))
		}
	}
	return dst
}
