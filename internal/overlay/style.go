package overlay

import (
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-siteplan/internal/plan"
	"github.com/joeblew999/plat-siteplan/internal/render"
)

// style is a layer's resolved look for one feature.
type style struct {
	color   render.Color
	opacity float64
	// width and radius are in mm; zero means the default.
	width  float64
	radius float64
}

var defaultLayerColor = render.Color{R: 0.2, G: 0.53, B: 1, A: 1}

// styleFor applies the first matching render rule over the layer defaults.
func styleFor(l plan.LayerConfig, props geojson.Properties) style {
	st := style{color: render.ParseColor(l.Color, defaultLayerColor), opacity: l.Opacity}
	if st.opacity <= 0 {
		st.opacity = 1
	}
	for _, r := range l.RenderRules {
		if !r.Match(props) {
			continue
		}
		if r.Color != "" {
			st.color = render.ParseColor(r.Color, st.color)
		}
		st.width = r.Width
		st.radius = r.Radius
		break
	}
	return st
}

// LayerColor returns the swatch colour of a layer.
func LayerColor(l plan.LayerConfig) render.Color {
	return render.ParseColor(l.Color, defaultLayerColor)
}
