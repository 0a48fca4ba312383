// Package plan holds the inputs of an export: the focus area, layer
// configuration, resolved features, annotations and placed equipment.
//
// A Plan is read-only to the export engine. Derived values (annotation
// numbers, inventory rows) are computed on copies.
package plan

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Plan is everything needed to render one site plan.
type Plan struct {
	ID          string                               `json:"id" doc:"Plan identifier" example:"night-market"`
	Title       string                               `json:"title,omitempty" doc:"Document title" example:"Night Market 2026"`
	Focus       FocusArea                            `json:"focus" doc:"Boundary the export is scoped to"`
	Layers      map[string]LayerConfig               `json:"layers,omitempty" doc:"Data layers by id"`
	Features    map[string]*geojson.FeatureCollection `json:"features,omitempty" doc:"Resolved features by layer id"`
	Annotations []Annotation                         `json:"annotations,omitempty" doc:"User-drawn shapes"`
	Objects     []PlacedObject                       `json:"objects,omitempty" doc:"Placed equipment"`
	Equipment   []EquipmentType                      `json:"equipment,omitempty" doc:"Equipment catalog"`
	Style       Style                                `json:"style,omitempty" doc:"Basemap style snapshot"`
}

// FocusArea is the Polygon or MultiPolygon the export is scoped to.
type FocusArea struct {
	Geometry orb.Geometry `json:"-"`
	// Name is shown as the document subtitle.
	Name string `json:"name,omitempty"`
	ID   string `json:"id,omitempty"`
	// Layer is the layer the focus polygon was picked from. Other instances
	// of that layer are hidden on the detached surface.
	Layer string `json:"layer,omitempty"`
}

type focusJSON struct {
	Geometry *geojson.Geometry `json:"geometry"`
	Name     string            `json:"name,omitempty"`
	ID       string            `json:"id,omitempty"`
	Layer    string            `json:"layer,omitempty"`
}

// MarshalJSON encodes the geometry as GeoJSON.
func (f FocusArea) MarshalJSON() ([]byte, error) {
	w := focusJSON{Name: f.Name, ID: f.ID, Layer: f.Layer}
	if f.Geometry != nil {
		w.Geometry = geojson.NewGeometry(f.Geometry)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a GeoJSON geometry member.
func (f *FocusArea) UnmarshalJSON(data []byte) error {
	var w focusJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*f = FocusArea{Name: w.Name, ID: w.ID, Layer: w.Layer}
	if w.Geometry != nil {
		f.Geometry = w.Geometry.Geometry()
	}
	return nil
}

// Geometry type names used in layer configs.
const (
	GeomPolygon = "polygon"
	GeomLine    = "line"
	GeomPoint   = "point"
)

// Line styles.
const (
	LineNormal = "normal"
	// LineRoute draws wider and semi-transparent, for bicycle routes and
	// similar corridors.
	LineRoute = "route"
)

// LayerConfig is a data layer's display and inventory configuration.
type LayerConfig struct {
	ID          string         `json:"id,omitempty" doc:"Unique layer identifier" example:"hydrants"`
	Name        string         `json:"name" required:"true" minLength:"1" maxLength:"100" doc:"Display name" example:"Fire hydrants"`
	Source      string         `json:"source,omitempty" doc:"Source file name (GeoJSON or GeoParquet)" example:"hydrants.geojson"`
	SourceLayer string         `json:"sourceLayer,omitempty" doc:"Layer name within the basemap archive" example:"hydrants"`
	GeomType    string         `json:"geomType" enum:"polygon,line,point" default:"point" doc:"Geometry type" example:"point"`
	Visible     bool           `json:"visible" doc:"Whether the layer is drawn" example:"true"`
	Color       string         `json:"color,omitempty" default:"#3388ff" doc:"Fill or line color (CSS hex)" example:"#d32f2f"`
	Stroke      string         `json:"stroke,omitempty" default:"#2266cc" doc:"Outline color (CSS hex)" example:"#7f0000"`
	Opacity     float64        `json:"opacity,omitempty" minimum:"0" maximum:"1" default:"0.7" doc:"Layer opacity (0-1)"`
	Icon        string         `json:"icon,omitempty" doc:"Icon reference for point features" example:"icons/hydrant.svg"`
	Base        bool           `json:"base,omitempty" doc:"Drawn by the basemap; never overlaid"`
	Tool        bool           `json:"tool,omitempty" doc:"Editing overlay; hidden on export"`
	LineStyle   string         `json:"lineStyle,omitempty" enum:"normal,route" default:"normal" doc:"Line drawing convention"`
	Inventory   *InventorySpec `json:"inventory,omitempty" doc:"Summary table produced for this layer"`
	RenderRules []RenderRule   `json:"renderRules,omitempty" doc:"Conditional styling rules"`
	Legend      []LegendItem   `json:"legend,omitempty" doc:"Extra legend entries for this layer"`
}

// DisplayName falls back to the id when Name is empty.
func (l LayerConfig) DisplayName() string {
	if l.Name != "" {
		return l.Name
	}
	return l.ID
}

// RenderRule overrides a layer's style for features whose property matches.
type RenderRule struct {
	FilterProp  string  `json:"filterProp,omitempty" doc:"Property name to filter on"`
	FilterValue string  `json:"filterValue,omitempty" doc:"Value to match"`
	Color       string  `json:"color,omitempty" doc:"Color (CSS hex)"`
	Width       float64 `json:"width,omitempty" doc:"Line width in mm"`
	Radius      float64 `json:"radius,omitempty" doc:"Marker radius in mm"`
}

// Match reports whether the rule applies to props.
func (r RenderRule) Match(props geojson.Properties) bool {
	if r.FilterProp == "" {
		return false
	}
	v, ok := props[r.FilterProp]
	if !ok {
		return false
	}
	return fmt.Sprint(v) == r.FilterValue
}

// LegendItem is an extra legend swatch under a layer.
type LegendItem struct {
	Label string `json:"label" doc:"Legend label"`
	Color string `json:"color" doc:"Legend color (CSS)"`
}

// Inventory kinds.
const (
	// InventoryArea numbers point features inside the focus area.
	InventoryArea = "area"
	// InventoryVisible numbers point features visible in the captured image.
	InventoryVisible = "visible"
	// InventoryStations numbers visible stops grouped by name and routes.
	InventoryStations = "stations"
)

// InventorySpec configures the numbered summary table of a layer.
type InventorySpec struct {
	Kind        string   `json:"kind" enum:"area,visible,stations" default:"area" doc:"Which features are numbered"`
	Title       string   `json:"title,omitempty" doc:"Table title" example:"Parking signs"`
	Columns     []Column `json:"columns,omitempty" doc:"Table columns after the index column"`
	NameField   string   `json:"nameField,omitempty" default:"name" doc:"Station name property"`
	RoutesField string   `json:"routesField,omitempty" default:"routes" doc:"Station routes property"`
	// Badges draws the sequence number on the map next to each feature.
	Badges bool `json:"badges,omitempty" doc:"Draw numbered badges on the map"`
}

// Column is one table column.
type Column struct {
	Header string `json:"header" doc:"Column header"`
	Field  string `json:"field" doc:"Feature property shown"`
	// Weight is the relative column width. Zero counts as 1.
	Weight float64 `json:"weight,omitempty" doc:"Relative width"`
}

// Annotation is a user-drawn shape with an optional label.
type Annotation struct {
	Geometry orb.Geometry `json:"-"`
	Label    string       `json:"label,omitempty"`
	// Number is assigned at render time and never persisted.
	Number int `json:"-"`
}

type annotationJSON struct {
	Geometry *geojson.Geometry `json:"geometry"`
	Label    string            `json:"label,omitempty"`
}

// MarshalJSON encodes the geometry as GeoJSON.
func (a Annotation) MarshalJSON() ([]byte, error) {
	w := annotationJSON{Label: a.Label}
	if a.Geometry != nil {
		w.Geometry = geojson.NewGeometry(a.Geometry)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a GeoJSON geometry member.
func (a *Annotation) UnmarshalJSON(data []byte) error {
	var w annotationJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*a = Annotation{Label: w.Label}
	if w.Geometry != nil {
		a.Geometry = w.Geometry.Geometry()
	}
	return nil
}

// LngLat is a geographic position.
type LngLat struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// PlacedObject is a piece of equipment placed on the map.
type PlacedObject struct {
	Type        string  `json:"type" doc:"Equipment type id" example:"stage"`
	Position    LngLat  `json:"position"`
	RotationDeg float64 `json:"rotationDeg,omitempty" doc:"Clockwise rotation in degrees"`
	Flipped     bool    `json:"flipped,omitempty" doc:"Mirrored horizontally"`
	Note        string  `json:"note,omitempty"`
}

// EquipmentType is a catalog entry for placed objects.
type EquipmentType struct {
	ID   string `json:"id" example:"stage"`
	Name string `json:"name" example:"Stage 8x6m"`
	Icon string `json:"icon,omitempty" example:"icons/stage.png"`
}

// Style is the snapshot of the interactive map's style the detached surface
// is configured from.
type Style struct {
	Background string `json:"background,omitempty" default:"#f2efe9" doc:"Background color"`
	// Basemap is a PMTiles archive drawn under the overlay.
	Basemap string `json:"basemap,omitempty" doc:"Basemap archive file"`
}

// LayerIDs returns the layer ids in sorted order.
func (p *Plan) LayerIDs() []string {
	ids := make([]string, 0, len(p.Layers))
	for id := range p.Layers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EquipmentByID indexes the catalog.
func (p *Plan) EquipmentByID() map[string]EquipmentType {
	m := make(map[string]EquipmentType, len(p.Equipment))
	for _, e := range p.Equipment {
		m[e.ID] = e
	}
	return m
}

// IconRefs returns the icons drawn by visible layers and by placed
// equipment, each without duplicates.
func (p *Plan) IconRefs() (layers, equipment []string) {
	add := func(refs []string, seen map[string]bool, ref string) []string {
		if ref == "" || seen[ref] {
			return refs
		}
		seen[ref] = true
		return append(refs, ref)
	}
	seen := make(map[string]bool)
	for _, id := range p.LayerIDs() {
		if l := p.Layers[id]; l.Visible && !l.Base {
			layers = add(layers, seen, l.Icon)
		}
	}
	seen = make(map[string]bool)
	eq := p.EquipmentByID()
	for _, o := range p.Objects {
		equipment = add(equipment, seen, eq[o.Type].Icon)
	}
	return layers, equipment
}
