package plan

import (
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
)

const yamlPlan = `
id: market
title: Night Market
focus:
  name: Plaza permit
  layer: permits
  geometry:
    type: Polygon
    coordinates: [[[0, 0], [1, 0], [1, 1], [0, 1], [0, 0]]]
layers:
  hydrants:
    name: Hydrants
    visible: true
    icon: icons/hydrant.svg
    inventory:
      title: Hydrants
      columns:
        - {header: Street, field: onStreetName}
  streets:
    name: Streets
    geomType: line
    base: true
features:
  hydrants:
    type: FeatureCollection
    features:
      - type: Feature
        geometry: {type: Point, coordinates: [0.5, 0.5]}
        properties: {onStreetName: Main St}
annotations:
  - label: Stage area
    geometry:
      type: Polygon
      coordinates: [[[0.1, 0.1], [0.2, 0.1], [0.2, 0.2], [0.1, 0.1]]]
objects:
  - type: stage
    position: {lng: 0.5, lat: 0.4}
    rotationDeg: 90
    flipped: true
equipment:
  - {id: stage, name: Stage, icon: icons/stage.png}
`

func TestDecodeYAML(t *testing.T) {
	p, err := Decode([]byte(yamlPlan))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := p.Focus.Geometry.(orb.Polygon); !ok {
		t.Fatalf("focus geometry = %T, want orb.Polygon", p.Focus.Geometry)
	}
	if p.Focus.Layer != "permits" {
		t.Fatalf("focus layer = %q", p.Focus.Layer)
	}

	h := p.Layers["hydrants"]
	if h.ID != "hydrants" || h.GeomType != GeomPoint || h.LineStyle != LineNormal {
		t.Fatalf("hydrants layer not normalized: %+v", h)
	}
	if h.Inventory == nil || h.Inventory.Kind != InventoryArea {
		t.Fatalf("inventory kind not defaulted: %+v", h.Inventory)
	}
	if fc := p.Features["hydrants"]; fc == nil || len(fc.Features) != 1 {
		t.Fatalf("features not decoded: %+v", fc)
	}
	if len(p.Annotations) != 1 || p.Annotations[0].Label != "Stage area" {
		t.Fatalf("annotations = %+v", p.Annotations)
	}
	if _, ok := p.Annotations[0].Geometry.(orb.Polygon); !ok {
		t.Fatalf("annotation geometry = %T", p.Annotations[0].Geometry)
	}
	o := p.Objects[0]
	if o.RotationDeg != 90 || !o.Flipped || o.Position.Lng != 0.5 {
		t.Fatalf("object = %+v", o)
	}

	layers, equipment := p.IconRefs()
	if len(layers) != 1 || layers[0] != "icons/hydrant.svg" || len(equipment) != 1 || equipment[0] != "icons/stage.png" {
		t.Fatalf("IconRefs = %v, %v", layers, equipment)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	p, err := Decode([]byte(yamlPlan))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for _, name := range []string{"plan.json", "plan.yaml"} {
		path := filepath.Join(t.TempDir(), name)
		if err := Save(path, p); err != nil {
			t.Fatalf("Save %s: %v", name, err)
		}
		got, err := Load(path)
		if err != nil {
			t.Fatalf("Load %s: %v", name, err)
		}
		if got.Title != p.Title || len(got.Layers) != 2 || got.Focus.Geometry == nil {
			t.Fatalf("%s: round trip lost data: %+v", name, got)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	for _, in := range []string{"", "   ", "{not json", "layers: [1, 2"} {
		if _, err := Decode([]byte(in)); err == nil {
			t.Errorf("Decode(%q) succeeded", in)
		}
	}
}

func TestRenderRuleMatch(t *testing.T) {
	r := RenderRule{FilterProp: "kind", FilterValue: "2"}
	if !r.Match(map[string]any{"kind": 2}) {
		t.Fatal("numeric property did not match")
	}
	if r.Match(map[string]any{"other": 2}) {
		t.Fatal("missing property matched")
	}
	if (RenderRule{}).Match(map[string]any{"kind": 2}) {
		t.Fatal("empty rule matched")
	}
}
