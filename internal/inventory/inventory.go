// Package inventory filters, orders and numbers point features for on-map
// badges and summary tables.
//
// Two scopes exist and callers pick one per inventory: features inside the
// focus area (the legal boundary), or features visible in the captured image.
package inventory

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-siteplan/internal/geom"
	"github.com/joeblew999/plat-siteplan/internal/plan"
)

// Property names of the street sort key.
const (
	OnStreetField   = "onStreetName"
	FromStreetField = "fromStreetName"
)

// Row is one numbered feature. Index starts at 1 and is contiguous within
// an inventory.
type Row struct {
	Index      int
	Lng, Lat   float64
	Properties geojson.Properties
}

// Field returns a property as display text.
func (r Row) Field(name string) string {
	return text(r.Properties, name)
}

// ProjectFunc maps a coordinate into the space a visibility check runs in.
type ProjectFunc func(lng, lat float64) geom.Point

// Scope carries what the different inventory kinds filter against.
type Scope struct {
	Area    orb.Geometry
	Project ProjectFunc
	Width   float64
	Height  float64
}

// Build returns the rows of one layer's inventory.
func Build(spec plan.InventorySpec, fc *geojson.FeatureCollection, scope Scope) []Row {
	if fc == nil {
		return nil
	}
	switch spec.Kind {
	case plan.InventoryVisible:
		return NumberVisibleOnSurface(scope.Project, scope.Width, scope.Height, fc.Features)
	case plan.InventoryStations:
		return NumberStations(scope.Project, scope.Width, scope.Height, fc.Features, spec.NameField, spec.RoutesField)
	default:
		return NumberWithinArea(fc.Features, scope.Area)
	}
}

// NumberWithinArea numbers the Point features inside area, ordered by
// on-street name, from-street name, longitude and latitude. Names compare
// case-insensitively and ties keep input order.
func NumberWithinArea(features []*geojson.Feature, area orb.Geometry) []Row {
	var rows []Row
	for _, f := range features {
		p, ok := point(f)
		if !ok || !geom.PointInFocusArea(p.Lon(), p.Lat(), area) {
			continue
		}
		rows = append(rows, Row{Lng: p.Lon(), Lat: p.Lat(), Properties: f.Properties})
	}
	return number(rows)
}

// NumberVisibleOnSurface numbers the Point features whose projection falls
// within [0,width]×[0,height], in the same order as NumberWithinArea.
func NumberVisibleOnSurface(project ProjectFunc, width, height float64, features []*geojson.Feature) []Row {
	if project == nil {
		return nil
	}
	var rows []Row
	for _, f := range features {
		p, ok := point(f)
		if !ok {
			continue
		}
		if !visible(project(p.Lon(), p.Lat()), width, height) {
			continue
		}
		rows = append(rows, Row{Lng: p.Lon(), Lat: p.Lat(), Properties: f.Properties})
	}
	return number(rows)
}

// NumberStations numbers visible stops, merging entrances that share an exact
// name and route list into one row. Unnamed stops are never merged. The first
// entrance in input order represents the station. Rows are ordered by name,
// then routes, ignoring case.
func NumberStations(project ProjectFunc, width, height float64, features []*geojson.Feature, nameField, routesField string) []Row {
	if nameField == "" {
		nameField = "name"
	}
	if routesField == "" {
		routesField = "routes"
	}
	visibleRows := NumberVisibleOnSurface(project, width, height, features)

	type station struct {
		row         Row
		name, route string
	}
	seen := make(map[string]bool)
	var stations []station
	for _, r := range visibleRows {
		name := text(r.Properties, nameField)
		routes := text(r.Properties, routesField)
		if name != "" {
			key := name + "\x00" + routes
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		stations = append(stations, station{row: r, name: name, route: routes})
	}

	slices.SortStableFunc(stations, func(a, b station) int {
		return cmp.Or(
			cmp.Compare(strings.ToLower(a.name), strings.ToLower(b.name)),
			cmp.Compare(strings.ToLower(a.route), strings.ToLower(b.route)),
		)
	})
	rows := make([]Row, len(stations))
	for i, s := range stations {
		rows[i] = s.row
		rows[i].Index = i + 1
	}
	return rows
}

// number sorts rows by the street key and assigns indices 1..N.
func number(rows []Row) []Row {
	slices.SortStableFunc(rows, func(a, b Row) int {
		return cmp.Or(
			cmp.Compare(strings.ToLower(text(a.Properties, OnStreetField)), strings.ToLower(text(b.Properties, OnStreetField))),
			cmp.Compare(strings.ToLower(text(a.Properties, FromStreetField)), strings.ToLower(text(b.Properties, FromStreetField))),
			cmp.Compare(a.Lng, b.Lng),
			cmp.Compare(a.Lat, b.Lat),
		)
	})
	for i := range rows {
		rows[i].Index = i + 1
	}
	return rows
}

func point(f *geojson.Feature) (orb.Point, bool) {
	if f == nil {
		return orb.Point{}, false
	}
	p, ok := f.Geometry.(orb.Point)
	return p, ok
}

func visible(p geom.Point, width, height float64) bool {
	return p.X >= 0 && p.X <= width && p.Y >= 0 && p.Y <= height
}

// text renders a property for sorting and display. Lists join with ", ".
func text(props geojson.Properties, name string) string {
	v, ok := props[name]
	if !ok || v == nil {
		return ""
	}
	switch v := v.(type) {
	case string:
		return v
	case []any:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = fmt.Sprint(e)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(v)
	}
}
