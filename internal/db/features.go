package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/paulmach/orb/geojson"
)

// GeometryColumn is the GeoParquet geometry column read by ReadFeatures.
const GeometryColumn = "geometry"

// geojsonColumn aliases the converted geometry in the result set.
const geojsonColumn = "__geojson"

// ReadFeatures reads a GeoParquet file into a feature collection. Every
// non-geometry column becomes a property. Rows whose geometry is null or
// unparseable are skipped.
func ReadFeatures(ctx context.Context, db *sql.DB, path string) (*geojson.FeatureCollection, error) {
	q := fmt.Sprintf(
		"SELECT ST_AsGeoJSON(%s) AS %s, * EXCLUDE (%s) FROM read_parquet(?)",
		GeometryColumn, geojsonColumn, GeometryColumn,
	)
	rows, err := db.QueryContext(ctx, q, path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	fc := geojson.NewFeatureCollection()
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", path, err)
		}
		if f := featureFromRow(cols, vals); f != nil {
			fc.Append(f)
		}
	}
	return fc, rows.Err()
}

// featureFromRow builds a feature from one scanned row. The first column
// holds the GeoJSON geometry.
func featureFromRow(cols []string, vals []any) *geojson.Feature {
	if len(vals) == 0 {
		return nil
	}
	var raw []byte
	switch g := vals[0].(type) {
	case string:
		raw = []byte(g)
	case []byte:
		raw = g
	default:
		return nil
	}
	geom, err := geojson.UnmarshalGeometry(raw)
	if err != nil || geom.Geometry() == nil {
		return nil
	}
	f := geojson.NewFeature(geom.Geometry())
	for i := 1; i < len(cols) && i < len(vals); i++ {
		if strings.HasPrefix(cols[i], "__") || vals[i] == nil {
			continue
		}
		switch v := vals[i].(type) {
		case []byte:
			f.Properties[cols[i]] = string(v)
		default:
			f.Properties[cols[i]] = v
		}
	}
	return f
}

// Column is one column of a GeoParquet file.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Describe lists the columns of a GeoParquet file, geometry excluded.
func Describe(ctx context.Context, db *sql.DB, path string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, "DESCRIBE SELECT * FROM read_parquet(?)", path)
	if err != nil {
		return nil, fmt.Errorf("describing %s: %w", path, err)
	}
	defer rows.Close()

	_, recs, err := ScanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("describing %s: %w", path, err)
	}
	cols := make([]Column, 0, len(recs))
	for _, r := range recs {
		name, _ := r["column_name"].(string)
		if name == "" || name == GeometryColumn {
			continue
		}
		typ, _ := r["column_type"].(string)
		cols = append(cols, Column{Name: name, Type: typ})
	}
	return cols, nil
}

// ScanRows drains rows into one map per row keyed by column name. Byte
// slices become strings.
func ScanRows(rows *sql.Rows) ([]string, []map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	out := []map[string]any{}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		rec := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				rec[c] = string(b)
			} else {
				rec[c] = vals[i]
			}
		}
		out = append(out, rec)
	}
	return cols, out, rows.Err()
}
