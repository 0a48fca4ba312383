package api

import (
	"context"
	"database/sql"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-siteplan/internal/db"
)

// DBHandler exposes ad-hoc DuckDB queries, mostly for inspecting GeoParquet
// sources with read_parquet.
type DBHandler struct {
	db *sql.DB
}

// NewDBHandler creates a new database handler.
func NewDBHandler(conn *sql.DB) *DBHandler {
	return &DBHandler{db: conn}
}

// RegisterRoutes registers database routes with Huma.
func (h *DBHandler) RegisterRoutes(api huma.API) {
	huma.Post(api, "/api/v1/query", h.Query, huma.OperationTags("db"))
}

// QueryInput is the input for SQL queries.
type QueryInput struct {
	Body struct {
		Query string `json:"query" required:"true" doc:"SQL query to execute" example:"SELECT count(*) FROM read_parquet('.data/sources/stations.parquet')"`
		Limit int    `json:"limit,omitempty" minimum:"0" maximum:"10000" default:"1000" doc:"Maximum rows returned"`
	}
}

// QueryResult is the body of a query response.
type QueryResult struct {
	Columns   []string         `json:"columns" doc:"Column names"`
	Rows      []map[string]any `json:"rows" doc:"Query results"`
	Count     int              `json:"count" doc:"Number of rows returned"`
	Truncated bool             `json:"truncated,omitempty" doc:"More rows were available than the limit"`
}

// Query executes a SQL query against DuckDB.
func (h *DBHandler) Query(ctx context.Context, input *QueryInput) (*struct{ Body QueryResult }, error) {
	if h.db == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}

	rows, err := h.db.QueryContext(ctx, input.Body.Query)
	if err != nil {
		return nil, huma.Error400BadRequest("Query failed: " + err.Error())
	}
	defer rows.Close()

	cols, recs, err := db.ScanRows(rows)
	if err != nil {
		return nil, huma.Error400BadRequest("Query failed: " + err.Error())
	}
	res := QueryResult{Columns: cols, Rows: recs}
	if limit := input.Body.Limit; limit > 0 && len(recs) > limit {
		res.Rows, res.Truncated = recs[:limit], true
	}
	res.Count = len(res.Rows)
	return &struct{ Body QueryResult }{Body: res}, nil
}
