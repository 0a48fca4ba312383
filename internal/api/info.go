package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

type InfoHandler struct {
	dataDir string
	dbOK    bool
	engines []string
}

func NewInfoHandler(dataDir string, dbOK bool, engines []string) *InfoHandler {
	return &InfoHandler{dataDir: dataDir, dbOK: dbOK, engines: engines}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name        string   `json:"name" doc:"Service name"`
	Version     string   `json:"version" doc:"Service version"`
	DataDir     string   `json:"data_dir" doc:"Data directory path"`
	DB          bool     `json:"db" doc:"Whether database is available"`
	TileEngines []string `json:"tile_engines" doc:"Available basemap tile engines"`
	Formats     []string `json:"formats" doc:"Export formats"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	engines := h.engines
	if engines == nil {
		engines = []string{}
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:        "plat-siteplan",
		Version:     "0.1.0",
		DataDir:     h.dataDir,
		DB:          h.dbOK,
		TileEngines: engines,
		Formats:     []string{"raster", "document"},
	}}, nil
}
