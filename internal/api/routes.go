// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-siteplan/internal/db"
	"github.com/joeblew999/plat-siteplan/internal/export"
	"github.com/joeblew999/plat-siteplan/internal/service"
)

// Services holds the service dependencies for API handlers.
type Services struct {
	Layer    *service.LayerService
	Tile     *service.TileService
	Source   *service.SourceService
	Plan     *service.PlanService
	Tiler    *service.TilerService
	Exporter *export.Exporter
	Bus      *service.EventBus
}

// RegisterRoutes registers every REST and SSE route.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
}

// Types

type IDInput struct {
	ID string `path:"id" doc:"Layer ID" example:"hydrants"`
}

type LayerOutput struct {
	Body service.LayerConfig
}

type LayersOutput struct {
	Body map[string]service.LayerConfig
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type CreatedLayerBody struct {
	ID      string              `json:"id" doc:"Generated layer ID"`
	Layer   service.LayerConfig `json:"layer" doc:"Created layer configuration"`
	Message string              `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	if svc == nil {
		svc = &Services{}
	}
	return &APIHandler{svc: svc}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterLayers registers layer catalog CRUD routes.
func (h *APIHandler) RegisterLayers(api huma.API) {
	huma.Get(api, "/api/v1/layers", h.GetLayers, huma.OperationTags("layers"))
	huma.Post(api, "/api/v1/layers", h.CreateLayer, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/{id}", h.GetLayer, huma.OperationTags("layers"))
	huma.Put(api, "/api/v1/layers/{id}", h.PutLayer, huma.OperationTags("layers"))
	huma.Delete(api, "/api/v1/layers/{id}", h.DeleteLayer, huma.OperationTags("layers"))
}

// RegisterSources registers source listing routes.
func (h *APIHandler) RegisterSources(api huma.API) {
	huma.Get(api, "/api/v1/sources", h.GetSources, huma.OperationTags("sources"))
	huma.Get(api, "/api/v1/sources/{name}/fields", h.GetSourceFields, huma.OperationTags("sources"))
}

// RegisterTiles registers basemap listing and generation routes.
func (h *APIHandler) RegisterTiles(api huma.API) {
	huma.Get(api, "/api/v1/tiles", h.GetTiles, huma.OperationTags("tiles"))
	huma.Post(api, "/api/v1/tiles/generate", h.GenerateTiles, huma.OperationTags("tiles"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: "1.0.0"}}, nil
}

func (h *APIHandler) GetLayers(ctx context.Context, input *struct{}) (*LayersOutput, error) {
	if h.svc.Layer == nil {
		return &LayersOutput{Body: map[string]service.LayerConfig{}}, nil
	}
	return &LayersOutput{Body: h.svc.Layer.List()}, nil
}

func (h *APIHandler) CreateLayer(ctx context.Context, input *struct{ Body service.LayerConfig }) (*struct{ Body CreatedLayerBody }, error) {
	if h.svc.Layer == nil {
		return nil, huma.Error503ServiceUnavailable("layer service not available")
	}
	created, err := h.svc.Layer.Create(input.Body)
	if err != nil {
		if errors.Is(err, service.ErrExists) {
			return nil, huma.Error409Conflict(err.Error())
		}
		return nil, huma.Error400BadRequest(err.Error())
	}
	h.publish("layers", "created", created.ID)
	return &struct{ Body CreatedLayerBody }{Body: CreatedLayerBody{
		ID: created.ID, Layer: created, Message: "Layer created",
	}}, nil
}

func (h *APIHandler) GetLayer(ctx context.Context, input *IDInput) (*LayerOutput, error) {
	if h.svc.Layer == nil {
		return nil, huma.Error503ServiceUnavailable("layer service not available")
	}
	layer, ok := h.svc.Layer.Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	return &LayerOutput{Body: layer}, nil
}

func (h *APIHandler) PutLayer(ctx context.Context, input *struct {
	IDInput
	Body service.LayerConfig
}) (*LayerOutput, error) {
	if h.svc.Layer == nil {
		return nil, huma.Error503ServiceUnavailable("layer service not available")
	}
	updated, err := h.svc.Layer.Update(input.ID, input.Body)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	h.publish("layers", "updated", updated.ID)
	return &LayerOutput{Body: updated}, nil
}

func (h *APIHandler) DeleteLayer(ctx context.Context, input *IDInput) (*struct{ Body MessageBody }, error) {
	if h.svc.Layer == nil {
		return nil, huma.Error503ServiceUnavailable("layer service not available")
	}
	if err := h.svc.Layer.Delete(input.ID); err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	h.publish("layers", "deleted", input.ID)
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Layer deleted"}}, nil
}

func (h *APIHandler) GetSources(ctx context.Context, input *struct{}) (*struct{ Body []service.SourceFile }, error) {
	if h.svc.Source == nil {
		return &struct{ Body []service.SourceFile }{Body: []service.SourceFile{}}, nil
	}
	sources, err := h.svc.Source.List()
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list sources", err)
	}
	if sources == nil {
		sources = []service.SourceFile{}
	}
	return &struct{ Body []service.SourceFile }{Body: sources}, nil
}

type SourceNameInput struct {
	Name string `path:"name" doc:"Source file name" example:"stations.parquet"`
}

// GetSourceFields lists a source's properties for choosing inventory columns.
func (h *APIHandler) GetSourceFields(ctx context.Context, input *SourceNameInput) (*struct{ Body []db.Column }, error) {
	if h.svc.Source == nil {
		return nil, huma.Error503ServiceUnavailable("source service not available")
	}
	fields, err := h.svc.Source.Fields(ctx, input.Name)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return nil, huma.Error404NotFound(err.Error())
		}
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	return &struct{ Body []db.Column }{Body: fields}, nil
}

func (h *APIHandler) GetTiles(ctx context.Context, input *struct{}) (*struct{ Body []service.TileFile }, error) {
	if h.svc.Tile == nil {
		return &struct{ Body []service.TileFile }{Body: []service.TileFile{}}, nil
	}
	tiles, err := h.svc.Tile.List()
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list tiles", err)
	}
	if tiles == nil {
		tiles = []service.TileFile{}
	}
	return &struct{ Body []service.TileFile }{Body: tiles}, nil
}

func (h *APIHandler) publish(resource, action, id string) {
	if h.svc.Bus != nil {
		h.svc.Bus.Publish(service.Event{Resource: resource, Action: action, ID: id})
	}
}
