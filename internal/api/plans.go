package api

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-siteplan/internal/export"
	"github.com/joeblew999/plat-siteplan/internal/plan"
	"github.com/joeblew999/plat-siteplan/internal/service"
)

type PlanIDInput struct {
	ID string `path:"id" doc:"Plan ID" example:"night-market"`
}

type PlanOutput struct {
	Body *plan.Plan
}

// ExportInput selects the artifact format and rendering flags.
type ExportInput struct {
	PlanIDInput
	Format     string  `query:"format" enum:"raster,document" default:"raster" doc:"PNG image or PDF document"`
	Paper      string  `query:"paper" enum:"A4,A3,Letter" default:"A4" doc:"Document paper size"`
	Legend     bool    `query:"legend" default:"true" doc:"Draw the legend panel"`
	Dimensions bool    `query:"dimensions" doc:"Label annotation lines with their length"`
	Summary    bool    `query:"summary" default:"true" doc:"Append summary tables to documents"`
	Width      int     `query:"width" minimum:"0" maximum:"8000" doc:"Raster map width in CSS pixels"`
	Height     int     `query:"height" minimum:"0" maximum:"8000" doc:"Raster map height in CSS pixels"`
	Ratio      float64 `query:"ratio" minimum:"0" maximum:"4" doc:"Device pixel ratio"`
	Debug      bool    `query:"debug" doc:"Log per-feature detail"`
}

// ExportOutput is the raw artifact.
type ExportOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Pages              string `header:"X-Page-Count"`
	Body               []byte
}

// RegisterPlans registers plan storage and export routes.
func (h *APIHandler) RegisterPlans(api huma.API) {
	huma.Get(api, "/api/v1/plans", h.GetPlans, huma.OperationTags("plans"))
	huma.Get(api, "/api/v1/plans/{id}", h.GetPlan, huma.OperationTags("plans"))
	huma.Put(api, "/api/v1/plans/{id}", h.PutPlan, huma.OperationTags("plans"))
	huma.Delete(api, "/api/v1/plans/{id}", h.DeletePlan, huma.OperationTags("plans"))
	huma.Post(api, "/api/v1/plans/{id}/export", h.ExportPlan, huma.OperationTags("plans"))
}

func (h *APIHandler) GetPlans(ctx context.Context, input *struct{}) (*struct{ Body []service.PlanSummary }, error) {
	if h.svc.Plan == nil {
		return &struct{ Body []service.PlanSummary }{Body: []service.PlanSummary{}}, nil
	}
	plans, err := h.svc.Plan.List()
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list plans", err)
	}
	return &struct{ Body []service.PlanSummary }{Body: plans}, nil
}

func (h *APIHandler) GetPlan(ctx context.Context, input *PlanIDInput) (*PlanOutput, error) {
	p, err := h.plan(input.ID)
	if err != nil {
		return nil, err
	}
	return &PlanOutput{Body: p}, nil
}

// PutPlan stores a plan sent as JSON or YAML.
func (h *APIHandler) PutPlan(ctx context.Context, input *struct {
	PlanIDInput
	RawBody []byte
}) (*PlanOutput, error) {
	if h.svc.Plan == nil {
		return nil, huma.Error503ServiceUnavailable("plan service not available")
	}
	p, err := plan.Decode(input.RawBody)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	if err := h.svc.Plan.Put(input.ID, p); err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	h.publish("plans", "updated", input.ID)
	return &PlanOutput{Body: p}, nil
}

func (h *APIHandler) DeletePlan(ctx context.Context, input *PlanIDInput) (*struct{ Body MessageBody }, error) {
	if h.svc.Plan == nil {
		return nil, huma.Error503ServiceUnavailable("plan service not available")
	}
	if err := h.svc.Plan.Delete(input.ID); err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	h.publish("plans", "deleted", input.ID)
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Plan deleted"}}, nil
}

// ExportPlan renders a stored plan. Catalog layers fill in what the plan
// leaves out and layer sources are loaded before rendering.
func (h *APIHandler) ExportPlan(ctx context.Context, input *ExportInput) (*ExportOutput, error) {
	if h.svc.Exporter == nil {
		return nil, huma.Error503ServiceUnavailable("exporter not available")
	}
	p, err := h.plan(input.ID)
	if err != nil {
		return nil, err
	}
	if h.svc.Layer != nil {
		h.svc.Layer.Apply(p)
	}
	if h.svc.Source != nil {
		h.svc.Source.Resolve(ctx, p)
	}

	art, err := h.svc.Exporter.Export(ctx, p, export.Options{
		Format:            input.Format,
		Paper:             input.Paper,
		SuppressLegend:    !input.Legend,
		IncludeDimensions: input.Dimensions,
		IncludeSummary:    input.Summary,
		Width:             input.Width,
		Height:            input.Height,
		PixelRatio:        input.Ratio,
		Debug:             input.Debug,
	})
	if err != nil {
		return nil, exportError(err)
	}
	return &ExportOutput{
		ContentType:        art.ContentType,
		ContentDisposition: fmt.Sprintf(`attachment; filename="%s"`, art.Filename),
		Pages:              strconv.Itoa(art.Pages),
		Body:               art.Data,
	}, nil
}

func (h *APIHandler) plan(id string) (*plan.Plan, error) {
	if h.svc.Plan == nil {
		return nil, huma.Error503ServiceUnavailable("plan service not available")
	}
	p, err := h.svc.Plan.Get(id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return nil, huma.Error404NotFound(err.Error())
		}
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	return p, nil
}

// exportError maps export failures to HTTP errors.
func exportError(err error) error {
	switch {
	case errors.Is(err, export.ErrNoFocusGeometry), errors.Is(err, export.ErrUnknownFormat):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, export.ErrSurfaceNotReady), errors.Is(err, export.ErrInvalidCapture):
		return huma.Error503ServiceUnavailable(err.Error())
	default:
		return huma.Error500InternalServerError("export failed", err)
	}
}
