package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-siteplan/internal/humastar"
	"github.com/joeblew999/plat-siteplan/internal/service"
)

// RegisterEvents registers the Datastar event stream.
func (h *APIHandler) RegisterEvents(api huma.API) {
	huma.Get(api, "/api/v1/exports/events", h.Events, huma.OperationTags("plans"))
}

// Events streams bus events until the client disconnects. Export events
// also patch the exportStatus signal.
func (h *APIHandler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	bus := h.svc.Bus
	if bus == nil {
		bus = service.DefaultBus
	}
	return humastar.Stream(func(sse humastar.SSE) {
		ch := bus.Subscribe()
		defer bus.Unsubscribe(ch)

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-ch:
				if ev.Resource == "exports" {
					sse.Signals(map[string]any{
						"exportStatus": ev.Action,
						"exportPlan":   ev.ID,
					})
				}
				sse.Event("resource-changed", map[string]any{
					"resource": ev.Resource,
					"action":   ev.Action,
					"id":       ev.ID,
					"detail":   ev.Detail,
				})
			}
		}
	}), nil
}
