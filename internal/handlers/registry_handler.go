package handlers

import (
	"net/http"

	"culturepass/internal/services"
	"culturepass/models"

	"github.com/pocketbase/pocketbase/core"
)

type RegistryHandler struct {
	registry *services.RegistryService
}

func NewRegistryHandler(registry *services.RegistryService) *RegistryHandler {
	return &RegistryHandler{registry: registry}
}

func (h *RegistryHandler) Lookup(e *core.RequestEvent) error {
	entry, err := h.registry.Lookup(e.Request.Context(), e.Request.PathValue("code"))
	if err != nil {
		return fail(e, "registryHandler.Lookup()", err)
	}
	return ok(e, http.StatusOK, entry)
}

func (h *RegistryHandler) Generate(e *core.RequestEvent) error {
	var body struct {
		TargetID   string `json:"targetId"`
		EntityType string `json:"entityType"`
	}
	if err := e.BindBody(&body); err != nil {
		return badRequest(e, err)
	}

	kind := models.EntityKind(body.EntityType)
	code, err := h.registry.Issue(e.Request.Context(), body.TargetID, kind)
	if err != nil {
		return fail(e, "registryHandler.Generate()", err)
	}
	return ok(e, http.StatusOK, map[string]any{
		"culturePassId": code,
		"targetId":      body.TargetID,
		"entityType":    kind,
	})
}

func (h *RegistryHandler) List(e *core.RequestEvent) error {
	entries, err := h.registry.List(e.Request.Context())
	if err != nil {
		return fail(e, "registryHandler.List()", err)
	}
	return ok(e, http.StatusOK, entries)
}
