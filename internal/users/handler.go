package users

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opencatalog/catalog/internal/authz"
	"github.com/opencatalog/catalog/internal/platform/httpx"
	"github.com/opencatalog/catalog/internal/shared"
)

// Handler manages user management endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listUsers)
	r.Put("/{id}/admin", h.setAdmin)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	page := shared.PageRequestFromQuery(r.URL.Query())
	items, meta, err := h.service.ListUsers(r.Context(), authz.FromContext(r.Context()), page)
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "pagination": meta})
}

func (h *Handler) setAdmin(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	var in SetAdminInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := shared.ValidateStruct(in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	u, err := h.service.SetAdmin(r.Context(), authz.FromContext(r.Context()), id, *in.Admin)
	if err != nil {
		h.fail(w, "set admin", err)
		return
	}
	httpx.JSON(w, http.StatusOK, u)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
