package showcases

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opencatalog/catalog/internal/authz"
	"github.com/opencatalog/catalog/internal/platform/httpx"
	"github.com/opencatalog/catalog/internal/shared"
)

// Handler exposes showcase endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers showcase routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.update)
	r.Delete("/{id}", h.delete)
}

// ListForDataset serves GET /datasets/{id}/showcases.
func (h *Handler) ListForDataset(w http.ResponseWriter, r *http.Request) {
	datasetID, ok := pathID(w, r)
	if !ok {
		return
	}
	page := shared.PageRequestFromQuery(r.URL.Query())
	items, meta, err := h.service.ListForDataset(r.Context(), authz.FromContext(r.Context()), datasetID, page)
	if err != nil {
		h.fail(w, "list showcases", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "pagination": meta})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	view, err := h.service.Create(r.Context(), authz.FromContext(r.Context()), in)
	if err != nil {
		h.fail(w, "create showcase", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, view)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	view, err := h.service.Get(r.Context(), authz.FromContext(r.Context()), id)
	if err != nil {
		h.fail(w, "get showcase", err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	version, err := httpx.IfMatchVersion(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in UpdateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	view, err := h.service.Update(r.Context(), authz.FromContext(r.Context()), id, version, in)
	if err != nil {
		h.fail(w, "update showcase", err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), authz.FromContext(r.Context()), id); err != nil {
		h.fail(w, "delete showcase", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return uuid.Nil, false
	}
	return id, true
}
