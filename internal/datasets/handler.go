package datasets

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opencatalog/catalog/internal/authz"
	"github.com/opencatalog/catalog/internal/platform/httpx"
	"github.com/opencatalog/catalog/internal/shared"
)

// Handler exposes dataset endpoints.
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

// MountRoutes registers dataset routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.update)
	r.Delete("/{id}", h.delete)
	r.Post("/{id}/verify-feed", h.verifyFeed)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Kind:  Kind(q.Get("kind")),
		Query: q.Get("q"),
		Page:  shared.PageRequestFromQuery(q),
	}
	if filter.Kind != "" && filter.Kind != KindOpen && filter.Kind != KindControlled {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "kind must be open or controlled")
		return
	}
	for key, dst := range map[string]*uuid.UUID{"tag": &filter.TagID, "owner": &filter.OwnerID} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", key+" must be an id")
			return
		}
		*dst = id
	}
	items, meta, err := h.service.List(r.Context(), authz.FromContext(r.Context()), filter)
	if err != nil {
		h.fail(w, "list datasets", err)
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
		h.fail(w, "create dataset", err)
		return
	}
	respondView(w, http.StatusCreated, view)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := datasetID(w, r)
	if !ok {
		return
	}
	view, err := h.service.Get(r.Context(), authz.FromContext(r.Context()), id)
	if err != nil {
		h.fail(w, "get dataset", err)
		return
	}
	respondView(w, http.StatusOK, view)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := datasetID(w, r)
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
		h.fail(w, "update dataset", err)
		return
	}
	respondView(w, http.StatusOK, view)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := datasetID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), authz.FromContext(r.Context()), id); err != nil {
		h.fail(w, "delete dataset", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) verifyFeed(w http.ResponseWriter, r *http.Request) {
	id, ok := datasetID(w, r)
	if !ok {
		return
	}
	view, err := h.service.VerifyFeed(r.Context(), authz.FromContext(r.Context()), id)
	if err != nil {
		h.fail(w, "verify dataset feed", err)
		return
	}
	respondView(w, http.StatusOK, view)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func datasetID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return uuid.Nil, false
	}
	return id, true
}

func respondView(w http.ResponseWriter, status int, view View) {
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(view.Version, 10)))
	httpx.JSON(w, status, view)
}
