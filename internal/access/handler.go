package access

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opencatalog/catalog/internal/authz"
	"github.com/opencatalog/catalog/internal/platform/httpx"
	"github.com/opencatalog/catalog/internal/shared"
)

// Handler exposes the access request endpoints.
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

// MountRoutes registers the /access-requests routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/deny", h.deny)
	r.Delete("/{id}", h.delete)
}

// Create serves POST /datasets/{id}/access-requests.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	datasetID, ok := pathID(w, r)
	if !ok {
		return
	}
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rc := authz.FromContext(r.Context())
	req, err := h.service.Create(r.Context(), rc.Principal(), datasetID, in)
	if err != nil {
		h.fail(w, "create access request", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.present(req))
}

// MyGrants serves GET /me/grants.
func (h *Handler) MyGrants(w http.ResponseWriter, r *http.Request) {
	rc := authz.FromContext(r.Context())
	if !rc.Authenticated() {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	grants, err := h.service.ActiveGrants(r.Context(), rc.Principal())
	if err != nil {
		h.fail(w, "list grants", err)
		return
	}
	items := make([]grantView, 0, len(grants))
	for _, g := range grants {
		items = append(items, grantView(g))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

// list returns the moderation queue to moderators and the caller's own
// requests to everyone else. ?mine=true forces the latter.
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	rc := authz.FromContext(r.Context())
	page := shared.PageRequestFromQuery(r.URL.Query())
	var (
		items []AccessRequest
		meta  shared.Pagination
		err   error
	)
	if authz.CanApprove(rc) && r.URL.Query().Get("mine") != "true" {
		items, meta, err = h.service.ListPending(r.Context(), rc, page)
	} else {
		items, meta, err = h.service.ListForRequester(r.Context(), rc, page)
	}
	if err != nil {
		h.fail(w, "list access requests", err)
		return
	}
	views := make([]requestView, 0, len(items))
	for _, req := range items {
		views = append(views, h.present(req))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": views, "pagination": meta})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, err := h.service.Get(r.Context(), authz.FromContext(r.Context()), id)
	if err != nil {
		h.fail(w, "get access request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.present(req))
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in ApproveInput
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &in); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	req, err := h.service.Approve(r.Context(), authz.FromContext(r.Context()), id, in.EndTime)
	if err != nil {
		h.fail(w, "approve access request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.present(req))
}

func (h *Handler) deny(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, err := h.service.Deny(r.Context(), authz.FromContext(r.Context()), id)
	if err != nil {
		h.fail(w, "deny access request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.present(req))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), authz.FromContext(r.Context()), id); err != nil {
		h.fail(w, "delete access request", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type requestView struct {
	AccessRequest
	Status    string `json:"status"`
	HasAccess bool   `json:"hasAccess"`
}

type grantView struct {
	DatasetID uuid.UUID  `json:"datasetId"`
	EndTime   *time.Time `json:"endTime"`
}

func (h *Handler) present(req AccessRequest) requestView {
	now := h.service.now()
	return requestView{AccessRequest: req, Status: req.Status(now), HasAccess: req.HasValidAccess(now)}
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
