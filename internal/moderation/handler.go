package moderation

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opencatalog/catalog/internal/authz"
	"github.com/opencatalog/catalog/internal/platform/httpx"
	"github.com/opencatalog/catalog/internal/shared"
)

// HistoryReader lists the moderation log of a resource.
type HistoryReader interface {
	History(ctx context.Context, kind Kind, id uuid.UUID) ([]shared.ApprovalLog, error)
}

// Handler exposes moderator actions for every kind.
type Handler struct {
	logger  *slog.Logger
	machine *Machine
	history HistoryReader
}

// NewHandler constructs a Handler. history may be nil.
func NewHandler(logger *slog.Logger, machine *Machine, history HistoryReader) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, machine: machine, history: history}
}

// MountRoutes registers the /moderation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/{kind}/{id}/approve", h.transition(h.machine.Approve))
	r.Post("/{kind}/{id}/deny", h.transition(h.machine.Deny))
	r.Get("/{kind}/{id}/history", h.listHistory)
}

type recordView struct {
	Kind       Kind       `json:"kind"`
	ID         uuid.UUID  `json:"id"`
	State      State      `json:"state"`
	ApprovedAt *time.Time `json:"approvedAt,omitempty"`
	DeniedAt   *time.Time `json:"deniedAt,omitempty"`
	Version    int64      `json:"version"`
}

type historyEntry struct {
	Action  shared.ApprovalAction `json:"action"`
	ActorID uuid.UUID             `json:"actorId"`
	Note    string                `json:"note,omitempty"`
	At      string                `json:"at"`
}

func (h *Handler) transition(fn func(context.Context, authz.RoleContext, Kind, uuid.UUID) (Record, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, id, ok := target(w, r)
		if !ok {
			return
		}
		rec, err := fn(r.Context(), authz.FromContext(r.Context()), kind, id)
		if err != nil {
			if httpx.StatusFor(err) >= http.StatusInternalServerError {
				h.logger.Error("moderation transition", slog.String("kind", string(kind)), slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, recordView{
			Kind:       rec.Kind,
			ID:         rec.ID,
			State:      rec.Status.State(),
			ApprovedAt: rec.Status.ApprovedAt,
			DeniedAt:   rec.Status.DeniedAt,
			Version:    rec.Version,
		})
	}
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := target(w, r)
	if !ok {
		return
	}
	if !authz.CanApprove(authz.FromContext(r.Context())) {
		httpx.RespondError(w, shared.ErrForbidden)
		return
	}
	if h.history == nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	logs, err := h.history.History(r.Context(), kind, id)
	if err != nil {
		h.logger.Error("moderation history", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	items := make([]historyEntry, 0, len(logs))
	for _, l := range logs {
		items = append(items, historyEntry{Action: l.Action, ActorID: l.ActorID, Note: l.Note, At: l.At.UTC().Format(time.RFC3339)})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func target(w http.ResponseWriter, r *http.Request) (Kind, uuid.UUID, bool) {
	kind, err := ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return "", uuid.Nil, false
	}
	return kind, id, true
}
