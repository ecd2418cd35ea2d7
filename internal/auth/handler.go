package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opencatalog/catalog/internal/platform/httpx"
	"github.com/opencatalog/catalog/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, sessionManager: sessions}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form loginForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := shared.ValidateStruct(form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.Authenticate(r.Context(), form.Email, form.Password)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if old := shared.SessionFromContext(r.Context()); old != nil {
		if err := h.sessionManager.Destroy(r.Context(), w, old); err != nil {
			h.logger.Warn("drop previous session", slog.Any("error", err))
		}
	}
	if _, err := h.sessionManager.Issue(r.Context(), w, user.ID); err != nil {
		h.logger.Error("issue session", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if err := h.sessionManager.Destroy(r.Context(), w, sess); err != nil && !errors.Is(err, shared.ErrNotFound) {
		h.logger.Error("destroy session", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
