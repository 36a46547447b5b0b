package sessions

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/atlascms/atlas/internal/authz"
	"github.com/atlascms/atlas/internal/identity"
	"github.com/atlascms/atlas/internal/platform/httpx"
)

// Handler wires the multi-device session endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     *authz.Guard
	readToken func(*http.Request) string
}

// NewHandler constructs a Handler. readToken extracts the caller's current
// session token from the request cookie.
func NewHandler(logger *slog.Logger, service *Service, guard *authz.Guard, readToken func(*http.Request) string) *Handler {
	return &Handler{logger: logger, service: service, guard: guard, readToken: readToken}
}

// MountRoutes registers session routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listOwn)
	r.Delete("/{id}", h.revoke)
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(authz.PermSessionsView))
		r.Get("/user/{id}", h.listForUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(authz.PermSessionsRevoke))
		r.Post("/cleanup", h.cleanup)
	})
}

func (h *Handler) listOwn(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())
	if actor == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	list, err := h.service.List(r.Context(), actor.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (h *Handler) listForUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	list, err := h.service.List(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sessions": list})
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())
	if actor == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	sessionID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid session id")
		return
	}
	var req revokeRequest
	_ = httpx.DecodeJSON(r, &req)

	if err := h.service.Revoke(r.Context(), actor, h.readToken(r), sessionID, req.Reason); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.service.CleanupExpired(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}
