package identity

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atlascms/atlas/internal/platform/httpx"
)

// AdminHandler exposes the operational cache-control surface used for
// recovery after bulk role changes.
type AdminHandler struct {
	logger      *slog.Logger
	cache       *Cache
	invalidator Invalidator
	guard       func(permission string) func(http.Handler) http.Handler
}

// NewAdminHandler builds an AdminHandler. The guard is injected so this
// package stays below the authorization layer.
func NewAdminHandler(logger *slog.Logger, cache *Cache, invalidator Invalidator, guard func(string) func(http.Handler) http.Handler) *AdminHandler {
	return &AdminHandler{logger: logger, cache: cache, invalidator: invalidator, guard: guard}
}

// MountRoutes registers cache administration routes.
func (h *AdminHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard("cache.manage"))
		r.Get("/stats", h.stats)
		r.Post("/invalidate", h.invalidate)
	})
}

func (h *AdminHandler) stats(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.cache.Stats())
}

type invalidateRequest struct {
	Scope  string `json:"scope"`
	UserID int64  `json:"user_id"`
}

func (h *AdminHandler) invalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	switch req.Scope {
	case "user":
		if req.UserID <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "user_id required for scope=user")
			return
		}
		h.invalidator.InvalidateUser(r.Context(), req.UserID)
	case "all", "permissions":
		// Role-to-user fan-out is not tracked, so a permission-wide flush
		// falls back to the full flush.
		h.invalidator.InvalidateAll(r.Context())
	default:
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "scope must be all, user or permissions")
		return
	}
	if h.logger != nil {
		actor := FromContext(r.Context())
		if actor != nil {
			h.logger.Info("cache invalidated", slog.String("scope", req.Scope), slog.Int64("by", actor.UserID))
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
