package auth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/atlascms/atlas/internal/platform/httpx"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	cookies   *CookieManager
	validator *validator.Validate

	// onLoginFailure feeds the failed-login metric, may be nil.
	onLoginFailure func()
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, cookies *CookieManager, onLoginFailure func()) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		cookies:        cookies,
		validator:      validator.New(),
		onLoginFailure: onLoginFailure,
	}
}

// MountRoutes registers auth routes. Login is rate limited by IP against
// brute forcing.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))).
		Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type loginResponse struct {
	UserID    int64     `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "email and password are required")
		return
	}

	sess, user, err := h.service.Login(r.Context(), req.Email, req.Password, r.RemoteAddr, r.UserAgent())
	if err != nil {
		if h.onLoginFailure != nil {
			h.onLoginFailure()
		}
		httpx.RespondError(w, err)
		return
	}

	h.cookies.Issue(w, sess.Token, sess.ExpiresAt)
	httpx.JSON(w, http.StatusOK, loginResponse{
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.RoleName,
		ExpiresAt: sess.ExpiresAt,
	})
}

type logoutRequest struct {
	AllDevices bool `json:"all_devices"`
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	_ = httpx.DecodeJSON(r, &req)

	token := h.cookies.Read(r)
	if err := h.service.Logout(r.Context(), token, req.AllDevices); err != nil {
		if h.logger != nil {
			h.logger.Warn("logout", slog.Any("error", err))
		}
		// The session rows may still be live; the client must see the
		// failure. The cookie is cleared regardless so the browser drops
		// the token either way.
		h.cookies.Clear(w)
		httpx.RespondError(w, err)
		return
	}
	// The cookie is cleared even when no session existed; clearing is
	// idempotent by contract.
	h.cookies.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}
