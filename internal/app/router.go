package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atlascms/atlas/internal/auth"
	"github.com/atlascms/atlas/internal/events"
	"github.com/atlascms/atlas/internal/identity"
	"github.com/atlascms/atlas/internal/roles"
	"github.com/atlascms/atlas/internal/sessions"
	"github.com/atlascms/atlas/internal/users"
)

// RouterParams carries everything the HTTP surface needs.
type RouterParams struct {
	Config   *Config
	Logger   *slog.Logger
	Cookies  *auth.CookieManager
	Resolver IdentityResolver

	AuthHandler    *auth.Handler
	SessionHandler *sessions.Handler
	RoleHandler    *roles.Handler
	UserHandler    *users.Handler
	EventHandler   *events.Handler
	CacheHandler   *identity.AdminHandler
	MetricsHandler http.Handler
	MetricsMware   func(http.Handler) http.Handler
}

// NewRouter assembles the route tree. The event stream lives outside the
// timeout and compression stack; everything else goes through it.
func NewRouter(p RouterParams) chi.Router {
	r := chi.NewRouter()
	for _, mw := range BaseMiddlewares(p.Config, p.Logger, p.Cookies, p.Resolver, p.MetricsMware) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if p.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", p.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		for _, mw := range APIMiddlewares(p.Config) {
			r.Use(mw)
		}
		r.Route("/auth", p.AuthHandler.MountRoutes)
		r.Route("/api/sessions", p.SessionHandler.MountRoutes)
		r.Route("/api/roles", p.RoleHandler.MountRoutes)
		r.Route("/api/users", p.UserHandler.MountRoutes)
		r.Route("/api/admin/cache", p.CacheHandler.MountRoutes)
	})

	r.Route("/api/events", p.EventHandler.MountRoutes)

	return r
}
