package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/atlascms/atlas/internal/identity"
	"github.com/atlascms/atlas/internal/shared"
)

// TokenReader extracts the session token from an incoming request.
type TokenReader interface {
	Read(r *http.Request) string
}

// IdentityResolver turns a raw token into an Identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (*identity.Identity, error)
}

// ResolveIdentity attaches the caller's Identity to the request context.
// An unresolvable token leaves the context anonymous; route guards decide
// whether that is acceptable.
func ResolveIdentity(logger *slog.Logger, cookies TokenReader, resolver IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := cookies.Read(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			id, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				if !errors.Is(err, shared.ErrUnauthenticated) && logger != nil {
					logger.Warn("identity resolution failed", slog.Any("error", err))
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.ContextWith(r.Context(), id)))
		})
	}
}

// SecureHeaders applies the standard security headers.
func SecureHeaders(isProduction bool) func(http.Handler) http.Handler {
	sec := secure.New(secure.Options{
		FrameDeny:            true,
		ContentTypeNosniff:   true,
		BrowserXssFilter:     true,
		ReferrerPolicy:       "strict-origin-when-cross-origin",
		SSLRedirect:          false,
		IsDevelopment:        !isProduction,
		STSSeconds:           31536000,
		STSIncludeSubdomains: true,
	})
	return sec.Handler
}

// BaseMiddlewares is the stack shared by every route, streaming included.
func BaseMiddlewares(cfg *Config, logger *slog.Logger, cookies TokenReader, resolver IdentityResolver, metrics func(http.Handler) http.Handler) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		SecureHeaders(cfg.IsProduction()),
	}
	if metrics != nil {
		stack = append(stack, metrics)
	}
	stack = append(stack, ResolveIdentity(logger, cookies, resolver))
	return stack
}

// APIMiddlewares adds the request-scoped limits that long-lived streams
// must not inherit.
func APIMiddlewares(cfg *Config) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		middleware.Timeout(cfg.AppRequestTimeout),
		middleware.Compress(5),
		httprate.Limit(300, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
	}
}
