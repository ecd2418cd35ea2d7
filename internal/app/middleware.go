package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/unrolled/secure"

	"github.com/opencatalog/catalog/internal/authz"
	"github.com/opencatalog/catalog/internal/platform/httpx"
	"github.com/opencatalog/catalog/internal/shared"
)

// RoleContextBuilder resolves the role context of a principal;
// *authz.Builder satisfies it.
type RoleContextBuilder interface {
	Build(ctx context.Context, principal uuid.UUID) (authz.RoleContext, error)
}

// BuildObserver counts role context constructions.
type BuildObserver interface {
	ObserveContextBuild(outcome string)
}

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	Builder        RoleContextBuilder
	Observer       BuildObserver
}

// MiddlewareStack installs the catalog middleware chain. The role context is
// built once per request after the session principal is known.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	requests, window := 120, time.Minute
	if cfg.Config != nil {
		if cfg.Config.AppRequestTimeout > 0 {
			timeout = cfg.Config.AppRequestTimeout
		}
		if cfg.Config.RateLimitRequests > 0 && cfg.Config.RateLimitWindow > 0 {
			requests, window = cfg.Config.RateLimitRequests, cfg.Config.RateLimitWindow
		}
	}

	return []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					logger.Warn("secure headers blocked request", slog.Any("error", err))
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		httprate.Limit(requests, window, httprate.WithKeyFuncs(httprate.KeyByIP)),
		SessionMiddleware(cfg.SessionManager, logger),
		RoleContextMiddleware(cfg.Builder, cfg.Observer, logger),
	}
}

// SessionMiddleware loads the session and stores its principal in the request
// context. Requests without a session continue anonymously.
func SessionMiddleware(sessions *shared.SessionManager, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sessions == nil {
				next.ServeHTTP(w, r)
				return
			}
			sess, err := sessions.Load(r.Context(), r)
			if err != nil {
				logger.Error("load session", slog.Any("error", err))
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			ctx := shared.ContextWithSession(r.Context(), sess)
			ctx = shared.ContextWithPrincipal(ctx, sess.Principal())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RoleContextMiddleware builds the request's RoleContext. A failed build is a
// 500; it never falls back to an anonymous context.
func RoleContextMiddleware(builder RoleContextBuilder, observer BuildObserver, logger *slog.Logger) func(http.Handler) http.Handler {
	observe := func(outcome string) {
		if observer != nil {
			observer.ObserveContextBuild(outcome)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := shared.PrincipalFromContext(r.Context())
			if builder == nil {
				next.ServeHTTP(w, r.WithContext(authz.WithRoleContext(r.Context(), authz.Anonymous())))
				return
			}
			rc, err := builder.Build(r.Context(), principal)
			if err != nil {
				observe("error")
				logger.Error("build role context", slog.String("principal", principal.String()), slog.Any("error", err))
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			switch {
			case !rc.Authenticated():
				observe("anonymous")
			case rc.IsAdmin():
				observe("admin")
			default:
				observe("user")
			}
			next.ServeHTTP(w, r.WithContext(authz.WithRoleContext(r.Context(), rc)))
		})
	}
}

// LoginRateLimit returns the stricter per-IP limiter for credential checks.
func LoginRateLimit(cfg *Config) func(http.Handler) http.Handler {
	limit := 10
	if cfg != nil && cfg.LoginRateLimit > 0 {
		limit = cfg.LoginRateLimit
	}
	return httprate.Limit(limit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
}
