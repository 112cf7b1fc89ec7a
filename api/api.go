// Package api implements the authentication endpoints consulted by the
// reverse proxy (/auth, /login, /logout) and the front end that feeds
// incoming requests to the worker pool.
package api

import (
	"log/slog"
	"net/netip"
	"os"
	"time"

	"github.com/jmcleod/totpauth/cookie"
	"github.com/jmcleod/totpauth/ratelimit"
	"github.com/jmcleod/totpauth/tenant"
	"github.com/jmcleod/totpauth/web"
)

// API holds everything the endpoint handlers need. All of it is read-only
// after New except the limiter, which synchronises itself.
type API struct {
	sites   *tenant.Directory
	cookies *cookie.Authenticator
	limiter ratelimit.Limiter
	pages   *web.Renderer

	trustedProxies []netip.Prefix
	now            func() time.Time

	logger  *slog.Logger
	alertFn AlertFunc
	audit   *auditLogger
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithAlertFunc registers a callback fired when login failures or rate
// limit hits spike.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// WithTrustedProxies lists the peers whose X-Forwarded-For, Forwarded,
// X-Real-IP and X-Forwarded-Proto headers are believed.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) {
		a.trustedProxies = prefixes
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *API) {
		a.now = now
	}
}

// New creates a new API instance.
func New(sites *tenant.Directory, cookies *cookie.Authenticator, limiter ratelimit.Limiter, pages *web.Renderer, opts ...Option) *API {
	a := &API{
		sites:   sites,
		cookies: cookies,
		limiter: limiter,
		pages:   pages,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	a.audit = newAuditLogger(a.logger, a.now)
	if a.alertFn != nil {
		a.audit.metrics = newMetricsCollector(a.alertFn, a.now)
	}
	return a
}
