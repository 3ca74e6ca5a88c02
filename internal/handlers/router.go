package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/fulfillment/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type routeGroup struct {
	path        string
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

const (
	groupOrders   = "orders"
	groupAdmin    = "admin"
	groupWebhooks = "webhooks"
	groupInternal = "internal"
)

// groupOrder is the mount order of the API groups.
var groupOrder = []string{groupOrders, groupAdmin, groupWebhooks, groupInternal}

type routerConfig struct {
	basePath     string
	timeout      time.Duration
	maxBodyBytes int64
	middlewares  []func(http.Handler) http.Handler
	health       *HealthHandlers
	groups       map[string]*routeGroup
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix    = "/api/v1"
	defaultTimeout      = 60 * time.Second
	defaultMaxBodyBytes = 1 << 20
	errorNotFoundCode   = "route_not_found"
)

func (cfg *routerConfig) group(name string) *routeGroup {
	g, ok := cfg.groups[name]
	if !ok {
		g = &routeGroup{path: "/" + name}
		cfg.groups[name] = g
	}
	return g
}

// NewRouter builds the chi router: health probes at the root and the order, admin, webhook and
// internal groups under /api/v1. Groups without a registrar answer 501.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath:     defaultAPIPrefix,
		timeout:      defaultTimeout,
		maxBodyBytes: defaultMaxBodyBytes,
		groups:       make(map[string]*routeGroup, len(groupOrder)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	if cfg.timeout > 0 {
		r.Use(middleware.Timeout(cfg.timeout))
	}
	if cfg.maxBodyBytes > 0 {
		r.Use(middleware.RequestSize(cfg.maxBodyBytes))
	}
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, name := range groupOrder {
			g := cfg.group(name)
			api.Route(g.path, func(sub chi.Router) {
				for _, mw := range g.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if g.registrar != nil {
					g.registrar(sub)
					return
				}
				registerNotImplemented(sub, name)
			})
		}
	})

	return r
}

// WithMiddlewares appends global middleware after the request id, timeout and body limit.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithRequestTimeout overrides the per-request deadline. Zero disables it.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *routerConfig) {
		if d >= 0 {
			cfg.timeout = d
		}
	}
}

// WithMaxBodyBytes caps request bodies. Zero disables the cap.
func WithMaxBodyBytes(n int64) Option {
	return func(cfg *routerConfig) {
		if n >= 0 {
			cfg.maxBodyBytes = n
		}
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithOrderRoutes mounts customer order endpoints at /orders.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return withGroupRoutes(groupOrders, reg)
}

// WithAdminRoutes mounts staff endpoints at /admin.
func WithAdminRoutes(reg RouteRegistrar) Option {
	return withGroupRoutes(groupAdmin, reg)
}

// WithWebhookRoutes mounts carrier and payment callbacks at /webhooks.
func WithWebhookRoutes(reg RouteRegistrar) Option {
	return withGroupRoutes(groupWebhooks, reg)
}

// WithWebhookMiddlewares adds middleware to the /webhooks group only.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares(groupWebhooks, mw)
}

// WithInternalRoutes mounts scheduler endpoints at /internal.
func WithInternalRoutes(reg RouteRegistrar) Option {
	return withGroupRoutes(groupInternal, reg)
}

// WithInternalMiddlewares adds middleware to the /internal group only.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares(groupInternal, mw)
}

func withGroupRoutes(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.group(name).registrar = reg
	}
}

func withGroupMiddlewares(name string, mw []func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group(name)
		g.middlewares = append(g.middlewares, mw...)
	}
}

func registerNotImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
