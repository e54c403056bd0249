// Package api serves the dispatch endpoints over HTTP.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatch/internal/dispatch"
	"github.com/sungwon/mail-dispatch/internal/message"
)

// RouterConfig holds the dependencies of NewRouter.
type RouterConfig struct {
	Dispatcher Dispatcher
	Health     HealthReporter
	Defaults   message.Defaults
	// TrustForwardedFor takes the caller IP and scheme from proxy headers.
	TrustForwardedFor bool
	Log               zerolog.Logger
}

// NewRouter creates a chi.Mux with all routes, middleware, and handlers configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CorrelationIDMiddleware)
	if cfg.TrustForwardedFor {
		r.Use(middleware.RealIP)
	}
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(RecoverMiddleware(cfg.Log))

	// Health and metrics
	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(cfg.Health))
	r.Handle("/metrics", promhttp.Handler())

	opts := SendOptions{Defaults: cfg.Defaults, TrustForwardedProto: cfg.TrustForwardedFor}

	// Method checks happen in the handlers so callers get the same error
	// body for every rejected method.
	r.HandleFunc("/api/SendMailViaREST", SendMailHandler(cfg.Dispatcher, dispatch.TransportREST, opts))
	r.HandleFunc("/api/SendMailViaSMTP", SendMailHandler(cfg.Dispatcher, dispatch.TransportACSSMTP, opts))
	r.HandleFunc("/api/SendMailViaEXCH", SendMailHandler(cfg.Dispatcher, dispatch.TransportExchange, opts))
	r.HandleFunc("/api/Unsubscribe", UnsubscribeHandler(cfg.Dispatcher))

	return r
}
