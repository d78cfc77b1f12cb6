package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter returns the API handler.
//
//	GET /healthz           – liveness and agent counters (no authentication)
//	GET /metrics           – Prometheus metrics, when configured (no authentication)
//	GET /api/v1/findings   – paginated findings
//	GET /api/v1/findings/stream – live findings over WebSocket, when configured
//	GET /api/v1/audit      – verified freeze audit log
//
// A nil jwtCfg serves /api without authentication.
func NewRouter(srv *Server, jwtCfg *JWTConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealthz)
	if srv.metrics != nil {
		r.Get("/metrics", srv.metrics.ServeHTTP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if jwtCfg != nil {
			r.Use(JWTMiddleware(*jwtCfg))
		}
		r.Get("/findings", srv.handleGetFindings)
		r.Get("/audit", srv.handleGetAudit)
		if srv.stream != nil {
			r.Get("/findings/stream", srv.stream.ServeHTTP)
		}
	})
	return r
}
