package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/italolelis/dgi_archiver/internal/config"
	"github.com/italolelis/dgi_archiver/internal/logctx"
)

// healthResponse is the body of /healthz.
type healthResponse struct {
	Status   string     `json:"status"`
	Schedule string     `json:"schedule"`
	NextRun  time.Time  `json:"next_run"`
	LastRun  *runStatus `json:"last_run,omitempty"`
}

func newRouter(a *archiver, s *scheduler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:   "ok",
			Schedule: s.spec,
			NextRun:  s.next(time.Now().In(a.loc)),
			LastRun:  a.last.Load(),
		}

		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to write health response", "err", err)
		}
	})
	r.Method(http.MethodGet, "/metrics", a.telemetry.Handler())

	return r
}

func newServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      handler,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
