// Package server assembles the HTTP routes and runs the listener.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rolzie-7/Bin-map/internal/core/health"
	middleware "github.com/rolzie-7/Bin-map/internal/core/middleware"
	"github.com/rolzie-7/Bin-map/internal/core/router"
	"github.com/rolzie-7/Bin-map/internal/present"
	"github.com/rolzie-7/Bin-map/internal/source"
)

type Deps struct {
	Logger  *slog.Logger
	Source  source.Source
	Home    router.HomeLoader
	MinZoom int
	// MapSessions serves /ws/map; nil leaves the route out.
	MapSessions  http.Handler
	Metrics      http.Handler
	MetricsPath  string
	ReadyChecks  []health.Check
	CORSOrigins  []string
	TitleStyle   present.TitleStyle
	ReadyTimeout time.Duration
}

func NewHandler(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(d.Logger))
	r.Use(middleware.Logging(d.Logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(d.CORSOrigins))

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.ReadyTimeout, d.ReadyChecks...))
	if d.Metrics != nil {
		path := d.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, d.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/home", router.Home(d.Home))
		r.Get("/bins", router.Bins(d.Logger, d.Source, d.MinZoom, d.TitleStyle))
	})
	if d.MapSessions != nil {
		r.Method(http.MethodGet, "/ws/map", d.MapSessions)
	}
	return r
}

// Run serves h on addr until ctx is done.
func Run(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
