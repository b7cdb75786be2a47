package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rolzie-7/Bin-map/internal/core/model"
	"github.com/rolzie-7/Bin-map/internal/core/observability"
	mylog "github.com/rolzie-7/Bin-map/internal/logger"
)

// RunFunc drives one session until the browser leaves or ctx is done.
type RunFunc func(ctx context.Context, s *Session) error

type Options struct {
	// APIKey is handed to the browser map loader; without it the map cannot
	// load and sessions only receive map_error.
	APIKey        string
	MinZoom       int
	InitialZoom   int
	DefaultCenter model.LatLng
	// IdleEventsPerSec caps settle events per session; 0 disables the cap.
	IdleEventsPerSec float64
	// AllowedOrigins limits the Origin header; empty allows any origin.
	AllowedOrigins []string
	Logger         *slog.Logger
}

type Handler struct {
	opts     Options
	run      RunFunc
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(opts Options, run RunFunc) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &Handler{
		opts:   opts,
		run:    run,
		logger: opts.Logger.With("component", "map_ws"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range h.opts.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "err", err)
		return
	}

	id := uuid.NewString()
	ctx := mylog.WithSession(r.Context(), id)
	initial := model.Viewport{Zoom: float64(h.opts.InitialZoom), Center: h.opts.DefaultCenter}
	s := newSession(ctx, id, conn, initial, h.opts.IdleEventsPerSec, h.logger)

	observability.SessionOpened()
	defer observability.SessionClosed()

	s.start()
	defer s.close()

	s.send(outbound{Type: msgLoading})
	if h.opts.APIKey == "" {
		h.logger.WarnContext(ctx, "map api key missing, refusing map session")
		s.send(outbound{Type: msgMapError, Message: mapErrorText})
		return
	}
	center, minZoom, zoom := h.opts.DefaultCenter, h.opts.MinZoom, h.opts.InitialZoom
	s.send(outbound{
		Type:      msgConfig,
		SessionID: id,
		APIKey:    h.opts.APIKey,
		MinZoom:   &minZoom,
		Center:    &center,
		Zoom:      &zoom,
	})

	h.logger.InfoContext(ctx, "map session opened")
	if err := h.run(s.ctx, s); err != nil {
		h.logger.WarnContext(ctx, "map session ended with error", "err", err)
		return
	}
	h.logger.InfoContext(ctx, "map session closed")
}
