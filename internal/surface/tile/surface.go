// Package tile is a headless map surface. It keeps a center, zoom and screen
// size and derives the visible bounds with web-mercator tile math, the way a
// native map widget does.
package tile

import (
	"context"
	"image"
	"log/slog"
	"slices"
	"sync"

	"github.com/rolzie-7/Bin-map/internal/core/model"
	"github.com/rolzie-7/Bin-map/internal/present"
	"github.com/rolzie-7/Bin-map/internal/viewport"
)

const eventBuffer = 64

type Options struct {
	Center model.LatLng
	Zoom   int
	// Screen is the viewport size in pixels; 1080x1920 when empty.
	Screen image.Point
	Logger *slog.Logger
}

type Surface struct {
	logger *slog.Logger
	screen image.Point
	init   model.Viewport

	mu      sync.Mutex
	closed  bool
	events  chan viewport.Event
	center  model.LatLng
	zoom    float64
	markers []model.Marker
	panel   present.PanelState
	updates chan struct{}
}

var _ viewport.Surface = (*Surface)(nil)

func New(opts Options) *Surface {
	if opts.Screen.X <= 0 || opts.Screen.Y <= 0 {
		opts.Screen = image.Pt(1080, 1920)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Surface{
		logger:  opts.Logger.With("component", "tile_surface"),
		screen:  opts.Screen,
		events:  make(chan viewport.Event, eventBuffer),
		center:  opts.Center,
		zoom:    float64(opts.Zoom),
		updates: make(chan struct{}, 1),
	}
	s.init = s.viewportLocked()
	return s
}

func (s *Surface) Events() <-chan viewport.Event { return s.events }

func (s *Surface) InitialViewport() model.Viewport { return s.init }

// Viewport is what the surface currently shows.
func (s *Surface) Viewport() model.Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewportLocked()
}

func (s *Surface) viewportLocked() model.Viewport {
	b := BoundsAt(s.center, s.zoom, s.screen)
	return model.Viewport{Zoom: s.zoom, Center: s.center, Bounds: &b}
}

// Ready reports the first render.
func (s *Surface) Ready() { s.emit(viewport.ReadyEvent{}) }

// MoveTo pans and zooms, then reports the settled viewport.
func (s *Surface) MoveTo(center model.LatLng, zoom float64) {
	s.mu.Lock()
	s.center, s.zoom = center, zoom
	vp := s.viewportLocked()
	s.mu.Unlock()
	s.emit(viewport.IdleEvent{Viewport: vp})
}

func (s *Surface) Tap(binID string) { s.emit(viewport.TapEvent{BinID: binID}) }

func (s *Surface) Dismiss() { s.emit(viewport.DismissEvent{}) }

// Close ends the session; the controller stops once it drains the events.
func (s *Surface) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

func (s *Surface) emit(ev viewport.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event buffer full, dropping event")
	}
}

func (s *Surface) SetMarkers(markers []model.Marker) {
	s.mu.Lock()
	s.markers = slices.Clone(markers)
	s.mu.Unlock()
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Recenter moves the camera; like any camera move it settles with an idle event.
func (s *Surface) Recenter(p model.LatLng, zoom int) {
	s.MoveTo(p, float64(zoom))
}

func (s *Surface) ShowPanel(st present.PanelState) {
	s.mu.Lock()
	s.panel = st
	s.mu.Unlock()
}

func (s *Surface) Markers() []model.Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.markers)
}

func (s *Surface) Panel() present.PanelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panel
}

// WaitMarkers blocks until the next marker update or ctx is done, and
// returns the markers shown at that point.
func (s *Surface) WaitMarkers(ctx context.Context) ([]model.Marker, error) {
	select {
	case <-s.updates:
		return s.Markers(), nil
	case <-ctx.Done():
		return s.Markers(), ctx.Err()
	}
}

// Drain discards a pending marker notification.
func (s *Surface) Drain() {
	select {
	case <-s.updates:
	default:
	}
}
