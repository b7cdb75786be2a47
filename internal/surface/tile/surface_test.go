package tile

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/rolzie-7/Bin-map/internal/core/model"
	"github.com/rolzie-7/Bin-map/internal/viewport"
)

type staticSource struct {
	bins    []model.Bin
	queried chan model.Bounds
}

func (s *staticSource) SelectAll(context.Context) ([]model.Bin, error) { return s.bins, nil }

func (s *staticSource) SelectInBounds(_ context.Context, b model.Bounds) ([]model.Bin, error) {
	select {
	case s.queried <- b:
	default:
	}
	var out []model.Bin
	for _, bin := range s.bins {
		if p, ok := bin.Position(); ok && b.Contains(p) {
			out = append(out, bin)
		}
	}
	return out, nil
}

type deniedLocator struct{}

func (deniedLocator) CurrentPosition(context.Context, viewport.LocateOptions) (model.LatLng, error) {
	return model.LatLng{}, errors.New("permission denied")
}

func bin(id string, lat, lng float64) model.Bin {
	return model.Bin{ID: id, Lat: &lat, Lng: &lng, IsRecycle: true}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func run(t *testing.T, src *staticSource, s *Surface, opts viewport.Options) {
	t.Helper()
	opts.Logger = quiet()
	ctrl := viewport.New(src, s, opts)
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(context.Background()) }()
	t.Cleanup(func() {
		s.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Errorf("controller did not stop after Close")
		}
	})
}

func wait(t *testing.T, s *Surface) []model.Marker {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m, err := s.WaitMarkers(ctx)
	if err != nil {
		t.Fatalf("no marker update: %v", err)
	}
	return m
}

func TestSession_LocationDeniedQueriesDefaultCenter(t *testing.T) {
	src := &staticSource{
		bins:    []model.Bin{bin("near", 51.498, -0.178), bin("far", 51.60, -0.30)},
		queried: make(chan model.Bounds, 4),
	}
	s := New(Options{Center: kensington, Zoom: 14, Screen: image.Pt(1080, 1920), Logger: quiet()})
	run(t, src, s, viewport.Options{MinZoom: 14, InitialZoom: 14, Locator: deniedLocator{}})

	s.Ready()
	markers := wait(t, s)
	if len(markers) != 1 || markers[0].BinID != "near" {
		t.Fatalf("markers=%v want [near]", markers)
	}
	got := <-src.queried
	if want := BoundsAt(kensington, 14, image.Pt(1080, 1920)); got != want {
		t.Fatalf("queried %s want %s", got, want)
	}
	if vp := s.Viewport(); vp.Center != kensington || vp.Zoom != 14 {
		t.Fatalf("camera moved to %s@%v", vp.Center, vp.Zoom)
	}
}

func TestSession_ZoomOutClearsMarkers(t *testing.T) {
	src := &staticSource{bins: []model.Bin{bin("near", 51.498, -0.178)}, queried: make(chan model.Bounds, 4)}
	s := New(Options{Center: kensington, Zoom: 15, Logger: quiet()})
	run(t, src, s, viewport.Options{MinZoom: 14, InitialZoom: 15})

	s.Ready()
	if m := wait(t, s); len(m) != 1 {
		t.Fatalf("markers=%v", m)
	}
	s.MoveTo(kensington, 12)
	if m := wait(t, s); len(m) != 0 {
		t.Fatalf("markers after zoom out=%v want none", m)
	}
}

func TestSession_RecenterSettlesWithQuery(t *testing.T) {
	s := New(Options{Center: kensington, Zoom: 14, Logger: quiet()})
	target := model.LatLng{Lat: 51.51, Lng: -0.12}
	s.Recenter(target, 16)

	ev := <-s.Events()
	idle, ok := ev.(viewport.IdleEvent)
	if !ok {
		t.Fatalf("event=%T want IdleEvent", ev)
	}
	if idle.Viewport.Center != target || idle.Viewport.Zoom != 16 || !idle.Viewport.Bounds.Contains(target) {
		t.Fatalf("idle viewport %+v", idle.Viewport)
	}
	if s.InitialViewport().Center != kensington {
		t.Fatalf("initial viewport must not follow the camera")
	}
}

func TestSession_TapOpensPanel(t *testing.T) {
	src := &staticSource{queried: make(chan model.Bounds, 4)}
	s := New(Options{Center: kensington, Zoom: 14, Logger: quiet()})
	run(t, src, s, viewport.Options{})

	s.Ready()
	wait(t, s)
	s.Tap("near")
	deadline := time.Now().Add(2 * time.Second)
	for !s.Panel().Visible {
		if time.Now().After(deadline) {
			t.Fatalf("panel never opened")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if s.Panel().Capacity != "full" {
		t.Fatalf("capacity=%q", s.Panel().Capacity)
	}
}

func TestClose_IsIdempotentAndDropsLateEvents(t *testing.T) {
	s := New(Options{Center: kensington, Zoom: 14})
	s.Close()
	s.Close()
	s.Ready()
	if _, ok := <-s.Events(); ok {
		t.Fatalf("events channel should be closed")
	}
}
