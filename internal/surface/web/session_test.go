package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rolzie-7/Bin-map/internal/core/model"
	"github.com/rolzie-7/Bin-map/internal/viewport"
)

var (
	center = model.LatLng{Lat: 51.4979053, Lng: -0.1784239}
	view   = model.Bounds{
		SW: model.LatLng{Lat: 51.49, Lng: -0.19},
		NE: model.LatLng{Lat: 51.51, Lng: -0.17},
	}
)

type staticSource struct{ bins []model.Bin }

func (s staticSource) SelectAll(context.Context) ([]model.Bin, error) { return s.bins, nil }

func (s staticSource) SelectInBounds(_ context.Context, b model.Bounds) ([]model.Bin, error) {
	var out []model.Bin
	for _, bin := range s.bins {
		if p, ok := bin.Position(); ok && b.Contains(p) {
			out = append(out, bin)
		}
	}
	return out, nil
}

func bin(id string, lat, lng float64) model.Bin {
	return model.Bin{ID: id, Lat: &lat, Lng: &lng, IsFoodWaste: true, Desc: "Bin " + id}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type serverOpts struct {
	apiKey string
	locate bool
}

func startServer(t *testing.T, so serverOpts) *websocket.Conn {
	t.Helper()
	src := staticSource{bins: []model.Bin{bin("1", 51.50, -0.18), bin("2", 51.60, -0.18)}}
	h := NewHandler(Options{
		APIKey:        so.apiKey,
		MinZoom:       14,
		InitialZoom:   14,
		DefaultCenter: center,
		Logger:        quiet(),
	}, func(ctx context.Context, s *Session) error {
		opts := viewport.Options{MinZoom: 14, InitialZoom: 14, Logger: quiet()}
		if so.locate {
			opts.Locator = s
		}
		return viewport.New(src, s, opts).Run(ctx)
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type message struct {
	Type    string         `json:"type"`
	APIKey  string         `json:"api_key"`
	Center  *model.LatLng  `json:"center"`
	Zoom    int            `json:"zoom"`
	Markers []model.Marker `json:"markers"`
	Panel   *struct {
		Visible  bool   `json:"visible"`
		Capacity string `json:"capacity"`
	} `json:"panel"`
	Message      string `json:"message"`
	HighAccuracy bool   `json:"high_accuracy"`
	TimeoutMS    int64  `json:"timeout_ms"`
}

func read(t *testing.T, conn *websocket.Conn) message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m message
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

// readUntil collects messages up to and including the first of type want.
func readUntil(t *testing.T, conn *websocket.Conn, want string) []message {
	t.Helper()
	var seen []message
	for {
		m := read(t, conn)
		seen = append(seen, m)
		if m.Type == want {
			return seen
		}
	}
}

func write(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readyMsg() map[string]any {
	return map[string]any{"type": "ready", "zoom": 15, "center": center, "bounds": view}
}

func TestHandler_MissingAPIKeySendsMapError(t *testing.T) {
	conn := startServer(t, serverOpts{})

	if m := read(t, conn); m.Type != msgLoading {
		t.Fatalf("first message %q want loading", m.Type)
	}
	m := read(t, conn)
	if m.Type != msgMapError || m.Message != "Error loading map" {
		t.Fatalf("got %+v want map_error", m)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected the server to close the session")
	}
}

func TestHandler_ReadyQueriesVisibleBins(t *testing.T) {
	conn := startServer(t, serverOpts{apiKey: "k"})

	if m := read(t, conn); m.Type != msgLoading {
		t.Fatalf("first message %q want loading", m.Type)
	}
	cfg := read(t, conn)
	if cfg.Type != msgConfig || cfg.APIKey != "k" || cfg.Zoom != 14 || *cfg.Center != center {
		t.Fatalf("config=%+v", cfg)
	}

	write(t, conn, readyMsg())
	m := read(t, conn)
	if m.Type != msgMarkers || len(m.Markers) != 1 || m.Markers[0].BinID != "1" {
		t.Fatalf("markers=%+v", m)
	}
	if m.Markers[0].Icon != model.IconFoodWaste || m.Markers[0].Title != "Bin 1" {
		t.Fatalf("marker=%+v", m.Markers[0])
	}
}

func TestHandler_ZoomOutSendsEmptyMarkerList(t *testing.T) {
	conn := startServer(t, serverOpts{apiKey: "k"})
	readUntil(t, conn, msgConfig)
	write(t, conn, readyMsg())
	readUntil(t, conn, msgMarkers)

	write(t, conn, map[string]any{"type": "idle", "zoom": 12, "center": center, "bounds": view})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), `"markers":[]`) {
		t.Fatalf("zoomed-out update should carry an empty array, got %s", raw)
	}
}

func TestHandler_LocationBeforeReadyRecentersOnce(t *testing.T) {
	conn := startServer(t, serverOpts{apiKey: "k", locate: true})
	readUntil(t, conn, msgConfig)

	req := read(t, conn)
	if req.Type != msgLocate || !req.HighAccuracy || req.TimeoutMS != 10000 {
		t.Fatalf("locate request=%+v", req)
	}
	here := model.LatLng{Lat: 51.501, Lng: -0.181}
	write(t, conn, map[string]any{"type": "location", "lat": here.Lat, "lng": here.Lng})

	you := readUntil(t, conn, msgUserLocation)
	if got := you[len(you)-1]; got.Center == nil || *got.Center != here {
		t.Fatalf("user_location=%+v", got)
	}

	write(t, conn, readyMsg())
	seen := readUntil(t, conn, msgMarkers)
	recenters := 0
	for _, m := range seen {
		if m.Type == msgRecenter {
			recenters++
			if *m.Center != here || m.Zoom != 14 {
				t.Fatalf("recenter=%+v", m)
			}
		}
	}
	if recenters != 1 {
		t.Fatalf("recenters=%d want 1 (messages %+v)", recenters, seen)
	}
}

func TestHandler_LocationDeniedKeepsDefaultView(t *testing.T) {
	conn := startServer(t, serverOpts{apiKey: "k", locate: true})
	readUntil(t, conn, msgLocate)
	write(t, conn, map[string]any{"type": "location_error", "message": "User denied Geolocation"})
	write(t, conn, readyMsg())

	for _, m := range readUntil(t, conn, msgMarkers) {
		if m.Type == msgRecenter || m.Type == msgUserLocation {
			t.Fatalf("unexpected %s after denial", m.Type)
		}
	}
}

func TestHandler_TapAndDismissDrivePanel(t *testing.T) {
	conn := startServer(t, serverOpts{apiKey: "k"})
	readUntil(t, conn, msgConfig)
	write(t, conn, readyMsg())
	readUntil(t, conn, msgMarkers)

	write(t, conn, map[string]any{"type": "tap", "bin_id": "1"})
	m := read(t, conn)
	if m.Type != msgPanel || m.Panel == nil || !m.Panel.Visible || m.Panel.Capacity != "full" {
		t.Fatalf("panel after tap=%+v", m)
	}
	write(t, conn, map[string]any{"type": "dismiss"})
	m = read(t, conn)
	if m.Type != msgPanel || m.Panel == nil || m.Panel.Visible {
		t.Fatalf("panel after dismiss=%+v", m)
	}
}

func TestDispatch_IdleBurstCollapsesToLatest(t *testing.T) {
	s := newSession(context.Background(), "t", nil, model.Viewport{}, 0, quiet())
	defer s.cancel()

	for _, z := range []float64{14, 15, 16} {
		s.dispatch(inbound{Type: msgIdle, Zoom: z, Center: center, Bounds: &view})
	}
	s.pumps.Add(1)
	go s.forwardIdle()

	select {
	case ev := <-s.events:
		idle, ok := ev.(viewport.IdleEvent)
		if !ok || idle.Viewport.Zoom != 16 {
			t.Fatalf("event=%+v want idle at zoom 16", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no idle event forwarded")
	}
	select {
	case ev := <-s.events:
		t.Fatalf("burst should collapse to one event, got extra %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatch_IdleRateIsCapped(t *testing.T) {
	s := newSession(context.Background(), "t", nil, model.Viewport{}, 0.001, quiet())
	defer s.cancel()
	s.pumps.Add(1)
	go s.forwardIdle()

	s.dispatch(inbound{Type: msgIdle, Zoom: 15, Bounds: &view})
	select {
	case <-s.events:
	case <-time.After(2 * time.Second):
		t.Fatalf("first idle should pass immediately")
	}
	s.dispatch(inbound{Type: msgIdle, Zoom: 16, Bounds: &view})
	select {
	case ev := <-s.events:
		t.Fatalf("second idle should wait for the limiter, got %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatch_ReadyWithoutBoundsKeepsStartView(t *testing.T) {
	start := model.Viewport{Zoom: 14, Center: center}
	s := newSession(context.Background(), "t", nil, start, 0, quiet())
	defer s.cancel()

	s.dispatch(inbound{Type: msgReady, Zoom: 3})
	if got := s.InitialViewport(); got.Zoom != 14 || got.Bounds != nil {
		t.Fatalf("initial viewport changed to %+v", got)
	}
	if _, ok := (<-s.events).(viewport.ReadyEvent); !ok {
		t.Fatalf("expected ReadyEvent")
	}
}

func TestDecodeInbound_RejectsUnknownTypes(t *testing.T) {
	if _, err := decodeInbound([]byte(`{"type":"teleport"}`)); err == nil {
		t.Fatalf("expected error for unknown type")
	}
	if _, err := decodeInbound([]byte(`{`)); err == nil {
		t.Fatalf("expected error for broken json")
	}
	m, err := decodeInbound([]byte(`{"type":"tap","bin_id":"42"}`))
	if err != nil || m.BinID != "42" {
		t.Fatalf("tap decode=%+v,%v", m, err)
	}
}

func TestOutbound_ConfigKeepsZeroZoom(t *testing.T) {
	minZoom, zoom := 0, 0
	raw, err := json.Marshal(outbound{Type: msgConfig, MinZoom: &minZoom, Zoom: &zoom})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"type":"config","min_zoom":0,"zoom":0}` {
		t.Fatalf("config=%s", raw)
	}
}

func TestOutbound_NonMarkerMessagesOmitMarkers(t *testing.T) {
	raw, err := json.Marshal(outbound{Type: msgLoading})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"type":"loading"}` {
		t.Fatalf("loading=%s", raw)
	}
}
