// Package web serves interactive map sessions to browsers over WebSocket.
//
// The browser renders the map and reports its events; the server runs the
// viewport controller for the session and pushes marker sets back.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/rolzie-7/Bin-map/internal/core/model"
	"github.com/rolzie-7/Bin-map/internal/present"
	"github.com/rolzie-7/Bin-map/internal/viewport"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxMessage   = 64 << 10
	outboxSize   = 32
	eventBacklog = 16
)

// ErrLocationDenied is returned when the browser refuses or fails to locate.
var ErrLocationDenied = errors.New("location unavailable")

// Session is one browser map. It satisfies viewport.Surface and
// viewport.Locator.
type Session struct {
	id      string
	conn    *websocket.Conn
	logger  *slog.Logger
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	events  chan viewport.Event
	outbox  chan outbound
	located chan locationReply
	pumps   sync.WaitGroup
	written chan struct{}

	mu      sync.Mutex
	initial model.Viewport
	idle    *model.Viewport
	idleSig chan struct{}
}

type locationReply struct {
	point model.LatLng
	err   error
}

var (
	_ viewport.Surface = (*Session)(nil)
	_ viewport.Locator = (*Session)(nil)
)

func newSession(parent context.Context, id string, conn *websocket.Conn, initial model.Viewport, idlePerSec float64, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	limit := rate.Inf
	if idlePerSec > 0 {
		limit = rate.Limit(idlePerSec)
	}
	return &Session{
		id:      id,
		conn:    conn,
		logger:  logger.With("session_id", id),
		limiter: rate.NewLimiter(limit, 1),
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan viewport.Event, eventBacklog),
		outbox:  make(chan outbound, outboxSize),
		located: make(chan locationReply, 1),
		written: make(chan struct{}),
		initial: initial,
		idleSig: make(chan struct{}, 1),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Events() <-chan viewport.Event { return s.events }

// InitialViewport is the viewport reported with the browser's ready message,
// or the configured start view before that.
func (s *Session) InitialViewport() model.Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initial
}

func (s *Session) SetMarkers(markers []model.Marker) {
	s.send(outbound{Type: msgMarkers, Markers: slices.Clone(markers)})
}

func (s *Session) Recenter(p model.LatLng, zoom int) {
	s.send(outbound{Type: msgRecenter, Center: &p, Zoom: &zoom})
}

func (s *Session) ShowPanel(st present.PanelState) {
	s.send(outbound{Type: msgPanel, Panel: &st})
}

// CurrentPosition asks the browser for its position and waits for the
// answer. A resolved position is echoed back as the "you are here" marker.
func (s *Session) CurrentPosition(ctx context.Context, opts viewport.LocateOptions) (model.LatLng, error) {
	s.send(outbound{
		Type:         msgLocate,
		HighAccuracy: opts.HighAccuracy,
		TimeoutMS:    opts.Timeout.Milliseconds(),
		MaximumAgeMS: opts.MaximumAge.Milliseconds(),
	})
	select {
	case r := <-s.located:
		if r.err != nil {
			return model.LatLng{}, r.err
		}
		p := r.point
		s.send(outbound{Type: msgUserLocation, Center: &p})
		return p, nil
	case <-ctx.Done():
		return model.LatLng{}, fmt.Errorf("locate: %w", ctx.Err())
	case <-s.ctx.Done():
		return model.LatLng{}, fmt.Errorf("locate: %w", s.ctx.Err())
	}
}

// send queues a message for the write pump; messages for a closed session
// are dropped.
func (s *Session) send(m outbound) {
	select {
	case s.outbox <- m:
	case <-s.ctx.Done():
	}
}

// start launches the pumps. The events channel is closed once the browser
// goes away.
func (s *Session) start() {
	s.pumps.Add(2)
	go s.readPump()
	go s.forwardIdle()
	go func() {
		s.pumps.Wait()
		close(s.events)
	}()
	go s.writePump()
}

// close ends the session and waits until queued messages are written and
// the connection is closed.
func (s *Session) close() {
	s.cancel()
	<-s.written
}

func (s *Session) readPump() {
	defer s.pumps.Done()
	defer s.cancel()

	s.conn.SetReadLimit(maxMessage)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read failed", "err", err)
			}
			return
		}
		m, err := decodeInbound(raw)
		if err != nil {
			s.logger.Debug("ignoring client message", "err", err)
			continue
		}
		if !s.dispatch(m) {
			return
		}
	}
}

// dispatch routes one browser message; false means the session is over.
func (s *Session) dispatch(m inbound) bool {
	switch m.Type {
	case msgReady:
		vp := m.viewport()
		s.mu.Lock()
		if vp.Bounds != nil {
			s.initial = vp
		}
		s.mu.Unlock()
		return s.deliver(viewport.ReadyEvent{})
	case msgIdle:
		vp := m.viewport()
		s.mu.Lock()
		s.idle = &vp
		s.mu.Unlock()
		select {
		case s.idleSig <- struct{}{}:
		default:
		}
	case msgTap:
		return s.deliver(viewport.TapEvent{BinID: m.BinID})
	case msgDismiss:
		return s.deliver(viewport.DismissEvent{})
	case msgLocation:
		s.reportLocation(locationReply{point: model.LatLng{Lat: m.Lat, Lng: m.Lng}})
	case msgLocationError:
		s.reportLocation(locationReply{err: fmt.Errorf("%w: %s", ErrLocationDenied, m.Message)})
	}
	return true
}

func (s *Session) reportLocation(r locationReply) {
	select {
	case s.located <- r:
	default:
		s.logger.Debug("dropping unsolicited location report")
	}
}

// forwardIdle hands settled viewports to the controller at most at the
// limiter's rate. Bursts collapse to the most recent viewport.
func (s *Session) forwardIdle() {
	defer s.pumps.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.idleSig:
		}
		if err := s.limiter.Wait(s.ctx); err != nil {
			return
		}
		s.mu.Lock()
		vp := s.idle
		s.idle = nil
		s.mu.Unlock()
		if vp == nil {
			continue
		}
		if !s.deliver(viewport.IdleEvent{Viewport: *vp}) {
			return
		}
	}
}

func (s *Session) deliver(ev viewport.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
		close(s.written)
	}()
	for {
		select {
		case <-s.ctx.Done():
			s.flush()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case m := <-s.outbox:
			if err := s.write(m); err != nil {
				s.logger.Debug("websocket write failed", "type", m.Type, "err", err)
				s.cancel()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.cancel()
				return
			}
		}
	}
}

// flush writes whatever is already queued.
func (s *Session) flush() {
	for {
		select {
		case m := <-s.outbox:
			if err := s.write(m); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) write(m outbound) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(m)
}
