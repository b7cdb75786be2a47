// Package viewport turns map settle events into bounded bin queries.
//
// A Controller owns one map session. Its Run loop is the only goroutine that
// touches session state; bin queries and the location lookup run on their own
// goroutines and report back over channels. Every query carries a sequence
// number and only the newest one may change the marker set, whatever order
// the backend answers in.
package viewport

import (
	"context"
	"time"

	"github.com/rolzie-7/Bin-map/internal/core/model"
	"github.com/rolzie-7/Bin-map/internal/present"
)

// Event is something the map surface reports to its controller.
type Event interface{ isEvent() }

// ReadyEvent is emitted once, when the map has rendered for the first time.
type ReadyEvent struct{}

// IdleEvent is emitted when a pan or zoom gesture has settled.
type IdleEvent struct {
	Viewport model.Viewport
}

// TapEvent reports a marker selection.
type TapEvent struct {
	BinID string
}

// DismissEvent closes the capacity panel.
type DismissEvent struct{}

func (ReadyEvent) isEvent()   {}
func (IdleEvent) isEvent()    {}
func (TapEvent) isEvent()     {}
func (DismissEvent) isEvent() {}

// Surface is a platform map. The browser and headless variants both satisfy it
// and the controller only ever sees this contract.
type Surface interface {
	// Events is closed when the surface goes away.
	Events() <-chan Event
	// InitialViewport is the viewport the map first rendered with.
	InitialViewport() model.Viewport
	SetMarkers(markers []model.Marker)
	Recenter(p model.LatLng, zoom int)
	ShowPanel(st present.PanelState)
}

type LocateOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

// Locator resolves the user's position once.
type Locator interface {
	CurrentPosition(ctx context.Context, opts LocateOptions) (model.LatLng, error)
}
