// Package screen holds the home screen that decides whether a map is shown at all.
package screen

import (
	"context"
	"log/slog"
	"time"

	"github.com/rolzie-7/Bin-map/internal/core/model"
	"github.com/rolzie-7/Bin-map/internal/core/observability"
	"github.com/rolzie-7/Bin-map/internal/present"
	"github.com/rolzie-7/Bin-map/internal/source"
)

type State string

const (
	StateEmpty  State = "empty"
	StateMap    State = "map"
	StateFailed State = "failed"
)

const emptyMessage = "No bins to show yet"

// View is what the home screen renders once its single fetch has completed.
type View struct {
	State   State              `json:"state"`
	Center  model.LatLng       `json:"center"`
	Zoom    int                `json:"zoom"`
	Markers []model.Marker     `json:"markers"`
	Panel   present.PanelState `json:"panel"`
	Message string             `json:"message,omitempty"`
}

type Options struct {
	DefaultCenter model.LatLng
	InitialZoom   int
	TitleStyle    present.TitleStyle
	Logger        *slog.Logger
}

type Home struct {
	src   source.Source
	opts  Options
	log   *slog.Logger
	panel *present.Panel
}

func NewHome(src source.Source, opts Options) *Home {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Home{
		src:   src,
		opts:  opts,
		log:   opts.Logger.With("component", "screen"),
		panel: &present.Panel{},
	}
}

// Panel is the capacity panel shared by every marker on this screen.
func (h *Home) Panel() *present.Panel { return h.panel }

// Load fetches every bin once. A failed fetch degrades to the empty state.
func (h *Home) Load(ctx context.Context) View {
	start := time.Now()
	bins, err := h.src.SelectAll(ctx)
	observability.ObserveUpstreamLatency("source", "select_all", time.Since(start).Seconds())
	if err != nil {
		h.log.Warn("home screen load failed", "err", err)
		return View{
			State:   StateFailed,
			Center:  h.opts.DefaultCenter,
			Zoom:    h.opts.InitialZoom,
			Markers: []model.Marker{},
			Panel:   h.panel.State(),
			Message: emptyMessage,
		}
	}

	markers, skipped := present.ProjectAll(bins, h.opts.TitleStyle)
	if skipped > 0 {
		h.log.Debug("skipped bins without coordinates", "count", skipped)
		observability.AddMarkersSkipped(skipped)
	}
	if len(bins) == 0 {
		return View{
			State:   StateEmpty,
			Center:  h.opts.DefaultCenter,
			Zoom:    h.opts.InitialZoom,
			Markers: []model.Marker{},
			Panel:   h.panel.State(),
			Message: emptyMessage,
		}
	}

	center := h.opts.DefaultCenter
	if len(markers) > 0 {
		center = markers[0].Position
	}
	h.log.Debug("home screen loaded", "bins", len(bins), "markers", len(markers))
	return View{
		State:   StateMap,
		Center:  center,
		Zoom:    h.opts.InitialZoom,
		Markers: markers,
		Panel:   h.panel.State(),
	}
}
