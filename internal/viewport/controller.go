package viewport

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rolzie-7/Bin-map/internal/core/model"
	"github.com/rolzie-7/Bin-map/internal/core/observability"
	"github.com/rolzie-7/Bin-map/internal/present"
	"github.com/rolzie-7/Bin-map/internal/source"
)

const (
	DefaultMinZoom       = 14
	DefaultInitialZoom   = 14
	DefaultLocateTimeout = 10 * time.Second
)

// location outcomes, reported alongside the query outcomes from observability
const (
	LocationRecentered = "recentered"
	LocationDeferred   = "location_deferred"
	LocationFailed     = "location_failed"
	LocationIgnored    = "location_ignored"
)

type Options struct {
	// MinZoom and InitialZoom are used as given, 0 included; a negative
	// value selects the package default.
	MinZoom       int
	InitialZoom   int
	LocateTimeout time.Duration
	// Locator is nil for surfaces without geolocation.
	Locator    Locator
	TitleStyle present.TitleStyle
	// Panel is the screen's capacity panel; a private one is used when nil.
	Panel  *present.Panel
	Logger *slog.Logger
}

// Outcome is one decision taken by the loop.
type Outcome struct {
	Kind string
	Seq  uint64
}

type queryResult struct {
	seq    uint64
	bounds model.Bounds
	bins   []model.Bin
	err    error
	took   time.Duration
}

type locateResult struct {
	point model.LatLng
	err   error
}

type Controller struct {
	src     source.Source
	surface Surface
	opts    Options
	log     *slog.Logger
	panel   *present.Panel

	results chan queryResult
	located chan locateResult
	wg      sync.WaitGroup

	// owned by the Run goroutine
	ready      bool
	viewport   model.Viewport
	pendingLoc *model.LatLng
	recentered bool
	seq        uint64
	cancelQ    context.CancelFunc

	markers atomic.Pointer[[]model.Marker]
	userLoc atomic.Pointer[model.LatLng]

	onOutcome func(Outcome) // for tests
}

func New(src source.Source, surface Surface, opts Options) *Controller {
	if opts.MinZoom < 0 {
		opts.MinZoom = DefaultMinZoom
	}
	if opts.InitialZoom < 0 {
		opts.InitialZoom = DefaultInitialZoom
	}
	if opts.LocateTimeout <= 0 {
		opts.LocateTimeout = DefaultLocateTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	panel := opts.Panel
	if panel == nil {
		panel = &present.Panel{}
	}
	c := &Controller{
		src:     src,
		surface: surface,
		opts:    opts,
		log:     opts.Logger.With("component", "viewport"),
		panel:   panel,
		results: make(chan queryResult),
		located: make(chan locateResult),
	}
	empty := []model.Marker{}
	c.markers.Store(&empty)
	return c
}

// Markers returns the marker set currently shown.
func (c *Controller) Markers() []model.Marker {
	return slices.Clone(*c.markers.Load())
}

// UserLocation returns the resolved user position, if any.
func (c *Controller) UserLocation() (model.LatLng, bool) {
	if p := c.userLoc.Load(); p != nil {
		return *p, true
	}
	return model.LatLng{}, false
}

// Run processes surface events until ctx is done or the surface closes its
// event channel. Outstanding queries are cancelled before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.wg.Wait()
	}()

	if c.opts.Locator != nil {
		c.wg.Add(1)
		go c.locate(ctx)
	}

	events := c.surface.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.handle(ctx, ev)
		case r := <-c.results:
			c.apply(r)
		case l := <-c.located:
			c.onLocated(l)
		}
	}
}

func (c *Controller) handle(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case ReadyEvent:
		c.onReady(ctx)
	case IdleEvent:
		c.onSettled(ctx, e.Viewport)
	case TapEvent:
		c.log.Debug("marker tapped", "bin_id", e.BinID)
		c.surface.ShowPanel(c.panel.Show())
	case DismissEvent:
		c.surface.ShowPanel(c.panel.Dismiss())
	}
}

func (c *Controller) onReady(ctx context.Context) {
	if c.ready {
		return
	}
	c.ready = true
	if c.pendingLoc != nil {
		p := *c.pendingLoc
		c.pendingLoc = nil
		c.recenter(p)
	}
	// no settle event precedes the first render
	c.onSettled(ctx, c.surface.InitialViewport())
}

func (c *Controller) onSettled(ctx context.Context, vp model.Viewport) {
	if !c.ready {
		c.emit(observability.QueryNotReady, c.seq)
		return
	}
	c.viewport = vp

	if vp.Zoom < float64(c.opts.MinZoom) {
		// an older query must not repopulate the map after it was cleared
		c.supersede()
		c.publish([]model.Marker{})
		c.emit(observability.QueryGated, c.seq)
		return
	}
	if vp.Bounds == nil || !vp.Bounds.Valid() {
		c.emit(observability.QueryNotReady, c.seq)
		return
	}
	c.issue(ctx, *vp.Bounds)
}

func (c *Controller) supersede() {
	if c.cancelQ != nil {
		c.cancelQ()
		c.cancelQ = nil
	}
	c.seq++
}

func (c *Controller) issue(ctx context.Context, b model.Bounds) {
	c.supersede()
	seq := c.seq
	qctx, cancel := context.WithCancel(ctx)
	c.cancelQ = cancel
	c.emit(observability.QueryIssued, seq)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		start := time.Now()
		bins, err := c.src.SelectInBounds(qctx, b)
		r := queryResult{seq: seq, bounds: b, bins: bins, err: err, took: time.Since(start)}
		select {
		case c.results <- r:
		case <-ctx.Done():
		}
	}()
}

func (c *Controller) apply(r queryResult) {
	if r.seq != c.seq {
		c.emit(observability.QuerySuperseded, r.seq)
		return
	}
	c.cancelQ = nil
	if r.err != nil {
		// keep whatever is on the map
		c.log.Warn("viewport query failed",
			"bounds", r.bounds.String(), "seq", r.seq, "err", r.err)
		c.emit(observability.QueryFailed, r.seq)
		return
	}
	markers, skipped := present.ProjectAll(r.bins, c.opts.TitleStyle)
	if skipped > 0 {
		c.log.Debug("skipped bins without coordinates", "count", skipped)
		observability.AddMarkersSkipped(skipped)
	}
	c.publish(markers)
	c.log.Debug("viewport query applied",
		"bounds", r.bounds.String(), "seq", r.seq, "markers", len(markers), "took", r.took)
	c.emit(observability.QueryApplied, r.seq)
}

func (c *Controller) publish(markers []model.Marker) {
	c.markers.Store(&markers)
	c.surface.SetMarkers(slices.Clone(markers))
}

func (c *Controller) locate(ctx context.Context) {
	defer c.wg.Done()
	lctx, cancel := context.WithTimeout(ctx, c.opts.LocateTimeout)
	defer cancel()
	p, err := c.opts.Locator.CurrentPosition(lctx, LocateOptions{
		HighAccuracy: true,
		Timeout:      c.opts.LocateTimeout,
		MaximumAge:   0,
	})
	select {
	case c.located <- locateResult{point: p, err: err}:
	case <-ctx.Done():
	}
}

func (c *Controller) onLocated(l locateResult) {
	if l.err != nil {
		// the map stays on its default center
		c.log.Warn("user location unavailable", "err", l.err)
		observability.IncGeolocation("failed")
		c.emit(LocationFailed, c.seq)
		return
	}
	if c.recentered || c.pendingLoc != nil || !l.point.Valid() {
		c.emit(LocationIgnored, c.seq)
		return
	}
	p := l.point
	c.userLoc.Store(&p)
	observability.IncGeolocation("resolved")
	if !c.ready {
		c.pendingLoc = &p
		c.emit(LocationDeferred, c.seq)
		return
	}
	c.recenter(p)
}

func (c *Controller) recenter(p model.LatLng) {
	c.recentered = true
	c.surface.Recenter(p, c.opts.InitialZoom)
	c.emit(LocationRecentered, c.seq)
}

func (c *Controller) emit(kind string, seq uint64) {
	switch kind {
	case LocationRecentered, LocationDeferred, LocationFailed, LocationIgnored:
	default:
		observability.IncViewportQuery(kind)
	}
	if c.onOutcome != nil {
		c.onOutcome(Outcome{Kind: kind, Seq: seq})
	}
}
