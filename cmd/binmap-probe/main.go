// binmap-probe drives a headless map session against the configured bin
// source and reports what the map would show at each stop.
//
//	binmap-probe 51.4979,-0.1784@14 51.5074,-0.1278@12
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rolzie-7/Bin-map/internal/app"
	"github.com/rolzie-7/Bin-map/internal/core/config"
	"github.com/rolzie-7/Bin-map/internal/core/model"
	"github.com/rolzie-7/Bin-map/internal/logger"
	"github.com/rolzie-7/Bin-map/internal/present"
	"github.com/rolzie-7/Bin-map/internal/screen"
	"github.com/rolzie-7/Bin-map/internal/source"
	"github.com/rolzie-7/Bin-map/internal/surface/tile"
	"github.com/rolzie-7/Bin-map/internal/viewport"
)

type stop struct {
	at   model.LatLng
	zoom float64
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("binmap-probe", flag.ContinueOnError)
	screenFlag := fs.String("screen", "1080x1920", "screen size in pixels, WxH")
	settle := fs.Duration("settle", 5*time.Second, "how long to wait for each stop to settle")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	size, err := parseScreen(*screenFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	stops := make([]stop, 0, fs.NArg())
	for _, raw := range fs.Args() {
		s, err := parseStop(raw)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		stops = append(stops, s)
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   true,
		Service:   "binmap",
		Component: "probe",
	}, os.Stderr)
	log := logger.NewSlog(&zl)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stack, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		return 1
	}
	defer stack.Close()

	return probe(ctx, out, stack.Source, cfg, size, stops, *settle, log)
}

func probe(ctx context.Context, out io.Writer, src source.Source, cfg config.Config, size image.Point, stops []stop, settle time.Duration, log *slog.Logger) int {
	home := screen.NewHome(src, screen.Options{
		DefaultCenter: cfg.Map.DefaultCenter,
		InitialZoom:   cfg.Map.InitialZoom,
		TitleStyle:    present.TitleFromType,
		Logger:        log,
	})
	view := home.Load(ctx)
	fmt.Fprintf(out, "home: %s (%d bins)\n", view.State, len(view.Markers))
	if view.State != screen.StateMap {
		return 0
	}

	surf := tile.New(tile.Options{Center: view.Center, Zoom: view.Zoom, Screen: size, Logger: log})
	ctrl := viewport.New(src, surf, viewport.Options{
		MinZoom:     cfg.Map.MinZoom,
		InitialZoom: cfg.Map.InitialZoom,
		TitleStyle:  present.TitleFromType,
		Panel:       home.Panel(),
		Logger:      log,
	})
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()
	defer func() {
		surf.Close()
		<-done
	}()

	surf.Ready()
	report(ctx, out, surf, fmt.Sprintf("start %s@%d", view.Center, view.Zoom), settle)
	for _, s := range stops {
		surf.Drain()
		surf.MoveTo(s.at, s.zoom)
		report(ctx, out, surf, fmt.Sprintf("%s@%g", s.at, s.zoom), settle)
	}
	return 0
}

func report(ctx context.Context, out io.Writer, surf *tile.Surface, label string, settle time.Duration) {
	wctx, cancel := context.WithTimeout(ctx, settle)
	defer cancel()
	markers, err := surf.WaitMarkers(wctx)
	if err != nil {
		fmt.Fprintf(out, "%s: no update, still showing %d markers\n", label, len(markers))
		return
	}
	fmt.Fprintf(out, "%s: %d markers %s\n", label, len(markers), iconMix(markers))
}

func iconMix(markers []model.Marker) string {
	counts := map[model.IconVariant]int{}
	for _, m := range markers {
		counts[m.Icon]++
	}
	names := make([]string, 0, len(counts))
	for icon := range counts {
		names = append(names, string(icon))
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", n, counts[model.IconVariant(n)]))
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// parseStop reads "lat,lng@zoom".
func parseStop(raw string) (stop, error) {
	pos, zoomRaw, ok := strings.Cut(raw, "@")
	if !ok {
		return stop{}, fmt.Errorf("stop %q: expected lat,lng@zoom", raw)
	}
	p, err := config.ParseLatLng(pos)
	if err != nil {
		return stop{}, fmt.Errorf("stop %q: %w", raw, err)
	}
	z, err := strconv.ParseFloat(strings.TrimSpace(zoomRaw), 64)
	if err != nil || z < 0 || z > 22 {
		return stop{}, fmt.Errorf("stop %q: bad zoom", raw)
	}
	return stop{at: p, zoom: z}, nil
}

func parseScreen(raw string) (image.Point, error) {
	w, h, ok := strings.Cut(strings.ToLower(raw), "x")
	if !ok {
		return image.Point{}, fmt.Errorf("screen %q: expected WxH", raw)
	}
	x, errX := strconv.Atoi(w)
	y, errY := strconv.Atoi(h)
	if errX != nil || errY != nil || x <= 0 || y <= 0 {
		return image.Point{}, fmt.Errorf("screen %q: expected positive WxH", raw)
	}
	return image.Pt(x, y), nil
}
