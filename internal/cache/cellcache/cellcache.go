// Package cellcache serves bounded bin queries from per-cell Redis entries.
//
// Bounds are covered by H3 cells; every cell stores the bins whose position
// falls in it. Missing cells are filled together from a few banded queries
// over their union and written back with a TTL, unless a change event
// invalidated them while the fill was running. Any Redis trouble sends the
// query straight to the wrapped source instead.
package cellcache

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rolzie-7/Bin-map/internal/cache/keys"
	"github.com/rolzie-7/Bin-map/internal/core/model"
	"github.com/rolzie-7/Bin-map/internal/mapper"
	"github.com/rolzie-7/Bin-map/internal/source"
)

const (
	defaultTTL       = time.Minute
	defaultOpTimeout = 250 * time.Millisecond
	defaultWorkers   = 8
	defaultMaxCells  = 4096
)

type Store interface {
	MGetWithGens(ctx context.Context, keys []string) (vals map[string][]byte, gens map[string]string, err error)
	SetIfGen(ctx context.Context, kv map[string][]byte, gens map[string]string, ttl time.Duration) (int, error)
}

type Config struct {
	Table     string
	TTL       time.Duration
	OpTimeout time.Duration
	// FillMaxWorkers caps the banded queries of one fill, and so the inner
	// source calls a cold viewport costs.
	FillMaxWorkers int
	// MaxCells bypasses the cache for viewports needing more cells.
	MaxCells int
}

type Source struct {
	inner  source.Source
	store  Store
	mapr   mapper.Interface
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
}

func New(inner source.Source, store Store, mapr mapper.Interface, cfg Config, logger *slog.Logger) *Source {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	if cfg.FillMaxWorkers <= 0 {
		cfg.FillMaxWorkers = defaultWorkers
	}
	if cfg.MaxCells <= 0 {
		cfg.MaxCells = defaultMaxCells
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		inner:  inner,
		store:  store,
		mapr:   mapr,
		cfg:    cfg,
		logger: logger.With("component", "cellcache"),
		tracer: otel.Tracer("github.com/rolzie-7/Bin-map/internal/cache/cellcache"),
	}
}

// SelectAll is not cached.
func (s *Source) SelectAll(ctx context.Context) ([]model.Bin, error) {
	return s.inner.SelectAll(ctx)
}

func (s *Source) Ping(ctx context.Context) error {
	if p, ok := s.inner.(source.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (s *Source) SelectInBounds(ctx context.Context, b model.Bounds) ([]model.Bin, error) {
	ctx, span := s.tracer.Start(ctx, "cellcache.SelectInBounds",
		trace.WithAttributes(attribute.String("bounds", b.String())))
	defer span.End()

	cells, err := s.mapr.CellsForBounds(b)
	if err != nil {
		s.logger.Warn("h3 mapping failed, bypassing cache", "bounds", b.String(), "err", err)
		return s.inner.SelectInBounds(ctx, b)
	}
	if len(cells) > s.cfg.MaxCells {
		s.logger.Debug("viewport too large for cell cache", "cells", len(cells))
		return s.inner.SelectInBounds(ctx, b)
	}
	span.SetAttributes(attribute.Int("cells", len(cells)))

	ks := keys.CellKeys(s.cfg.Table, s.mapr.Res(), cells)
	got, gens, err := s.mget(ctx, ks)
	if err != nil {
		s.logger.Warn("cache read failed, bypassing cache", "err", err)
		return s.inner.SelectInBounds(ctx, b)
	}

	var (
		bins   []model.Bin
		misses []string
	)
	for i, cell := range cells {
		raw, ok := got[ks[i]]
		if !ok {
			misses = append(misses, cell)
			continue
		}
		var cached []model.Bin
		if err := json.Unmarshal(raw, &cached); err != nil {
			s.logger.Debug("dropping undecodable cache entry", "cell", cell, "err", err)
			misses = append(misses, cell)
			continue
		}
		bins = append(bins, cached...)
	}
	span.SetAttributes(attribute.Int("cells.missed", len(misses)))

	filled, err := s.fill(ctx, misses)
	if err != nil {
		return nil, err
	}
	for _, cell := range misses {
		bins = append(bins, filled[cell]...)
	}
	s.writeBack(ctx, filled, gens)

	return clip(bins, b), nil
}

// fill loads every missing cell at once. The union of the cells' bounding
// boxes is split into at most FillMaxWorkers latitude bands queried in
// parallel, and each returned bin is assigned to its own cell. Every missing
// cell gets an entry, empty ones included.
func (s *Source) fill(ctx context.Context, cells []string) (map[string][]model.Bin, error) {
	out := make(map[string][]model.Bin, len(cells))
	if len(cells) == 0 {
		return out, nil
	}
	var union model.Bounds
	for i, cell := range cells {
		cb, err := s.mapr.CellBounds(cell)
		if err != nil {
			return nil, fmt.Errorf("cell bounds %s: %w", cell, err)
		}
		if i == 0 {
			union = cb
		} else {
			union = union.Union(cb)
		}
		out[cell] = []model.Bin{}
	}

	bands := splitLat(union, min(s.cfg.FillMaxWorkers, len(cells)))
	rows := make([][]model.Bin, len(bands))
	g, gctx := errgroup.WithContext(ctx)
	for i, band := range bands {
		g.Go(func() error {
			got, err := s.inner.SelectInBounds(gctx, band)
			if err != nil {
				return err
			}
			rows[i] = got
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// band edges are inclusive, so a bin on an edge comes back twice
	seen := make(map[string]struct{})
	for _, part := range rows {
		for _, bin := range part {
			p, ok := bin.Position()
			if !ok {
				continue
			}
			c, err := s.mapr.CellOf(p)
			if err != nil {
				continue
			}
			if _, missing := out[c]; !missing {
				continue
			}
			if _, dup := seen[bin.ID]; dup {
				continue
			}
			seen[bin.ID] = struct{}{}
			out[c] = append(out[c], bin)
		}
	}
	return out, nil
}

// splitLat cuts b into n bands of equal latitude span.
func splitLat(b model.Bounds, n int) []model.Bounds {
	if n < 1 {
		n = 1
	}
	step := (b.NE.Lat - b.SW.Lat) / float64(n)
	out := make([]model.Bounds, n)
	for i := range out {
		band := b
		band.SW.Lat = b.SW.Lat + step*float64(i)
		if i < n-1 {
			band.NE.Lat = b.SW.Lat + step*float64(i+1)
		}
		out[i] = band
	}
	return out
}

func (s *Source) writeBack(ctx context.Context, filled map[string][]model.Bin, gens map[string]string) {
	if len(filled) == 0 {
		return
	}
	kv := make(map[string][]byte, len(filled))
	guard := make(map[string]string, len(filled))
	for cell, cellBins := range filled {
		payload, err := json.Marshal(cellBins)
		if err != nil {
			s.logger.Debug("encode cell entry", "cell", cell, "err", err)
			continue
		}
		k := keys.CellKey(s.cfg.Table, s.mapr.Res(), cell)
		kv[k] = payload
		guard[k] = gens[k]
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.OpTimeout)
	defer cancel()
	n, err := s.store.SetIfGen(wctx, kv, guard, s.cfg.TTL)
	if err != nil {
		s.logger.Warn("cache write failed", "cells", len(kv), "err", err)
		return
	}
	if n < len(kv) {
		s.logger.Debug("cells invalidated during fill were not cached", "skipped", len(kv)-n)
	}
}

func (s *Source) mget(ctx context.Context, ks []string) (map[string][]byte, map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()
	vals, gens, err := s.store.MGetWithGens(ctx, ks)
	if err != nil {
		return nil, nil, fmt.Errorf("cache mget: %w", err)
	}
	return vals, gens, nil
}

// clip keeps bins inside b, one per ID, ordered by ID.
func clip(bins []model.Bin, b model.Bounds) []model.Bin {
	seen := make(map[string]struct{}, len(bins))
	out := make([]model.Bin, 0, len(bins))
	for _, bin := range bins {
		p, ok := bin.Position()
		if !ok || !b.Contains(p) {
			continue
		}
		if _, dup := seen[bin.ID]; dup {
			continue
		}
		seen[bin.ID] = struct{}{}
		out = append(out, bin)
	}
	slices.SortFunc(out, func(x, y model.Bin) int { return cmp.Compare(x.ID, y.ID) })
	return out
}
