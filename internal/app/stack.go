// Package app wires the configured bin source, cache and readiness checks.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rolzie-7/Bin-map/internal/cache/cellcache"
	"github.com/rolzie-7/Bin-map/internal/cache/redisstore"
	"github.com/rolzie-7/Bin-map/internal/core/config"
	"github.com/rolzie-7/Bin-map/internal/core/health"
	"github.com/rolzie-7/Bin-map/internal/core/httpclient"
	h3mapper "github.com/rolzie-7/Bin-map/internal/mapper/h3"
	"github.com/rolzie-7/Bin-map/internal/source"
	"github.com/rolzie-7/Bin-map/internal/source/postgres"
	"github.com/rolzie-7/Bin-map/internal/source/rest"
)

// Stack is the assembled data path. Store and Mapper are nil when the cell
// cache is disabled.
type Stack struct {
	Source source.Source
	Checks []health.Check
	Store  *redisstore.Store
	Mapper *h3mapper.Mapper

	closers []func()
}

func (s *Stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Stack, error) {
	st := &Stack{}
	base, err := st.baseSource(ctx, cfg, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	st.Source = base

	if cfg.Cache.Enabled {
		store, err := redisstore.New(ctx, cfg.Cache.RedisAddr,
			redisstore.WithReadTimeout(cfg.Cache.OpTimeout))
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("cell cache: %w", err)
		}
		st.closers = append(st.closers, func() { _ = store.Close() })

		mapr, err := h3mapper.New(cfg.Cache.H3Res)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("cell cache: %w", err)
		}
		st.Store, st.Mapper = store, mapr
		st.Source = cellcache.New(base, store, mapr, cellcache.Config{
			Table:          cfg.Source.Table,
			TTL:            cfg.Cache.TTL,
			OpTimeout:      cfg.Cache.OpTimeout,
			FillMaxWorkers: cfg.Cache.FillMaxWorkers,
		}, logger)
		st.Checks = append(st.Checks, health.Check{Name: "cache", Pinger: store})
		logger.Info("cell cache enabled",
			"redis", cfg.Cache.RedisAddr, "h3_res", cfg.Cache.H3Res, "ttl", cfg.Cache.TTL)
	}
	return st, nil
}

func (st *Stack) baseSource(ctx context.Context, cfg config.Config, logger *slog.Logger) (source.Source, error) {
	switch cfg.Source.Driver {
	case config.SourcePostgres:
		pool, err := postgres.Open(ctx, cfg.Source.DatabaseURL, cfg.Source.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("postgres source: %w", err)
		}
		st.closers = append(st.closers, pool.Close)
		src := postgres.New(pool, cfg.Source.Table)
		st.Checks = append(st.Checks, health.Check{Name: "source", Pinger: src})
		logger.Info("bin source ready", "driver", cfg.Source.Driver, "table", cfg.Source.Table)
		return src, nil
	case config.SourceREST:
		src, err := rest.New(logger, httpclient.NewOutbound(cfg.Source.Timeout),
			cfg.Source.RestURL, cfg.Source.RestAPIKey, cfg.Source.Table)
		if err != nil {
			return nil, fmt.Errorf("rest source: %w", err)
		}
		st.Checks = append(st.Checks, health.Check{Name: "source", Pinger: src})
		logger.Info("bin source ready", "driver", cfg.Source.Driver, "table", cfg.Source.Table)
		return src, nil
	default:
		return nil, fmt.Errorf("unknown source driver %q", cfg.Source.Driver)
	}
}
