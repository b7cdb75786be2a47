// Package postgres reads bins from a Postgres table shaped like the hosted "Bins" table.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rolzie-7/Bin-map/internal/core/model"
	"github.com/rolzie-7/Bin-map/internal/core/observability"
	"github.com/rolzie-7/Bin-map/internal/source"
)

const upstream = "postgres"

// Querier is the part of pgxpool.Pool the source needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

// Open creates a pool and checks that the database answers.
func Open(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

var columns = []string{
	"id::text",
	`"Latitude"`,
	`"Longitude"`,
	`COALESCE("Address", '')`,
	`COALESCE("Type", '')`,
	`COALESCE("isRecycle", false)`,
	`COALESCE("isGeneral", false)`,
	`COALESCE("isFoodWaste", false)`,
	`COALESCE("Desc", '')`,
}

type Source struct {
	db     Querier
	table  string
	sb     squirrel.StatementBuilderType
	tracer trace.Tracer
}

func New(db Querier, table string) *Source {
	if table == "" {
		table = "Bins"
	}
	return &Source{
		db:     db,
		table:  quoteIdent(table),
		sb:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		tracer: otel.Tracer("github.com/rolzie-7/Bin-map/internal/source/postgres"),
	}
}

func (s *Source) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Source) SelectAll(ctx context.Context) ([]model.Bin, error) {
	ctx, span := s.tracer.Start(ctx, "postgres.SelectAll")
	defer span.End()

	q := s.sb.Select(columns...).From(s.table).OrderBy("id")
	bins, err := s.run(ctx, "select_all", q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select all")
		return nil, err
	}
	span.SetAttributes(attribute.Int("bins.count", len(bins)))
	return bins, nil
}

// SelectInBounds applies the inclusive lat/lng range predicate in SQL.
func (s *Source) SelectInBounds(ctx context.Context, b model.Bounds) ([]model.Bin, error) {
	ctx, span := s.tracer.Start(ctx, "postgres.SelectInBounds",
		trace.WithAttributes(attribute.String("bounds", b.String())))
	defer span.End()

	q := s.sb.Select(columns...).
		From(s.table).
		Where(squirrel.GtOrEq{`"Latitude"`: b.SW.Lat}).
		Where(squirrel.LtOrEq{`"Latitude"`: b.NE.Lat}).
		Where(squirrel.GtOrEq{`"Longitude"`: b.SW.Lng}).
		Where(squirrel.LtOrEq{`"Longitude"`: b.NE.Lng}).
		OrderBy("id")
	bins, err := s.run(ctx, "select_in_bounds", q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select in bounds")
		return nil, err
	}
	span.SetAttributes(attribute.Int("bins.count", len(bins)))
	return bins, nil
}

func (s *Source) run(ctx context.Context, op string, q squirrel.SelectBuilder) ([]model.Bin, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s query: %w", op, err)
	}

	start := time.Now()
	defer func() {
		observability.ObserveUpstreamLatency(upstream, op, time.Since(start).Seconds())
	}()

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", source.ErrUnavailable, op, err)
	}
	defer rows.Close()

	bins := []model.Bin{}
	for rows.Next() {
		var b model.Bin
		if err := rows.Scan(&b.ID, &b.Lat, &b.Lng, &b.Address, &b.Type,
			&b.IsRecycle, &b.IsGeneral, &b.IsFoodWaste, &b.Desc); err != nil {
			return nil, fmt.Errorf("scan bin: %w", err)
		}
		bins = append(bins, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s rows: %w", source.ErrUnavailable, op, err)
	}
	return bins, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
