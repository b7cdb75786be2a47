// Package rest reads bins from a PostgREST endpoint such as a hosted Supabase project.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rolzie-7/Bin-map/internal/core/model"
	"github.com/rolzie-7/Bin-map/internal/core/observability"
	"github.com/rolzie-7/Bin-map/internal/source"
)

const upstream = "rest"

// row is the wire shape of one "Bins" row.
type row struct {
	ID          json.RawMessage `json:"id"`
	Latitude    *float64        `json:"Latitude"`
	Longitude   *float64        `json:"Longitude"`
	Address     string          `json:"Address"`
	Type        string          `json:"Type"`
	IsRecycle   bool            `json:"isRecycle"`
	IsGeneral   bool            `json:"isGeneral"`
	IsFoodWaste bool            `json:"isFoodWaste"`
	Desc        string          `json:"Desc"`
}

type Source struct {
	logger   *slog.Logger
	client   *http.Client
	tableURL *url.URL
	apiKey   string
	startNow func() time.Time // for tests
}

// New targets {base}/rest/v1/{table}.
func New(logger *slog.Logger, client *http.Client, base, apiKey, table string) (*Source, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse rest url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("rest url %q must be absolute", base)
	}
	if table == "" {
		table = "Bins"
	}
	u = u.JoinPath("rest", "v1", table)
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		logger:   logger,
		client:   client,
		tableURL: u,
		apiKey:   apiKey,
		startNow: time.Now,
	}, nil
}

func (s *Source) SelectAll(ctx context.Context) ([]model.Bin, error) {
	params := url.Values{}
	params.Set("select", "*")
	params.Set("order", "id")
	return s.fetch(ctx, "select_all", params)
}

// SelectInBounds sends the inclusive range as gte/lte filters.
func (s *Source) SelectInBounds(ctx context.Context, b model.Bounds) ([]model.Bin, error) {
	params := url.Values{}
	params.Set("select", "*")
	params.Add("Latitude", "gte."+formatFloat(b.SW.Lat))
	params.Add("Latitude", "lte."+formatFloat(b.NE.Lat))
	params.Add("Longitude", "gte."+formatFloat(b.SW.Lng))
	params.Add("Longitude", "lte."+formatFloat(b.NE.Lng))
	params.Set("order", "id")
	return s.fetch(ctx, "select_in_bounds", params)
}

// Ping asks for at most one id.
func (s *Source) Ping(ctx context.Context) error {
	params := url.Values{}
	params.Set("select", "id")
	params.Set("limit", "1")
	_, err := s.fetch(ctx, "ping", params)
	return err
}

func (s *Source) fetch(ctx context.Context, op string, params url.Values) ([]model.Bin, error) {
	u := *s.tableURL
	u.RawQuery = params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("apikey", s.apiKey)
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	start := s.startNow()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: do request: %w", source.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	dur := time.Since(start)
	observability.ObserveUpstreamLatency(upstream, op, dur.Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("%w: upstream status %d: %s", source.ErrUnavailable, resp.StatusCode, string(b))
	}

	var rows []row
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode bins: %w", err)
	}
	s.logger.Debug("rest fetch done", "op", op, "rows", len(rows), "duration", dur.String())

	bins := make([]model.Bin, 0, len(rows))
	for _, r := range rows {
		bins = append(bins, model.Bin{
			ID:          idString(r.ID),
			Lat:         r.Latitude,
			Lng:         r.Longitude,
			Address:     r.Address,
			Type:        r.Type,
			IsRecycle:   r.IsRecycle,
			IsGeneral:   r.IsGeneral,
			IsFoodWaste: r.IsFoodWaste,
			Desc:        r.Desc,
		})
	}
	return bins, nil
}

// ids arrive as numbers or strings depending on the column type
func idString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
