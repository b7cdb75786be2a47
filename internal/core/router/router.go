// Package router holds the JSON handlers of the HTTP API.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/rolzie-7/Bin-map/internal/core/model"
	"github.com/rolzie-7/Bin-map/internal/present"
	"github.com/rolzie-7/Bin-map/internal/screen"
	"github.com/rolzie-7/Bin-map/internal/source"
)

// HomeLoader produces the home screen view.
type HomeLoader interface {
	Load(ctx context.Context) screen.View
}

type binsResponse struct {
	Markers []model.Marker `json:"markers"`
	Gated   bool           `json:"gated,omitempty"`
	Skipped int            `json:"skipped,omitempty"`
}

// Home serves the result of the home screen's single fetch. A failed fetch
// is a screen state, so the status is always 200.
func Home(h HomeLoader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.Load(r.Context()))
	}
}

// Bins answers one viewport query: bbox=minLng,minLat,maxLng,maxLat and an
// optional zoom, gated at minZoom like an interactive map.
func Bins(logger *slog.Logger, src source.Source, minZoom int, style present.TitleStyle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, zoom, err := ParseBinsQuery(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if zoom != nil && *zoom < float64(minZoom) {
			writeJSON(w, http.StatusOK, binsResponse{Markers: []model.Marker{}, Gated: true})
			return
		}

		bins, err := src.SelectInBounds(r.Context(), b)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, source.ErrUnavailable) {
				status = http.StatusBadGateway
			}
			logger.WarnContext(r.Context(), "bins query failed", "bounds", b.String(), "err", err)
			http.Error(w, http.StatusText(status), status)
			return
		}
		markers, skipped := present.ProjectAll(bins, style)
		if markers == nil {
			markers = []model.Marker{}
		}
		writeJSON(w, http.StatusOK, binsResponse{Markers: markers, Skipped: skipped})
	}
}

func ParseBinsQuery(r *http.Request) (model.Bounds, *float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("bbox"))
	if raw == "" {
		return model.Bounds{}, nil, errors.New("missing required parameter: bbox")
	}
	b, err := ParseBounds(raw)
	if err != nil {
		return model.Bounds{}, nil, fmt.Errorf("invalid bbox: %w", err)
	}
	rawZoom := strings.TrimSpace(r.URL.Query().Get("zoom"))
	if rawZoom == "" {
		return b, nil, nil
	}
	z, err := parseFloat(rawZoom)
	if err != nil || z < 0 || z > 22 {
		return model.Bounds{}, nil, fmt.Errorf("invalid zoom %q", rawZoom)
	}
	return b, &z, nil
}

// ParseBounds reads "minLng,minLat,maxLng,maxLat", optionally followed by
// EPSG:4326.
func ParseBounds(raw string) (model.Bounds, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 && len(parts) != 5 {
		return model.Bounds{}, errors.New("expected minLng,minLat,maxLng,maxLat[,EPSG:4326]")
	}
	var v [4]float64
	for i, name := range []string{"minLng", "minLat", "maxLng", "maxLat"} {
		f, err := parseFloat(parts[i])
		if err != nil {
			return model.Bounds{}, fmt.Errorf("%s: %w", name, err)
		}
		v[i] = f
	}
	if len(parts) == 5 {
		if srid := strings.ToUpper(strings.TrimSpace(parts[4])); srid != "EPSG:4326" {
			return model.Bounds{}, fmt.Errorf("only EPSG:4326 is supported (got %q)", srid)
		}
	}
	b := model.Bounds{
		SW: model.LatLng{Lat: v[1], Lng: v[0]},
		NE: model.LatLng{Lat: v[3], Lng: v[2]},
	}
	if !b.Valid() {
		return model.Bounds{}, errors.New("coordinates out of range or min > max")
	}
	return b, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
