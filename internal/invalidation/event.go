// Package invalidation describes bin change events published by writers of
// the bin table.
package invalidation

import (
	"fmt"
	"strings"
	"time"

	"github.com/rolzie-7/Bin-map/internal/core/model"
)

const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Event is one row change. Version increases per bin; Lat/Lng is the row
// position after the change (before it, for deletes).
type Event struct {
	Version uint64    `json:"version"`
	Op      string    `json:"op"`
	BinID   string    `json:"bin_id"`
	Lat     *float64  `json:"lat,omitempty"`
	Lng     *float64  `json:"lng,omitempty"`
	PrevLat *float64  `json:"prev_lat,omitempty"`
	PrevLng *float64  `json:"prev_lng,omitempty"`
	TS      time.Time `json:"ts"`
}

func (e Event) Validate() error {
	if e.Version == 0 {
		return fmt.Errorf("version must be > 0")
	}
	switch e.Op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("op must be insert|update|delete")
	}
	if strings.TrimSpace(e.BinID) == "" {
		return fmt.Errorf("bin_id is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	if (e.Lat == nil) != (e.Lng == nil) {
		return fmt.Errorf("lat and lng must be set together")
	}
	if (e.PrevLat == nil) != (e.PrevLng == nil) {
		return fmt.Errorf("prev_lat and prev_lng must be set together")
	}
	if e.Lat == nil && e.PrevLat == nil {
		return fmt.Errorf("at least one of lat/lng or prev_lat/prev_lng is required")
	}
	if e.Op == OpInsert && e.Lat == nil {
		return fmt.Errorf("insert requires lat/lng")
	}
	for _, p := range e.Positions() {
		if !p.Valid() {
			return fmt.Errorf("position out of range: %s", p)
		}
	}
	return nil
}

// Positions lists the distinct positions touched by the change.
func (e Event) Positions() []model.LatLng {
	var out []model.LatLng
	if e.Lat != nil && e.Lng != nil {
		out = append(out, model.LatLng{Lat: *e.Lat, Lng: *e.Lng})
	}
	if e.PrevLat != nil && e.PrevLng != nil {
		prev := model.LatLng{Lat: *e.PrevLat, Lng: *e.PrevLng}
		if len(out) == 0 || out[0] != prev {
			out = append(out, prev)
		}
	}
	return out
}
