package web

import (
	"encoding/json"
	"fmt"

	"github.com/rolzie-7/Bin-map/internal/core/model"
	"github.com/rolzie-7/Bin-map/internal/present"
)

// browser -> server
const (
	msgReady         = "ready"
	msgIdle          = "idle"
	msgTap           = "tap"
	msgDismiss       = "dismiss"
	msgLocation      = "location"
	msgLocationError = "location_error"
)

// server -> browser
const (
	msgLoading      = "loading"
	msgConfig       = "config"
	msgMapError     = "map_error"
	msgMarkers      = "markers"
	msgRecenter     = "recenter"
	msgPanel        = "panel"
	msgLocate       = "locate"
	msgUserLocation = "user_location"
)

const mapErrorText = "Error loading map"

type inbound struct {
	Type    string        `json:"type"`
	Zoom    float64       `json:"zoom"`
	Center  model.LatLng  `json:"center"`
	Bounds  *model.Bounds `json:"bounds,omitempty"`
	BinID   string        `json:"bin_id,omitempty"`
	Lat     float64       `json:"lat,omitempty"`
	Lng     float64       `json:"lng,omitempty"`
	Message string        `json:"message,omitempty"`
}

func (m inbound) viewport() model.Viewport {
	return model.Viewport{Zoom: m.Zoom, Center: m.Center, Bounds: m.Bounds}
}

type outbound struct {
	Type      string              `json:"type"`
	SessionID string              `json:"session_id,omitempty"`
	APIKey    string              `json:"api_key,omitempty"`
	MinZoom   *int                `json:"min_zoom,omitempty"`
	Center    *model.LatLng       `json:"center,omitempty"`
	Zoom      *int                `json:"zoom,omitempty"`
	Markers   []model.Marker      `json:"markers,omitempty"`
	Panel     *present.PanelState `json:"panel,omitempty"`
	Message   string              `json:"message,omitempty"`

	HighAccuracy bool  `json:"high_accuracy,omitempty"`
	TimeoutMS    int64 `json:"timeout_ms,omitempty"`
	MaximumAgeMS int64 `json:"maximum_age_ms,omitempty"`
}

// markers are always sent as an array so the client can clear the map
func (o outbound) MarshalJSON() ([]byte, error) {
	type plain outbound
	if o.Type != msgMarkers {
		return json.Marshal(plain(o))
	}
	if o.Markers == nil {
		o.Markers = []model.Marker{}
	}
	return json.Marshal(struct {
		plain
		Markers []model.Marker `json:"markers"`
	}{plain: plain(o), Markers: o.Markers})
}

func decodeInbound(raw []byte) (inbound, error) {
	var m inbound
	if err := json.Unmarshal(raw, &m); err != nil {
		return inbound{}, fmt.Errorf("decode message: %w", err)
	}
	switch m.Type {
	case msgReady, msgIdle, msgTap, msgDismiss, msgLocation, msgLocationError:
	default:
		return inbound{}, fmt.Errorf("unknown message type %q", m.Type)
	}
	return m, nil
}
