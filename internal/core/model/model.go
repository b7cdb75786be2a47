// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"math"
)

// Bin is one waste receptacle row as stored by the bin record source.
// Lat/Lng are pointers because upstream rows may omit them.
type Bin struct {
	ID          string   `json:"id"`
	Lat         *float64 `json:"latitude"`
	Lng         *float64 `json:"longitude"`
	Address     string   `json:"address"`
	Type        string   `json:"type,omitempty"`
	IsRecycle   bool     `json:"is_recycle"`
	IsGeneral   bool     `json:"is_general"`
	IsFoodWaste bool     `json:"is_food_waste"`
	Desc        string   `json:"description"`
}

// Position reports the bin location, false when coordinates are missing or not finite.
func (b Bin) Position() (LatLng, bool) {
	if b.Lat == nil || b.Lng == nil {
		return LatLng{}, false
	}
	p := LatLng{Lat: *b.Lat, Lng: *b.Lng}
	if !p.Valid() {
		return LatLng{}, false
	}
	return p, true
}

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p LatLng) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func (p LatLng) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// Bounds is a south-west / north-east rectangle in WGS84 degrees.
type Bounds struct {
	SW LatLng `json:"sw"`
	NE LatLng `json:"ne"`
}

func (b Bounds) Valid() bool {
	if !b.SW.Valid() || !b.NE.Valid() {
		return false
	}
	return b.SW.Lat <= b.NE.Lat && b.SW.Lng <= b.NE.Lng
}

// Contains is inclusive on every edge, matching the gte/lte query predicate.
func (b Bounds) Contains(p LatLng) bool {
	return p.Lat >= b.SW.Lat && p.Lat <= b.NE.Lat &&
		p.Lng >= b.SW.Lng && p.Lng <= b.NE.Lng
}

// Union is the smallest rectangle covering both b and o.
func (b Bounds) Union(o Bounds) Bounds {
	return Bounds{
		SW: LatLng{Lat: math.Min(b.SW.Lat, o.SW.Lat), Lng: math.Min(b.SW.Lng, o.SW.Lng)},
		NE: LatLng{Lat: math.Max(b.NE.Lat, o.NE.Lat), Lng: math.Max(b.NE.Lng, o.NE.Lng)},
	}
}

// String representation as minLng,minLat,maxLng,maxLat
func (b Bounds) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.SW.Lng, b.SW.Lat, b.NE.Lng, b.NE.Lat)
}

// Viewport is the visible map state. A nil Bounds means the surface cannot report it yet.
type Viewport struct {
	Zoom   float64 `json:"zoom"`
	Center LatLng  `json:"center"`
	Bounds *Bounds `json:"bounds,omitempty"`
}

type IconVariant string

const (
	IconFoodWaste IconVariant = "food_waste"
	IconRecycle   IconVariant = "recycle"
	IconGeneral   IconVariant = "general"
)

type Marker struct {
	BinID       string      `json:"id"`
	Position    LatLng      `json:"position"`
	Icon        IconVariant `json:"icon"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Address     string      `json:"address,omitempty"`
}

type Cells []string
