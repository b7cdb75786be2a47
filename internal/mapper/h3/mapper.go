// Package h3mapper maps viewport bounds and bin positions onto H3 cells.
package h3mapper

import (
	"errors"
	"fmt"
	"math"
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"github.com/rolzie-7/Bin-map/internal/core/model"
)

const kmPerDegLat = 111.32

// average hexagon edge length in km, indexed by resolution
var edgeKm = [16]float64{
	1281.256011, 483.0568391, 182.5129565, 68.97922179,
	26.07175968, 9.854090990, 3.724532667, 1.406475763,
	0.531414010, 0.200786148, 0.075863783, 0.028663897,
	0.010830188, 0.004092010, 0.001546100, 0.000584169,
}

type Mapper struct {
	res int
}

func New(res int) (*Mapper, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	return &Mapper{res: res}, nil
}

func (m *Mapper) Res() int { return m.res }

// CellOf returns the cell containing p.
func (m *Mapper) CellOf(p model.LatLng) (string, error) {
	if !p.Valid() {
		return "", fmt.Errorf("invalid position %s", p)
	}
	c, err := h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lng), m.res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return c.String(), nil
}

// CellsForBounds returns every cell that intersects b, sorted and unique.
// Interior cells come from a polyfill; cells that only clip the edges are
// found by walking the perimeter and taking the neighbours of each sample.
func (m *Mapper) CellsForBounds(b model.Bounds) (model.Cells, error) {
	if !b.Valid() {
		return nil, fmt.Errorf("invalid bounds %s", b)
	}
	set := make(map[h3.Cell]struct{})

	outer := h3.GeoLoop{
		h3.NewLatLng(b.SW.Lat, b.SW.Lng),
		h3.NewLatLng(b.SW.Lat, b.NE.Lng),
		h3.NewLatLng(b.NE.Lat, b.NE.Lng),
		h3.NewLatLng(b.NE.Lat, b.SW.Lng),
	}
	if b.NE.Lat > b.SW.Lat && b.NE.Lng > b.SW.Lng {
		interior, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer}, m.res)
		if err != nil {
			return nil, fmt.Errorf("h3 polyfill: %w", err)
		}
		for _, c := range interior {
			set[c] = struct{}{}
		}
	}

	for _, p := range perimeter(b, edgeKm[m.res]/3) {
		c, err := h3.LatLngToCell(p, m.res)
		if err != nil {
			return nil, fmt.Errorf("h3 cell: %w", err)
		}
		ring, err := h3.GridDisk(c, 1)
		if err != nil {
			return nil, fmt.Errorf("h3 grid disk: %w", err)
		}
		for _, n := range ring {
			set[n] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c.String())
	}
	sort.Strings(out)
	return out, nil
}

// CellBounds is the lat/lng rectangle enclosing the cell boundary.
func (m *Mapper) CellBounds(cell string) (model.Bounds, error) {
	var c h3.Cell
	if err := c.UnmarshalText([]byte(cell)); err != nil {
		return model.Bounds{}, fmt.Errorf("parse cell: %w", err)
	}
	if !c.IsValid() {
		return model.Bounds{}, fmt.Errorf("invalid h3 cell %q", cell)
	}
	boundary, err := c.Boundary()
	if err != nil {
		return model.Bounds{}, fmt.Errorf("h3 boundary: %w", err)
	}
	if len(boundary) == 0 {
		return model.Bounds{}, errors.New("empty cell boundary")
	}
	out := model.Bounds{
		SW: model.LatLng{Lat: math.Inf(1), Lng: math.Inf(1)},
		NE: model.LatLng{Lat: math.Inf(-1), Lng: math.Inf(-1)},
	}
	for _, v := range boundary {
		out.SW.Lat = math.Min(out.SW.Lat, v.Lat)
		out.SW.Lng = math.Min(out.SW.Lng, v.Lng)
		out.NE.Lat = math.Max(out.NE.Lat, v.Lat)
		out.NE.Lng = math.Max(out.NE.Lng, v.Lng)
	}
	return out, nil
}

// perimeter samples the edges of b at most stepKm apart, corners included.
func perimeter(b model.Bounds, stepKm float64) []h3.LatLng {
	maxAbsLat := math.Max(math.Abs(b.SW.Lat), math.Abs(b.NE.Lat))
	cos := math.Max(math.Cos(maxAbsLat*math.Pi/180), 0.01)
	stepLat := stepKm / kmPerDegLat
	stepLng := stepKm / (kmPerDegLat * cos)

	var pts []h3.LatLng
	edge := func(from, to model.LatLng, step float64, span float64) {
		n := int(math.Ceil(span / step))
		if n < 1 {
			n = 1
		}
		for i := 0; i <= n; i++ {
			f := float64(i) / float64(n)
			pts = append(pts, h3.NewLatLng(
				from.Lat+(to.Lat-from.Lat)*f,
				from.Lng+(to.Lng-from.Lng)*f,
			))
		}
	}
	nw := model.LatLng{Lat: b.NE.Lat, Lng: b.SW.Lng}
	se := model.LatLng{Lat: b.SW.Lat, Lng: b.NE.Lng}
	edge(b.SW, se, stepLng, b.NE.Lng-b.SW.Lng)
	edge(se, b.NE, stepLat, b.NE.Lat-b.SW.Lat)
	edge(b.NE, nw, stepLng, b.NE.Lng-b.SW.Lng)
	edge(nw, b.SW, stepLat, b.NE.Lat-b.SW.Lat)
	return pts
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}
