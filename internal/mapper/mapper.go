// Package mapper converts between geographic coordinates and H3 cells.
package mapper

import (
	"github.com/rolzie-7/Bin-map/internal/core/model"
)

type Interface interface {
	Res() int
	CellOf(p model.LatLng) (string, error)
	CellsForBounds(b model.Bounds) (model.Cells, error)
	CellBounds(cell string) (model.Bounds, error)
}
