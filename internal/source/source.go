// Package source defines the bin record source consumed by the map.
package source

import (
	"context"
	"errors"

	"github.com/rolzie-7/Bin-map/internal/core/model"
)

// ErrUnavailable marks failures to reach the backing store.
var ErrUnavailable = errors.New("bin source unavailable")

type Source interface {
	SelectAll(ctx context.Context) ([]model.Bin, error)
	// SelectInBounds returns bins with lat in [SW.Lat, NE.Lat] and lng in [SW.Lng, NE.Lng].
	SelectInBounds(ctx context.Context, b model.Bounds) ([]model.Bin, error)
}

// Pinger is implemented by sources that can report backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
