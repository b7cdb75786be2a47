package tile

import (
	"image"
	"math"

	"github.com/rolzie-7/Bin-map/internal/core/model"
)

const (
	TileSize           = 256
	earthCircumference = 40075016.686 // meters at equator
	maxMercatorLat     = 85.05112878
)

// Tile is a slippy-map tile address.
type Tile struct {
	X, Y, Zoom int
}

func LatLngToTile(ll model.LatLng, zoom int) Tile {
	x, y := WorldPixel(ll, float64(zoom))
	return ConstrainTile(Tile{X: int(x / TileSize), Y: int(y / TileSize), Zoom: zoom})
}

// TileToLatLng returns the north-west corner of the tile.
func TileToLatLng(t Tile) model.LatLng {
	return WorldToLatLng(float64(t.X*TileSize), float64(t.Y*TileSize), float64(t.Zoom))
}

// WorldPixel converts a position to world pixel coordinates at zoom.
func WorldPixel(ll model.LatLng, zoom float64) (float64, float64) {
	n := math.Pow(2, zoom)
	lat := math.Max(-maxMercatorLat, math.Min(maxMercatorLat, ll.Lat))
	latRad := lat * math.Pi / 180.0
	worldX := TileSize * n * (ll.Lng + 180) / 360
	worldY := TileSize * n * (1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2
	return worldX, worldY
}

func WorldToLatLng(worldX, worldY, zoom float64) model.LatLng {
	n := math.Pow(2, zoom)
	lng := (worldX/(TileSize*n))*360 - 180
	latRad := math.Pi * (1 - 2*worldY/(TileSize*n))
	lat := 180 / math.Pi * math.Atan(math.Sinh(latRad))
	return model.LatLng{Lat: lat, Lng: lng}
}

func MetersPerPixel(latitude float64, zoom float64) float64 {
	return earthCircumference * math.Cos(latitude*math.Pi/180) / (math.Pow(2, zoom) * TileSize)
}

func ConstrainTile(t Tile) Tile {
	maxTile := int(math.Pow(2, float64(t.Zoom))) - 1
	t.X = max(0, min(t.X, maxTile))
	t.Y = max(0, min(t.Y, maxTile))
	return t
}

// VisibleTiles lists the tiles a screen of the given size shows around center,
// with one tile of margin.
func VisibleTiles(center model.LatLng, zoom int, screen image.Point) []Tile {
	c := LatLngToTile(center, zoom)
	tilesX := screen.X/TileSize + 2
	tilesY := screen.Y/TileSize + 2

	startX := c.X - tilesX/2
	startY := c.Y - tilesY/2

	seen := make(map[Tile]struct{}, tilesX*tilesY)
	out := make([]Tile, 0, tilesX*tilesY)
	for x := startX; x < startX+tilesX; x++ {
		for y := startY; y < startY+tilesY; y++ {
			t := ConstrainTile(Tile{X: x, Y: y, Zoom: zoom})
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// BoundsAt is the area a screen of the given pixel size shows when centered
// on center at zoom.
func BoundsAt(center model.LatLng, zoom float64, screen image.Point) model.Bounds {
	cx, cy := WorldPixel(center, zoom)
	hw, hh := float64(screen.X)/2, float64(screen.Y)/2
	world := TileSize * math.Pow(2, zoom)

	sw := WorldToLatLng(math.Max(0, cx-hw), math.Min(world, cy+hh), zoom)
	ne := WorldToLatLng(math.Min(world, cx+hw), math.Max(0, cy-hh), zoom)
	return model.Bounds{SW: sw, NE: ne}
}
