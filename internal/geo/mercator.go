// Package geo holds the spherical Web-Mercator math used to plan tile sets
// and fit viewports. Everything here is pure.
package geo

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/mmcdole/offgrid/internal/domain"
)

// MaxLatitude is the northern limit of the Web-Mercator square.
const MaxLatitude = 85.05112878

// TileSize is the pixel edge of one tile at its native zoom.
const TileSize = 256

// Project maps lon/lat to normalized Mercator coordinates in [0,1]²,
// with (0,0) at the north-west corner. Latitude is clamped to ±MaxLatitude.
func Project(p orb.Point) orb.Point {
	lat := math.Max(-MaxLatitude, math.Min(MaxLatitude, p.Lat()))
	sin := math.Sin(lat * math.Pi / 180)

	x := (p.Lon() + 180) / 360
	y := 0.5 - math.Log((1+sin)/(1-sin))/(4*math.Pi)
	return orb.Point{x, y}
}

// Unproject is the inverse of Project.
func Unproject(p orb.Point) orb.Point {
	lon := p.X()*360 - 180
	n := math.Pi - 2*math.Pi*p.Y()
	lat := 180 / math.Pi * math.Atan(math.Sinh(n))
	return orb.Point{lon, lat}
}

// LonLatToTile returns the tile containing p at zoom z. Indices are clamped
// into [0, 2^z-1] so the east and south edges of the world stay addressable.
func LonLatToTile(p orb.Point, z int) (x, y int) {
	n := float64(int64(1) << uint(z))
	m := Project(p)
	return clampIndex(math.Floor(m.X()*n), z), clampIndex(math.Floor(m.Y()*n), z)
}

func clampIndex(v float64, z int) int {
	maxIdx := float64(int64(1)<<uint(z)) - 1
	if v < 0 {
		return 0
	}
	if v > maxIdx {
		return int(maxIdx)
	}
	return int(v)
}

// TileBounds returns the lon/lat rectangle covered by a tile.
func TileBounds(t domain.TileCoord) orb.Bound {
	n := float64(int64(1) << uint(t.Z))
	nw := Unproject(orb.Point{float64(t.X) / n, float64(t.Y) / n})
	se := Unproject(orb.Point{float64(t.X+1) / n, float64(t.Y+1) / n})
	return orb.Bound{
		Min: orb.Point{nw.Lon(), se.Lat()},
		Max: orb.Point{se.Lon(), nw.Lat()},
	}
}
