package geo

import (
	"sort"

	"github.com/paulmach/orb"

	"github.com/mmcdole/offgrid/internal/domain"
)

// Estimate is the projected size of a region download.
type Estimate struct {
	TileCount      int   `json:"tileCount"`
	EstimatedBytes int64 `json:"estimatedBytes"`
}

// tileRange is the inclusive index rectangle covering bounds at one zoom.
// When the bounds cross the antimeridian, columns run from minX through
// 2^z-1 and continue at 0 up to maxX.
type tileRange struct {
	z, minX, maxX, minY, maxY int
	wrap                      bool
}

func rangeFor(b orb.Bound, z int) tileRange {
	// top-left from (north, west), bottom-right from (south, east)
	minX, minY := LonLatToTile(orb.Point{b.Min.Lon(), b.Max.Lat()}, z)
	maxX, maxY := LonLatToTile(orb.Point{b.Max.Lon(), b.Min.Lat()}, z)
	r := tileRange{z: z, minX: minX, maxX: maxX, minY: minY, maxY: maxY}

	if b.Min.Lon() > b.Max.Lon() {
		r.wrap = true
		if minX <= maxX {
			// both edges share a column, so the span covers every column
			r.minX, r.maxX = 0, (1<<uint(z))-1
			r.wrap = false
		}
	}
	return r
}

func (r tileRange) wraps() bool {
	return r.wrap
}

func (r tileRange) columns() []int {
	if !r.wraps() {
		cols := make([]int, 0, r.maxX-r.minX+1)
		for x := r.minX; x <= r.maxX; x++ {
			cols = append(cols, x)
		}
		return cols
	}
	last := (1 << uint(r.z)) - 1
	cols := make([]int, 0, last-r.minX+1+r.maxX+1)
	for x := 0; x <= r.maxX; x++ {
		cols = append(cols, x)
	}
	for x := r.minX; x <= last; x++ {
		cols = append(cols, x)
	}
	return cols
}

func (r tileRange) count() int {
	width := r.maxX - r.minX + 1
	if r.wraps() {
		width = (1 << uint(r.z)) - r.minX + r.maxX + 1
	}
	return width * (r.maxY - r.minY + 1)
}

// TilesForBoundsZoom enumerates every tile in the inclusive index rectangle
// covering b at zoom z, ordered by x then y.
func TilesForBoundsZoom(b orb.Bound, z int) []domain.TileCoord {
	r := rangeFor(b, z)
	tiles := make([]domain.TileCoord, 0, r.count())
	for _, x := range r.columns() {
		for y := r.minY; y <= r.maxY; y++ {
			tiles = append(tiles, domain.TileCoord{Z: z, X: x, Y: y})
		}
	}
	return tiles
}

// TilesForRegion is the deduplicated union of TilesForBoundsZoom over every
// zoom of the region, ordered by z, x, y.
func TilesForRegion(def domain.OfflineRegionDefinition) []domain.TileCoord {
	var tiles []domain.TileCoord
	for z := def.MinZoom; z <= def.MaxZoom; z++ {
		tiles = append(tiles, TilesForBoundsZoom(def.Bounds, z)...)
	}

	sort.Slice(tiles, func(i, j int) bool {
		a, b := tiles[i], tiles[j]
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	})

	out := tiles[:0]
	for i, t := range tiles {
		if i > 0 && t == tiles[i-1] {
			continue
		}
		out = append(out, t)
	}
	return out
}

// CountTiles returns len(TilesForRegion(def)) without materializing tiles.
func CountTiles(def domain.OfflineRegionDefinition) int {
	total := 0
	for z := def.MinZoom; z <= def.MaxZoom; z++ {
		total += rangeFor(def.Bounds, z).count()
	}
	return total
}

// EstimateRegion computes the tile count and approximate byte size.
func EstimateRegion(def domain.OfflineRegionDefinition) Estimate {
	count := CountTiles(def)
	return Estimate{
		TileCount:      count,
		EstimatedBytes: int64(count) * def.TileSizeEstimate(),
	}
}
