package geo

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/mmcdole/offgrid/internal/domain"
)

func near(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestProject_RoundTrip(t *testing.T) {
	points := []orb.Point{
		{0, 0},
		{2.3522, 48.8566},
		{-122.4194, 37.7749},
		{151.2093, -33.8688},
		{-179.9, 84.9},
	}
	for _, p := range points {
		got := Unproject(Project(p))
		if !near(got.Lon(), p.Lon(), 1e-9) || !near(got.Lat(), p.Lat(), 1e-9) {
			t.Errorf("Unproject(Project(%v)) = %v", p, got)
		}
	}
}

func TestProject_ClampsLatitude(t *testing.T) {
	top := Project(orb.Point{0, 90})
	if !near(top.Y(), 0, 1e-6) {
		t.Errorf("Project(lat 90).Y = %v, want ~0", top.Y())
	}
	bottom := Project(orb.Point{0, -90})
	if !near(bottom.Y(), 1, 1e-6) {
		t.Errorf("Project(lat -90).Y = %v, want ~1", bottom.Y())
	}
}

func TestLonLatToTile_MatchesMaptile(t *testing.T) {
	points := []orb.Point{
		{2.3522, 48.8566},
		{-74.006, 40.7128},
		{139.6917, 35.6895},
		{-58.3816, -34.6037},
	}
	for _, p := range points {
		for z := 0; z <= 18; z++ {
			x, y := LonLatToTile(p, z)
			want := maptile.At(p, maptile.Zoom(z))
			if x != int(want.X) || y != int(want.Y) {
				t.Errorf("LonLatToTile(%v, %d) = %d/%d, maptile says %d/%d", p, z, x, y, want.X, want.Y)
			}
		}
	}
}

func TestLonLatToTile_ClampsEdges(t *testing.T) {
	for z := 0; z <= 5; z++ {
		last := (1 << uint(z)) - 1
		x, y := LonLatToTile(orb.Point{180, -90}, z)
		if x != last || y != last {
			t.Errorf("z=%d south-east corner = %d/%d, want %d/%d", z, x, y, last, last)
		}
		x, y = LonLatToTile(orb.Point{-180, 90}, z)
		if x != 0 || y != 0 {
			t.Errorf("z=%d north-west corner = %d/%d, want 0/0", z, x, y)
		}
	}
}

func TestTileBounds_MatchesMaptile(t *testing.T) {
	tiles := []domain.TileCoord{{Z: 0}, {Z: 3, X: 4, Y: 2}, {Z: 12, X: 2074, Y: 1409}}
	for _, tc := range tiles {
		got := TileBounds(tc)
		want := maptile.New(uint32(tc.X), uint32(tc.Y), maptile.Zoom(tc.Z)).Bound()
		if !near(got.Min.Lon(), want.Min.Lon(), 1e-6) || !near(got.Max.Lat(), want.Max.Lat(), 1e-6) ||
			!near(got.Max.Lon(), want.Max.Lon(), 1e-6) || !near(got.Min.Lat(), want.Min.Lat(), 1e-6) {
			t.Errorf("TileBounds(%v) = %v, want %v", tc, got, want)
		}
	}
}

func mustRegion(t *testing.T, b orb.Bound, minZoom, maxZoom int) domain.OfflineRegionDefinition {
	t.Helper()
	def, err := domain.NewRegionDefinition("r", "r", b, minZoom, maxZoom, domain.FormatPNG)
	if err != nil {
		t.Fatalf("NewRegionDefinition: %v", err)
	}
	return def
}

func TestTilesForBoundsZoom_WholeWorld(t *testing.T) {
	world := orb.Bound{Min: orb.Point{-180, -85}, Max: orb.Point{180, 85}}
	for z, want := range []int{1, 4, 16} {
		if got := len(TilesForBoundsZoom(world, z)); got != want {
			t.Errorf("z=%d: %d tiles, want %d", z, got, want)
		}
	}
}

func TestTilesForBoundsZoom_SinglePoint(t *testing.T) {
	p := orb.Point{2.3522, 48.8566}
	tiles := TilesForBoundsZoom(orb.Bound{Min: p, Max: p}, 14)
	if len(tiles) != 1 {
		t.Fatalf("got %d tiles, want 1", len(tiles))
	}
	want := maptile.At(p, 14)
	if tiles[0].X != int(want.X) || tiles[0].Y != int(want.Y) {
		t.Errorf("tile = %v, want %d/%d", tiles[0], want.X, want.Y)
	}
}

func TestTilesForRegion_OrderedAndUnique(t *testing.T) {
	def := mustRegion(t, orb.Bound{Min: orb.Point{2.2, 48.8}, Max: orb.Point{2.5, 48.9}}, 8, 13)
	tiles := TilesForRegion(def)

	seen := make(map[domain.TileCoord]bool)
	for i, tc := range tiles {
		if seen[tc] {
			t.Fatalf("duplicate tile %v", tc)
		}
		seen[tc] = true
		if i == 0 {
			continue
		}
		prev := tiles[i-1]
		ordered := prev.Z < tc.Z ||
			(prev.Z == tc.Z && prev.X < tc.X) ||
			(prev.Z == tc.Z && prev.X == tc.X && prev.Y < tc.Y)
		if !ordered {
			t.Fatalf("tiles out of order: %v then %v", prev, tc)
		}
	}

	if got := CountTiles(def); got != len(tiles) {
		t.Errorf("CountTiles = %d, len(TilesForRegion) = %d", got, len(tiles))
	}
}

func TestTilesForRegion_Antimeridian(t *testing.T) {
	fiji := orb.Bound{Min: orb.Point{177, -19}, Max: orb.Point{-178, -16}}
	def := mustRegion(t, fiji, 4, 4)
	tiles := TilesForRegion(def)

	var west, east bool
	for _, tc := range tiles {
		if tc.X == 15 {
			west = true
		}
		if tc.X == 0 {
			east = true
		}
		if tc.X > 0 && tc.X < 15 {
			t.Errorf("tile %v lies outside the wrapped span", tc)
		}
	}
	if !west || !east {
		t.Errorf("expected columns on both sides of the antimeridian, got %v", tiles)
	}
	if CountTiles(def) != len(tiles) {
		t.Errorf("CountTiles = %d, want %d", CountTiles(def), len(tiles))
	}
}

func TestEstimateRegion(t *testing.T) {
	b := orb.Bound{Min: orb.Point{-180, -85}, Max: orb.Point{180, 85}}
	def, err := domain.NewRegionDefinition("w", "w", b, 0, 2, domain.FormatPBF)
	if err != nil {
		t.Fatal(err)
	}
	est := EstimateRegion(def)
	if est.TileCount != 1+4+16 {
		t.Errorf("TileCount = %d, want 21", est.TileCount)
	}
	if est.EstimatedBytes != 21*domain.DefaultVectorTileBytes {
		t.Errorf("EstimatedBytes = %d", est.EstimatedBytes)
	}
}

func TestFitBounds(t *testing.T) {
	tests := []struct {
		name     string
		bounds   orb.Bound
		w, h     float64
		padding  float64
		maxZoom  int
		wantZoom int
	}{
		{
			name:     "whole world in one tile",
			bounds:   orb.Bound{Min: orb.Point{-180, -85.0511}, Max: orb.Point{180, 85.0511}},
			w:        256, h: 256, maxZoom: 20,
			wantZoom: 0,
		},
		{
			name:     "whole world in 512px",
			bounds:   orb.Bound{Min: orb.Point{-180, -85.0511}, Max: orb.Point{180, 85.0511}},
			w:        512, h: 512, maxZoom: 20,
			wantZoom: 1,
		},
		{
			name:     "point capped by maxZoom",
			bounds:   orb.Bound{Min: orb.Point{2.35, 48.85}, Max: orb.Point{2.35, 48.85}},
			w:        800, h: 600, maxZoom: 17,
			wantZoom: 17,
		},
		{
			name:     "padding eats viewport",
			bounds:   orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}},
			w:        100, h: 100, padding: 60, maxZoom: 18,
			wantZoom: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, zoom := FitBounds(tt.w, tt.h, tt.padding, tt.bounds, tt.maxZoom)
			if zoom != tt.wantZoom {
				t.Errorf("zoom = %d, want %d", zoom, tt.wantZoom)
			}
		})
	}
}

func TestFitBounds_ContainsBoundsAtZoom(t *testing.T) {
	b := orb.Bound{Min: orb.Point{-0.51, 51.28}, Max: orb.Point{0.33, 51.69}}
	center, zoom := FitBounds(1024, 768, 20, b, 22)

	if !b.Contains(center) {
		t.Errorf("center %v outside bounds", center)
	}

	// Bounds width in pixels at the chosen zoom must fit; one zoom deeper must not
	scale := func(z int) float64 { return TileSize * math.Exp2(float64(z)) }
	nw, se := Project(orb.Point{b.Min.Lon(), b.Max.Lat()}), Project(orb.Point{b.Max.Lon(), b.Min.Lat()})
	wPx := func(z int) float64 { return (se.X() - nw.X()) * scale(z) }
	hPx := func(z int) float64 { return (se.Y() - nw.Y()) * scale(z) }

	if wPx(zoom) > 1024-40 || hPx(zoom) > 768-40 {
		t.Errorf("zoom %d does not fit: %vx%v", zoom, wPx(zoom), hPx(zoom))
	}
	if wPx(zoom+1) <= 1024-40 && hPx(zoom+1) <= 768-40 {
		t.Errorf("zoom %d is not the largest that fits", zoom)
	}
}

func TestFitBounds_Antimeridian(t *testing.T) {
	fiji := orb.Bound{Min: orb.Point{177, -19}, Max: orb.Point{-178, -16}}
	center, zoom := FitBounds(800, 600, 0, fiji, 20)

	// Span is 5 degrees wide, not 355
	if zoom < 5 {
		t.Errorf("zoom = %d, expected a regional zoom", zoom)
	}
	lon := center.Lon()
	if !(lon > 177 || lon < -178) {
		t.Errorf("center longitude %v not on the wrapped midpoint", lon)
	}
	if !near(math.Abs(lon), 179.5, 0.01) {
		t.Errorf("center longitude = %v, want ±179.5", lon)
	}
}

// overlaps reports whether two lon/lat rectangles share a region of
// positive area.
func overlaps(a, b orb.Bound) bool {
	return a.Min.Lon() < b.Max.Lon() && a.Max.Lon() > b.Min.Lon() &&
		a.Min.Lat() < b.Max.Lat() && a.Max.Lat() > b.Min.Lat()
}

func TestTilesForBoundsZoom_OneDegreeIntersectsAndMonotonic(t *testing.T) {
	tests := map[string]orb.Bound{
		"alps":            {Min: orb.Point{10, 45}, Max: orb.Point{11, 46}},
		"null island":     {Min: orb.Point{-0.5, -0.5}, Max: orb.Point{0.5, 0.5}},
		"east edge":       {Min: orb.Point{179, 84}, Max: orb.Point{180, 85}},
		"west edge":       {Min: orb.Point{-180, -85}, Max: orb.Point{-179, -84}},
		"beyond mercator": {Min: orb.Point{10, 85}, Max: orb.Point{11, 89}},
	}
	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			prev := 0
			for z := 0; z <= 16; z++ {
				got := TilesForBoundsZoom(b, z)
				if len(got) < prev {
					t.Fatalf("z%d: %d tiles, fewer than %d at z%d", z, len(got), prev, z-1)
				}
				prev = len(got)

				in := make(map[domain.TileCoord]bool, len(got))
				minX, maxX, minY, maxY := got[0].X, got[0].X, got[0].Y, got[0].Y
				for _, tc := range got {
					in[tc] = true
					minX, maxX = min(minX, tc.X), max(maxX, tc.X)
					minY, maxY = min(minY, tc.Y), max(maxY, tc.Y)
				}

				// every returned tile intersects, and no neighbor outside
				// the returned rectangle does
				last := (1 << uint(z)) - 1
				for x := max(0, minX-1); x <= min(last, maxX+1); x++ {
					for y := max(0, minY-1); y <= min(last, maxY+1); y++ {
						tc := domain.TileCoord{Z: z, X: x, Y: y}
						if want := overlaps(TileBounds(tc), b); in[tc] != want {
							t.Errorf("z%d tile %d/%d: returned %v, intersects %v", z, x, y, in[tc], want)
						}
					}
				}
			}
		})
	}
}
