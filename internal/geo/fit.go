package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// FitBounds returns the center and the largest integer zoom (at most maxZoom)
// at which b fits inside a width×height viewport inset by padding pixels.
// Bounds whose west edge is east of their east edge wrap the antimeridian.
func FitBounds(width, height, padding float64, b orb.Bound, maxZoom int) (orb.Point, int) {
	west, east := b.Min.Lon(), b.Max.Lon()
	south, north := b.Min.Lat(), b.Max.Lat()

	lonSpan := east - west
	if lonSpan < 0 {
		lonSpan += 360
	}
	lonFraction := lonSpan / 360
	latFraction := (latRad(north) - latRad(south)) / math.Pi

	usableW := width - 2*padding
	usableH := height - 2*padding

	zoom := maxZoom
	if z := zoomFor(usableW, lonFraction); z < zoom {
		zoom = z
	}
	if z := zoomFor(usableH, latFraction); z < zoom {
		zoom = z
	}
	if zoom < 0 {
		zoom = 0
	}

	return center(west, east, south, north), zoom
}

// latRad is the Mercator y of lat in radians, clamped to ±π.
func latRad(lat float64) float64 {
	sin := math.Sin(lat * math.Pi / 180)
	r := math.Log((1+sin)/(1-sin)) / 2
	return math.Max(math.Min(r, math.Pi), -math.Pi) / 2
}

func zoomFor(px, fraction float64) int {
	if px <= 0 {
		return 0
	}
	if fraction <= 0 {
		return math.MaxInt32
	}
	return int(math.Floor(math.Log2(px / TileSize / fraction)))
}

func center(west, east, south, north float64) orb.Point {
	nw := Project(orb.Point{west, north})
	se := Project(orb.Point{east, south})

	eastX := se.X()
	if west > east {
		eastX++
	}
	midX := math.Mod((nw.X()+eastX)/2, 1)
	midY := (nw.Y() + se.Y()) / 2

	return Unproject(orb.Point{midX, midY})
}
