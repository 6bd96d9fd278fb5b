package domain

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
)

func TestNewRegionDefinition_Validation(t *testing.T) {
	valid := orb.Bound{Min: orb.Point{2.2, 48.8}, Max: orb.Point{2.5, 48.9}}

	tests := []struct {
		name    string
		id      string
		bounds  orb.Bound
		minZoom int
		maxZoom int
		format  TileFormat
		opts    []RegionOption
		wantErr bool
	}{
		{name: "valid", id: "paris", bounds: valid, minZoom: 10, maxZoom: 14, format: FormatPNG},
		{name: "single zoom", id: "paris", bounds: valid, minZoom: 12, maxZoom: 12, format: FormatPBF},
		{name: "empty id", id: "  ", bounds: valid, minZoom: 1, maxZoom: 2, format: FormatPNG, wantErr: true},
		{name: "path id", id: "../etc", bounds: valid, minZoom: 1, maxZoom: 2, format: FormatPNG, wantErr: true},
		{name: "inverted zoom", id: "r", bounds: valid, minZoom: 5, maxZoom: 4, format: FormatPNG, wantErr: true},
		{name: "negative zoom", id: "r", bounds: valid, minZoom: -1, maxZoom: 4, format: FormatPNG, wantErr: true},
		{name: "zoom too deep", id: "r", bounds: valid, minZoom: 1, maxZoom: 30, format: FormatPNG, wantErr: true},
		{name: "unknown format", id: "r", bounds: valid, minZoom: 1, maxZoom: 2, format: "gif", wantErr: true},
		{
			name:   "south of north",
			id:     "r",
			bounds: orb.Bound{Min: orb.Point{0, 10}, Max: orb.Point{1, 5}},
			format: FormatPNG, wantErr: true,
		},
		{
			name:   "latitude out of range",
			id:     "r",
			bounds: orb.Bound{Min: orb.Point{0, -91}, Max: orb.Point{1, 5}},
			format: FormatPNG, wantErr: true,
		},
		{
			name:   "antimeridian allowed",
			id:     "fiji",
			bounds: orb.Bound{Min: orb.Point{177, -19}, Max: orb.Point{-178, -16}},
			format: FormatPNG,
		},
		{name: "negative budget", id: "r", bounds: valid, format: FormatPNG, opts: []RegionOption{WithMaxBytes(-1)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegionDefinition(tt.id, "name", tt.bounds, tt.minZoom, tt.maxZoom, tt.format, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewRegionDefinition() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRegion) {
				t.Errorf("error %v should wrap ErrInvalidRegion", err)
			}
		})
	}
}

func TestRegionDefinition_TileSizeEstimate(t *testing.T) {
	b := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}

	raster, _ := NewRegionDefinition("a", "a", b, 0, 1, FormatJPG)
	if got := raster.TileSizeEstimate(); got != DefaultRasterTileBytes {
		t.Errorf("raster estimate = %d, want %d", got, DefaultRasterTileBytes)
	}

	vector, _ := NewRegionDefinition("b", "b", b, 0, 1, FormatPBF)
	if got := vector.TileSizeEstimate(); got != DefaultVectorTileBytes {
		t.Errorf("vector estimate = %d, want %d", got, DefaultVectorTileBytes)
	}

	custom, _ := NewRegionDefinition("c", "c", b, 0, 1, FormatPNG, WithAverageTileSize(1000))
	if got := custom.TileSizeEstimate(); got != 1000 {
		t.Errorf("custom estimate = %d, want 1000", got)
	}
}

func TestFormatFromContentType(t *testing.T) {
	tests := map[string]TileFormat{
		"image/png":                          FormatPNG,
		"image/jpeg":                         FormatJPG,
		"image/webp":                         FormatWebP,
		"application/x-protobuf":             FormatPBF,
		"application/vnd.mapbox-vector-tile": FormatPBF,
		"image/png; charset=binary":          FormatPNG,
	}
	for ct, want := range tests {
		got, ok := FormatFromContentType(ct)
		if !ok || got != want {
			t.Errorf("FormatFromContentType(%q) = %q, %v; want %q", ct, got, ok, want)
		}
	}
	if _, ok := FormatFromContentType("text/html"); ok {
		t.Error("text/html should not map to a tile format")
	}
}
