package domain

import (
	"fmt"
	"math"
	"mime"
	"strings"

	"github.com/paulmach/orb"
)

// MaxZoomLevel is the deepest zoom accepted in a region definition.
const MaxZoomLevel = 24

// TileCoord addresses one XYZ tile.
type TileCoord struct {
	Z int `json:"z"`
	X int `json:"x"`
	Y int `json:"y"`
}

func (t TileCoord) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// TileFormat is the encoding of stored tiles, doubling as the file extension.
type TileFormat string

const (
	FormatPNG  TileFormat = "png"
	FormatJPG  TileFormat = "jpg"
	FormatWebP TileFormat = "webp"
	FormatPBF  TileFormat = "pbf"
)

// TileFormats lists every supported format in existence-probe order.
var TileFormats = []TileFormat{FormatPNG, FormatJPG, FormatWebP, FormatPBF}

// Default per-tile size assumptions used by estimates.
const (
	DefaultRasterTileBytes int64 = 25 * 1024
	DefaultVectorTileBytes int64 = 8 * 1024
)

// Valid reports whether f is a supported format.
func (f TileFormat) Valid() bool {
	for _, known := range TileFormats {
		if f == known {
			return true
		}
	}
	return false
}

// IsVector reports whether tiles are vector (pbf) rather than raster.
func (f TileFormat) IsVector() bool {
	return f == FormatPBF
}

// DefaultTileBytes is the estimate used when a region has no average size.
func (f TileFormat) DefaultTileBytes() int64 {
	if f.IsVector() {
		return DefaultVectorTileBytes
	}
	return DefaultRasterTileBytes
}

// FormatFromContentType maps a response content type to a tile format.
func FormatFromContentType(contentType string) (TileFormat, bool) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.ToLower(contentType))
	}
	switch mediaType {
	case "image/png":
		return FormatPNG, true
	case "image/jpeg", "image/jpg":
		return FormatJPG, true
	case "image/webp":
		return FormatWebP, true
	case "application/x-protobuf", "application/vnd.mapbox-vector-tile", "application/protobuf":
		return FormatPBF, true
	}
	return "", false
}

// OfflineRegionDefinition describes one downloadable area. It is immutable
// once constructed; build it with NewRegionDefinition.
type OfflineRegionDefinition struct {
	ID                   string
	Name                 string
	Bounds               orb.Bound // Min = south-west, Max = north-east (lon, lat)
	MinZoom              int
	MaxZoom              int
	Format               TileFormat
	AverageTileSizeBytes int64 // 0 = use the format default
	MaxBytes             int64 // 0 = no budget
	Metadata             map[string]string
}

// RegionOption customizes optional region fields.
type RegionOption func(*OfflineRegionDefinition)

// WithAverageTileSize overrides the per-tile size estimate.
func WithAverageTileSize(n int64) RegionOption {
	return func(d *OfflineRegionDefinition) { d.AverageTileSizeBytes = n }
}

// WithMaxBytes sets the region byte budget.
func WithMaxBytes(n int64) RegionOption {
	return func(d *OfflineRegionDefinition) { d.MaxBytes = n }
}

// WithMetadata attaches free-form metadata persisted next to the tiles.
func WithMetadata(m map[string]string) RegionOption {
	return func(d *OfflineRegionDefinition) {
		d.Metadata = make(map[string]string, len(m))
		for k, v := range m {
			d.Metadata[k] = v
		}
	}
}

// NewRegionDefinition validates and builds a region definition. Invalid
// input fails here, before any engine work starts.
func NewRegionDefinition(id, name string, bounds orb.Bound, minZoom, maxZoom int, format TileFormat, opts ...RegionOption) (OfflineRegionDefinition, error) {
	def := OfflineRegionDefinition{
		ID:      id,
		Name:    name,
		Bounds:  bounds,
		MinZoom: minZoom,
		MaxZoom: maxZoom,
		Format:  format,
	}
	for _, opt := range opts {
		opt(&def)
	}
	if err := def.Validate(); err != nil {
		return OfflineRegionDefinition{}, err
	}
	return def, nil
}

// Validate checks every invariant of a region definition.
func (d OfflineRegionDefinition) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidRegion, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(d.ID) == "" {
		return fail("id is required")
	}
	if strings.ContainsAny(d.ID, `/\`) || d.ID == "." || d.ID == ".." {
		return fail("id %q is not a valid path segment", d.ID)
	}
	if d.MinZoom < 0 || d.MaxZoom > MaxZoomLevel {
		return fail("zoom range %d-%d outside 0-%d", d.MinZoom, d.MaxZoom, MaxZoomLevel)
	}
	if d.MinZoom > d.MaxZoom {
		return fail("minZoom %d greater than maxZoom %d", d.MinZoom, d.MaxZoom)
	}
	if !d.Format.Valid() {
		return fail("unsupported format %q", d.Format)
	}

	sw, ne := d.Bounds.Min, d.Bounds.Max
	for _, p := range []orb.Point{sw, ne} {
		if math.IsNaN(p.Lon()) || math.IsNaN(p.Lat()) {
			return fail("bounds contain NaN")
		}
		if p.Lon() < -180 || p.Lon() > 180 {
			return fail("longitude %v outside -180..180", p.Lon())
		}
		if p.Lat() < -90 || p.Lat() > 90 {
			return fail("latitude %v outside -90..90", p.Lat())
		}
	}
	if sw.Lat() > ne.Lat() {
		return fail("south latitude %v north of north latitude %v", sw.Lat(), ne.Lat())
	}

	if d.AverageTileSizeBytes < 0 {
		return fail("averageTileSizeBytes must not be negative")
	}
	if d.MaxBytes < 0 {
		return fail("maxBytes must not be negative")
	}
	return nil
}

// TileSizeEstimate is the per-tile byte estimate for this region.
func (d OfflineRegionDefinition) TileSizeEstimate() int64 {
	if d.AverageTileSizeBytes > 0 {
		return d.AverageTileSizeBytes
	}
	return d.Format.DefaultTileBytes()
}

// CrossesAntimeridian reports whether the west edge lies east of the east edge.
func (d OfflineRegionDefinition) CrossesAntimeridian() bool {
	return d.Bounds.Min.Lon() > d.Bounds.Max.Lon()
}
