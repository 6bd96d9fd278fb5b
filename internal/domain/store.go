package domain

// KeyValueStore is named-box string storage, the sole persistence primitive
// for queue and cache records. Boxes are created on first use.
// Implementations must be safe for concurrent use.
type KeyValueStore interface {
	Get(box, key string) (string, bool, error)
	Put(box, key, value string) error
	Delete(box, key string) error

	// Keys returns every key in the box, sorted
	Keys(box string) ([]string, error)

	// Clear removes every key in the box
	Clear(box string) error

	Close() error
}

// RegionMetadata is the persisted description of a downloaded region.
type RegionMetadata struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	MinZoom  int               `json:"minZoom"`
	MaxZoom  int               `json:"maxZoom"`
	Format   string            `json:"format"`
	BBox     [4]float64        `json:"bbox"` // west, south, east, north
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TileStore persists raw tile bytes keyed by (region, z, x, y).
// Implementations must be safe for concurrent use.
type TileStore interface {
	// InitRegion ensures the region namespace exists and writes its metadata
	InitRegion(def OfflineRegionDefinition) error

	// Has reports whether the tile exists in any supported format
	Has(regionID string, t TileCoord) bool

	// Put stores tile bytes and returns the number of bytes written
	Put(regionID string, t TileCoord, data []byte, contentType string) (int64, error)

	Get(regionID string, t TileCoord) ([]byte, TileFormat, error)

	Regions() ([]RegionMetadata, error)
	Metadata(regionID string) (*RegionMetadata, error)
	DeleteRegion(regionID string) error
}
