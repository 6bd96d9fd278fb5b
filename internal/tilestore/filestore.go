// Package tilestore keeps downloaded tiles on the local filesystem, laid
// out as <root>/<regionId>/<z>/<x>/<y>.<ext> next to a metadata.json.
package tilestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mmcdole/offgrid/internal/domain"
)

const metadataFile = "metadata.json"

// FileStore implements domain.TileStore
type FileStore struct {
	root   string
	logger *slog.Logger
}

// NewFileStore creates the root directory if needed
func NewFileStore(root string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tile root: %w", err)
	}
	return &FileStore{root: root, logger: logger}, nil
}

// Root returns the directory holding all regions
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) regionDir(id string) string {
	return filepath.Join(s.root, id)
}

func (s *FileStore) tilePath(id string, t domain.TileCoord, f domain.TileFormat) string {
	return filepath.Join(s.regionDir(id), strconv.Itoa(t.Z), strconv.Itoa(t.X), strconv.Itoa(t.Y)+"."+string(f))
}

// InitRegion creates the region directory and writes its metadata
func (s *FileStore) InitRegion(def domain.OfflineRegionDefinition) error {
	meta := domain.RegionMetadata{
		ID:      def.ID,
		Name:    def.Name,
		MinZoom: def.MinZoom,
		MaxZoom: def.MaxZoom,
		Format:  string(def.Format),
		BBox: [4]float64{
			def.Bounds.Min.Lon(), def.Bounds.Min.Lat(),
			def.Bounds.Max.Lon(), def.Bounds.Max.Lat(),
		},
		Metadata: def.Metadata,
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := writeAtomic(filepath.Join(s.regionDir(def.ID), metadataFile), data); err != nil {
		return fmt.Errorf("failed to write metadata for %s: %w", def.ID, err)
	}
	return nil
}

// Has reports whether the tile exists in any supported format
func (s *FileStore) Has(regionID string, t domain.TileCoord) bool {
	_, ok := s.find(regionID, t)
	return ok
}

func (s *FileStore) find(regionID string, t domain.TileCoord) (domain.TileFormat, bool) {
	for _, f := range domain.TileFormats {
		if _, err := os.Stat(s.tilePath(regionID, t, f)); err == nil {
			return f, true
		}
	}
	return "", false
}

// Put writes tile bytes with an extension taken from contentType, falling
// back to the region's format
func (s *FileStore) Put(regionID string, t domain.TileCoord, data []byte, contentType string) (int64, error) {
	format, ok := domain.FormatFromContentType(contentType)
	if !ok {
		meta, err := s.Metadata(regionID)
		if err != nil {
			return 0, fmt.Errorf("no format for tile %s: %w", t, err)
		}
		format = domain.TileFormat(meta.Format)
	}

	if err := writeAtomic(s.tilePath(regionID, t, format), data); err != nil {
		return 0, fmt.Errorf("failed to write tile %s: %w", t, err)
	}
	return int64(len(data)), nil
}

// Get reads a stored tile and its format
func (s *FileStore) Get(regionID string, t domain.TileCoord) ([]byte, domain.TileFormat, error) {
	format, ok := s.find(regionID, t)
	if !ok {
		return nil, "", fmt.Errorf("tile %s/%s: %w", regionID, t, domain.ErrNotFound)
	}
	data, err := os.ReadFile(s.tilePath(regionID, t, format))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read tile %s: %w", t, err)
	}
	return data, format, nil
}

// Metadata reads the region's metadata.json
func (s *FileStore) Metadata(regionID string) (*domain.RegionMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.regionDir(regionID), metadataFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("region %s: %w", regionID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta domain.RegionMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("malformed metadata for %s: %w", regionID, err)
	}
	return &meta, nil
}

// Regions lists metadata for every region directory, skipping unreadable ones
func (s *FileStore) Regions() ([]domain.RegionMetadata, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list regions: %w", err)
	}

	var regions []domain.RegionMetadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := s.Metadata(e.Name())
		if err != nil {
			s.logger.Debug("skipping region", "regionID", e.Name(), "error", err)
			continue
		}
		regions = append(regions, *meta)
	}
	return regions, nil
}

// RegionSize sums the bytes of every stored tile in the region
func (s *FileStore) RegionSize(regionID string) (int64, error) {
	var total int64
	err := filepath.WalkDir(s.regionDir(regionID), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() == metadataFile {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("region %s: %w", regionID, domain.ErrNotFound)
	}
	return total, err
}

// DeleteRegion removes the region directory and every tile in it
func (s *FileStore) DeleteRegion(regionID string) error {
	dir := s.regionDir(regionID)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("region %s: %w", regionID, domain.ErrNotFound)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete region %s: %w", regionID, err)
	}
	return nil
}

// writeAtomic writes data to a temp file beside path and renames it over path
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.part")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
