package main

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"

	"github.com/mmcdole/offgrid/internal/domain"
)

// regionFile is the YAML form of a region definition.
//
//	id: alps
//	name: Swiss Alps
//	bounds: {west: 5.9, south: 45.8, east: 10.5, north: 47.8}
//	min_zoom: 6
//	max_zoom: 12
//	format: png
//	max_bytes: 500000000
//	template: https://{s}.tile.example.org/{z}/{x}/{y}.png
//	subdomains: [a, b, c]
type regionFile struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Bounds  struct {
		West  float64 `yaml:"west"`
		South float64 `yaml:"south"`
		East  float64 `yaml:"east"`
		North float64 `yaml:"north"`
	} `yaml:"bounds"`
	MinZoom              int               `yaml:"min_zoom"`
	MaxZoom              int               `yaml:"max_zoom"`
	Format               string            `yaml:"format"`
	AverageTileSizeBytes int64             `yaml:"average_tile_size_bytes"`
	MaxBytes             int64             `yaml:"max_bytes"`
	Metadata             map[string]string `yaml:"metadata"`

	// Source overrides for the configured tile server
	Template   string            `yaml:"template"`
	Subdomains []string          `yaml:"subdomains"`
	Headers    map[string]string `yaml:"headers"`
}

// loadRegionFile reads and validates a region definition
func loadRegionFile(path string) (domain.OfflineRegionDefinition, regionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.OfflineRegionDefinition{}, regionFile{}, fmt.Errorf("failed to read region file: %w", err)
	}
	return parseRegionFile(data)
}

func parseRegionFile(data []byte) (domain.OfflineRegionDefinition, regionFile, error) {
	var rf regionFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return domain.OfflineRegionDefinition{}, rf, fmt.Errorf("failed to parse region file: %w", err)
	}

	format := domain.TileFormat(rf.Format)
	if format == "" {
		format = domain.FormatPNG
	}
	name := rf.Name
	if name == "" {
		name = rf.ID
	}

	bounds := orb.Bound{
		Min: orb.Point{rf.Bounds.West, rf.Bounds.South},
		Max: orb.Point{rf.Bounds.East, rf.Bounds.North},
	}
	def, err := domain.NewRegionDefinition(rf.ID, name, bounds, rf.MinZoom, rf.MaxZoom, format,
		domain.WithAverageTileSize(rf.AverageTileSizeBytes),
		domain.WithMaxBytes(rf.MaxBytes),
		domain.WithMetadata(rf.Metadata),
	)
	if err != nil {
		return domain.OfflineRegionDefinition{}, rf, err
	}
	return def, rf, nil
}
