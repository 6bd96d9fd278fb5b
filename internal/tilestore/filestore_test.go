package tilestore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mmcdole/offgrid/internal/domain"
	"github.com/mmcdole/offgrid/internal/logging"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), logging.NullLogger())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func testRegion(t *testing.T, id string, format domain.TileFormat) domain.OfflineRegionDefinition {
	t.Helper()
	def, err := domain.NewRegionDefinition(id, "Test "+id,
		orb.Bound{Min: orb.Point{2.2, 48.8}, Max: orb.Point{2.5, 48.9}}, 10, 12, format,
		domain.WithMetadata(map[string]string{"owner": "trip-42"}))
	if err != nil {
		t.Fatal(err)
	}
	return def
}

func TestInitRegion_MetadataRoundTrip(t *testing.T) {
	s := newTestStore(t)
	def := testRegion(t, "paris", domain.FormatPNG)
	if err := s.InitRegion(def); err != nil {
		t.Fatal(err)
	}

	meta, err := s.Metadata("paris")
	if err != nil {
		t.Fatal(err)
	}
	want := [4]float64{2.2, 48.8, 2.5, 48.9}
	if meta.Name != "Test paris" || meta.MinZoom != 10 || meta.MaxZoom != 12 || meta.Format != "png" ||
		meta.BBox != want || meta.Metadata["owner"] != "trip-42" {
		t.Errorf("metadata = %+v", meta)
	}
}

func TestPut_ExtensionFromContentType(t *testing.T) {
	s := newTestStore(t)
	s.InitRegion(testRegion(t, "r", domain.FormatPNG))
	tile := domain.TileCoord{Z: 10, X: 518, Y: 352}

	n, err := s.Put("r", tile, []byte("jpegdata"), "image/jpeg")
	if err != nil || n != 8 {
		t.Fatalf("Put = %d, %v", n, err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "r", "10", "518", "352.jpg")); err != nil {
		t.Errorf("tile not at expected path: %v", err)
	}

	if !s.Has("r", tile) {
		t.Error("Has should find a jpg tile")
	}
	data, format, err := s.Get("r", tile)
	if err != nil || string(data) != "jpegdata" || format != domain.FormatJPG {
		t.Errorf("Get = %q, %v, %v", data, format, err)
	}
}

func TestPut_FallsBackToRegionFormat(t *testing.T) {
	s := newTestStore(t)
	s.InitRegion(testRegion(t, "v", domain.FormatPBF))
	tile := domain.TileCoord{Z: 11, X: 1, Y: 2}

	if _, err := s.Put("v", tile, []byte{0x1a}, "application/octet-stream"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "v", "11", "1", "2.pbf")); err != nil {
		t.Errorf("expected pbf fallback: %v", err)
	}
}

func TestHas_ProbesEveryFormat(t *testing.T) {
	s := newTestStore(t)
	s.InitRegion(testRegion(t, "r", domain.FormatPNG))

	for i, ct := range []string{"image/png", "image/jpeg", "image/webp", "application/x-protobuf"} {
		tile := domain.TileCoord{Z: 12, X: i, Y: i}
		if s.Has("r", tile) {
			t.Fatalf("tile %v present before Put", tile)
		}
		if _, err := s.Put("r", tile, []byte("x"), ct); err != nil {
			t.Fatal(err)
		}
		if !s.Has("r", tile) {
			t.Errorf("Has missed tile stored as %s", ct)
		}
	}
}

func TestRegions_SkipsMalformed(t *testing.T) {
	s := newTestStore(t)
	s.InitRegion(testRegion(t, "good", domain.FormatPNG))

	bad := filepath.Join(s.Root(), "bad")
	os.MkdirAll(bad, 0755)
	os.WriteFile(filepath.Join(bad, metadataFile), []byte("{"), 0644)
	os.MkdirAll(filepath.Join(s.Root(), "empty"), 0755)

	regions, err := s.Regions()
	if err != nil {
		t.Fatal(err)
	}
	if len(regions) != 1 || regions[0].ID != "good" {
		t.Errorf("regions = %+v", regions)
	}
}

func TestRegionSizeAndDelete(t *testing.T) {
	s := newTestStore(t)
	s.InitRegion(testRegion(t, "r", domain.FormatPNG))
	s.Put("r", domain.TileCoord{Z: 10, X: 1, Y: 1}, make([]byte, 100), "image/png")
	s.Put("r", domain.TileCoord{Z: 10, X: 1, Y: 2}, make([]byte, 50), "image/png")

	size, err := s.RegionSize("r")
	if err != nil || size != 150 {
		t.Errorf("RegionSize = %d, %v", size, err)
	}

	if err := s.DeleteRegion("r"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Metadata("r"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Metadata after delete err = %v", err)
	}
	if err := s.DeleteRegion("r"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}
