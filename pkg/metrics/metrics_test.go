package metrics

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"histostack/internal/models"
	"histostack/pkg/planner"
	"histostack/pkg/stack"
)

// createTempDir creates a temporary directory for test files
func createTempDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "histostack-test-*")
	if err != nil {
		t.Fatalf("Failed to create temporary directory: %v", err)
	}
	return dir
}

// writePatternTile writes a grayscale PNG whose pixels follow the pattern
func writePatternTile(t *testing.T, path string, width, height int, pattern func(x, y int) uint8) {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray(x, y, color.Gray{Y: pattern(x, y)})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create test tile: %v", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		t.Fatalf("Failed to encode test tile: %v", err)
	}
	f.Close()
}

// testTile builds a tile descriptor for a fixture file
func testTile(dir, class string, index int) models.Tile {
	name := fmt.Sprintf("caseM_%s_tile%03d.png", class, index)
	return models.Tile{
		Path:   filepath.Join(dir, name),
		CaseID: "caseM",
		Class:  class,
		Index:  index,
		Stem:   name[:len(name)-4],
	}
}

// gradient gives every (x, y) of a small tile a distinct nonzero value
func gradient(seed int) func(x, y int) uint8 {
	return func(x, y int) uint8 {
		return uint8((x*16+y+seed)%255) + 1
	}
}

// buildFixtureCase assembles a three-tile case with one padded slice
func buildFixtureCase(t *testing.T, tmpDir string) (*models.Case, *models.CaseArtifact) {
	img1 := testTile(tmpDir, "HE", 1)
	img2 := testTile(tmpDir, "HE", 2)
	img3 := testTile(tmpDir, "HE", 3)

	writePatternTile(t, img1.Path, 6, 6, gradient(1))
	writePatternTile(t, img2.Path, 4, 5, gradient(2))
	writePatternTile(t, img3.Path, 6, 6, gradient(3))

	c := &models.Case{
		ID:     "caseM",
		Dir:    tmpDir,
		Images: models.TileSet{Class: "HE", Tiles: []models.Tile{img1, img2, img3}},
	}

	plan, err := planner.BuildPlan(c, 2)
	if err != nil {
		t.Fatalf("Failed to build plan: %v", err)
	}
	artifact, err := stack.Build(c, plan, stack.Options{Workers: 2})
	if err != nil {
		t.Fatalf("Failed to build stack: %v", err)
	}
	return c, artifact
}

// TestVerifyRoundTripClean verifies that a fresh build matches its source
// tiles exactly
func TestVerifyRoundTripClean(t *testing.T) {
	tmpDir := createTempDir(t)
	defer os.RemoveAll(tmpDir)

	c, artifact := buildFixtureCase(t, tmpDir)

	m, err := VerifyRoundTrip(c, artifact)
	if err != nil {
		t.Fatalf("Failed to verify round trip: %v", err)
	}

	if m.SlicesChecked != 3 {
		t.Errorf("Expected 3 slices checked, got %d", m.SlicesChecked)
	}
	if m.Mismatched != 0 {
		t.Errorf("Expected no mismatched slices, got %d", m.Mismatched)
	}
	if m.MaxMeanAbsDiff != 0 {
		t.Errorf("Expected zero max difference, got %f", m.MaxMeanAbsDiff)
	}
}

// TestVerifyRoundTripDetectsDrift verifies that an altered slice is counted
// and measured
func TestVerifyRoundTripDetectsDrift(t *testing.T) {
	tmpDir := createTempDir(t)
	defer os.RemoveAll(tmpDir)

	c, artifact := buildFixtureCase(t, tmpDir)

	// Nudge a single pixel inside the first slice's placement
	slice := artifact.Volume.Slices[0].Image.(*image.Gray)
	old := slice.GrayAt(0, 0).Y
	slice.SetGray(0, 0, color.Gray{Y: old + 40})

	m, err := VerifyRoundTrip(c, artifact)
	if err != nil {
		t.Fatalf("Failed to verify round trip: %v", err)
	}

	if m.Mismatched != 1 {
		t.Errorf("Expected 1 mismatched slice, got %d", m.Mismatched)
	}
	want := 40.0 / 36.0
	if math.Abs(m.MaxMeanAbsDiff-want) > 1e-9 {
		t.Errorf("Expected max difference %f, got %f", want, m.MaxMeanAbsDiff)
	}
}

// TestVerifyRoundTripMissingTile verifies that a slice without a source
// tile fails the check outright
func TestVerifyRoundTripMissingTile(t *testing.T) {
	tmpDir := createTempDir(t)
	defer os.RemoveAll(tmpDir)

	c, artifact := buildFixtureCase(t, tmpDir)
	artifact.Volume.Slices[1].Meta.TileIndex = 99

	if _, err := VerifyRoundTrip(c, artifact); err == nil {
		t.Error("Expected an error for a missing source tile")
	}
}

// TestLayerCoverage verifies annotated-fraction statistics per layer
func TestLayerCoverage(t *testing.T) {
	canvas := models.Canvas{Width: 10, Height: 10}

	quarter := image.NewGray(image.Rect(0, 0, 10, 10))
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			quarter.SetGray(x, y, color.Gray{Y: 1})
		}
	}
	empty := image.NewGray(image.Rect(0, 0, 10, 10))
	half := image.NewGray(image.Rect(0, 0, 10, 10))
	for y := 0; y < 5; y++ {
		for x := 0; x < 10; x++ {
			half.SetGray(x, y, color.Gray{Y: 1})
		}
	}

	artifact := &models.CaseArtifact{
		CaseID: "caseM",
		Layers: []*models.SegmentationLayer{
			{
				Class:  "stroma",
				Canvas: canvas,
				Slices: []models.MaskSlice{{Mask: quarter}, {Mask: empty}},
			},
			{
				Class:  "tumor",
				Canvas: canvas,
				Slices: []models.MaskSlice{{Mask: half}},
			},
		},
	}

	stats := LayerCoverage(artifact)
	if len(stats) != 2 {
		t.Fatalf("Expected 2 layer summaries, got %d", len(stats))
	}

	stroma := stats[0]
	if stroma.Class != "stroma" {
		t.Errorf("Expected class stroma, got %s", stroma.Class)
	}
	if math.Abs(stroma.MeanFraction-0.125) > 1e-9 {
		t.Errorf("Expected mean fraction 0.125, got %f", stroma.MeanFraction)
	}
	wantStd := math.Sqrt(0.03125)
	if math.Abs(stroma.StdDevFraction-wantStd) > 1e-9 {
		t.Errorf("Expected stddev %f, got %f", wantStd, stroma.StdDevFraction)
	}

	tumor := stats[1]
	if math.Abs(tumor.MeanFraction-0.5) > 1e-9 {
		t.Errorf("Expected mean fraction 0.5, got %f", tumor.MeanFraction)
	}
	if tumor.StdDevFraction != 0 {
		t.Errorf("Expected zero stddev for a single slice, got %f", tumor.StdDevFraction)
	}
}
