package stack

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"histostack/internal/models"
	"histostack/pkg/planner"
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
	encodePNG(t, path, img)
}

func encodePNG(t *testing.T, path string, img image.Image) {
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
	name := fmt.Sprintf("caseT_%s_tile%03d.png", class, index)
	return models.Tile{
		Path:   filepath.Join(dir, name),
		CaseID: "caseT",
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

// TestBuildVolume verifies slice assembly, ordering, padding and the
// round-trip identity between a built slice and its source tile
func TestBuildVolume(t *testing.T) {
	tmpDir := createTempDir(t)
	defer os.RemoveAll(tmpDir)

	img1 := testTile(tmpDir, "HE", 1)
	img2 := testTile(tmpDir, "HE", 2)
	img3 := testTile(tmpDir, "HE", 3)

	sizes := map[int][2]int{1: {12, 12}, 2: {10, 8}, 3: {12, 12}}
	writePatternTile(t, img1.Path, 12, 12, gradient(1))
	writePatternTile(t, img2.Path, 10, 8, gradient(2))
	writePatternTile(t, img3.Path, 12, 12, gradient(3))

	c := &models.Case{
		ID:     "caseT",
		Dir:    tmpDir,
		Images: models.TileSet{Class: "HE", Tiles: []models.Tile{img1, img2, img3}},
	}

	plan, err := planner.BuildPlan(c, 2)
	if err != nil {
		t.Fatalf("Failed to build plan: %v", err)
	}

	artifact, err := Build(c, plan, Options{Workers: 2})
	if err != nil {
		t.Fatalf("Failed to build stack: %v", err)
	}

	volume := artifact.Volume
	if volume.Name != "caseT_HE" {
		t.Errorf("Expected volume name caseT_HE, got %s", volume.Name)
	}
	if len(volume.Slices) != 3 {
		t.Fatalf("Expected 3 slices, got %d", len(volume.Slices))
	}

	for i, wantIdx := range []int{1, 2, 3} {
		s := volume.Slices[i]
		if s.Meta.TileIndex != wantIdx {
			t.Errorf("Slice %d: expected tile index %d, got %d", i, wantIdx, s.Meta.TileIndex)
		}

		bounds := s.Image.Bounds()
		if bounds.Dx() != 12 || bounds.Dy() != 12 {
			t.Errorf("Slice %d: expected canvas 12x12, got %dx%d", i, bounds.Dx(), bounds.Dy())
		}

		size := sizes[wantIdx]
		pattern := gradient(wantIdx)
		for y := 0; y < 12; y++ {
			for x := 0; x < 12; x++ {
				got := color.GrayModel.Convert(s.Image.At(x, y)).(color.Gray).Y
				var want uint8
				if x < size[0] && y < size[1] {
					want = pattern(x, y)
				}
				if got != want {
					t.Fatalf("Slice %d at (%d,%d): expected %d, got %d", i, x, y, want, got)
				}
			}
		}

		pl := s.Meta.Placement
		if pl.OffsetX != 0 || pl.OffsetY != 0 || pl.Width != size[0] || pl.Height != size[1] {
			t.Errorf("Slice %d: expected placement (0,0) %dx%d, got (%d,%d) %dx%d",
				i, size[0], size[1], pl.OffsetX, pl.OffsetY, pl.Width, pl.Height)
		}
	}

	mapping := volume.TileMapping()
	want := "Slice 0: caseT_HE_tile001\nSlice 1: caseT_HE_tile002\nSlice 2: caseT_HE_tile003"
	if mapping != want {
		t.Errorf("Unexpected tile mapping:\n%s", mapping)
	}
}

// TestBuildMaskLayer verifies layer alignment, absent-mask slices and the
// full-intensity binarization rule
func TestBuildMaskLayer(t *testing.T) {
	tmpDir := createTempDir(t)
	defer os.RemoveAll(tmpDir)

	img1 := testTile(tmpDir, "HE", 1)
	img2 := testTile(tmpDir, "HE", 2)
	img3 := testTile(tmpDir, "HE", 3)
	mask2 := testTile(tmpDir, "stroma", 2)

	for _, tl := range []models.Tile{img1, img2, img3} {
		writePatternTile(t, tl.Path, 10, 10, gradient(tl.Index))
	}
	// Left half full intensity, right half dim: only the left half counts
	writePatternTile(t, mask2.Path, 8, 6, func(x, y int) uint8 {
		if x < 4 {
			return 255
		}
		return 128
	})

	c := &models.Case{
		ID:     "caseT",
		Dir:    tmpDir,
		Images: models.TileSet{Class: "HE", Tiles: []models.Tile{img1, img2, img3}},
		Masks:  []models.TileSet{{Class: "stroma", Tiles: []models.Tile{mask2}}},
	}

	plan, err := planner.BuildPlan(c, 2)
	if err != nil {
		t.Fatalf("Failed to build plan: %v", err)
	}

	artifact, err := Build(c, plan, Options{Workers: 2})
	if err != nil {
		t.Fatalf("Failed to build stack: %v", err)
	}

	if len(artifact.Layers) != 1 {
		t.Fatalf("Expected 1 layer, got %d", len(artifact.Layers))
	}
	layer := artifact.Layers[0]
	if layer.Class != "stroma" {
		t.Errorf("Expected layer class stroma, got %s", layer.Class)
	}
	if len(layer.Slices) != 3 {
		t.Fatalf("Expected 3 layer slices, got %d", len(layer.Slices))
	}

	// Slices without a source tile are all zero
	for _, i := range []int{0, 2} {
		s := layer.Slices[i]
		if s.HasSource {
			t.Errorf("Slice %d: expected no source tile", i)
		}
		if !s.Empty() {
			t.Errorf("Slice %d: expected an all-zero mask", i)
		}
		if s.Meta.Placement.Width != 10 || s.Meta.Placement.Height != 10 {
			t.Errorf("Slice %d: expected image tile placement 10x10, got %dx%d",
				i, s.Meta.Placement.Width, s.Meta.Placement.Height)
		}
	}
	if layer.Slices[0].Meta.Stem != "caseT_stroma_tile001" {
		t.Errorf("Expected derived stem caseT_stroma_tile001, got %s", layer.Slices[0].Meta.Stem)
	}

	s := layer.Slices[1]
	if !s.HasSource {
		t.Error("Slice 1: expected a source tile")
	}
	if s.Meta.Stem != "caseT_stroma_tile002" {
		t.Errorf("Expected stem caseT_stroma_tile002, got %s", s.Meta.Stem)
	}
	if s.Meta.Placement.Width != 8 || s.Meta.Placement.Height != 6 {
		t.Errorf("Expected mask placement 8x6, got %dx%d",
			s.Meta.Placement.Width, s.Meta.Placement.Height)
	}

	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			var want uint8
			if x < 4 && y < 6 {
				want = 1
			}
			if got := s.Mask.GrayAt(x, y).Y; got != want {
				t.Fatalf("Mask at (%d,%d): expected %d, got %d", x, y, want, got)
			}
		}
	}
}

// TestBuildTileCap verifies that a cap keeps the lowest indices in the
// volume and every layer alike
func TestBuildTileCap(t *testing.T) {
	tmpDir := createTempDir(t)
	defer os.RemoveAll(tmpDir)

	var imgTiles []models.Tile
	for _, idx := range []int{1, 2, 3, 4, 5} {
		tl := testTile(tmpDir, "HE", idx)
		writePatternTile(t, tl.Path, 6, 6, gradient(idx))
		imgTiles = append(imgTiles, tl)
	}
	mask4 := testTile(tmpDir, "stroma", 4)
	writePatternTile(t, mask4.Path, 6, 6, func(x, y int) uint8 { return 255 })

	c := &models.Case{
		ID:     "caseT",
		Dir:    tmpDir,
		Images: models.TileSet{Class: "HE", Tiles: imgTiles},
		Masks:  []models.TileSet{{Class: "stroma", Tiles: []models.Tile{mask4}}},
	}

	plan, err := planner.BuildPlan(c, 2)
	if err != nil {
		t.Fatalf("Failed to build plan: %v", err)
	}

	artifact, err := Build(c, plan, Options{TileCap: 3, Workers: 2})
	if err != nil {
		t.Fatalf("Failed to build stack: %v", err)
	}

	if len(artifact.Volume.Slices) != 3 {
		t.Fatalf("Expected 3 capped slices, got %d", len(artifact.Volume.Slices))
	}
	for i, wantIdx := range []int{1, 2, 3} {
		if got := artifact.Volume.Slices[i].Meta.TileIndex; got != wantIdx {
			t.Errorf("Slice %d: expected tile index %d, got %d", i, wantIdx, got)
		}
	}

	layer := artifact.Layers[0]
	if len(layer.Slices) != 3 {
		t.Fatalf("Expected 3 capped layer slices, got %d", len(layer.Slices))
	}
	// The only mask tile sits above the cap, so every kept slice is empty
	for i := range layer.Slices {
		if layer.Slices[i].HasSource || !layer.Slices[i].Empty() {
			t.Errorf("Slice %d: expected empty capped mask slice", i)
		}
	}
}

// TestBinarizeMask verifies the channel collapse rules
func TestBinarizeMask(t *testing.T) {
	t.Run("GrayFullIntensityOnly", func(t *testing.T) {
		img := image.NewGray(image.Rect(0, 0, 3, 1))
		img.Pix[0], img.Pix[1], img.Pix[2] = 0, 254, 255

		out := binarizeMask(img)
		for i, want := range []uint8{0, 0, 1} {
			if out.Pix[i] != want {
				t.Errorf("Pixel %d: expected %d, got %d", i, want, out.Pix[i])
			}
		}
	})

	t.Run("InformativeAlphaWins", func(t *testing.T) {
		// Alpha carries the mask; color channels are noise
		img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
		img.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 255, B: 255, A: 0})
		img.SetNRGBA(1, 0, color.NRGBA{R: 10, G: 0, B: 0, A: 255})

		out := binarizeMask(img)
		if out.Pix[0] != 0 || out.Pix[1] != 1 {
			t.Errorf("Expected alpha plane [0 1], got [%d %d]", out.Pix[0], out.Pix[1])
		}
	})

	t.Run("OpaqueAlphaFallsBackToMax", func(t *testing.T) {
		img := image.NewNRGBA(image.Rect(0, 0, 3, 1))
		img.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 0, B: 0, A: 255})
		img.SetNRGBA(1, 0, color.NRGBA{R: 0, G: 200, B: 0, A: 255})
		img.SetNRGBA(2, 0, color.NRGBA{R: 0, G: 0, B: 255, A: 255})

		out := binarizeMask(img)
		for i, want := range []uint8{1, 0, 1} {
			if out.Pix[i] != want {
				t.Errorf("Pixel %d: expected %d, got %d", i, want, out.Pix[i])
			}
		}
	})
}

// TestMaskStem verifies stem derivation for slices without a source tile
func TestMaskStem(t *testing.T) {
	testCases := []struct {
		imageStem string
		expected  string
	}{
		{"caseT_HE_tile002", "caseT_stroma_tile002"},
		{"caseT_HE_007", "caseT_stroma_007"},
		{"odd-name", "odd-name_stroma"},
	}

	for _, tc := range testCases {
		result := maskStem(tc.imageStem, "caseT", "HE", "stroma")
		if result != tc.expected {
			t.Errorf("maskStem(%s): expected %s, got %s", tc.imageStem, tc.expected, result)
		}
	}
}
