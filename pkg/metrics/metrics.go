// Package metrics verifies built stacks and summarizes annotation coverage.
// Verification re-reads the source tiles and confirms that every volume
// slice still contains its tile pixel-for-pixel at the recorded placement,
// which is the invariant the exporter depends on.
package metrics

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/stat"

	"histostack/internal/models"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// RoundTripMetrics holds the verification results for one case.
type RoundTripMetrics struct {
	// SlicesChecked is the number of volume slices compared against their
	// source tiles.
	SlicesChecked int `yaml:"slicesChecked"`

	// Mismatched is the number of slices whose re-cropped pixels differ
	// from the source tile in any channel.
	Mismatched int `yaml:"mismatched"`

	// MaxMeanAbsDiff is the largest per-slice mean absolute pixel
	// difference observed, on the 0..255 scale. Zero for a clean build.
	MaxMeanAbsDiff float64 `yaml:"maxMeanAbsDiff"`
}

// CoverageStats summarizes how much of a segmentation layer is annotated.
type CoverageStats struct {
	Class string `yaml:"class"`

	// MeanFraction is the mean annotated fraction of the canvas across
	// slices, in 0..1.
	MeanFraction float64 `yaml:"meanFraction"`

	// StdDevFraction is the standard deviation of the per-slice annotated
	// fractions. Zero when the layer has fewer than two slices.
	StdDevFraction float64 `yaml:"stdDevFraction"`
}

// VerifyRoundTrip re-crops every volume slice of the artifact at its
// recorded placement and compares it against the source tile read back from
// disk. The catalog locates each source tile by index.
func VerifyRoundTrip(c *models.Case, artifact *models.CaseArtifact) (*RoundTripMetrics, error) {
	m := &RoundTripMetrics{}

	for i := range artifact.Volume.Slices {
		s := &artifact.Volume.Slices[i]

		tile, ok := c.Images.Find(s.Meta.TileIndex)
		if !ok {
			return nil, fmt.Errorf("case %s: slice %d: no source tile with index %d",
				c.ID, i, s.Meta.TileIndex)
		}

		src, err := loadImage(tile.Path)
		if err != nil {
			return nil, fmt.Errorf("case %s: reading tile %s: %w",
				c.ID, filepath.Base(tile.Path), err)
		}

		meanDiff := sliceMeanAbsDiff(s.Image, src, s.Meta.Placement)
		m.SlicesChecked++
		if meanDiff > 0 {
			m.Mismatched++
		}
		if meanDiff > m.MaxMeanAbsDiff {
			m.MaxMeanAbsDiff = meanDiff
		}
	}

	return m, nil
}

// sliceMeanAbsDiff compares the placement region of a built slice against
// the source tile, averaging the absolute channel differences per pixel.
func sliceMeanAbsDiff(slice image.Image, src image.Image, pl models.Placement) float64 {
	srcMin := src.Bounds().Min

	var sum float64
	for y := 0; y < pl.Height; y++ {
		for x := 0; x < pl.Width; x++ {
			a := color.NRGBAModel.Convert(slice.At(pl.OffsetX+x, pl.OffsetY+y)).(color.NRGBA)
			b := color.NRGBAModel.Convert(src.At(srcMin.X+x, srcMin.Y+y)).(color.NRGBA)
			sum += float64(absDiff(a.R, b.R)+absDiff(a.G, b.G)+absDiff(a.B, b.B)) / 3.0
		}
	}

	n := pl.Width * pl.Height
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

// LayerCoverage computes the per-slice annotated fraction of every layer
// and summarizes it with mean and standard deviation.
func LayerCoverage(artifact *models.CaseArtifact) []CoverageStats {
	out := make([]CoverageStats, 0, len(artifact.Layers))

	for _, layer := range artifact.Layers {
		area := layer.Canvas.Width * layer.Canvas.Height
		fractions := make([]float64, 0, len(layer.Slices))

		for i := range layer.Slices {
			mask := layer.Slices[i].Mask
			if mask == nil || area == 0 {
				fractions = append(fractions, 0)
				continue
			}
			labeled := 0
			for _, v := range mask.Pix {
				if v != 0 {
					labeled++
				}
			}
			fractions = append(fractions, float64(labeled)/float64(area))
		}

		cs := CoverageStats{Class: layer.Class}
		if len(fractions) > 0 {
			cs.MeanFraction = stat.Mean(fractions, nil)
		}
		if len(fractions) > 1 {
			cs.StdDevFraction = stat.StdDev(fractions, nil)
		}
		out = append(out, cs)
	}

	return out
}

// loadImage decodes a tile image from disk
func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}
