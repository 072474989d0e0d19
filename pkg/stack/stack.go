// Package stack assembles a case's tiles into the in-memory volume and
// segmentation layers handed to the viewer. Every slice is a canvas-sized
// plane: the tile's original pixels drawn at their recorded placement over a
// zero background. Image slices keep the case's pixel depth; mask slices are
// collapsed to single-channel 0/1 labels.
package stack

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"histostack/internal/models"
	"histostack/pkg/logging"
	"histostack/pkg/planner"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// Options control how a case is assembled.
type Options struct {
	// TileCap limits the volume to the lowest N tile indices. The same
	// subset is applied to every mask layer so slices stay aligned.
	// Zero means no cap.
	TileCap int

	// Workers bounds how many tiles are decoded and padded in parallel.
	// Zero or negative selects the number of CPUs.
	Workers int
}

// Build assembles one case into its volume and segmentation layers using the
// geometry from the plan. Tiles are decoded and padded concurrently; slice
// order is fixed solely by ascending tile index. A mask tile missing for an
// image index yields an all-zero mask slice, which is a normal outcome, not
// an error. Any unreadable or undecodable tile fails the whole case.
func Build(c *models.Case, plan *planner.Plan, opts Options) (*models.CaseArtifact, error) {
	workers := opts.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	imageTiles := c.Images.Tiles
	if opts.TileCap > 0 && opts.TileCap < len(imageTiles) {
		imageTiles = imageTiles[:opts.TileCap]
		logging.Infof("case %s: capped to the %d lowest tile indices", c.ID, opts.TileCap)
	}

	volume, err := buildVolume(c, imageTiles, plan, workers)
	if err != nil {
		return nil, err
	}

	artifact := &models.CaseArtifact{
		CaseID: c.ID,
		Volume: volume,
	}

	for _, maskSet := range c.Masks {
		layer, err := buildLayer(c, maskSet, imageTiles, plan, workers)
		if err != nil {
			return nil, err
		}
		artifact.Layers = append(artifact.Layers, layer)
	}

	logging.Debugf("case %s: built %d slices, %d layers on canvas %dx%d",
		c.ID, len(volume.Slices), len(artifact.Layers),
		plan.Canvas.Width, plan.Canvas.Height)

	return artifact, nil
}

// buildVolume decodes and pads the image tiles into ordered volume slices.
func buildVolume(c *models.Case, imageTiles []models.Tile, plan *planner.Plan, workers int) (*models.Volume, error) {
	n := len(imageTiles)

	volume := &models.Volume{
		Name:   c.ID + "_" + c.Images.Class,
		Canvas: plan.Canvas,
		Slices: make([]models.Slice, n),
	}

	type sliceResult struct {
		sliceIdx int
		slice    models.Slice
		err      error
	}
	resultChan := make(chan sliceResult, n)
	sem := make(chan struct{}, workers)

	for i, tile := range imageTiles {
		go func(idx int, t models.Tile) {
			sem <- struct{}{}
			defer func() { <-sem }()

			s, err := buildImageSlice(t, plan)
			resultChan <- sliceResult{sliceIdx: idx, slice: s, err: err}
		}(i, tile)
	}

	for completed := 0; completed < n; completed++ {
		res := <-resultChan
		if res.err != nil {
			return nil, fmt.Errorf("case %s: %w", c.ID, res.err)
		}
		volume.Slices[res.sliceIdx] = res.slice
	}

	return volume, nil
}

// buildImageSlice decodes one image tile and draws it at its placement on a
// fresh canvas-sized slice of the case's pixel depth.
func buildImageSlice(t models.Tile, plan *planner.Plan) (models.Slice, error) {
	pl, ok := plan.Placement(t)
	if !ok {
		return models.Slice{}, fmt.Errorf("tile %s: no placement in plan", filepath.Base(t.Path))
	}

	img, err := loadImage(t.Path)
	if err != nil {
		return models.Slice{}, fmt.Errorf("decoding tile %s: %w", filepath.Base(t.Path), err)
	}

	var dst draw.Image
	if plan.Color {
		dst = image.NewNRGBA(plan.Canvas.Rect())
	} else {
		dst = image.NewGray(plan.Canvas.Rect())
	}
	draw.Draw(dst, pl.Rect(), img, img.Bounds().Min, draw.Src)

	return models.Slice{
		Meta: models.SliceMeta{
			CaseID:    t.CaseID,
			TileIndex: t.Index,
			Stem:      t.Stem,
			Placement: pl,
		},
		Image: dst,
	}, nil
}

// buildLayer assembles one mask class into a segmentation layer aligned 1:1
// with the volume slices.
func buildLayer(c *models.Case, maskSet models.TileSet, imageTiles []models.Tile, plan *planner.Plan, workers int) (*models.SegmentationLayer, error) {
	n := len(imageTiles)

	layer := &models.SegmentationLayer{
		Class:  maskSet.Class,
		Canvas: plan.Canvas,
		Slices: make([]models.MaskSlice, n),
	}

	type maskResult struct {
		sliceIdx int
		slice    models.MaskSlice
		err      error
	}
	resultChan := make(chan maskResult, n)
	sem := make(chan struct{}, workers)

	for i, tile := range imageTiles {
		go func(idx int, imgTile models.Tile) {
			sem <- struct{}{}
			defer func() { <-sem }()

			s, err := buildMaskSlice(c, maskSet, imgTile, plan)
			resultChan <- maskResult{sliceIdx: idx, slice: s, err: err}
		}(i, tile)
	}

	for completed := 0; completed < n; completed++ {
		res := <-resultChan
		if res.err != nil {
			return nil, fmt.Errorf("case %s: class %s: %w", c.ID, maskSet.Class, res.err)
		}
		layer.Slices[res.sliceIdx] = res.slice
	}

	return layer, nil
}

// buildMaskSlice produces the mask slice aligned with one image tile. When
// the class has a tile for the image index, its pixels are collapsed and
// binarized at the tile's own placement; otherwise the slice is all zero and
// carries the image tile's placement so a later annotation still exports at
// a sensible size.
func buildMaskSlice(c *models.Case, maskSet models.TileSet, imgTile models.Tile, plan *planner.Plan) (models.MaskSlice, error) {
	maskTile, found := maskSet.Find(imgTile.Index)
	if !found {
		pl, _ := plan.Placement(imgTile)
		return models.MaskSlice{
			Meta: models.SliceMeta{
				CaseID:    imgTile.CaseID,
				TileIndex: imgTile.Index,
				Stem:      maskStem(imgTile.Stem, c.ID, c.Images.Class, maskSet.Class),
				Placement: pl,
			},
			Mask:      image.NewGray(plan.Canvas.Rect()),
			HasSource: false,
		}, nil
	}

	pl, ok := plan.Placement(maskTile)
	if !ok {
		return models.MaskSlice{}, fmt.Errorf("tile %s: no placement in plan", filepath.Base(maskTile.Path))
	}

	img, err := loadImage(maskTile.Path)
	if err != nil {
		return models.MaskSlice{}, fmt.Errorf("decoding tile %s: %w", filepath.Base(maskTile.Path), err)
	}

	labels := binarizeMask(img)
	dst := image.NewGray(plan.Canvas.Rect())
	draw.Draw(dst, pl.Rect(), labels, labels.Bounds().Min, draw.Src)

	return models.MaskSlice{
		Meta: models.SliceMeta{
			CaseID:    maskTile.CaseID,
			TileIndex: maskTile.Index,
			Stem:      maskTile.Stem,
			Placement: pl,
		},
		Mask:      dst,
		HasSource: true,
	}, nil
}

// binarizeMask collapses a mask tile to one channel and thresholds it to 0/1
// labels. An alpha channel carrying both zero and nonzero values is taken as
// the mask plane (masks exported with transparency); otherwise the per-pixel
// maximum of the color channels is used. Only full-intensity pixels count as
// labeled: value 255 becomes 1, everything else 0.
func binarizeMask(img image.Image) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	alpha := make([]uint8, w*h)
	maxRGB := make([]uint8, w*h)
	hasZeroAlpha, hasPosAlpha := false, false

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			px := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)

			alpha[i] = px.A
			if px.A == 0 {
				hasZeroAlpha = true
			} else {
				hasPosAlpha = true
			}

			m := px.R
			if px.G > m {
				m = px.G
			}
			if px.B > m {
				m = px.B
			}
			maxRGB[i] = m
			i++
		}
	}

	plane := maxRGB
	if hasZeroAlpha && hasPosAlpha {
		plane = alpha
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	for j, v := range plane {
		if v == 255 {
			out.Pix[j] = 1
		}
	}
	return out
}

// maskStem derives the filename stem for a mask slice that has no source
// tile by swapping the image folder name for the class name in the image
// tile's stem.
func maskStem(imageStem, caseID, imageClass, class string) string {
	prefix := caseID + "_" + imageClass + "_"
	if strings.HasPrefix(imageStem, prefix) {
		return caseID + "_" + class + "_" + strings.TrimPrefix(imageStem, prefix)
	}
	return imageStem + "_" + class
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
