// Package planner computes per-case raster geometry before any pixel data is
// loaded: the uniform canvas that fits every tile of the case and the
// placement of each tile's original pixels on that canvas. Only image headers
// are read here, concurrently across all tile sets of the case.
package planner

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"runtime"

	"histostack/internal/models"
	"histostack/pkg/logging"

	// Register decoders for the tile formats encountered in the wild.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// Plan is the geometry blueprint for one case: the canvas every slice will
// be allocated at, the pixel depth the volume slices will use, and the
// placement recorded for every tile. Plans are recomputed on each run and
// never persisted; the placements are copied into slice metadata during the
// build and travel with the scene from then on.
type Plan struct {
	Canvas models.Canvas

	// Color records whether the case's image tiles carry color. The
	// builder allocates NRGBA slices when set and 8-bit grayscale slices
	// otherwise.
	Color bool

	// Placements maps a tile's path to its canvas placement.
	Placements map[string]models.Placement
}

// Placement returns the recorded placement for a tile.
func (p *Plan) Placement(t models.Tile) (models.Placement, bool) {
	pl, ok := p.Placements[t.Path]
	return pl, ok
}

// BuildPlan reads the header of every tile in the case with a bounded worker
// pool and derives the canvas as the elementwise maximum of all tile sizes.
// Every tile is anchored at the canvas origin; padding fills right and
// bottom. Image tiles mixing grayscale and color depths fail the case; mask
// depth is deliberately not validated because mask pixels are coerced to
// binary labels when the stack is built.
func BuildPlan(c *models.Case, workers int) (*Plan, error) {
	tiles := c.AllTiles()
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	// Read headers in parallel, bounded by the worker count
	type headerResult struct {
		tileIdx int
		width   int
		height  int
		gray    bool
		err     error
	}
	resultChan := make(chan headerResult, len(tiles))
	sem := make(chan struct{}, workers)

	for i, tile := range tiles {
		go func(idx int, path string) {
			sem <- struct{}{}
			defer func() { <-sem }()

			w, h, gray, err := readHeader(path)
			resultChan <- headerResult{tileIdx: idx, width: w, height: h, gray: gray, err: err}
		}(i, tile.Path)
	}

	plan := &Plan{
		Placements: make(map[string]models.Placement, len(tiles)),
	}

	// Image tiles come first in AllTiles, so indices below this count
	// participate in the channel-depth vote.
	imageCount := c.Images.Len()
	graySeen, colorSeen := false, false

	for completed := 0; completed < len(tiles); completed++ {
		res := <-resultChan
		if res.err != nil {
			return nil, fmt.Errorf("case %s: reading header of %s: %w",
				c.ID, filepath.Base(tiles[res.tileIdx].Path), res.err)
		}

		if res.width > plan.Canvas.Width {
			plan.Canvas.Width = res.width
		}
		if res.height > plan.Canvas.Height {
			plan.Canvas.Height = res.height
		}

		plan.Placements[tiles[res.tileIdx].Path] = models.Placement{
			OffsetX: 0,
			OffsetY: 0,
			Width:   res.width,
			Height:  res.height,
		}

		if res.tileIdx < imageCount {
			if res.gray {
				graySeen = true
			} else {
				colorSeen = true
			}
		}
	}

	if graySeen && colorSeen {
		return nil, fmt.Errorf("case %s: %w", c.ID, models.ErrInconsistentChannelDepth)
	}
	plan.Color = colorSeen

	logging.Debugf("case %s: canvas %dx%d over %d tiles (color=%v)",
		c.ID, plan.Canvas.Width, plan.Canvas.Height, len(tiles), plan.Color)

	return plan, nil
}

// readHeader decodes only the image header of the file at path.
func readHeader(path string) (width, height int, gray bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, false, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, false, err
	}
	return cfg.Width, cfg.Height, isGrayModel(cfg.ColorModel), nil
}

// isGrayModel reports whether a decoded color model is single-channel.
// Paletted and YCbCr models count as color.
func isGrayModel(m color.Model) bool {
	return m == color.GrayModel || m == color.Gray16Model
}
