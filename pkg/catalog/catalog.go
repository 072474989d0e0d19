// Package catalog discovers and orders the tile files of a case. It scans
// the case's image folder and every sibling mask-class folder, filters files
// by extension and by the case/class filename prefix, parses tile indices,
// and validates ordering invariants. No pixel data is read here; the catalog
// produces descriptors for the planner and builder to consume.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"histostack/internal/models"
	"histostack/pkg/logging"
)

// ScanCase builds the tile catalog for one case directory. imageFolder names
// the subfolder holding the source image tiles (every other subfolder not
// starting with "_" or "." is treated as a mask class), and ext filters which
// files count as tiles ("" accepts any extension).
//
// Failure modes: an image folder with zero matching tiles, a filename with no
// parseable index, two tiles sharing an index, or a mask tile whose index has
// no image tile.
func ScanCase(caseDir, imageFolder, ext string) (*models.Case, error) {
	caseID := filepath.Base(caseDir)

	c := &models.Case{
		ID:  caseID,
		Dir: caseDir,
	}

	// Image tile set first; it is the slice-order authority.
	imageTiles, err := scanTileDir(filepath.Join(caseDir, imageFolder), caseID, imageFolder, ext)
	if err != nil {
		return nil, err
	}
	if len(imageTiles) == 0 {
		return nil, fmt.Errorf("case %s: folder %s: %w", caseID, imageFolder, models.ErrEmptyCase)
	}
	c.Images = models.TileSet{Class: imageFolder, Tiles: imageTiles}

	known := make(map[int]bool, len(imageTiles))
	for _, t := range imageTiles {
		known[t.Index] = true
	}

	// Sibling directories are candidate mask classes. Names starting with
	// "_" or "." are reserved for non-class data and skipped.
	entries, err := os.ReadDir(caseDir)
	if err != nil {
		return nil, fmt.Errorf("case %s: reading case folder: %w", caseID, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || name == imageFolder ||
			strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}

		maskTiles, err := scanTileDir(filepath.Join(caseDir, name), caseID, name, ext)
		if err != nil {
			return nil, err
		}
		for _, t := range maskTiles {
			if !known[t.Index] {
				return nil, fmt.Errorf("case %s: class %s: tile index %d: %w",
					caseID, name, t.Index, models.ErrOrphanMaskTile)
			}
		}
		c.Masks = append(c.Masks, models.TileSet{Class: name, Tiles: maskTiles})
	}

	logging.Debugf("case %s: %d image tiles, %d mask classes %v",
		caseID, c.Images.Len(), len(c.Masks), c.MaskClasses())

	return c, nil
}

// scanTileDir lists one tile folder and returns its tiles sorted by index.
// Files are kept only when they match the extension filter and carry the
// "<case>_<class>_" filename prefix; everything else in the folder is
// ignored. A missing folder yields an empty set.
func scanTileDir(dir, caseID, class, ext string) ([]models.Tile, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("case %s: reading folder %s: %w", caseID, class, err)
	}

	prefix := caseID + "_" + class + "_"

	var tiles []models.Tile
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		name := file.Name()
		fileExt := strings.ToLower(filepath.Ext(name))
		if ext != "" && fileExt != strings.ToLower(ext) {
			continue
		}
		if !strings.HasPrefix(name, prefix) {
			continue
		}

		stem := strings.TrimSuffix(name, filepath.Ext(name))
		index, ok := extractIndex(stem)
		if !ok {
			return nil, fmt.Errorf("case %s: class %s: file %s: %w",
				caseID, class, name, models.ErrMalformedTileName)
		}

		tiles = append(tiles, models.Tile{
			Path:   filepath.Join(dir, name),
			CaseID: caseID,
			Class:  class,
			Index:  index,
			Stem:   stem,
		})
	}

	// Sort by index to establish slice order
	sort.Slice(tiles, func(i, j int) bool {
		return tiles[i].Index < tiles[j].Index
	})

	for i := 1; i < len(tiles); i++ {
		if tiles[i].Index == tiles[i-1].Index {
			return nil, fmt.Errorf("case %s: class %s: index %d shared by %s and %s: %w",
				caseID, class, tiles[i].Index,
				filepath.Base(tiles[i-1].Path), filepath.Base(tiles[i].Path),
				models.ErrDuplicateTileIndex)
		}
	}

	return tiles, nil
}

// extractIndex parses the tile index from a filename stem as the last run of
// decimal digits, so "R44-003_HE_tile012" yields 12 rather than a
// concatenation of every digit in the name.
func extractIndex(stem string) (int, bool) {
	numStr := ""
	run := ""
	for _, c := range stem {
		if c >= '0' && c <= '9' {
			run += string(c)
		} else {
			if run != "" {
				numStr = run
			}
			run = ""
		}
	}
	if run != "" {
		numStr = run
	}

	if numStr == "" {
		return 0, false
	}
	num, err := strconv.Atoi(numStr)
	if err != nil {
		return 0, false
	}
	return num, true
}
