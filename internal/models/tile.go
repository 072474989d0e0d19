// Package models holds the data types shared by the histostack pipeline:
// tile descriptors produced by cataloging, canvas/placement geometry produced
// by planning, and the volume/segmentation stacks that cross the viewer
// boundary inside a Scene.
package models

import "sort"

// Tile describes a single 2D raster tile on disk. Catalog produces Tiles
// without touching pixel data; dimensions are read later by the planner and
// pixels only during the build.
type Tile struct {
	// Path is the tile's source file path.
	Path string

	// CaseID is the owning case, i.e. the case folder name.
	CaseID string

	// Class is the subfolder the tile came from: the image folder name
	// (e.g. "HE") or a mask class name (e.g. "stroma").
	Class string

	// Index is the tile index parsed from the filename. It defines the
	// slice index within the case and the join key between image and
	// mask tile sets.
	Index int

	// Stem is the filename without its extension, kept verbatim so
	// exported files can reproduce the original naming.
	Stem string
}

// TileSet is all tiles of one class belonging to one case, ordered by
// ascending Index.
type TileSet struct {
	Class string
	Tiles []Tile
}

// Len returns the number of tiles in the set.
func (ts *TileSet) Len() int { return len(ts.Tiles) }

// Find returns the tile with the given index, if present. Tiles are kept
// sorted by Index, so this is a binary search.
func (ts *TileSet) Find(index int) (Tile, bool) {
	i := sort.Search(len(ts.Tiles), func(i int) bool {
		return ts.Tiles[i].Index >= index
	})
	if i < len(ts.Tiles) && ts.Tiles[i].Index == index {
		return ts.Tiles[i], true
	}
	return Tile{}, false
}

// Indices returns the sorted tile indices present in the set.
func (ts *TileSet) Indices() []int {
	out := make([]int, len(ts.Tiles))
	for i, t := range ts.Tiles {
		out[i] = t.Index
	}
	return out
}

// Truncate returns a copy of the set limited to tiles whose index appears in
// keep. It is how a per-case tile cap is applied identically to the image set
// and every mask set so slice indices stay aligned.
func (ts *TileSet) Truncate(keep map[int]bool) TileSet {
	out := TileSet{Class: ts.Class}
	for _, t := range ts.Tiles {
		if keep[t.Index] {
			out.Tiles = append(out.Tiles, t)
		}
	}
	return out
}

// Case is one subject/sample: an image tile set plus zero or more mask tile
// sets discovered under the case folder.
type Case struct {
	// ID is the case folder name.
	ID string

	// Dir is the case folder path.
	Dir string

	// Images is the ordered image tile set (the slice-order authority).
	Images TileSet

	// Masks holds one tile set per mask class, sorted by class name for
	// deterministic iteration.
	Masks []TileSet
}

// Mask returns the mask tile set for the given class, if present.
func (c *Case) Mask(class string) (*TileSet, bool) {
	for i := range c.Masks {
		if c.Masks[i].Class == class {
			return &c.Masks[i], true
		}
	}
	return nil, false
}

// MaskClasses returns the mask class names in their (sorted) storage order.
func (c *Case) MaskClasses() []string {
	out := make([]string, len(c.Masks))
	for i, ts := range c.Masks {
		out[i] = ts.Class
	}
	return out
}

// AllTiles returns every tile of the case, image tiles first, then each mask
// set in class order.
func (c *Case) AllTiles() []Tile {
	out := make([]Tile, 0, c.Images.Len())
	out = append(out, c.Images.Tiles...)
	for _, ts := range c.Masks {
		out = append(out, ts.Tiles...)
	}
	return out
}
