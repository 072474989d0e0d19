package models

import (
	"fmt"
	"image"
	"strings"
	"time"
)

// Canvas is the uniform per-case slice rectangle. Every tile of the case,
// image and mask alike, fits inside it without scaling.
type Canvas struct {
	Width  int
	Height int
}

// Contains reports whether a tile of the given size fits on the canvas.
func (c Canvas) Contains(w, h int) bool {
	return w <= c.Width && h <= c.Height
}

// Rect returns the canvas as an image rectangle anchored at the origin.
func (c Canvas) Rect() image.Rectangle {
	return image.Rect(0, 0, c.Width, c.Height)
}

// Placement records where a tile's original pixels were written on the
// canvas: the top-left offset plus the original size. It is the sole
// information needed to undo padding at export time and is recorded per
// slice, never re-derived.
type Placement struct {
	OffsetX int
	OffsetY int

	// Width and Height are the tile's original pixel size before padding.
	Width  int
	Height int
}

// Valid reports whether the placement carries usable metadata. A real tile
// always has positive dimensions, so a zero-size placement marks a slice
// produced by an incompatible or corrupted build.
func (p Placement) Valid() bool {
	return p.Width > 0 && p.Height > 0
}

// Rect returns the canvas region covered by the original tile pixels.
func (p Placement) Rect() image.Rectangle {
	return image.Rect(p.OffsetX, p.OffsetY, p.OffsetX+p.Width, p.OffsetY+p.Height)
}

// SliceMeta is the per-slice metadata carried through the Scene so the
// exporter can recover each slice's original region and file naming.
type SliceMeta struct {
	CaseID    string
	TileIndex int

	// Stem is the original filename stem of the source tile. For mask
	// slices without a source tile it is derived from the image tile stem
	// with the class name substituted.
	Stem string

	Placement Placement
}

// Slice is one canvas-sized plane of a Volume: the source tile's pixels at
// their placement over a zero background.
type Slice struct {
	Meta  SliceMeta
	Image image.Image
}

// Volume is the ordered stack of padded image slices for one case. Slice
// order is fixed by ascending tile index and is the single source of truth
// for "slice N holds tile index N's pixels".
type Volume struct {
	// Name is the display name handed to the viewer, "<case>_<imageFolder>".
	Name string

	Canvas Canvas
	Slices []Slice
}

// TileMapping renders the human-readable slice-to-tile mapping, one
// "Slice N: <stem>" line per slice, for logging and for viewers that only
// display free-text descriptions.
func (v *Volume) TileMapping() string {
	var b strings.Builder
	for i, s := range v.Slices {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "Slice %d: %s", i, s.Meta.Stem)
	}
	return b.String()
}

// MaskSlice is one canvas-sized binary plane of a SegmentationLayer. Mask
// pixels hold 0 or 1 labels (labelmap convention); the exporter maps any
// nonzero value to 255 on write.
type MaskSlice struct {
	Meta SliceMeta
	Mask *image.Gray

	// HasSource records whether a mask tile existed on disk for this slice
	// when the stack was built. The default export policy emits a file for
	// slices that are annotated or that had a source tile.
	HasSource bool
}

// Empty reports whether the slice has no annotated pixels.
func (s *MaskSlice) Empty() bool {
	if s.Mask == nil {
		return true
	}
	for _, v := range s.Mask.Pix {
		if v != 0 {
			return false
		}
	}
	return true
}

// SegmentationLayer is the ordered stack of binary mask slices for one
// (case, class) pair, aligned 1:1 by slice index with the case Volume.
type SegmentationLayer struct {
	Class  string
	Canvas Canvas

	// Color is the layer's display color as 0..1 RGB, a hint for the viewer.
	Color [3]float64

	// Visible is the layer's default 2D visibility in the viewer.
	Visible bool

	Slices []MaskSlice
}

// CaseArtifact bundles one case's volume and segmentation layers for the
// viewer collaborator.
type CaseArtifact struct {
	CaseID string
	Volume *Volume
	Layers []*SegmentationLayer
}

// Layer returns the segmentation layer for the given class, if present.
func (a *CaseArtifact) Layer(class string) (*SegmentationLayer, bool) {
	for _, l := range a.Layers {
		if l.Class == class {
			return l, true
		}
	}
	return nil, false
}

// Scene aggregates every built case and is the unit handed to and received
// from the external viewer collaborator. The engine never mutates a Scene
// after the build; edits happen in the viewer.
type Scene struct {
	// Root is the root folder the scene was built from.
	Root string

	// Built is the build timestamp.
	Built time.Time

	Cases []*CaseArtifact
}

// Case returns the artifact for the given case id, if present.
func (s *Scene) Case(id string) (*CaseArtifact, bool) {
	for _, c := range s.Cases {
		if c.CaseID == id {
			return c, true
		}
	}
	return nil, false
}
