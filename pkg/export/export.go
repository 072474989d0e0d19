// Package export reverses the stack transform. Each segmentation layer
// slice in a scene is cropped back to its recorded placement, binarized to a
// 0/255 single-channel mask, and written as an individual tile file next to
// the originals, distinguished by a filename tag so source masks are never
// overwritten.
package export

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"histostack/internal/models"
	"histostack/pkg/logging"
)

// DefaultJPEGQuality is the quality of exported masks when a JPEG extension
// is requested and no explicit quality is configured.
const DefaultJPEGQuality = 80

// Policy decides which layer slices produce files on export.
type Policy int

const (
	// EmitAnnotatedOrSource writes slices that carry at least one labeled
	// pixel or that had a source mask tile when the stack was built. This
	// is the default: edits and deletions round-trip, pristine empty
	// slices stay silent.
	EmitAnnotatedOrSource Policy = iota

	// EmitAnnotatedOnly writes only slices with at least one labeled pixel.
	EmitAnnotatedOnly

	// EmitAll writes every slice of every layer.
	EmitAll
)

// ParsePolicy maps a configuration string to a Policy. The empty string
// selects the default.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "annotated-or-source":
		return EmitAnnotatedOrSource, nil
	case "annotated-only":
		return EmitAnnotatedOnly, nil
	case "all":
		return EmitAll, nil
	default:
		return 0, fmt.Errorf("unknown emit policy %q", s)
	}
}

func (p Policy) String() string {
	switch p {
	case EmitAnnotatedOnly:
		return "annotated-only"
	case EmitAll:
		return "all"
	default:
		return "annotated-or-source"
	}
}

// Options control an export run.
type Options struct {
	// Root is the tile tree the masks are written back into, the same
	// root the scene was built from.
	Root string

	// Tag is appended to each filename stem before the extension.
	// Empty selects "_edited".
	Tag string

	// Ext selects the output encoder by extension (.png, .tiff, .bmp,
	// .jpg). Empty selects ".png".
	Ext string

	Policy Policy

	// Workers bounds concurrent slice exports. Zero or negative selects
	// the number of CPUs.
	Workers int
}

// Failure records one slice that could not be exported.
type Failure struct {
	CaseID    string
	Class     string
	TileIndex int
	Err       error
}

// Kind returns the failure's taxonomy name for reports.
func (f Failure) Kind() string { return models.Kind(f.Err) }

// Result summarizes an export run. Failures never abort the run: every
// slice is attempted and every problem is collected here.
type Result struct {
	// Written is the number of mask files produced.
	Written int

	// Skipped counts slices filtered out by the emit policy.
	Skipped int

	// Bytes is the total size of all written files.
	Bytes int64

	Failures []Failure
}

// Run exports every segmentation layer of the scene into the tile tree at
// opts.Root. Slices are exported concurrently; the only fatal error is a
// missing root folder.
func Run(s *models.Scene, opts Options) (*Result, error) {
	info, err := os.Stat(opts.Root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("root folder %s: %w", opts.Root, models.ErrRootNotFound)
	}

	tag := opts.Tag
	if tag == "" {
		tag = "_edited"
	}
	ext := opts.Ext
	if ext == "" {
		ext = ".png"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	workers := opts.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	type task struct {
		caseID string
		class  string
		slice  *models.MaskSlice
	}
	var tasks []task
	for _, c := range s.Cases {
		for _, layer := range c.Layers {
			for i := range layer.Slices {
				tasks = append(tasks, task{
					caseID: c.CaseID,
					class:  layer.Class,
					slice:  &layer.Slices[i],
				})
			}
		}
	}
	if len(tasks) == 0 {
		logging.Warningf("no segmentation layers in scene, nothing to export")
		return &Result{}, nil
	}

	type exportResult struct {
		taskIdx int
		written bool
		skipped bool
		size    int64
		err     error
	}
	resultChan := make(chan exportResult, len(tasks))
	sem := make(chan struct{}, workers)

	for i, tk := range tasks {
		go func(idx int, caseID, class string, m *models.MaskSlice) {
			sem <- struct{}{}
			defer func() { <-sem }()

			size, skipped, err := exportSlice(opts.Root, caseID, class, m, tag, ext, opts.Policy)
			resultChan <- exportResult{
				taskIdx: idx,
				written: err == nil && !skipped,
				skipped: skipped,
				size:    size,
				err:     err,
			}
		}(i, tk.caseID, tk.class, tk.slice)
	}

	result := &Result{}
	for completed := 0; completed < len(tasks); completed++ {
		res := <-resultChan
		switch {
		case res.err != nil:
			tk := tasks[res.taskIdx]
			logging.Errorf("case %s: class %s: tile %d: %v",
				tk.caseID, tk.class, tk.slice.Meta.TileIndex, res.err)
			result.Failures = append(result.Failures, Failure{
				CaseID:    tk.caseID,
				Class:     tk.class,
				TileIndex: tk.slice.Meta.TileIndex,
				Err:       res.err,
			})
		case res.skipped:
			result.Skipped++
		default:
			result.Written++
			result.Bytes += res.size
		}
	}

	// Completion order is nondeterministic, so reports sort failures
	sort.Slice(result.Failures, func(i, j int) bool {
		a, b := result.Failures[i], result.Failures[j]
		if a.CaseID != b.CaseID {
			return a.CaseID < b.CaseID
		}
		if a.Class != b.Class {
			return a.Class < b.Class
		}
		return a.TileIndex < b.TileIndex
	})

	logging.Infof("exported %d mask file(s) with tag %q, %d skipped, %d failed",
		result.Written, tag, result.Skipped, len(result.Failures))

	return result, nil
}

// exportSlice writes one layer slice as a binary mask tile, or skips it per
// the emit policy.
func exportSlice(root, caseID, class string, m *models.MaskSlice, tag, ext string, policy Policy) (int64, bool, error) {
	annotated := !m.Empty()

	emit := false
	switch policy {
	case EmitAll:
		emit = true
	case EmitAnnotatedOnly:
		emit = annotated
	default:
		emit = annotated || m.HasSource
	}
	if !emit {
		return 0, true, nil
	}

	if !m.Meta.Placement.Valid() {
		return 0, false, fmt.Errorf("tile %d of class %s: %w",
			m.Meta.TileIndex, class, models.ErrMissingPlacementMetadata)
	}
	if m.Mask == nil {
		return 0, false, fmt.Errorf("tile %d of class %s: slice has no pixel data",
			m.Meta.TileIndex, class)
	}

	out := cropBinarize(m.Mask, m.Meta.Placement)

	dir := filepath.Join(root, caseID, class)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, false, fmt.Errorf("creating class folder: %w", err)
	}

	var buf bytes.Buffer
	if err := encodeImage(&buf, out, ext); err != nil {
		return 0, false, err
	}

	path := filepath.Join(dir, m.Meta.Stem+tag+ext)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return 0, false, fmt.Errorf("writing mask file: %w", err)
	}

	return int64(buf.Len()), false, nil
}

// cropBinarize recovers the original sub-region of a canvas-sized mask
// slice and maps every labeled pixel to full intensity: nonzero becomes
// 255, zero stays 0.
func cropBinarize(mask *image.Gray, pl models.Placement) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, pl.Width, pl.Height))
	for y := 0; y < pl.Height; y++ {
		for x := 0; x < pl.Width; x++ {
			if mask.GrayAt(pl.OffsetX+x, pl.OffsetY+y).Y != 0 {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

// encodeImage writes img in the format selected by the file extension.
func encodeImage(w io.Writer, img image.Image, ext string) error {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "", "png":
		return png.Encode(w, img)
	case "jpg", "jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: DefaultJPEGQuality})
	case "tiff", "tif":
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case "bmp":
		return bmp.Encode(w, img)
	default:
		return fmt.Errorf("illegal image format requested: %s", ext)
	}
}
