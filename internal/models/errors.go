package models

import "errors"

// Sentinel errors for the failure kinds surfaced in batch and export
// reports. Failure sites wrap these with context via fmt.Errorf and %w so
// Kind can classify any error in the chain.
var (
	// ErrRootNotFound means the configured root folder does not exist or is
	// not a directory. This aborts a run before any per-case work.
	ErrRootNotFound = errors.New("root folder not found")

	// ErrEmptyCase means a case's image folder yielded zero tiles.
	ErrEmptyCase = errors.New("no image tiles found")

	// ErrMalformedTileName means no tile index could be parsed from a
	// filename that passed the extension and prefix filters.
	ErrMalformedTileName = errors.New("no tile index in filename")

	// ErrDuplicateTileIndex means two tiles in one tile set parsed to the
	// same index, which would silently overwrite a slice.
	ErrDuplicateTileIndex = errors.New("duplicate tile index")

	// ErrOrphanMaskTile means a mask tile's index has no corresponding
	// image tile, violating the subset invariant between mask and image
	// tile sets.
	ErrOrphanMaskTile = errors.New("mask tile without matching image tile")

	// ErrInconsistentChannelDepth means the image tiles of one case mix
	// grayscale and color pixel formats.
	ErrInconsistentChannelDepth = errors.New("image tiles mix channel depths")

	// ErrMissingPlacementMetadata means a slice reached the exporter
	// without the placement recorded at build time.
	ErrMissingPlacementMetadata = errors.New("slice lacks placement metadata")
)

// Failure kind names as they appear in reports.
const (
	KindNone                     = ""
	KindRootNotFound             = "RootNotFound"
	KindEmptyCase                = "EmptyCase"
	KindMalformedTileName        = "MalformedTileName"
	KindDuplicateTileIndex       = "DuplicateTileIndex"
	KindOrphanMaskTile           = "OrphanMaskTile"
	KindInconsistentChannelDepth = "InconsistentChannelDepth"
	KindMissingPlacementMetadata = "MissingPlacementMetadata"
	KindIOFailure                = "IOFailure"
)

// Kind maps an error to its taxonomy name for reporting. Errors outside the
// taxonomy (file reads, decodes, writes) classify as IOFailure; nil maps to
// the empty string.
func Kind(err error) string {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrRootNotFound):
		return KindRootNotFound
	case errors.Is(err, ErrEmptyCase):
		return KindEmptyCase
	case errors.Is(err, ErrMalformedTileName):
		return KindMalformedTileName
	case errors.Is(err, ErrDuplicateTileIndex):
		return KindDuplicateTileIndex
	case errors.Is(err, ErrOrphanMaskTile):
		return KindOrphanMaskTile
	case errors.Is(err, ErrInconsistentChannelDepth):
		return KindInconsistentChannelDepth
	case errors.Is(err, ErrMissingPlacementMetadata):
		return KindMissingPlacementMetadata
	default:
		return KindIOFailure
	}
}
