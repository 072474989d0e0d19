// Package scene carries built volumes and segmentation layers across the
// viewer boundary. The engine treats saving and loading a scene as one
// opaque, synchronous operation performed by a collaborator; the default
// collaborator persists scenes as compressed, checksummed artifact files.
package scene

import (
	"encoding/gob"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"histostack/internal/models"
	"histostack/pkg/logging"
)

func init() {
	// Need to register types that will be used to fulfill interfaces.
	gob.Register(&image.Gray{})
	gob.Register(&image.Gray16{})
	gob.Register(&image.NRGBA{})
	gob.Register(&image.NRGBA64{})
	gob.Register(&image.RGBA{})
}

// Artifact files start with a magic string and a format version byte.
const (
	sceneMagic   = "HSCN"
	sceneVersion = uint8(1)
)

// Saver persists a scene at a path.
type Saver interface {
	Save(s *models.Scene, path string) error
}

// Loader reads a scene back from a path.
type Loader interface {
	Load(path string) (*models.Scene, error)
}

// Collaborator is the viewer-side boundary: it receives a freshly built
// scene and later hands it back, possibly with edited layers. Implementations
// other than FileStore would hand the scene to an interactive viewer.
type Collaborator interface {
	Saver
	Loader
}

// FileStore is the default collaborator. It persists scenes as single
// artifact files: gob-encoded, snappy-compressed and CRC32-checked.
type FileStore struct{}

// Save writes the scene to path, creating parent directories as needed.
func (FileStore) Save(s *models.Scene, path string) error {
	payload, err := Serialize(s, Snappy, CRC32)
	if err != nil {
		return fmt.Errorf("encoding scene: %w", err)
	}

	data := make([]byte, 0, len(sceneMagic)+1+len(payload))
	data = append(data, sceneMagic...)
	data = append(data, sceneVersion)
	data = append(data, payload...)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating artifact directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing scene artifact: %w", err)
	}

	logging.Infof("Saved scene with %d case(s) to %s (%s)",
		len(s.Cases), path, humanize.Bytes(uint64(len(data))))
	return nil
}

// Load reads a scene artifact written by Save.
func (FileStore) Load(path string) (*models.Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scene artifact: %w", err)
	}

	headerLen := len(sceneMagic) + 1
	if len(data) < headerLen || string(data[:len(sceneMagic)]) != sceneMagic {
		return nil, fmt.Errorf("%s is not a scene artifact", path)
	}
	if version := data[len(sceneMagic)]; version != sceneVersion {
		return nil, fmt.Errorf("unsupported scene artifact version %d", version)
	}

	s := new(models.Scene)
	if err := Deserialize(data[headerLen:], s); err != nil {
		return nil, fmt.Errorf("decoding scene artifact %s: %w", path, err)
	}

	logging.Debugf("Loaded scene with %d case(s) from %s (%s)",
		len(s.Cases), path, humanize.Bytes(uint64(len(data))))
	return s, nil
}

// DefaultArtifactPath returns the conventional save location for a scene
// built from root: an "_annotations" folder beside the root, holding one
// timestamped artifact per build. The folder is created if needed.
func DefaultArtifactPath(root string) (string, error) {
	root = filepath.Clean(root)
	dir := filepath.Join(filepath.Dir(root), "_annotations")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating annotations directory: %w", err)
	}
	stamp := time.Now().Format("20060102-150405")
	return filepath.Join(dir, filepath.Base(root)+"-"+stamp+".scene"), nil
}
