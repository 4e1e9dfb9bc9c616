package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/menta2k/insect-identifier/internal/utils"
)

// RecordsKey is the key the collection is persisted under
const RecordsKey = "captured_records"

// Persister stores opaque blobs by key. Load returns (nil, nil) when the key
// has never been saved.
type Persister interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}

// FilePersister keeps one <key>.json file per key in a directory
type FilePersister struct {
	dir string
}

// NewFilePersister creates the directory if needed
func NewFilePersister(dir string) (*FilePersister, error) {
	if err := utils.EnsureDir(dir); err != nil {
		return nil, err
	}
	return &FilePersister{dir: dir}, nil
}

func (p *FilePersister) path(key string) string {
	return filepath.Join(p.dir, utils.SanitizeFilename(key)+".json")
}

// Load reads the blob for key
func (p *FilePersister) Load(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(p.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// Save replaces the blob for key atomically
func (p *FilePersister) Save(_ context.Context, key string, data []byte) error {
	return utils.WriteFileAtomic(p.path(key), data, 0o600)
}
