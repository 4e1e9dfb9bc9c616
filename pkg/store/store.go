// Package store keeps the user's collection of captured insects, most
// recent first, and the JPEG files that go with them.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/apex/log"

	"github.com/menta2k/insect-identifier/internal/utils"
	"github.com/menta2k/insect-identifier/pkg/processing"
	"github.com/menta2k/insect-identifier/pkg/types"
)

// ImageDirName is the directory, under the cache dir, holding record images
const ImageDirName = "InsectImages"

// Store owns the collection and the image directory. The whole collection
// is written as one blob on every mutation, which is fine for the few
// hundred records a person collects.
type Store struct {
	persister Persister
	imageDir  string
	quality   int
	processor *processing.Processor

	mu      sync.Mutex
	records []types.CapturedRecord
}

// Option configures a Store
type Option func(*Store)

// WithImageQuality sets the JPEG quality of saved images
func WithImageQuality(quality int) Option {
	return func(s *Store) {
		if quality > 0 && quality <= 100 {
			s.quality = quality
		}
	}
}

// New loads the collection from persister. A blob that does not decode is
// logged and replaced by an empty collection; a read error is returned.
func New(ctx context.Context, persister Persister, imageDir string, opts ...Option) (*Store, error) {
	s := &Store{
		persister: persister,
		imageDir:  imageDir,
		quality:   processing.DefaultStoreQuality,
		processor: processing.NewProcessor(),
	}
	for _, opt := range opts {
		opt(s)
	}

	data, err := persister.Load(ctx, RecordsKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load collection: %w", err)
	}
	if len(data) > 0 {
		var records []types.CapturedRecord
		if err := json.Unmarshal(data, &records); err != nil {
			log.WithError(err).WithField("key", RecordsKey).Warn("store: collection is corrupt, starting empty")
		} else {
			s.records = records
		}
	}

	log.WithField("records", len(s.records)).Debug("store: collection loaded")
	return s, nil
}

// ImageDir is where SaveImage writes files
func (s *Store) ImageDir() string {
	return s.imageDir
}

// Add inserts record at the front and persists
func (s *Store) Add(ctx context.Context, record types.CapturedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append([]types.CapturedRecord{record}, s.records...)
	return s.persistLocked(ctx)
}

// Remove deletes every record with record.ID and its image file, then
// persists. A failed file delete is logged only.
func (s *Store) Remove(ctx context.Context, record types.CapturedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.HasImage() {
		s.removeImage(record.ImagePath)
	}

	kept := s.records[:0:0]
	for _, r := range s.records {
		if r.ID != record.ID {
			kept = append(kept, r)
		}
	}
	s.records = kept
	return s.persistLocked(ctx)
}

// AttachResult sets the result of the record with id. It reports false,
// without persisting, when no such record exists.
func (s *Store) AttachResult(ctx context.Context, id string, result *types.AnalysisResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.records {
		if s.records[i].ID == id {
			s.records[i].BugResult = result
			return true, s.persistLocked(ctx)
		}
	}
	return false, nil
}

// Clear deletes every image file and empties the collection
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		if r.HasImage() {
			s.removeImage(r.ImagePath)
		}
	}
	s.records = nil
	return s.persistLocked(ctx)
}

// SaveImage re-encodes data as JPEG under the image directory and returns
// the file path, or "" if anything fails.
func (s *Store) SaveImage(data []byte, id string) string {
	logger := log.WithField("id", id)

	img, err := s.processor.DecodeImage(data)
	if err != nil {
		logger.WithError(err).Warn("store: image does not decode")
		return ""
	}
	if err := utils.EnsureDir(s.imageDir); err != nil {
		logger.WithError(err).Warn("store: cannot create image directory")
		return ""
	}

	path := s.ImagePath(id)
	if err := s.processor.SaveImage(img, path, "jpg", s.quality, false); err != nil {
		logger.WithError(err).Warn("store: cannot write image")
		return ""
	}
	return path
}

// ImagePath is where the image for id lives
func (s *Store) ImagePath(id string) string {
	return filepath.Join(s.imageDir, utils.SanitizeFilename(id)+".jpg")
}

// List returns a copy of the collection, most recent first
func (s *Store) List() []types.CapturedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.CapturedRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Get returns the record with id
func (s *Store) Get(id string) (types.CapturedRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		if r.ID == id {
			return r, true
		}
	}
	return types.CapturedRecord{}, false
}

// Len returns the number of records
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) removeImage(path string) {
	if err := utils.RemoveFile(path); err != nil {
		log.WithError(err).WithField("path", path).Warn("store: failed to delete image")
	}
}

func (s *Store) persistLocked(ctx context.Context) error {
	records := s.records
	if records == nil {
		records = []types.CapturedRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode collection: %w", err)
	}
	if err := s.persister.Save(ctx, RecordsKey, data); err != nil {
		return fmt.Errorf("failed to persist collection: %w", err)
	}
	return nil
}
