package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gologme/log"
)

// stateRecord is the on-disk form of the watermark file.
type stateRecord struct {
	LastUID *string `json:"last_uid"`
}

// FileStore keeps the watermark in a small JSON file.
type FileStore struct {
	path string
	log  *log.Logger
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store backed by the JSON file at path. The file
// is created on the first Save.
func NewFileStore(path string, logger *log.Logger) *FileStore {
	return &FileStore{path: path, log: logger}
}

// Path returns the location of the state file.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the watermark. A missing, unreadable or malformed file is
// reported as absent.
func (s *FileStore) Load(_ context.Context) (string, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warnf("%v: reading %s: %v", ErrCorrupt, s.path, err)
		}
		return "", false
	}

	var rec stateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.log.Warnf("%v: parsing %s: %v", ErrCorrupt, s.path, err)
		return "", false
	}
	if rec.LastUID == nil || *rec.LastUID == "" {
		return "", false
	}
	return *rec.LastUID, true
}

// Save writes the watermark to a temporary file and renames it over the
// state file, so a crash leaves either the old or the new record.
func (s *FileStore) Save(_ context.Context, watermark string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(stateRecord{LastUID: &watermark}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing state file %s: %w", s.path, err)
	}
	return nil
}
