package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by Load when no credentials are saved.
var ErrNotFound = errors.New("no saved credentials")

// Credentials are the account and secret used to log in to the mailbox.
// They are never logged.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Store persists one set of credentials.
type Store interface {
	Load() (Credentials, error)
	Save(c Credentials) error
	Delete() error
}

// FileStore keeps credentials in a JSON file readable only by the owner.
type FileStore struct {
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the saved credentials. A missing, unreadable or incomplete
// file yields ErrNotFound.
func (s *FileStore) Load() (Credentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Credentials{}, ErrNotFound
		}
		return Credentials{}, fmt.Errorf("%w: reading credentials: %v", ErrNotFound, err)
	}

	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return Credentials{}, fmt.Errorf("%w: parsing credentials: %v", ErrNotFound, err)
	}
	if c.Email == "" || c.Password == "" {
		return Credentials{}, ErrNotFound
	}
	return c, nil
}

// Save writes the credentials with mode 0600.
func (s *FileStore) Save(c Credentials) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating credentials directory %s: %w", dir, err)
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing credentials to %s: %w", s.path, err)
	}
	return nil
}

// Delete removes the credentials file. Deleting a missing file succeeds.
func (s *FileStore) Delete() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting credentials %s: %w", s.path, err)
	}
	return nil
}
