package credential

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const (
	serviceName = "mailwatch"
	itemKey     = "imap-credentials"
)

// KeyringConfig returns the keyring settings used by mailwatch. fileDir is
// used by the encrypted-file fallback backend.
func KeyringConfig(fileDir string) keyring.Config {
	return keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("mailwatch-file-key"),
		KeychainTrustApplication: true,
	}
}

// KeyringStore keeps credentials in the system keyring as one JSON item.
type KeyringStore struct {
	ring keyring.Keyring
}

var _ Store = (*KeyringStore)(nil)

// OpenKeyring opens the system keyring with cfg.
func OpenKeyring(cfg keyring.Config) (*KeyringStore, error) {
	ring, err := keyring.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewKeyringStore(ring), nil
}

// NewKeyringStore wraps an already opened keyring.
func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

// Load retrieves the credentials from the keyring.
func (s *KeyringStore) Load() (Credentials, error) {
	item, err := s.ring.Get(itemKey)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return Credentials{}, ErrNotFound
		}
		return Credentials{}, fmt.Errorf("getting credential %q: %w", itemKey, err)
	}

	var c Credentials
	if err := json.Unmarshal(item.Data, &c); err != nil {
		return Credentials{}, fmt.Errorf("%w: parsing keyring item: %v", ErrNotFound, err)
	}
	if c.Email == "" || c.Password == "" {
		return Credentials{}, ErrNotFound
	}
	return c, nil
}

// Save stores the credentials in the keyring.
func (s *KeyringStore) Save(c Credentials) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	err = s.ring.Set(keyring.Item{
		Key:   itemKey,
		Data:  data,
		Label: "mailwatch IMAP login",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", itemKey, err)
	}
	return nil
}

// Delete removes the credentials from the keyring. Deleting a missing
// item succeeds.
func (s *KeyringStore) Delete() error {
	err := s.ring.Remove(itemKey)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", itemKey, err)
	}
	return nil
}
