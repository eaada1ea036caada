// Package credential stores the learner's API key between sessions. Keys are
// entered in the browser at runtime and are never written to the service
// configuration file.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrNoCredential indicates that no API key has been saved yet.
var ErrNoCredential = errors.New("credential: no API key saved")

// Store persists a single API key. Implementations must be safe for
// concurrent use.
type Store interface {
	// Load returns the saved API key, or ErrNoCredential when none exists.
	Load() (string, error)

	// Save persists the API key, replacing any previous one.
	Save(apiKey string) error

	// Clear removes the saved API key. Clearing an empty store is not an
	// error.
	Clear() error
}

// fileRecord is the on-disk shape of the stored key.
type fileRecord struct {
	APIKey string `json:"api_key"`
}

// FileStore persists the API key as JSON in a local file. Thread-safe for
// concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore that reads and writes the given path. The
// file is created on first Save.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("credential: path must not be empty")
	}
	return &FileStore{path: path}, nil
}

// Load implements Store.
func (fs *FileStore) Load() (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("credential: read file: %w", err)
	}

	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("credential: decode file: %w", err)
	}
	if rec.APIKey == "" {
		return "", ErrNoCredential
	}
	return rec.APIKey, nil
}

// Save implements Store. The file is written with owner-only permissions.
func (fs *FileStore) Save(apiKey string) error {
	if strings.TrimSpace(apiKey) == "" {
		return errors.New("credential: apiKey must not be empty")
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := json.Marshal(fileRecord{APIKey: apiKey})
	if err != nil {
		return fmt.Errorf("credential: marshal: %w", err)
	}
	if err := os.WriteFile(fs.path, data, 0o600); err != nil {
		return fmt.Errorf("credential: write file: %w", err)
	}
	return nil
}

// Clear implements Store.
func (fs *FileStore) Clear() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	err := os.Remove(fs.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("credential: remove file: %w", err)
	}
	return nil
}

// MemStore keeps the API key in memory only. Used in tests and for
// deployments that must not touch disk.
type MemStore struct {
	mu  sync.Mutex
	key string
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// Load implements Store.
func (ms *MemStore) Load() (string, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.key == "" {
		return "", ErrNoCredential
	}
	return ms.key, nil
}

// Save implements Store.
func (ms *MemStore) Save(apiKey string) error {
	if strings.TrimSpace(apiKey) == "" {
		return errors.New("credential: apiKey must not be empty")
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.key = apiKey
	return nil
}

// Clear implements Store.
func (ms *MemStore) Clear() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.key = ""
	return nil
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*MemStore)(nil)
)
