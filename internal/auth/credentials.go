package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/coderush/cli/internal/logging"
)

// credentialsFile is the JSON file name for the stored token
const credentialsFile = "github_token.json"

// FileStore keeps the credential as JSON under a per-user directory.
// Writes go to a temp file in the same directory and are renamed into place,
// so readers never observe a partial credential.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store that keeps github_token.json in dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{path: filepath.Join(dir, credentialsFile)}
}

// Path returns the location of the credential file
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the stored credential.
func (s *FileStore) Load() (*Credential, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.Debug("auth", "treating unreadable credential file %s as absent: %v", s.path, err)
		}
		return nil, false
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		logging.Debug("auth", "treating corrupt credential file %s as absent: %v", s.path, err)
		return nil, false
	}
	if err := cred.validate(); err != nil {
		logging.Debug("auth", "treating credential file %s as absent: %v", s.path, err)
		return nil, false
	}

	return &cred, true
}

// Save atomically replaces the stored credential
func (s *FileStore) Save(cred *Credential) error {
	if err := cred.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	tmp, err := os.CreateTemp(dir, credentialsFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to restrict permissions on %s: %w", tmpPath, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write credential: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync credential: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close credential file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		cleanup()
		return fmt.Errorf("failed to move credential into %s: %w", s.path, err)
	}

	logging.Info("auth", "credential saved to %s", s.path)
	return nil
}

// Clear removes the stored credential. Removing an absent credential is not an error.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", s.path, err)
	}
	logging.Info("auth", "credential removed from %s", s.path)
	return nil
}
