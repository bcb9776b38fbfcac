package recipients

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Store persists the recipient list.
type Store interface {
	Load() ([]string, error)
	Save(numbers []string) error
}

// fileRecord e' la forma durevole: {"recipients": [...]}
type fileRecord struct {
	Recipients []string `json:"recipients"`
}

// FileStore keeps the list in a JSON file, replaced atomically on every save.
type FileStore struct {
	path string
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("recipients: store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Path() string { return s.path }

// Load returns an empty list when the file does not exist yet.
func (s *FileStore) Load() ([]string, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var rec fileRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("recipients: parse %s: %w", s.path, err)
	}
	return rec.Recipients, nil
}

// Save scrive su un file temporaneo nella stessa directory, fsync, poi rename:
// un lettore vede sempre il file vecchio o quello nuovo, mai uno troncato.
func (s *FileStore) Save(numbers []string) error {
	if numbers == nil {
		numbers = []string{}
	}
	data, err := json.MarshalIndent(fileRecord{Recipients: numbers}, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return err
	}
	committed = true
	return nil
}
