package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"flipr_ingest/models"
)

// ProgressStore persists per-city cursors between runs.
type ProgressStore interface {
	Load(ctx context.Context) (models.Progress, error)
	Save(ctx context.Context, p models.Progress) error
}

// FileProgressStore keeps progress in a JSON file keyed by city.
type FileProgressStore struct {
	path string
}

func NewFileProgressStore(path string) *FileProgressStore {
	return &FileProgressStore{path: path}
}

// Load returns empty progress when the file does not exist yet.
func (s *FileProgressStore) Load(_ context.Context) (models.Progress, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.Progress{}, nil
	}
	if err != nil {
		return nil, err
	}

	progress := models.Progress{}
	if err := json.Unmarshal(data, &progress); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return progress, nil
}

// Save writes to a temp file and renames it over the old one.
func (s *FileProgressStore) Save(_ context.Context, p models.Progress) error {
	data, err := json.MarshalIndent(p, "", "    ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
