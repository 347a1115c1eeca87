package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"meetingalert/internal/types"
)

// FileStore writes the table as a compressed snapshot file. Saves go to a
// temporary file in the same directory that is renamed over the target, so a
// crash mid-write leaves the previous snapshot intact.
type FileStore struct {
	path string
	now  func() time.Time
}

// NewFileStore returns a FileStore at path. The parent directory is created
// on the first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

func (s *FileStore) Save(_ context.Context, alerts []types.ScheduledAlert) error {
	data, err := encodeSnapshot(alerts, s.now())
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("store: failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("store: failed to replace snapshot: %w", err)
	}
	return nil
}

// Load returns an empty table when no snapshot has been written yet.
func (s *FileStore) Load(_ context.Context) ([]types.ScheduledAlert, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to read snapshot: %w", err)
	}
	return decodeSnapshot(data)
}
