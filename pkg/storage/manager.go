package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Manager is the local blob store for downloaded media. Files are named
// by record id plus the source file's extension; an in-memory index of
// existing files makes the downloaded check cheap for the resume path.
type Manager struct {
	dir string

	mu    sync.RWMutex
	files map[string]string // record id -> absolute path
}

// NewManager creates the media directory if needed and indexes any files
// already present from earlier runs.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}

	m := &Manager{
		dir:   dir,
		files: make(map[string]string),
	}
	if err := m.scanExisting(); err != nil {
		return nil, fmt.Errorf("failed to scan media directory: %w", err)
	}
	return m, nil
}

// scanExisting maps files from earlier runs back to record ids. Partial
// downloads left behind by a crash are removed; the atomic rename in Save
// guarantees anything without the .tmp suffix is complete.
func (m *Manager) scanExisting() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".tmp") {
			os.Remove(filepath.Join(m.dir, name))
			continue
		}
		id := strings.TrimSuffix(name, filepath.Ext(name))
		if id != "" {
			m.files[id] = filepath.Join(m.dir, name)
		}
	}
	return nil
}

// IsStored reports whether a complete file exists for the record.
func (m *Manager) IsStored(id string) bool {
	m.mu.RLock()
	path, ok := m.files[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	if _, err := os.Stat(path); err != nil {
		// The file disappeared underneath us; forget it so the download
		// stage redoes it.
		m.mu.Lock()
		delete(m.files, id)
		m.mu.Unlock()
		return false
	}
	return true
}

// Path returns the stored file's path for the record, or "" when absent.
func (m *Manager) Path(id string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.files[id]
}

// Save writes the record's bytes to the store. The write goes to a
// temporary file first and is renamed into place, so a crash mid-write
// never leaves a truncated file under the final name. Saving the same id
// again overwrites the previous copy, which keeps redone downloads safe.
func (m *Manager) Save(id, filename string, r io.Reader) (string, int64, error) {
	ext := filepath.Ext(filename)
	path := filepath.Join(m.dir, id+ext)
	tempPath := path + ".tmp"

	out, err := os.Create(tempPath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temporary file: %w", err)
	}

	written, err := io.Copy(out, r)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempPath)
		return "", 0, fmt.Errorf("failed to write media data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return "", 0, fmt.Errorf("failed to close media file: %w", closeErr)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return "", 0, fmt.Errorf("failed to rename temporary file: %w", err)
	}

	m.mu.Lock()
	m.files[id] = path
	m.mu.Unlock()

	return path, written, nil
}

// Dir returns the media directory path.
func (m *Manager) Dir() string {
	return m.dir
}

// Count returns the number of stored files.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}
