// Package storage persists conversations as JSON files under a base
// directory, one file per key path.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
)

var (
	ErrNotFound = errors.New("not found")
)

// Storage provides file-based JSON storage. A key path such as
// ["conversation", "01J..."] maps to <base>/conversation/01J....json.
type Storage struct {
	basePath string
	mu       sync.Mutex
	locks    map[string]*keyLock
}

// New creates a new Storage instance.
func New(basePath string) *Storage {
	return &Storage{
		basePath: basePath,
		locks:    make(map[string]*keyLock),
	}
}

// BasePath returns the storage root.
func (s *Storage) BasePath() string {
	return s.basePath
}

func (s *Storage) pathToFile(path []string) string {
	parts := append([]string{s.basePath}, path...)
	return filepath.Join(parts...) + ".json"
}

func (s *Storage) pathToDir(path []string) string {
	parts := append([]string{s.basePath}, path...)
	return filepath.Join(parts...)
}

// Get decodes the value stored at path into v.
func (s *Storage) Get(ctx context.Context, path []string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := os.ReadFile(s.pathToFile(path))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("storage: read %s: %w", strings.Join(path, "/"), err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("storage: decode %s: %w", strings.Join(path, "/"), err)
	}
	return nil
}

// Put stores v at path. The write goes to a temp file that is renamed into
// place while holding the key's lock, so readers never see partial JSON.
func (s *Storage) Put(ctx context.Context, path []string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	filePath := s.pathToFile(path)

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", strings.Join(path, "/"), err)
	}

	unlock, err := s.lockKey(filePath)
	if err != nil {
		return err
	}
	defer unlock()

	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("storage: write: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}

// Delete removes the value at path. Deleting a missing key is not an error.
func (s *Storage) Delete(ctx context.Context, path []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	filePath := s.pathToFile(path)

	unlock, err := s.lockKey(filePath)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: delete: %w", err)
	}
	return nil
}

// List returns the keys directly under path.
func (s *Storage) List(ctx context.Context, path []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.pathToDir(path))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("storage: list: %w", err)
	}

	items := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			items = append(items, name)
		} else if strings.HasSuffix(name, ".json") {
			items = append(items, strings.TrimSuffix(name, ".json"))
		}
	}
	return items, nil
}

// Scan calls fn with the raw JSON of every value directly under path.
// Unreadable files are skipped.
func (s *Storage) Scan(ctx context.Context, path []string, fn func(key string, data json.RawMessage) error) error {
	dirPath := s.pathToDir(path)

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("storage: list: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dirPath, name))
		if err != nil {
			continue
		}
		if err := fn(strings.TrimSuffix(name, ".json"), json.RawMessage(data)); err != nil {
			return err
		}
	}
	return nil
}

// Exists checks if a path exists.
func (s *Storage) Exists(ctx context.Context, path []string) bool {
	_, err := os.Stat(s.pathToFile(path))
	return err == nil
}

// keyLock guards one conversation file. Writers in this process queue on mu;
// a second server pointed at the same data directory is held off by flock
// on the file's .lock sibling.
type keyLock struct {
	mu   sync.Mutex
	path string
}

// lockKey takes the lock for filePath and returns its release func.
func (s *Storage) lockKey(filePath string) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[filePath]
	if !ok {
		l = &keyLock{path: filePath + ".lock"}
		s.locks[filePath] = l
	}
	s.mu.Unlock()

	l.mu.Lock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("storage: lock %s: %w", filepath.Base(filePath), err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		l.mu.Unlock()
		return nil, fmt.Errorf("storage: lock %s: %w", filepath.Base(filePath), err)
	}
	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		os.Remove(l.path)
		l.mu.Unlock()
	}, nil
}
