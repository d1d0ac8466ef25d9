package kv

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
)

// Files stores each key as one file under a directory. Writes go through
// atomic.WriteFile (temp file + rename), so a crash never leaves a torn value.
type Files struct {
	dir    string
	mu     sync.Mutex
	closed bool
}

// OpenFiles opens (and creates if needed) a directory-backed store.
func OpenFiles(dir string) (*Files, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &Files{dir: dir}, nil
}

// Get implements Store.Get.
func (f *Files) Get(key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, false, ErrClosed
	}
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return data, true, nil
}

// Set implements Store.Set.
func (f *Files) Set(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if err := atomic.WriteFile(f.path(key), strings.NewReader(string(value))); err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

// Close implements Store.Close.
func (f *Files) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// path maps a key to a file name. Keys may contain '/', which is escaped so
// every key lives directly under dir.
func (f *Files) path(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+".blob")
}
