package connectivity

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileMonitor derives reachability from a flag file: present means online,
// absent means offline. Host network hooks (a NetworkManager dispatcher
// script, a launchd job) create and remove the file.
//
// The parent directory is watched rather than the file itself so that the
// file can be created after the monitor starts.
type FileMonitor struct {
	*broadcaster

	path    string
	watcher *fsnotify.Watcher
	logger  *log.Logger
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// Ensure FileMonitor implements Monitor at compile time.
var _ Monitor = (*FileMonitor)(nil)

// NewFileMonitor starts watching path. The initial state is read
// synchronously before NewFileMonitor returns.
func NewFileMonitor(path string, logger *log.Logger) (*FileMonitor, error) {
	if path == "" {
		return nil, fmt.Errorf("flag file path is required")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve flag file path: %w", err)
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create flag file directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	fm := &FileMonitor{
		broadcaster: newBroadcaster(flagPresent(abs)),
		path:        abs,
		watcher:     watcher,
		logger:      logger,
		done:        make(chan struct{}),
	}

	fm.wg.Add(1)
	go fm.processEvents()

	return fm, nil
}

// Path returns the absolute flag file path.
func (fm *FileMonitor) Path() string {
	return fm.path
}

// Close stops watching and waits for the event loop to exit.
func (fm *FileMonitor) Close() error {
	var err error
	fm.once.Do(func() {
		close(fm.done)
		fm.close()
		if cerr := fm.watcher.Close(); cerr != nil {
			err = fmt.Errorf("failed to close watcher: %w", cerr)
		}
		fm.wg.Wait()
	})
	return err
}

func (fm *FileMonitor) processEvents() {
	defer fm.wg.Done()

	for {
		select {
		case <-fm.done:
			return

		case event, ok := <-fm.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fm.path {
				continue
			}
			// Re-stat instead of trusting the op: editors and hooks often
			// write via rename, which reports as Remove followed by Create.
			if fm.set(flagPresent(fm.path)) {
				fm.logger.Printf("connectivity changed: online=%v", fm.Online())
			}

		case err, ok := <-fm.watcher.Errors:
			if !ok {
				return
			}
			fm.logger.Printf("Warning: flag file watcher error: %v", err)
		}
	}
}

func flagPresent(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
