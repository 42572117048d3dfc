package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/book-expert/logger"
	"github.com/fsnotify/fsnotify"
)

// ErrNoKeysConfigured indicates the keyring has no keys file path at all.
var ErrNoKeysConfigured = errors.New("no keys file configured")

// Keyring holds the API keys accepted as bearer tokens. When the keys file is
// absent, authentication is disabled and every request passes; operators opt
// in by creating the file. The set reloads automatically when the file
// changes on disk.
type Keyring struct {
	path string
	log  *logger.Logger

	mu      sync.RWMutex
	keys    map[string]struct{}
	enabled bool

	watcher *fsnotify.Watcher
}

// NewKeyring loads the keys file at path and starts watching it for changes.
// An empty path disables authentication permanently.
func NewKeyring(path string, log *logger.Logger) (*Keyring, error) {
	keyring := &Keyring{
		path: path,
		log:  log,
	}

	if path == "" {
		return keyring, nil
	}

	err := keyring.Reload()
	if err != nil {
		return nil, err
	}

	err = keyring.watch()
	if err != nil {
		return nil, err
	}

	return keyring, nil
}

// Enabled reports whether requests must carry a valid key.
func (k *Keyring) Enabled() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return k.enabled
}

// Allow reports whether the presented key is accepted. With authentication
// disabled, any key (including none) is accepted.
func (k *Keyring) Allow(key string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if !k.enabled {
		return true
	}

	_, ok := k.keys[key]

	return ok
}

// Reload re-reads the keys file. A missing file disables authentication; a
// present but unreadable or malformed file is an error and leaves the
// previous key set in place.
func (k *Keyring) Reload() error {
	if k.path == "" {
		return ErrNoKeysConfigured
	}

	data, err := os.ReadFile(k.path)
	if err != nil {
		if os.IsNotExist(err) {
			k.mu.Lock()
			k.keys = nil
			k.enabled = false
			k.mu.Unlock()

			return nil
		}

		return fmt.Errorf("failed to read keys file %q: %w", k.path, err)
	}

	var rawKeys []string

	err = json.Unmarshal(data, &rawKeys)
	if err != nil {
		return fmt.Errorf("failed to parse keys file %q: %w", k.path, err)
	}

	keys := make(map[string]struct{}, len(rawKeys))
	for _, key := range rawKeys {
		if key != "" {
			keys[key] = struct{}{}
		}
	}

	k.mu.Lock()
	k.keys = keys
	k.enabled = true
	k.mu.Unlock()

	return nil
}

// watch reloads the key set whenever the keys file changes. Watching the
// parent directory survives editors that replace the file atomically.
func (k *Keyring) watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create keys file watcher: %w", err)
	}

	err = watcher.Add(filepath.Dir(k.path))
	if err != nil {
		closeErr := watcher.Close()
		if closeErr != nil {
			k.log.Warn("Failed to close keys file watcher: %v", closeErr)
		}

		return fmt.Errorf("failed to watch keys file directory: %w", err)
	}

	k.watcher = watcher

	go k.watchLoop()

	return nil
}

func (k *Keyring) watchLoop() {
	target := filepath.Clean(k.path)

	for {
		select {
		case event, ok := <-k.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != target {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			err := k.Reload()
			if err != nil {
				k.log.Warn("Keys file changed but reload failed, keeping previous keys: %v", err)

				continue
			}

			k.log.Info("API keys reloaded from %s", k.path)
		case err, ok := <-k.watcher.Errors:
			if !ok {
				return
			}

			k.log.Warn("Keys file watcher error: %v", err)
		}
	}
}

// Close stops the file watcher.
func (k *Keyring) Close() error {
	if k.watcher == nil {
		return nil
	}

	err := k.watcher.Close()
	if err != nil {
		return fmt.Errorf("failed to close keys file watcher: %w", err)
	}

	return nil
}
