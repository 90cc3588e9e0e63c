package session

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"
)

var _ Store = (*FileStore)(nil)

// FileStore persists the session to a JSON file so a desktop or CLI shell
// of the dashboard keeps its login across runs. Writes go through a temp
// file and an atomic rename, guarded by a cross-process file lock; reads
// are served from an in-memory copy loaded at construction time.
type FileStore struct {
	lock    sync.RWMutex
	path    string
	current Session
}

// NewFileStore loads the session persisted at path, if any. A missing or
// unreadable file yields a logged-out session rather than an error - a
// corrupt session file should never block startup.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("[NewFileStore] path is required")
	}
	fs := &FileStore{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		return fs, nil
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return fs, nil
	}
	fs.current = s
	return fs, nil
}

func (fs *FileStore) Get() Session {
	fs.lock.RLock()
	defer fs.lock.RUnlock()
	return fs.current
}

func (fs *FileStore) Set(s Session) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if err := fs.persist(s); err != nil {
		return errors.Wrap(err, "[FileStore.Set] persist")
	}
	fs.current = s
	return nil
}

func (fs *FileStore) Clear() error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if err := fs.persist(Session{}); err != nil {
		return errors.Wrap(err, "[FileStore.Clear] persist")
	}
	fs.current = Session{}
	return nil
}

func (fs *FileStore) persist(s Session) error {
	lock, err := acquireFileLock(fs.path)
	if err != nil {
		return errors.Wrap(err, "acquireFileLock")
	}
	defer func() {
		_ = lock.release()
	}()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first, then atomically rename over the old file
	tempFile := fs.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return errors.Wrap(err, "write temp file")
	}
	if err := os.Rename(tempFile, fs.path); err != nil {
		_ = os.Remove(tempFile)
		return errors.Wrap(err, "rename temp file")
	}
	return nil
}
