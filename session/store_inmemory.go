package session

import "sync"

var _ Store = (*MemoryStore)(nil)

// MemoryStore holds the session in memory. This is the store a browser-like
// UI shell injects into the auth core; tests create a fresh one per case.
type MemoryStore struct {
	lock    sync.RWMutex
	current Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (ms *MemoryStore) Get() Session {
	ms.lock.RLock()
	defer ms.lock.RUnlock()
	return ms.current
}

func (ms *MemoryStore) Set(s Session) error {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	ms.current = s
	return nil
}

func (ms *MemoryStore) Clear() error {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	ms.current = Session{}
	return nil
}
