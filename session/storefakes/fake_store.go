package storefakes

import (
	"sync"

	"github.com/attendly/go-auth-client/session"
)

var _ session.Store = (*FakeStore)(nil)

// FakeStore is a Store double that counts Set and Clear calls so tests can
// assert "session cleared exactly once" style properties.
type FakeStore struct {
	lock       sync.RWMutex
	current    session.Session
	setCalls   int
	clearCalls int
	setErr     error
}

func NewFakeStore() *FakeStore {
	return &FakeStore{}
}

func (fs *FakeStore) Get() session.Session {
	fs.lock.RLock()
	defer fs.lock.RUnlock()
	return fs.current
}

func (fs *FakeStore) Set(s session.Session) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.setCalls++
	if fs.setErr != nil {
		return fs.setErr
	}
	fs.current = s
	return nil
}

func (fs *FakeStore) Clear() error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.clearCalls++
	fs.current = session.Session{}
	return nil
}

// SetReturns makes subsequent Set calls fail with err.
func (fs *FakeStore) SetReturns(err error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.setErr = err
}

func (fs *FakeStore) SetCallCount() int {
	fs.lock.RLock()
	defer fs.lock.RUnlock()
	return fs.setCalls
}

func (fs *FakeStore) ClearCallCount() int {
	fs.lock.RLock()
	defer fs.lock.RUnlock()
	return fs.clearCalls
}
