package engine

import "sync"

// senderLocks serializes message handling per sender while leaving different
// senders fully parallel. Entries are reference counted and removed on last
// release so the table does not grow with the user base.
type senderLocks struct {
	mu    sync.Mutex
	locks map[string]*senderLock
}

type senderLock struct {
	mu   sync.Mutex
	refs int
}

func newSenderLocks() *senderLocks {
	return &senderLocks{locks: make(map[string]*senderLock)}
}

// Acquire blocks until the sender's lock is held and returns the release func.
func (s *senderLocks) Acquire(senderID string) func() {
	s.mu.Lock()
	l, ok := s.locks[senderID]
	if !ok {
		l = &senderLock{}
		s.locks[senderID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, senderID)
		}
		s.mu.Unlock()
	}
}
