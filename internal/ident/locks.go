package ident

import "sync"

// observationLocks serializes engine operations per observation. Entries
// are reference counted and removed once the last holder releases, so the
// map does not grow with the number of observations ever touched.
type observationLocks struct {
	mu      sync.Mutex
	entries map[int64]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newObservationLocks() *observationLocks {
	return &observationLocks{entries: make(map[int64]*lockEntry)}
}

func (l *observationLocks) lock(observationID int64) {
	l.mu.Lock()
	entry, ok := l.entries[observationID]
	if !ok {
		entry = &lockEntry{}
		l.entries[observationID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
}

func (l *observationLocks) unlock(observationID int64) {
	l.mu.Lock()
	entry := l.entries[observationID]
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, observationID)
	}
	l.mu.Unlock()

	entry.mu.Unlock()
}
