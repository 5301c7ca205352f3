package session

import (
	"sort"
	"sync"
)

// startLocks marks Numbers whose start sequence is in flight.
type startLocks struct {
	mu  sync.Mutex
	set map[string]struct{}
}

func newStartLocks() *startLocks {
	return &startLocks{set: make(map[string]struct{})}
}

// TryLock reports false if number is already held.
func (l *startLocks) TryLock(number string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.set[number]; held {
		return false
	}
	l.set[number] = struct{}{}
	return true
}

func (l *startLocks) Unlock(number string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.set, number)
}

func (l *startLocks) Held() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.set))
	for n := range l.set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
