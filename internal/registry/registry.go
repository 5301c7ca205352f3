// Package registry is the in-memory index of live connections and the time
// each Number first connected.
//
// The two maps have different lifetimes. A handle lives as long as one
// transport; the start time survives transient reconnects and is cleared only
// by Purge. Register always writes both inside one critical section, so a
// registered handle without a start time cannot be observed.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/whatsapp-automation/gateway/internal/clock"
	"github.com/whatsapp-automation/gateway/internal/whatsapp"
)

// DefaultMaxConnections is the admission cap used when none is configured.
const DefaultMaxConnections = 10000

var (
	// ErrCapacity is returned when the registry is full.
	ErrCapacity = errors.New("connection limit reached")
	// ErrDuplicate is returned when a different handle is already registered
	// for the Number.
	ErrDuplicate = errors.New("a connection is already registered for this number")
)

// Status is a point-in-time view of one Number.
type Status struct {
	Number         string     `json:"number"`
	IsConnected    bool       `json:"isConnected"`
	ConnectionTime *time.Time `json:"connectionTime"`
	Uptime         int64      `json:"uptime"`
}

type Registry struct {
	mu       sync.RWMutex
	handles  map[string]whatsapp.Conn
	started  map[string]time.Time
	capacity int
	clock    clock.Clock
}

// New returns an empty registry holding at most capacity live handles.
func New(capacity int, clk clock.Clock) *Registry {
	if capacity <= 0 {
		capacity = DefaultMaxConnections
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Registry{
		handles:  make(map[string]whatsapp.Conn),
		started:  make(map[string]time.Time),
		capacity: capacity,
		clock:    clk,
	}
}

// Register stores conn for number and records the start time if none exists.
// Registering the same handle again is a no-op that keeps the start time.
func (r *Registry) Register(number string, conn whatsapp.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.handles[number]; ok {
		if existing != conn {
			return ErrDuplicate
		}
	} else if len(r.handles) >= r.capacity {
		return ErrCapacity
	}

	r.handles[number] = conn
	if _, ok := r.started[number]; !ok {
		r.started[number] = r.clock.Now()
	}
	return nil
}

// UnregisterHandle drops the handle and keeps the start time.
func (r *Registry) UnregisterHandle(number string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, number)
}

// Release drops the handle only if it is still conn. It reports whether
// anything was removed.
func (r *Registry) Release(number string, conn whatsapp.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handles[number] != conn {
		return false
	}
	delete(r.handles, number)
	return true
}

// Purge forgets the Number entirely.
func (r *Registry) Purge(number string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, number)
	delete(r.started, number)
}

func (r *Registry) IsConnected(number string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handles[number]
	return ok
}

// Get returns the live handle for number.
func (r *Registry) Get(number string) (whatsapp.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.handles[number]
	return c, ok
}

func (r *Registry) Status(number string) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statusLocked(number)
}

func (r *Registry) statusLocked(number string) Status {
	st := Status{Number: number}
	_, st.IsConnected = r.handles[number]
	if t, ok := r.started[number]; ok {
		t := t
		st.ConnectionTime = &t
		if up := r.clock.Now().Sub(t); up > 0 {
			st.Uptime = int64(up / time.Second)
		}
	}
	return st
}

// Numbers lists the Numbers with a live handle, sorted.
func (r *Registry) Numbers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handles))
	for n := range r.handles {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// All returns the status of every live Number, sorted by Number.
func (r *Registry) All() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.handles))
	for n := range r.handles {
		out = append(out, r.statusLocked(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

func (r *Registry) Capacity() int { return r.capacity }

// Snapshot is a diagnostic dump of both maps.
type Snapshot struct {
	Handles    []string             `json:"handles"`
	StartTimes map[string]time.Time `json:"startTimes"`
	Capacity   int                  `json:"capacity"`
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Snapshot{
		Handles:    make([]string, 0, len(r.handles)),
		StartTimes: make(map[string]time.Time, len(r.started)),
		Capacity:   r.capacity,
	}
	for n := range r.handles {
		s.Handles = append(s.Handles, n)
	}
	sort.Strings(s.Handles)
	for n, t := range r.started {
		s.StartTimes[n] = t
	}
	return s
}

// Drain removes every handle and start time and returns the handles.
func (r *Registry) Drain() map[string]whatsapp.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.handles
	r.handles = make(map[string]whatsapp.Conn)
	r.started = make(map[string]time.Time)
	return out
}
