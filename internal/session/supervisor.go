package session

import (
	"sort"
	"sync"
	"time"

	"github.com/whatsapp-automation/gateway/internal/clock"
)

const (
	DefaultReconnectBase     = 5 * time.Second
	DefaultReconnectMax      = 60 * time.Second
	DefaultReconnectAttempts = 10
)

// Backoff is the reconnect delay policy.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Delay returns the wait before the given 1-based attempt:
// min(Base*2^(attempt-1), Max).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

func (b Backoff) withDefaults() Backoff {
	if b.Base <= 0 {
		b.Base = DefaultReconnectBase
	}
	if b.Max < b.Base {
		b.Max = DefaultReconnectMax
		if b.Max < b.Base {
			b.Max = b.Base
		}
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = DefaultReconnectAttempts
	}
	return b
}

// RetryState is the reconnect bookkeeping for one Number.
type RetryState struct {
	Number    string    `json:"number"`
	Attempts  int       `json:"attempts"`
	Pending   bool      `json:"pending"`
	NextAt    time.Time `json:"nextAt,omitempty"`
	Exhausted bool      `json:"exhausted"`
}

type retry struct {
	attempts  int
	timer     clock.Timer
	next      time.Time
	exhausted bool
}

// Supervisor schedules reconnect attempts with exponential backoff and a
// per-Number attempt budget. The counter resets when a connection opens.
type Supervisor struct {
	backoff Backoff
	clock   clock.Clock

	mu      sync.Mutex
	retries map[string]*retry
	stopped bool
}

func NewSupervisor(b Backoff, clk clock.Clock) *Supervisor {
	if clk == nil {
		clk = clock.Real()
	}
	return &Supervisor{
		backoff: b.withDefaults(),
		clock:   clk,
		retries: make(map[string]*retry),
	}
}

func (s *Supervisor) Backoff() Backoff { return s.backoff }

// Schedule arranges for fn to run after the next backoff delay. A pending
// attempt for the same Number is superseded. It reports false, scheduling
// nothing, once the attempt budget is spent.
func (s *Supervisor) Schedule(number string, fn func()) (attempt int, delay time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return 0, 0, false
	}
	r, found := s.retries[number]
	if !found {
		r = &retry{}
		s.retries[number] = r
	}
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.attempts >= s.backoff.MaxAttempts {
		r.exhausted = true
		return r.attempts, 0, false
	}

	r.attempts++
	attempt = r.attempts
	delay = s.backoff.Delay(attempt)
	r.next = s.clock.Now().Add(delay)

	var t clock.Timer
	t = s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		cur, live := s.retries[number]
		if !live || cur.timer != t {
			s.mu.Unlock()
			return
		}
		cur.timer = nil
		s.mu.Unlock()
		fn()
	})
	r.timer = t
	return attempt, delay, true
}

// Reset forgets the attempt counter and any pending attempt.
func (s *Supervisor) Reset(number string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.retries[number]; ok {
		if r.timer != nil {
			r.timer.Stop()
		}
		delete(s.retries, number)
	}
}

// Cancel stops retrying number. It reports whether an attempt was pending.
func (s *Supervisor) Cancel(number string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.retries[number]
	if !ok {
		return false
	}
	pending := r.timer != nil && r.timer.Stop()
	delete(s.retries, number)
	return pending
}

// Pending reports whether an attempt is scheduled for number.
func (s *Supervisor) Pending(number string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.retries[number]
	return ok && r.timer != nil
}

func (s *Supervisor) Attempts(number string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.retries[number]; ok {
		return r.attempts
	}
	return 0
}

// States lists the bookkeeping of every Number with retry history.
func (s *Supervisor) States() []RetryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RetryState, 0, len(s.retries))
	for n, r := range s.retries {
		st := RetryState{Number: n, Attempts: r.attempts, Pending: r.timer != nil, Exhausted: r.exhausted}
		if st.Pending {
			st.NextAt = r.next
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Stop cancels every pending attempt and refuses new ones.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for n, r := range s.retries {
		if r.timer != nil {
			r.timer.Stop()
		}
		delete(s.retries, n)
	}
}
