// Package session owns the lifecycle of every Number's protocol connection:
// start and pairing, restore from stored credentials, automatic reconnects and
// teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/whatsapp-automation/gateway/internal/clock"
	"github.com/whatsapp-automation/gateway/internal/phone"
	"github.com/whatsapp-automation/gateway/internal/registry"
	"github.com/whatsapp-automation/gateway/internal/store"
	"github.com/whatsapp-automation/gateway/internal/whatsapp"
)

var (
	ErrInvalidNumber = errors.New("invalid phone number")
	ErrNotConnected  = errors.New("number is not connected")
)

// Status is the outcome of a start request.
type Status string

const (
	StatusNewPairing       Status = "new_pairing"
	StatusReconnecting     Status = "reconnecting"
	StatusAlreadyConnected Status = "already_connected"
	StatusInProgress       Status = "connection_in_progress"
)

// Result is what Start reports to its caller.
type Result struct {
	Number string `json:"number"`
	Status Status `json:"status"`
	// Code is set for new pairings only.
	Code string `json:"code,omitempty"`
	// Connection is set when the Number was already connected.
	Connection *registry.Status `json:"connection,omitempty"`
}

// SessionStore is the persistence the manager needs.
type SessionStore interface {
	LoadSession(ctx context.Context, number string) ([]byte, error)
	SaveSession(ctx context.Context, number string, creds []byte) error
	DeleteSession(ctx context.Context, number string) error
	AddActiveNumber(ctx context.Context, number string) error
	ActiveNumbers(ctx context.Context) ([]string, error)
}

// LocalState is the protocol layer's on-disk working state.
type LocalState interface {
	Reset(number string) error
	Restore(number string, creds []byte) error
}

// Dispatcher consumes inbound events for a live Session.
type Dispatcher interface {
	HandleMessage(s *Session, msg *whatsapp.Message)
	HandleCall(s *Session, call *whatsapp.Call)
	HandleGroupParticipants(s *Session, evt *whatsapp.GroupParticipants)
}

// Alerter is told about events an operator should see.
type Alerter interface {
	AlertConnected(number string)
	AlertLoggedOut(number string)
	AlertRetriesExhausted(number string, attempts int)
}

// Session is the per-connection context passed to every listener.
type Session struct {
	Number string
	Conn   whatsapp.Conn
	// NewPairing is true when the connection started without credentials.
	NewPairing bool

	ctx      context.Context
	cancel   context.CancelFunc
	announce sync.Once

	opened atomic.Bool
	saved  atomic.Bool
}

// NewSession builds a Session bound to ctx. The manager creates its own;
// this is for callers that drive a Dispatcher directly.
func NewSession(ctx context.Context, number string, conn whatsapp.Conn) *Session {
	ctx, cancel := context.WithCancel(ctx)
	return &Session{Number: number, Conn: conn, ctx: ctx, cancel: cancel}
}

// Context is cancelled once the session's listeners are detached.
func (s *Session) Context() context.Context { return s.ctx }

// paired reports whether the device behind s is linked: it resumed stored
// credentials, opened, or has saved credentials since pairing.
func (s *Session) paired() bool {
	return !s.NewPairing || s.opened.Load() || s.saved.Load()
}

type Config struct {
	Registry   *registry.Registry
	Store      SessionStore
	State      LocalState
	Dialer     whatsapp.Dialer
	Dispatcher Dispatcher
	Alerter    Alerter
	Clock      clock.Clock
	Log        *logrus.Entry

	// PairingDelay is waited after Connect before a pairing code is requested.
	PairingDelay time.Duration
	Backoff      Backoff

	BotName string
	Prefix  string
}

type Manager struct {
	registry   *registry.Registry
	store      SessionStore
	state      LocalState
	dialer     whatsapp.Dialer
	dispatcher Dispatcher
	alerter    Alerter
	clock      clock.Clock
	log        *logrus.Entry
	supervisor *Supervisor
	locks      *startLocks

	pairingDelay time.Duration
	botName      string
	prefix       string

	mu       sync.Mutex
	sessions map[string]*Session
}

func New(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.New(registry.DefaultMaxConnections, cfg.Clock)
	}
	return &Manager{
		registry:     cfg.Registry,
		store:        cfg.Store,
		state:        cfg.State,
		dialer:       cfg.Dialer,
		dispatcher:   cfg.Dispatcher,
		alerter:      cfg.Alerter,
		clock:        cfg.Clock,
		log:          cfg.Log.WithField("component", "session"),
		supervisor:   NewSupervisor(cfg.Backoff, cfg.Clock),
		locks:        newStartLocks(),
		pairingDelay: cfg.PairingDelay,
		botName:      cfg.BotName,
		prefix:       cfg.Prefix,
		sessions:     make(map[string]*Session),
	}
}

func (m *Manager) Registry() *registry.Registry { return m.registry }

func (m *Manager) Supervisor() *Supervisor { return m.supervisor }

// InFlight lists Numbers whose start sequence is running.
func (m *Manager) InFlight() []string { return m.locks.Held() }

// Start connects raw's Number, restoring stored credentials or beginning a
// fresh pairing. Concurrent calls for one Number never build two connections:
// the losers report already_connected or connection_in_progress.
func (m *Manager) Start(ctx context.Context, raw string) (*Result, error) {
	number := phone.Normalize(raw)
	if number == "" {
		return nil, ErrInvalidNumber
	}
	if res, ok := m.alreadyConnected(number); ok {
		return res, nil
	}
	if !m.locks.TryLock(number) {
		m.log.WithField("number", number).Info("Start already in progress")
		return &Result{Number: number, Status: StatusInProgress}, nil
	}
	defer m.locks.Unlock(number)

	// a start that finished between the first check and the lock
	if res, ok := m.alreadyConnected(number); ok {
		return res, nil
	}
	return m.start(ctx, number)
}

func (m *Manager) alreadyConnected(number string) (*Result, bool) {
	if !m.registry.IsConnected(number) {
		return nil, false
	}
	st := m.registry.Status(number)
	return &Result{Number: number, Status: StatusAlreadyConnected, Connection: &st}, true
}

func (m *Manager) start(ctx context.Context, number string) (*Result, error) {
	log := m.log.WithField("number", number)

	creds, err := m.store.LoadSession(ctx, number)
	switch {
	case errors.Is(err, store.ErrNotFound):
		creds = nil
	case err != nil:
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	newPairing := len(creds) == 0

	if newPairing {
		if err := m.state.Reset(number); err != nil {
			return nil, fmt.Errorf("failed to clear local session: %w", err)
		}
		log.Info("No stored session, new pairing required")
	} else {
		if err := m.state.Restore(number, creds); err != nil {
			return nil, fmt.Errorf("failed to restore session: %w", err)
		}
		log.Info("Restored stored session")
	}

	conn, err := m.dialer.Dial(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	hadStart := m.registry.Status(number).ConnectionTime != nil
	if err := m.registry.Register(number, conn); err != nil {
		conn.Close()
		log.WithError(err).Warn("Registration refused")
		return nil, err
	}
	sess := m.attach(number, conn, newPairing)

	if err := conn.Connect(ctx); err != nil {
		m.abort(sess, hadStart)
		return nil, err
	}

	if !newPairing {
		return &Result{Number: number, Status: StatusReconnecting}, nil
	}

	if err := m.clock.Sleep(ctx, m.pairingDelay); err != nil {
		m.abort(sess, hadStart)
		return nil, err
	}
	code, err := conn.RequestPairingCode(ctx)
	if err != nil {
		m.abort(sess, hadStart)
		return nil, err
	}
	log.WithField("code", code).Info("Pairing code issued")
	return &Result{Number: number, Status: StatusNewPairing, Code: code}, nil
}

// abort undoes a start that failed after registration.
func (m *Manager) abort(sess *Session, keepStart bool) {
	m.detach(sess)
	sess.Conn.Close()
	if keepStart {
		m.registry.Release(sess.Number, sess.Conn)
	} else {
		m.registry.Purge(sess.Number)
	}
	if sess.NewPairing {
		if err := m.state.Reset(sess.Number); err != nil {
			m.log.WithError(err).WithField("number", sess.Number).Warn("Failed to clear local session")
		}
	}
}

// Disconnect closes and forgets number: handle, start time, stored
// credentials and the reconnect marker. A Number waiting for a reconnect
// attempt is not connected; its pending attempt and start time are dropped
// and ErrNotConnected returned.
func (m *Manager) Disconnect(ctx context.Context, raw string) error {
	number := phone.Normalize(raw)
	if number == "" {
		return ErrInvalidNumber
	}
	conn, ok := m.registry.Get(number)
	if !ok {
		if m.supervisor.Cancel(number) {
			m.log.WithField("number", number).Info("Cancelled pending reconnect")
		}
		m.registry.Purge(number)
		return ErrNotConnected
	}

	m.supervisor.Cancel(number)
	m.detachConn(number, conn)
	conn.Close()
	m.registry.Purge(number)

	if err := m.store.DeleteSession(ctx, number); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if err := m.state.Reset(number); err != nil {
		m.log.WithError(err).WithField("number", number).Warn("Failed to clear local session")
	}
	m.log.WithField("number", number).WithField("active", m.registry.Count()).Info("Disconnected")
	return nil
}

// Outcome is one Number's result in ReconnectAll.
type Outcome struct {
	Number string `json:"number"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ReconnectAll starts every Number marked active that is not connected,
// waiting spacing between starts.
func (m *Manager) ReconnectAll(ctx context.Context, spacing time.Duration) ([]Outcome, error) {
	numbers, err := m.store.ActiveNumbers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active numbers: %w", err)
	}

	out := make([]Outcome, 0, len(numbers))
	started := 0
	for _, n := range numbers {
		if m.registry.IsConnected(n) {
			out = append(out, Outcome{Number: n, Status: string(StatusAlreadyConnected)})
			continue
		}
		if started > 0 && spacing > 0 {
			if err := m.clock.Sleep(ctx, spacing); err != nil {
				return out, err
			}
		}
		started++

		res, err := m.Start(ctx, n)
		if err != nil {
			m.log.WithError(err).WithField("number", n).Warn("Reconnect failed")
			out = append(out, Outcome{Number: n, Status: "error", Error: err.Error()})
			continue
		}
		out = append(out, Outcome{Number: n, Status: string(res.Status)})
	}
	m.log.WithField("total", len(numbers)).Info("Reconnect sweep finished")
	return out, nil
}

// Shutdown saves a final credentials snapshot for every live connection,
// closes it and clears the registry, so the next process resumes from
// current state.
func (m *Manager) Shutdown() {
	m.supervisor.Stop()
	for number, conn := range m.registry.Drain() {
		if sess, ok := m.Session(number); ok && sess.Conn == conn && sess.paired() {
			_ = m.saveCredentials(sess.ctx, sess)
		}
		m.detachConn(number, conn)
		conn.Close()
	}
	m.log.Info("All connections closed")
}

// SaveAll snapshots the credentials of every paired live session into the
// store and returns how many were saved.
func (m *Manager) SaveAll(ctx context.Context) (int64, error) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	var (
		saved int64
		errs  []error
	)
	for _, sess := range sessions {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if !sess.paired() || !m.current(sess) {
			continue
		}
		if err := m.saveCredentials(ctx, sess); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sess.Number, err))
			continue
		}
		saved++
	}
	return saved, errors.Join(errs...)
}

func (m *Manager) retry(number string) {
	log := m.log.WithField("number", number)
	ctx := context.Background()

	if _, err := m.store.LoadSession(ctx, number); errors.Is(err, store.ErrNotFound) {
		log.Warn("No stored credentials, giving up reconnect")
		m.supervisor.Cancel(number)
		m.registry.Purge(number)
		return
	}
	res, err := m.Start(ctx, number)
	if err != nil {
		log.WithError(err).Warn("Reconnect attempt failed")
		m.scheduleRetry(number)
		return
	}
	log.WithField("status", res.Status).Info("Reconnect attempt started")
}

func (m *Manager) scheduleRetry(number string) {
	log := m.log.WithField("number", number)
	attempt, delay, ok := m.supervisor.Schedule(number, func() { m.retry(number) })
	if !ok {
		log.WithField("attempts", attempt).Error("Max reconnect attempts reached")
		if m.alerter != nil && attempt > 0 {
			m.alerter.AlertRetriesExhausted(number, attempt)
		}
		return
	}
	log.WithFields(logrus.Fields{
		"attempt": attempt,
		"max":     m.supervisor.Backoff().MaxAttempts,
		"delay":   delay,
	}).Info("Reconnecting")
}
