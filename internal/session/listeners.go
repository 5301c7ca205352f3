package session

import (
	"context"
	"fmt"

	"github.com/whatsapp-automation/gateway/internal/whatsapp"
)

// attach builds the Session for conn and subscribes its listeners.
func (m *Manager) attach(number string, conn whatsapp.Conn, newPairing bool) *Session {
	sess := NewSession(context.Background(), number, conn)
	sess.NewPairing = newPairing

	m.mu.Lock()
	m.sessions[number] = sess
	m.mu.Unlock()

	conn.AddEventHandler(func(evt whatsapp.Event) {
		if u, ok := evt.(*whatsapp.ConnectionUpdate); ok {
			m.onConnectionUpdate(sess, u)
		}
	})
	conn.AddEventHandler(func(evt whatsapp.Event) {
		if _, ok := evt.(*whatsapp.CredentialsUpdate); ok {
			m.onCredentialsUpdate(sess)
		}
	})
	conn.AddEventHandler(func(evt whatsapp.Event) {
		if msg, ok := evt.(*whatsapp.Message); ok && m.dispatcher != nil {
			m.dispatcher.HandleMessage(sess, msg)
		}
	})
	conn.AddEventHandler(func(evt whatsapp.Event) {
		if call, ok := evt.(*whatsapp.Call); ok && m.dispatcher != nil {
			m.dispatcher.HandleCall(sess, call)
		}
	})
	conn.AddEventHandler(func(evt whatsapp.Event) {
		if gp, ok := evt.(*whatsapp.GroupParticipants); ok && m.dispatcher != nil {
			m.dispatcher.HandleGroupParticipants(sess, gp)
		}
	})
	return sess
}

// detach removes sess's listeners and cancels its context.
func (m *Manager) detach(sess *Session) {
	sess.Conn.RemoveEventHandlers()
	sess.cancel()

	m.mu.Lock()
	if m.sessions[sess.Number] == sess {
		delete(m.sessions, sess.Number)
	}
	m.mu.Unlock()
}

func (m *Manager) detachConn(number string, conn whatsapp.Conn) {
	m.mu.Lock()
	sess, ok := m.sessions[number]
	m.mu.Unlock()
	if ok && sess.Conn == conn {
		m.detach(sess)
		return
	}
	conn.RemoveEventHandlers()
}

// Session returns the live Session for number.
func (m *Manager) Session(number string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[number]
	return s, ok
}

// current reports whether sess still owns the registry slot for its Number.
func (m *Manager) current(sess *Session) bool {
	conn, ok := m.registry.Get(sess.Number)
	return ok && conn == sess.Conn
}

func (m *Manager) onConnectionUpdate(sess *Session, u *whatsapp.ConnectionUpdate) {
	switch u.State {
	case whatsapp.StateOpen:
		m.onOpen(sess)
	case whatsapp.StateClosed:
		if u.Reason.Terminal() {
			m.onLoggedOut(sess, u)
		} else {
			m.onTransientClose(sess, u)
		}
	}
}

func (m *Manager) onOpen(sess *Session) {
	log := m.log.WithField("number", sess.Number)

	if err := m.registry.Register(sess.Number, sess.Conn); err != nil {
		log.WithError(err).Warn("Opened connection is no longer registered, closing")
		m.detach(sess)
		sess.Conn.Close()
		return
	}
	sess.opened.Store(true)
	m.supervisor.Reset(sess.Number)

	if err := m.store.AddActiveNumber(sess.ctx, sess.Number); err != nil {
		log.WithError(err).Warn("Failed to mark number active")
	}
	log.WithField("active", m.registry.Count()).Info("Connected")

	if sess.NewPairing {
		sess.announce.Do(func() { m.announce(sess) })
	}
}

func (m *Manager) announce(sess *Session) {
	text := fmt.Sprintf("🤖 *CONNECTED*\n\n🔑 Prefix: %s\n🏷️ Bot: %s\n\nType %smenu to see the commands.",
		m.prefix, m.botName, m.prefix)
	if err := sess.Conn.SendText(sess.ctx, sess.Conn.SelfJID(), text); err != nil {
		m.log.WithError(err).WithField("number", sess.Number).Warn("Failed to send connected notice")
	}
	if m.alerter != nil {
		m.alerter.AlertConnected(sess.Number)
	}
}

func (m *Manager) onCredentialsUpdate(sess *Session) {
	_ = m.saveCredentials(sess.ctx, sess)
}

// saveCredentials snapshots the local state behind sess and upserts it.
func (m *Manager) saveCredentials(ctx context.Context, sess *Session) error {
	log := m.log.WithField("number", sess.Number)
	creds, err := sess.Conn.Credentials()
	if err != nil {
		log.WithError(err).Warn("Failed to snapshot credentials")
		return err
	}
	if len(creds) == 0 {
		return nil
	}
	if err := m.store.SaveSession(ctx, sess.Number, creds); err != nil {
		log.WithError(err).Error("Failed to save session")
		return err
	}
	sess.saved.Store(true)
	log.Debug("Session saved")
	return nil
}

func (m *Manager) onLoggedOut(sess *Session, u *whatsapp.ConnectionUpdate) {
	log := m.log.WithField("number", sess.Number).WithField("reason", u.Reason.String())

	if conn, ok := m.registry.Get(sess.Number); ok && conn != sess.Conn {
		log.Info("Stale connection logged out, ignoring")
		m.detach(sess)
		sess.Conn.Close()
		return
	}

	log.Warn("Logged out, purging session")
	m.detach(sess)
	sess.Conn.Close()
	m.registry.Purge(sess.Number)
	m.supervisor.Cancel(sess.Number)

	// listeners are detached, so the session context is already cancelled
	ctx := context.Background()
	if err := m.store.DeleteSession(ctx, sess.Number); err != nil {
		log.WithError(err).Error("Failed to delete session")
	}
	if err := m.state.Reset(sess.Number); err != nil {
		log.WithError(err).Warn("Failed to clear local session")
	}
	if m.alerter != nil {
		m.alerter.AlertLoggedOut(sess.Number)
	}
}

func (m *Manager) onTransientClose(sess *Session, u *whatsapp.ConnectionUpdate) {
	log := m.log.WithField("number", sess.Number).WithField("reason", u.Reason.String())

	if !m.registry.Release(sess.Number, sess.Conn) {
		log.Debug("Stale connection closed")
		m.detach(sess)
		sess.Conn.Close()
		return
	}

	if !sess.paired() {
		// unpaired: a retry could only issue another pairing code
		log.Warn("Connection closed before pairing completed, not reconnecting")
		m.detach(sess)
		sess.Conn.Close()
		m.registry.Purge(sess.Number)
		m.supervisor.Cancel(sess.Number)
		if err := m.state.Reset(sess.Number); err != nil {
			log.WithError(err).Warn("Failed to clear local session")
		}
		return
	}

	// the local database moved on since the last credentials event
	_ = m.saveCredentials(sess.ctx, sess)

	log.WithField("active", m.registry.Count()).Warn("Connection closed, keeping start time")
	m.detach(sess)
	sess.Conn.Close()
	m.scheduleRetry(sess.Number)
}
