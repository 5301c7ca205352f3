package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsapp-automation/gateway/internal/config"
	"github.com/whatsapp-automation/gateway/internal/phone"
	"github.com/whatsapp-automation/gateway/internal/session"
	"github.com/whatsapp-automation/gateway/internal/store"
	"github.com/whatsapp-automation/gateway/internal/whatsapp"
	"github.com/whatsapp-automation/gateway/internal/whatsapp/whatsapptest"
)

const (
	botNumber = "15550001111"
	userJID   = "15559990000@s.whatsapp.net"
	groupJID  = "120363000000000001@g.us"
)

type memConfigStore struct {
	mu      sync.Mutex
	configs map[string]store.FeatureConfig
	stats   map[store.StatField]int
	getErr  error
}

func newMemConfigStore() *memConfigStore {
	return &memConfigStore{
		configs: make(map[string]store.FeatureConfig),
		stats:   make(map[store.StatField]int),
	}
}

func (m *memConfigStore) GetConfig(_ context.Context, number string) (store.FeatureConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return store.FeatureConfig{}, m.getErr
	}
	if c, ok := m.configs[number]; ok {
		return c, nil
	}
	return store.DefaultFeatureConfig(), nil
}

func (m *memConfigStore) SaveConfig(_ context.Context, number string, cfg store.FeatureConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[number] = cfg
	return nil
}

func (m *memConfigStore) IncrementStat(_ context.Context, _ string, field store.StatField) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[field]++
	return nil
}

func (m *memConfigStore) set(mutate func(*store.FeatureConfig)) {
	c := store.DefaultFeatureConfig()
	mutate(&c)
	m.mu.Lock()
	m.configs[botNumber] = c
	m.mu.Unlock()
}

func (m *memConfigStore) stat(f store.StatField) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats[f]
}

type fixture struct {
	conn    *whatsapptest.Conn
	sess    *session.Session
	store   *memConfigStore
	plugins *Registry
	disp    *Dispatcher
	calls   []string
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	log, _ := test.NewNullLogger()
	f := &fixture{
		conn:    whatsapptest.NewConn(botNumber),
		store:   newMemConfigStore(),
		plugins: NewRegistry(),
	}
	f.sess = session.NewSession(context.Background(), botNumber, f.conn)
	f.disp = New(f.plugins, f.store, opts, log.WithField("test", t.Name()))
	f.disp.pick = func(int) int { return 0 }
	return f
}

func (f *fixture) record(name string) Handler {
	return func(c *Context) error {
		f.calls = append(f.calls, name+":"+c.Text())
		return nil
	}
}

func privateMsg(body string) *whatsapp.Message {
	return &whatsapp.Message{
		Key:  whatsapp.MessageKey{Chat: userJID, Sender: userJID, ID: "m1"},
		Body: body,
	}
}

func groupMsg(sender, body string) *whatsapp.Message {
	return &whatsapp.Message{
		Key:     whatsapp.MessageKey{Chat: groupJID, Sender: sender, ID: "g1"},
		Body:    body,
		IsGroup: true,
	}
}

func TestCommandIsRoutedByNameAndAlias(t *testing.T) {
	f := newFixture(t, Options{Prefix: "."})
	f.plugins.MustRegister(Plugin{Pattern: "menu", Alias: []string{"help"}, Handler: f.record("menu")})

	f.disp.HandleMessage(f.sess, privateMsg(".menu"))
	f.disp.HandleMessage(f.sess, privateMsg(".HELP me please"))
	f.disp.HandleMessage(f.sess, privateMsg(".unknown"))
	f.disp.HandleMessage(f.sess, privateMsg("menu"))

	assert.Equal(t, []string{"menu:", "menu:me please"}, f.calls)
	assert.Equal(t, 4, f.store.stat(store.StatMessagesReceived))
	assert.Equal(t, 2, f.store.stat(store.StatCommandsUsed))
	assert.Zero(t, f.store.stat(store.StatGroupsInteracted))
}

func TestCommandReactsBeforeRunning(t *testing.T) {
	f := newFixture(t, Options{Prefix: "."})
	f.plugins.MustRegister(Plugin{Pattern: "ping", React: "📍", Handler: func(c *Context) error {
		f.calls = append(f.calls, "ping")
		assert.Len(t, f.conn.Reactions(), 1)
		return nil
	}})

	f.disp.HandleMessage(f.sess, privateMsg(".ping"))

	require.Equal(t, []string{"ping"}, f.calls)
	assert.Equal(t, "📍", f.conn.Reactions()[0].Emoji)
}

func TestPrivateModeOnlyServesOwners(t *testing.T) {
	f := newFixture(t, Options{Prefix: ".", WorkType: config.WorkPrivate, Owners: []string{"447700900000"}})
	f.plugins.MustRegister(Plugin{Pattern: "ping", Handler: f.record("ping")})

	f.disp.HandleMessage(f.sess, privateMsg(".ping stranger"))

	owner := privateMsg(".ping owner")
	owner.Key.Sender = phone.JID("447700900000")
	f.disp.HandleMessage(f.sess, owner)

	self := privateMsg(".ping self")
	self.Key.FromMe = true
	f.disp.HandleMessage(f.sess, self)

	assert.Equal(t, []string{"ping:owner", "ping:self"}, f.calls)
	assert.Equal(t, 2, f.store.stat(store.StatCommandsUsed))
}

func TestGates(t *testing.T) {
	f := newFixture(t, Options{Prefix: "."})
	f.plugins.MustRegister(Plugin{Pattern: "secret", OwnerOnly: true, Handler: f.record("secret")})
	f.plugins.MustRegister(Plugin{Pattern: "kick", AdminOnly: true, BotAdmin: true, Handler: f.record("kick")})

	f.disp.HandleMessage(f.sess, privateMsg(".secret"))
	f.disp.HandleMessage(f.sess, privateMsg(".kick"))

	f.conn.Groups[groupJID] = &whatsapp.GroupInfo{
		JID:  groupJID,
		Name: "Test",
		Participants: []whatsapp.GroupParticipant{
			{JID: userJID, IsAdmin: true},
			{JID: phone.JID(botNumber)},
		},
	}
	f.disp.HandleMessage(f.sess, groupMsg(userJID, ".kick"))
	f.disp.HandleMessage(f.sess, groupMsg("15551231234@s.whatsapp.net", ".kick"))

	assert.Empty(t, f.calls)
	sent := f.conn.Sent()
	require.Len(t, sent, 4)
	assert.Contains(t, sent[0].Text, "Only the owner")
	assert.Contains(t, sent[1].Text, "groups only")
	assert.Contains(t, sent[2].Text, "need to be an admin")
	assert.Contains(t, sent[3].Text, "Only group admins")
	assert.Zero(t, f.store.stat(store.StatCommandsUsed))
	assert.Equal(t, 2, f.store.stat(store.StatGroupsInteracted))
}

func TestPluginFailuresAreContained(t *testing.T) {
	f := newFixture(t, Options{Prefix: "."})
	f.plugins.MustRegister(Plugin{Pattern: "boom", Handler: func(*Context) error { panic("kaboom") }})
	f.plugins.MustRegister(Plugin{Pattern: "fail", Handler: func(*Context) error { return errors.New("nope") }})

	assert.NotPanics(t, func() {
		f.disp.HandleMessage(f.sess, privateMsg(".boom"))
		f.disp.HandleMessage(f.sess, privateMsg(".fail"))
	})
	assert.Equal(t, 2, f.store.stat(store.StatCommandsUsed))
}

func TestBodyHandlersSeeUnprefixedMessages(t *testing.T) {
	f := newFixture(t, Options{Prefix: "."})
	var seen []string
	f.plugins.MustRegister(Plugin{Pattern: "guard", OnBody: true, Handler: func(c *Context) error {
		seen = append(seen, c.Body)
		return nil
	}})

	f.disp.HandleMessage(f.sess, privateMsg("hello there"))
	f.disp.HandleMessage(f.sess, privateMsg(".menu"))

	assert.Equal(t, []string{"hello there"}, seen)
}

func TestSideChannelsFollowConfig(t *testing.T) {
	f := newFixture(t, Options{Prefix: "."})
	f.store.set(func(c *store.FeatureConfig) {
		c.ReadMessage = true
		c.AutoTyping = true
		c.AutoRecording = true
		c.AutoReact = true
	})

	f.disp.HandleMessage(f.sess, privateMsg("hi"))

	assert.Len(t, f.conn.Reads(), 1)
	assert.Equal(t, []whatsapptest.PresenceUpdate{
		{Chat: userJID, Presence: whatsapp.PresenceComposing},
		{Chat: userJID, Presence: whatsapp.PresenceRecording},
	}, f.conn.Presences())
	if assert.Len(t, f.conn.Reactions(), 1) {
		assert.Equal(t, reactEmojis[0], f.conn.Reactions()[0].Emoji)
	}
}

func TestSideChannelsOffByDefault(t *testing.T) {
	f := newFixture(t, Options{Prefix: "."})

	f.disp.HandleMessage(f.sess, privateMsg("hi"))

	assert.Empty(t, f.conn.Reads())
	assert.Empty(t, f.conn.Presences())
	assert.Empty(t, f.conn.Reactions())
}

func TestConfigLoadFailureFallsBackToDefaults(t *testing.T) {
	f := newFixture(t, Options{Prefix: "."})
	f.store.getErr = errors.New("db down")
	f.plugins.MustRegister(Plugin{Pattern: "ping", Handler: func(c *Context) error {
		assert.Equal(t, store.AntiLinkModeWarn, c.Config.AntiLinkMode)
		f.calls = append(f.calls, "ping")
		return nil
	}})

	f.disp.HandleMessage(f.sess, privateMsg(".ping"))
	assert.Equal(t, []string{"ping"}, f.calls)
}

func TestStatusBroadcast(t *testing.T) {
	f := newFixture(t, Options{Prefix: "."})
	f.store.set(func(c *store.FeatureConfig) {
		c.AutoViewStatus = true
		c.AutoLikeStatus = true
		c.AutoStatusReply = true
		c.AutoStatusMsg = "nice"
	})
	f.plugins.MustRegister(Plugin{Pattern: "ping", Handler: f.record("ping")})

	status := &whatsapp.Message{
		Key:  whatsapp.MessageKey{Chat: phone.StatusBroadcast, Sender: userJID, ID: "s1"},
		Body: ".ping",
	}
	f.disp.HandleMessage(f.sess, status)

	assert.Len(t, f.conn.Reads(), 1)
	if assert.Len(t, f.conn.Reactions(), 1) {
		assert.Equal(t, "❤️", f.conn.Reactions()[0].Emoji)
	}
	assert.Equal(t, []whatsapptest.SentText{{Chat: userJID, Text: "nice"}}, f.conn.Sent())
	assert.Empty(t, f.calls)
	assert.Zero(t, f.store.stat(store.StatMessagesReceived))
}

func TestAntiCall(t *testing.T) {
	f := newFixture(t, Options{})
	call := &whatsapp.Call{ID: "c1", From: userJID}

	f.disp.HandleCall(f.sess, call)
	assert.Empty(t, f.conn.Rejected())

	f.store.set(func(c *store.FeatureConfig) { c.AntiCall = true })
	f.disp.HandleCall(f.sess, call)

	assert.Equal(t, []whatsapptest.RejectedCall{{From: userJID, CallID: "c1"}}, f.conn.Rejected())
	require.Len(t, f.conn.Sent(), 1)
	assert.Equal(t, store.DefaultFeatureConfig().RejectMsg, f.conn.Sent()[0].Text)
}

func TestWelcomeAndGoodbye(t *testing.T) {
	f := newFixture(t, Options{})
	f.conn.Groups[groupJID] = &whatsapp.GroupInfo{JID: groupJID, Name: "Gophers"}
	add := &whatsapp.GroupParticipants{Group: groupJID, Action: whatsapp.ParticipantAdd, Participants: []string{userJID}}
	remove := &whatsapp.GroupParticipants{Group: groupJID, Action: whatsapp.ParticipantRemove, Participants: []string{userJID}}

	f.disp.HandleGroupParticipants(f.sess, add)
	assert.Empty(t, f.conn.Sent())

	f.store.set(func(c *store.FeatureConfig) {
		c.WelcomeEnable = true
		c.SetGroupGoodbye(groupJID, true)
	})
	f.disp.HandleGroupParticipants(f.sess, add)
	f.disp.HandleGroupParticipants(f.sess, remove)
	f.disp.HandleGroupParticipants(f.sess, &whatsapp.GroupParticipants{Group: groupJID, Action: whatsapp.ParticipantPromote, Participants: []string{userJID}})

	sent := f.conn.Sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0].Text, "WELCOME")
	assert.Contains(t, sent[0].Text, "@15559990000")
	assert.Contains(t, sent[0].Text, "Gophers")
	assert.Equal(t, []string{userJID}, sent[0].Mentions)
	assert.Contains(t, sent[1].Text, "FAREWELL")
}
