// Package whatsapptest provides in-memory Conn and Dialer fakes.
package whatsapptest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/whatsapp-automation/gateway/internal/phone"
	"github.com/whatsapp-automation/gateway/internal/whatsapp"
)

type SentText struct {
	Chat     string
	Text     string
	Mentions []string
}

type Reaction struct {
	Key   whatsapp.MessageKey
	Emoji string
}

type PresenceUpdate struct {
	Chat     string
	Presence whatsapp.Presence
}

type ParticipantUpdate struct {
	Group  string
	Users  []string
	Action whatsapp.ParticipantAction
}

type RejectedCall struct {
	From   string
	CallID string
}

var (
	_ whatsapp.Conn   = (*Conn)(nil)
	_ whatsapp.Dialer = (*Dialer)(nil)
)

// Conn records every outbound call and lets tests push events.
type Conn struct {
	number string

	ConnectErr error
	PairErr    error
	PairCode   string
	Creds      []byte
	CredsErr   error
	Groups     map[string]*whatsapp.GroupInfo
	SendErr    error

	mu           sync.Mutex
	handlers     map[uint32]whatsapp.EventHandler
	nextID       uint32
	connected    bool
	closed       bool
	pairRequests int
	sent         []SentText
	reactions    []Reaction
	reads        []whatsapp.MessageKey
	presences    []PresenceUpdate
	rejected     []RejectedCall
	deleted      []whatsapp.MessageKey
	participants []ParticipantUpdate
}

func NewConn(number string) *Conn {
	return &Conn{
		number:   number,
		PairCode: "ABCD-EFGH",
		Creds:    []byte("creds-" + number),
		Groups:   make(map[string]*whatsapp.GroupInfo),
		handlers: make(map[uint32]whatsapp.EventHandler),
	}
}

func (c *Conn) Number() string  { return c.number }
func (c *Conn) SelfJID() string { return phone.JID(c.number) }

func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ConnectErr != nil {
		return c.ConnectErr
	}
	c.connected = true
	return nil
}

func (c *Conn) RequestPairingCode(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pairRequests++
	if c.PairErr != nil {
		return "", c.PairErr
	}
	return c.PairCode, nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.connected = false
}

func (c *Conn) AddEventHandler(h whatsapp.EventHandler) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.handlers[c.nextID] = h
	return c.nextID
}

func (c *Conn) RemoveEventHandlers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = make(map[uint32]whatsapp.EventHandler)
}

func (c *Conn) Credentials() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Creds, c.CredsErr
}

// SetCreds replaces what Credentials returns.
func (c *Conn) SetCreds(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Creds = b
}

// Emit delivers evt to the registered handlers in registration order.
func (c *Conn) Emit(evt whatsapp.Event) {
	c.mu.Lock()
	ids := make([]uint32, 0, len(c.handlers))
	for id := range c.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	hs := make([]whatsapp.EventHandler, 0, len(ids))
	for _, id := range ids {
		hs = append(hs, c.handlers[id])
	}
	c.mu.Unlock()

	for _, h := range hs {
		h(evt)
	}
}

func (c *Conn) Open() { c.Emit(&whatsapp.ConnectionUpdate{State: whatsapp.StateOpen}) }

func (c *Conn) Drop(reason whatsapp.DisconnectReason) {
	c.Emit(&whatsapp.ConnectionUpdate{State: whatsapp.StateClosed, Reason: reason})
}

func (c *Conn) SendText(ctx context.Context, chat, text string, mentions ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.sent = append(c.sent, SentText{Chat: chat, Text: text, Mentions: mentions})
	return nil
}

func (c *Conn) React(ctx context.Context, key whatsapp.MessageKey, emoji string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reactions = append(c.reactions, Reaction{Key: key, Emoji: emoji})
	return nil
}

func (c *Conn) MarkRead(ctx context.Context, keys ...whatsapp.MessageKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads = append(c.reads, keys...)
	return nil
}

func (c *Conn) SendChatPresence(ctx context.Context, chat string, p whatsapp.Presence) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presences = append(c.presences, PresenceUpdate{Chat: chat, Presence: p})
	return nil
}

func (c *Conn) RejectCall(ctx context.Context, from, callID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejected = append(c.rejected, RejectedCall{From: from, CallID: callID})
	return nil
}

func (c *Conn) DeleteMessage(ctx context.Context, key whatsapp.MessageKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, key)
	return nil
}

func (c *Conn) UpdateParticipants(ctx context.Context, group string, users []string, action whatsapp.ParticipantAction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.participants = append(c.participants, ParticipantUpdate{Group: group, Users: users, Action: action})
	return nil
}

func (c *Conn) GroupInfo(ctx context.Context, group string) (*whatsapp.GroupInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.Groups[group]; ok {
		return g, nil
	}
	return nil, errors.New("group not found")
}

func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) HandlerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

func (c *Conn) PairRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pairRequests
}

func (c *Conn) Sent() []SentText {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SentText(nil), c.sent...)
}

func (c *Conn) Reactions() []Reaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Reaction(nil), c.reactions...)
}

func (c *Conn) Reads() []whatsapp.MessageKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]whatsapp.MessageKey(nil), c.reads...)
}

func (c *Conn) Presences() []PresenceUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]PresenceUpdate(nil), c.presences...)
}

func (c *Conn) Rejected() []RejectedCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]RejectedCall(nil), c.rejected...)
}

func (c *Conn) Deleted() []whatsapp.MessageKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]whatsapp.MessageKey(nil), c.deleted...)
}

func (c *Conn) ParticipantUpdates() []ParticipantUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ParticipantUpdate(nil), c.participants...)
}

// Dialer hands out fresh Conns and remembers them.
type Dialer struct {
	// Configure, when set, runs on every new Conn before it is returned.
	Configure func(*Conn)
	Err       error

	mu    sync.Mutex
	conns []*Conn
}

func (d *Dialer) Dial(ctx context.Context, number string) (whatsapp.Conn, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	c := NewConn(number)
	if d.Configure != nil {
		d.Configure(c)
	}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

// Dialed returns every Conn created so far, oldest first.
func (d *Dialer) Dialed() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Last returns the most recent Conn or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}
