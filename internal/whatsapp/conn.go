package whatsapp

import (
	"context"
	"time"

	"github.com/whatsapp-automation/gateway/internal/phone"
)

// Conn is one Number's live protocol connection. Implementations must be safe
// for concurrent use; events for a single Conn are delivered sequentially.
type Conn interface {
	Number() string
	// SelfJID is the bot's own chat address.
	SelfJID() string

	Connect(ctx context.Context) error
	RequestPairingCode(ctx context.Context) (string, error)
	// Close terminates the transport. It does not remove handlers.
	Close()

	AddEventHandler(h EventHandler) uint32
	RemoveEventHandlers()

	// Credentials returns a snapshot of the session material needed to resume
	// without pairing again.
	Credentials() ([]byte, error)

	SendText(ctx context.Context, chat, text string, mentions ...string) error
	React(ctx context.Context, key MessageKey, emoji string) error
	MarkRead(ctx context.Context, keys ...MessageKey) error
	SendChatPresence(ctx context.Context, chat string, p Presence) error
	RejectCall(ctx context.Context, from, callID string) error
	DeleteMessage(ctx context.Context, key MessageKey) error
	UpdateParticipants(ctx context.Context, group string, users []string, action ParticipantAction) error
	GroupInfo(ctx context.Context, group string) (*GroupInfo, error)
}

// Dialer builds unconnected Conns. Local working state for the Number must
// already be in place (see LocalState).
type Dialer interface {
	Dial(ctx context.Context, number string) (Conn, error)
}

// EventHandler receives normalised protocol events.
type EventHandler func(evt Event)

// Event is one of *ConnectionUpdate, *CredentialsUpdate, *Message, *Call or
// *GroupParticipants.
type Event interface {
	isEvent()
}

type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateOpen
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type DisconnectReason int

const (
	ReasonUnknown DisconnectReason = iota
	ReasonLoggedOut
	ReasonConnectionLost
	ReasonReplaced
	ReasonBanned
	ReasonStreamError
	ReasonConnectFailure
)

var reasonNames = map[DisconnectReason]string{
	ReasonUnknown:        "unknown",
	ReasonLoggedOut:      "logged_out",
	ReasonConnectionLost: "connection_lost",
	ReasonReplaced:       "replaced",
	ReasonBanned:         "banned",
	ReasonStreamError:    "stream_error",
	ReasonConnectFailure: "connect_failure",
}

func (r DisconnectReason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return "unknown"
}

// Terminal reports whether the session cannot be resumed without pairing.
func (r DisconnectReason) Terminal() bool {
	return r == ReasonLoggedOut
}

type ConnectionUpdate struct {
	State  ConnectionState
	Reason DisconnectReason
	Detail string
}

// CredentialsUpdate signals that the session material changed and should be
// persisted.
type CredentialsUpdate struct{}

type MessageKey struct {
	Chat   string
	Sender string
	ID     string
	FromMe bool
}

type Message struct {
	Key       MessageKey
	PushName  string
	Body      string
	Timestamp time.Time
	IsGroup   bool
	// Mentions lists addresses tagged in the message.
	Mentions []string
	// QuotedSender is the author of the replied-to message, if any.
	QuotedSender string
}

// IsStatus reports whether the message is a status broadcast.
func (m *Message) IsStatus() bool {
	return m.Key.Chat == phone.StatusBroadcast
}

type Call struct {
	ID   string
	From string
}

type ParticipantAction string

const (
	ParticipantAdd     ParticipantAction = "add"
	ParticipantRemove  ParticipantAction = "remove"
	ParticipantPromote ParticipantAction = "promote"
	ParticipantDemote  ParticipantAction = "demote"
)

type GroupParticipants struct {
	Group        string
	Action       ParticipantAction
	Participants []string
}

type Presence string

const (
	PresenceComposing Presence = "composing"
	PresenceRecording Presence = "recording"
	PresencePaused    Presence = "paused"
)

type GroupInfo struct {
	JID          string
	Name         string
	Participants []GroupParticipant
}

type GroupParticipant struct {
	JID     string
	IsAdmin bool
}

// IsAdmin reports whether jid is an admin of the group, ignoring device
// suffixes.
func (g *GroupInfo) IsAdmin(jid string) bool {
	for _, p := range g.Participants {
		if p.IsAdmin && phone.SameUser(p.JID, jid) {
			return true
		}
	}
	return false
}

func (*ConnectionUpdate) isEvent()  {}
func (*CredentialsUpdate) isEvent() {}
func (*Message) isEvent()           {}
func (*Call) isEvent()              {}
func (*GroupParticipants) isEvent() {}
