package whatsapp

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/whatsapp-automation/gateway/internal/config"
	"github.com/whatsapp-automation/gateway/internal/logging"
	"github.com/whatsapp-automation/gateway/internal/phone"
)

// snapshotTimeout bounds one credentials copy.
const snapshotTimeout = 30 * time.Second

// ClientDialer builds whatsmeow clients on top of per-Number sqlite files.
type ClientDialer struct {
	state *LocalState
	proxy *config.ProxyConfig
	log   *logrus.Entry
}

// NewClientDialer configures the device name shown under "Linked devices".
func NewClientDialer(state *LocalState, deviceOS string, proxy *config.ProxyConfig, log *logrus.Entry) *ClientDialer {
	if deviceOS != "" {
		store.DeviceProps.Os = proto.String(deviceOS)
	}
	return &ClientDialer{state: state, proxy: proxy, log: log}
}

// Dial opens the Number's device store and wraps a new, unconnected client.
func (d *ClientDialer) Dial(ctx context.Context, number string) (Conn, error) {
	log := d.log.WithField("number", number)

	container, err := d.state.Open(ctx, number, logging.WhatsApp(log, "DB-"+number))
	if err != nil {
		return nil, err
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	if device == nil {
		device = container.NewDevice()
	}

	wa := whatsmeow.NewClient(device, logging.WhatsApp(log, "Client-"+number))
	// reconnects are owned by the session supervisor
	wa.EnableAutoReconnect = false
	wa.AutoTrustIdentity = true

	if d.proxy != nil && d.proxy.Enabled {
		if err := wa.SetProxyAddress(d.proxy.URL()); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to set proxy address: %w", err)
		}
		log.WithField("proxy", d.proxy.String()).Debug("using proxy")
	}

	c := &Client{
		number:    number,
		wa:        wa,
		container: container,
		state:     d.state,
		log:       log,
		handlers:  make(map[uint32]EventHandler),
	}
	c.waHandler = wa.AddEventHandler(c.handleEvent)
	return c, nil
}

var _ Conn = (*Client)(nil)

// Client is the whatsmeow implementation of Conn.
type Client struct {
	number    string
	wa        *whatsmeow.Client
	container *sqlstore.Container
	state     *LocalState
	log       *logrus.Entry
	waHandler uint32

	mu       sync.RWMutex
	handlers map[uint32]EventHandler
	nextID   uint32
	closed   bool
}

func (c *Client) Number() string { return c.number }

func (c *Client) SelfJID() string {
	if id := c.wa.Store.ID; id != nil {
		return id.ToNonAD().String()
	}
	return phone.JID(c.number)
}

func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.wa.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

// RequestPairingCode returns the code formatted as XXXX-XXXX.
func (c *Client) RequestPairingCode(ctx context.Context) (string, error) {
	code, err := c.wa.PairPhone(ctx, c.number, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
	if err != nil {
		return "", fmt.Errorf("failed to get pairing code: %w", err)
	}
	if len(code) == 8 {
		code = code[:4] + "-" + code[4:]
	}
	return code, nil
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	// Close is often called from inside an event handler, where
	// RemoveEventHandler would deadlock; the closed flag mutes emit instead.
	c.wa.Disconnect()
	if err := c.container.Close(); err != nil {
		c.log.WithError(err).Warn("failed to close session database")
	}
}

func (c *Client) AddEventHandler(h EventHandler) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.handlers[c.nextID] = h
	return c.nextID
}

func (c *Client) RemoveEventHandlers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = make(map[uint32]EventHandler)
}

func (c *Client) Credentials() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	return c.state.Snapshot(ctx, c.number)
}

func (c *Client) emit(evt Event) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	ids := make([]uint32, 0, len(c.handlers))
	for id := range c.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	hs := make([]EventHandler, 0, len(ids))
	for _, id := range ids {
		hs = append(hs, c.handlers[id])
	}
	c.mu.RUnlock()

	for _, h := range hs {
		h(evt)
	}
}

func (c *Client) handleEvent(raw interface{}) {
	switch v := raw.(type) {
	case *events.Connected:
		c.emit(&ConnectionUpdate{State: StateOpen})
		c.emit(&CredentialsUpdate{})

	case *events.PairSuccess:
		c.log.WithField("device", v.ID.String()).Info("paired")
		c.emit(&CredentialsUpdate{})

	case *events.LoggedOut:
		c.emit(&ConnectionUpdate{State: StateClosed, Reason: ReasonLoggedOut, Detail: v.Reason.String()})

	case *events.ConnectFailure:
		reason := ReasonConnectFailure
		if v.Reason.IsLoggedOut() {
			reason = ReasonLoggedOut
		}
		c.emit(&ConnectionUpdate{State: StateClosed, Reason: reason, Detail: v.Reason.String()})

	case *events.StreamReplaced:
		c.emit(&ConnectionUpdate{State: StateClosed, Reason: ReasonReplaced})

	case *events.TemporaryBan:
		c.emit(&ConnectionUpdate{State: StateClosed, Reason: ReasonBanned, Detail: v.String()})

	case *events.StreamError:
		c.emit(&ConnectionUpdate{State: StateClosed, Reason: ReasonStreamError, Detail: v.Code})

	case *events.Disconnected:
		c.emit(&ConnectionUpdate{State: StateClosed, Reason: ReasonConnectionLost})

	case *events.KeepAliveTimeout:
		c.log.WithField("errors", v.ErrorCount).Warn("keepalive timeout")

	case *events.Message:
		if m := convertMessage(v); m != nil {
			c.emit(m)
		}

	case *events.CallOffer:
		c.emit(&Call{ID: v.CallID, From: v.From.ToNonAD().String()})

	case *events.GroupInfo:
		group := v.JID.String()
		changes := []struct {
			action ParticipantAction
			jids   []types.JID
		}{
			{ParticipantAdd, v.Join},
			{ParticipantRemove, v.Leave},
			{ParticipantPromote, v.Promote},
			{ParticipantDemote, v.Demote},
		}
		for _, ch := range changes {
			if len(ch.jids) > 0 {
				c.emit(&GroupParticipants{Group: group, Action: ch.action, Participants: jidStrings(ch.jids)})
			}
		}
	}
}

func (c *Client) SendText(ctx context.Context, chat, text string, mentions ...string) error {
	to, err := types.ParseJID(chat)
	if err != nil {
		return fmt.Errorf("invalid chat %q: %w", chat, err)
	}
	msg := &waE2E.Message{Conversation: proto.String(text)}
	if len(mentions) > 0 {
		msg = &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(text),
			ContextInfo: &waE2E.ContextInfo{MentionedJID: mentions},
		}}
	}
	_, err = c.wa.SendMessage(ctx, to, msg)
	return err
}

func (c *Client) React(ctx context.Context, key MessageKey, emoji string) error {
	chat, sender, err := parseKey(key)
	if err != nil {
		return err
	}
	_, err = c.wa.SendMessage(ctx, chat, c.wa.BuildReaction(chat, sender, key.ID, emoji))
	return err
}

func (c *Client) MarkRead(ctx context.Context, keys ...MessageKey) error {
	for _, key := range keys {
		chat, sender, err := parseKey(key)
		if err != nil {
			return err
		}
		if err := c.wa.MarkRead(ctx, []types.MessageID{key.ID}, time.Now(), chat, sender); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) SendChatPresence(ctx context.Context, chat string, p Presence) error {
	to, err := types.ParseJID(chat)
	if err != nil {
		return fmt.Errorf("invalid chat %q: %w", chat, err)
	}
	switch p {
	case PresenceComposing:
		return c.wa.SendChatPresence(ctx, to, types.ChatPresenceComposing, types.ChatPresenceMediaText)
	case PresenceRecording:
		return c.wa.SendChatPresence(ctx, to, types.ChatPresenceComposing, types.ChatPresenceMediaAudio)
	default:
		return c.wa.SendChatPresence(ctx, to, types.ChatPresencePaused, "")
	}
}

func (c *Client) RejectCall(ctx context.Context, from, callID string) error {
	jid, err := types.ParseJID(from)
	if err != nil {
		return fmt.Errorf("invalid caller %q: %w", from, err)
	}
	return c.wa.RejectCall(ctx, jid, callID)
}

func (c *Client) DeleteMessage(ctx context.Context, key MessageKey) error {
	chat, sender, err := parseKey(key)
	if err != nil {
		return err
	}
	_, err = c.wa.SendMessage(ctx, chat, c.wa.BuildRevoke(chat, sender, key.ID))
	return err
}

var participantChanges = map[ParticipantAction]whatsmeow.ParticipantChange{
	ParticipantAdd:     whatsmeow.ParticipantChangeAdd,
	ParticipantRemove:  whatsmeow.ParticipantChangeRemove,
	ParticipantPromote: whatsmeow.ParticipantChangePromote,
	ParticipantDemote:  whatsmeow.ParticipantChangeDemote,
}

func (c *Client) UpdateParticipants(ctx context.Context, group string, users []string, action ParticipantAction) error {
	change, ok := participantChanges[action]
	if !ok {
		return fmt.Errorf("unknown participant action %q", action)
	}
	gjid, err := types.ParseJID(group)
	if err != nil {
		return fmt.Errorf("invalid group %q: %w", group, err)
	}
	jids := make([]types.JID, 0, len(users))
	for _, u := range users {
		j, err := types.ParseJID(u)
		if err != nil {
			return fmt.Errorf("invalid participant %q: %w", u, err)
		}
		jids = append(jids, j)
	}
	_, err = c.wa.UpdateGroupParticipants(ctx, gjid, jids, change)
	return err
}

func (c *Client) GroupInfo(ctx context.Context, group string) (*GroupInfo, error) {
	gjid, err := types.ParseJID(group)
	if err != nil {
		return nil, fmt.Errorf("invalid group %q: %w", group, err)
	}
	info, err := c.wa.GetGroupInfo(ctx, gjid)
	if err != nil {
		return nil, err
	}
	out := &GroupInfo{JID: info.JID.String(), Name: info.Name}
	for _, p := range info.Participants {
		out.Participants = append(out.Participants, GroupParticipant{
			JID:     p.JID.String(),
			IsAdmin: p.IsAdmin || p.IsSuperAdmin,
		})
	}
	return out, nil
}

func parseKey(key MessageKey) (types.JID, types.JID, error) {
	chat, err := types.ParseJID(key.Chat)
	if err != nil {
		return types.JID{}, types.JID{}, fmt.Errorf("invalid chat %q: %w", key.Chat, err)
	}
	var sender types.JID
	if key.Sender != "" {
		if sender, err = types.ParseJID(key.Sender); err != nil {
			return types.JID{}, types.JID{}, fmt.Errorf("invalid sender %q: %w", key.Sender, err)
		}
	}
	return chat, sender, nil
}

func jidStrings(jids []types.JID) []string {
	out := make([]string, 0, len(jids))
	for _, j := range jids {
		out = append(out, j.ToNonAD().String())
	}
	return out
}
