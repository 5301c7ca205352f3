// Package dispatch routes inbound protocol events to plugins and runs the
// per-Number side channels (read receipts, presence, status handling, stats).
package dispatch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/whatsapp-automation/gateway/internal/config"
	"github.com/whatsapp-automation/gateway/internal/phone"
	"github.com/whatsapp-automation/gateway/internal/session"
	"github.com/whatsapp-automation/gateway/internal/store"
	"github.com/whatsapp-automation/gateway/internal/whatsapp"
)

// ConfigStore is the per-Number configuration and stats persistence.
type ConfigStore interface {
	GetConfig(ctx context.Context, number string) (store.FeatureConfig, error)
	SaveConfig(ctx context.Context, number string, cfg store.FeatureConfig) error
	IncrementStat(ctx context.Context, number string, field store.StatField) error
}

// Options are the process-wide dispatch settings.
type Options struct {
	Prefix   string
	WorkType string
	BotName  string
	// Owners are Numbers allowed to run owner commands on every session.
	Owners []string
}

var reactEmojis = []string{
	"🌼", "❤️", "💐", "🔥", "🏵️", "❄️", "🧊", "🐳", "💥", "🥀", "🫶", "😻", "🙌", "🫂",
	"🍁", "🌺", "🌹", "🌷", "🌸", "🌻", "💫", "🏆", "🎧", "🎯", "🚀", "💎", "🎀", "🎉",
	"💌", "📌", "🧡", "💛", "💚", "💙", "🤍", "💗", "💖", "✅", "🌐", "🔵", "🟣",
}

type Dispatcher struct {
	plugins *Registry
	store   ConfigStore
	opts    Options
	log     *logrus.Entry
	pick    func(n int) int
}

var _ session.Dispatcher = (*Dispatcher)(nil)

func New(plugins *Registry, st ConfigStore, opts Options, log *logrus.Entry) *Dispatcher {
	if opts.Prefix == "" {
		opts.Prefix = "."
	}
	return &Dispatcher{
		plugins: plugins,
		store:   st,
		opts:    opts,
		log:     log.WithField("component", "dispatch"),
		pick:    rand.IntN,
	}
}

func (d *Dispatcher) config(ctx context.Context, number string) store.FeatureConfig {
	cfg, err := d.store.GetConfig(ctx, number)
	if err != nil {
		d.log.WithError(err).WithField("number", number).Warn("Failed to load config, using defaults")
		return store.DefaultFeatureConfig()
	}
	return cfg
}

func (d *Dispatcher) isOwner(s *session.Session, sender string) bool {
	n := phone.FromJID(sender)
	if n == s.Number {
		return true
	}
	for _, o := range d.opts.Owners {
		if o == n {
			return true
		}
	}
	return false
}

func (d *Dispatcher) incr(ctx context.Context, number string, field store.StatField) {
	if err := d.store.IncrementStat(ctx, number, field); err != nil {
		d.log.WithError(err).WithField("number", number).Warn("Failed to update stats")
	}
}

// HandleMessage runs the side channels for msg and then at most one command.
func (d *Dispatcher) HandleMessage(s *session.Session, msg *whatsapp.Message) {
	ctx := s.Context()
	conn := s.Conn
	log := d.log.WithField("number", s.Number)
	cfg := d.config(ctx, s.Number)

	if msg.IsStatus() {
		d.handleStatus(ctx, s, msg, &cfg)
		return
	}

	chat := msg.Key.Chat
	if cfg.ReadMessage && !msg.Key.FromMe {
		if err := conn.MarkRead(ctx, msg.Key); err != nil {
			log.WithError(err).Debug("Failed to mark read")
		}
	}
	if cfg.AutoTyping {
		_ = conn.SendChatPresence(ctx, chat, whatsapp.PresenceComposing)
	}
	if cfg.AutoRecording {
		_ = conn.SendChatPresence(ctx, chat, whatsapp.PresenceRecording)
	}

	d.incr(ctx, s.Number, store.StatMessagesReceived)
	if msg.IsGroup {
		d.incr(ctx, s.Number, store.StatGroupsInteracted)
	}

	if cfg.AutoReact && !msg.Key.FromMe {
		if err := conn.React(ctx, msg.Key, reactEmojis[d.pick(len(reactEmojis))]); err != nil {
			log.WithError(err).Debug("Failed to auto-react")
		}
	}

	body := strings.TrimSpace(msg.Body)
	if body == "" {
		return
	}

	sender := msg.Key.Sender
	if msg.Key.FromMe || sender == "" {
		sender = conn.SelfJID()
	}
	c := &Context{
		Ctx:     ctx,
		Session: s,
		Conn:    conn,
		Msg:     msg,
		Number:  s.Number,
		Chat:    chat,
		Sender:  sender,
		Body:    body,
		Prefix:  d.opts.Prefix,
		BotName: d.opts.BotName,
		IsOwner: d.isOwner(s, sender),
		IsGroup: msg.IsGroup,
		Config:  &cfg,
		Plugins: d.plugins,
		store:   d.store,
	}

	if !strings.HasPrefix(body, d.opts.Prefix) {
		for _, p := range d.plugins.BodyHandlers() {
			d.invoke(c, p)
		}
		return
	}

	fields := strings.Fields(strings.TrimPrefix(body, d.opts.Prefix))
	if len(fields) == 0 {
		return
	}
	name := strings.ToLower(fields[0])
	p, ok := d.plugins.Lookup(name)
	if !ok {
		return
	}
	if d.opts.WorkType == config.WorkPrivate && !c.IsOwner {
		return
	}
	c.Command = name
	c.Args = fields[1:]

	if !d.allowed(c, p) {
		return
	}

	d.incr(ctx, s.Number, store.StatCommandsUsed)
	if p.React != "" {
		if err := c.React(p.React); err != nil {
			log.WithError(err).Debug("Failed to send command reaction")
		}
	}
	d.invoke(c, p)
}

// allowed applies the plugin's gates and tells the user when one fails.
func (d *Dispatcher) allowed(c *Context, p *Plugin) bool {
	switch {
	case p.OwnerOnly && !c.IsOwner:
		_ = c.Reply("📛 Only the owner can use this command!")
		return false
	case (p.GroupOnly || p.AdminOnly || p.BotAdmin) && !c.IsGroup:
		_ = c.Reply("❌ This command works in groups only.")
		return false
	case p.AdminOnly && !c.IsOwner && !c.SenderIsAdmin():
		_ = c.Reply("❌ Only group admins can use this command.")
		return false
	case p.BotAdmin && !c.BotIsAdmin():
		_ = c.Reply("❌ I need to be an admin to do that.")
		return false
	}
	return true
}

// invoke runs p's handler, containing errors and panics.
func (d *Dispatcher) invoke(c *Context, p *Plugin) {
	log := d.log.WithFields(logrus.Fields{"number": c.Number, "command": p.Pattern})
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).WithField("stack", string(debug.Stack())).Error("Plugin panicked")
		}
	}()
	if err := p.Handler(c); err != nil {
		log.WithError(err).Error("Plugin failed")
	}
}

func (d *Dispatcher) handleStatus(ctx context.Context, s *session.Session, msg *whatsapp.Message, cfg *store.FeatureConfig) {
	conn := s.Conn
	log := d.log.WithField("number", s.Number)
	if msg.Key.FromMe {
		return
	}

	if cfg.AutoViewStatus {
		if err := conn.MarkRead(ctx, msg.Key); err != nil {
			log.WithError(err).Debug("Failed to view status")
		}
	}
	if cfg.AutoLikeStatus && msg.Key.Sender != "" && len(cfg.AutoLikeEmoji) > 0 {
		emoji := cfg.AutoLikeEmoji[d.pick(len(cfg.AutoLikeEmoji))]
		if err := conn.React(ctx, msg.Key, emoji); err != nil {
			log.WithError(err).Debug("Failed to like status")
		}
	}
	if cfg.AutoStatusReply && msg.Key.Sender != "" {
		text := cfg.AutoStatusMsg
		if text == "" {
			text = store.DefaultFeatureConfig().AutoStatusMsg
		}
		if err := conn.SendText(ctx, msg.Key.Sender, text); err != nil {
			log.WithError(err).Debug("Failed to reply to status")
		}
	}
}

// HandleCall rejects incoming calls when ANTI_CALL is on.
func (d *Dispatcher) HandleCall(s *session.Session, call *whatsapp.Call) {
	ctx := s.Context()
	cfg := d.config(ctx, s.Number)
	if !cfg.AntiCall {
		return
	}
	log := d.log.WithFields(logrus.Fields{"number": s.Number, "from": call.From})

	if err := s.Conn.RejectCall(ctx, call.From, call.ID); err != nil {
		log.WithError(err).Warn("Failed to reject call")
		return
	}
	msg := cfg.RejectMsg
	if msg == "" {
		msg = store.DefaultFeatureConfig().RejectMsg
	}
	if err := s.Conn.SendText(ctx, call.From, msg); err != nil {
		log.WithError(err).Warn("Failed to send call rejection message")
	}
	log.Info("Call rejected")
}

// HandleGroupParticipants sends welcome and goodbye messages.
func (d *Dispatcher) HandleGroupParticipants(s *session.Session, evt *whatsapp.GroupParticipants) {
	var welcome bool
	switch evt.Action {
	case whatsapp.ParticipantAdd:
		welcome = true
	case whatsapp.ParticipantRemove:
	default:
		return
	}

	ctx := s.Context()
	cfg := d.config(ctx, s.Number)
	if welcome && !cfg.WelcomeFor(evt.Group) || !welcome && !cfg.GoodbyeFor(evt.Group) {
		return
	}

	groupName := evt.Group
	if info, err := s.Conn.GroupInfo(ctx, evt.Group); err == nil && info.Name != "" {
		groupName = info.Name
	}

	for _, p := range evt.Participants {
		user := "@" + phone.FromJID(p)
		var text string
		if welcome {
			text = fmt.Sprintf("*╭─「 WELCOME 」─◇*\n*│* 👋 Hello %s\n*│* 🏰 Group: %s\n*│* 📝 Please read the rules in the group description.\n*╰────────────○*", user, groupName)
		} else {
			text = fmt.Sprintf("*╭─「 FAREWELL 」─◇*\n*│* 👤 Bye %s\n*│* 📢 We hope to see you again soon!\n*╰────────────○*", user)
		}
		if err := s.Conn.SendText(ctx, evt.Group, text, p); err != nil {
			d.log.WithError(err).WithField("number", s.Number).Warn("Failed to send group greeting")
		}
	}
}
