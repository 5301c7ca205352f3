package dispatch

import (
	"context"
	"strings"

	"github.com/whatsapp-automation/gateway/internal/phone"
	"github.com/whatsapp-automation/gateway/internal/session"
	"github.com/whatsapp-automation/gateway/internal/store"
	"github.com/whatsapp-automation/gateway/internal/whatsapp"
)

// Context is everything a handler sees for one inbound message.
type Context struct {
	Ctx     context.Context
	Session *session.Session
	Conn    whatsapp.Conn
	Msg     *whatsapp.Message

	// Number is the bot's own Number.
	Number  string
	Chat    string
	Sender  string
	Body    string
	Command string
	Args    []string

	Prefix  string
	BotName string
	IsOwner bool
	IsGroup bool

	Config  *store.FeatureConfig
	Plugins *Registry

	store     ConfigStore
	group     *whatsapp.GroupInfo
	groupErr  error
	groupDone bool
}

// Text is the arguments joined by single spaces.
func (c *Context) Text() string { return strings.Join(c.Args, " ") }

// Arg returns the i-th argument lowercased, or "".
func (c *Context) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return strings.ToLower(c.Args[i])
}

// Reply sends text to the chat the message came from.
func (c *Context) Reply(text string, mentions ...string) error {
	return c.Conn.SendText(c.Ctx, c.Chat, text, mentions...)
}

// React reacts to the triggering message.
func (c *Context) React(emoji string) error {
	return c.Conn.React(c.Ctx, c.Msg.Key, emoji)
}

// SaveConfig persists c.Config for the bot's Number.
func (c *Context) SaveConfig() error {
	return c.store.SaveConfig(c.Ctx, c.Number, *c.Config)
}

// GroupInfo fetches the chat's group metadata once per message.
func (c *Context) GroupInfo() (*whatsapp.GroupInfo, error) {
	if !c.IsGroup {
		return nil, nil
	}
	if !c.groupDone {
		c.group, c.groupErr = c.Conn.GroupInfo(c.Ctx, c.Chat)
		c.groupDone = true
	}
	return c.group, c.groupErr
}

// SenderIsAdmin reports whether the sender administers the group.
func (c *Context) SenderIsAdmin() bool {
	g, err := c.GroupInfo()
	return err == nil && g != nil && g.IsAdmin(c.Sender)
}

// BotIsAdmin reports whether the bot administers the group.
func (c *Context) BotIsAdmin() bool {
	g, err := c.GroupInfo()
	return err == nil && g != nil && g.IsAdmin(c.Conn.SelfJID())
}

// Target picks the user a moderation command applies to: the author of a
// quoted message, then the first mention, then an argument that looks like a
// number.
func (c *Context) Target() string {
	if c.Msg.QuotedSender != "" {
		return c.Msg.QuotedSender
	}
	if len(c.Msg.Mentions) > 0 {
		return c.Msg.Mentions[0]
	}
	for _, a := range c.Args {
		if n := phone.Normalize(a); len(n) >= 6 {
			return phone.JID(n)
		}
	}
	return ""
}
