package plugins

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/whatsapp-automation/gateway/internal/clock"
	"github.com/whatsapp-automation/gateway/internal/config"
	"github.com/whatsapp-automation/gateway/internal/dispatch"
	"github.com/whatsapp-automation/gateway/internal/phone"
	"github.com/whatsapp-automation/gateway/internal/session"
	"github.com/whatsapp-automation/gateway/internal/store"
	"github.com/whatsapp-automation/gateway/internal/whatsapp"
	"github.com/whatsapp-automation/gateway/internal/whatsapp/whatsapptest"
)

const (
	botNumber = "15550001111"
	adminJID  = "15550002222@s.whatsapp.net"
	memberJID = "15550003333@s.whatsapp.net"
	groupJID  = "120363000000000001@g.us"
)

type PluginSuite struct {
	suite.Suite
	ctx   context.Context
	store *store.Store
	conn  *whatsapptest.Conn
	sess  *session.Session
	disp  *dispatch.Dispatcher
	names []string
}

func TestPluginSuite(t *testing.T) {
	suite.Run(t, new(PluginSuite))
}

func (s *PluginSuite) SetupTest() {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	entry := logrus.NewEntry(log)

	st, err := store.Open(config.DBConfig{
		Driver: config.DriverSQLite,
		DSN:    filepath.Join(s.T().TempDir(), "plugins.db"),
	}, entry)
	s.Require().NoError(err)
	s.store = st
	s.ctx = context.Background()

	clk := clock.NewFake(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	reg := dispatch.NewRegistry()
	s.names, err = Register(reg, Deps{Warns: st, Clock: clk, WorkType: config.WorkPublic})
	s.Require().NoError(err)

	s.conn = whatsapptest.NewConn(botNumber)
	s.conn.Groups[groupJID] = &whatsapp.GroupInfo{
		JID:  groupJID,
		Name: "Gophers",
		Participants: []whatsapp.GroupParticipant{
			{JID: phone.JID(botNumber), IsAdmin: true},
			{JID: adminJID, IsAdmin: true},
			{JID: memberJID},
		},
	}
	s.sess = session.NewSession(s.ctx, botNumber, s.conn)
	s.disp = dispatch.New(reg, st, dispatch.Options{Prefix: ".", BotName: "Test Bot"}, entry)
}

func (s *PluginSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func (s *PluginSuite) send(msg *whatsapp.Message) {
	s.disp.HandleMessage(s.sess, msg)
}

func (s *PluginSuite) ownerSays(body string) {
	s.send(&whatsapp.Message{
		Key:  whatsapp.MessageKey{Chat: phone.JID(botNumber), ID: "o", FromMe: true},
		Body: body,
	})
}

func (s *PluginSuite) groupSays(sender, body string) *whatsapp.Message {
	msg := &whatsapp.Message{
		Key:     whatsapp.MessageKey{Chat: groupJID, Sender: sender, ID: "g-" + body},
		Body:    body,
		IsGroup: true,
	}
	s.send(msg)
	return msg
}

func (s *PluginSuite) lastText() string {
	sent := s.conn.Sent()
	s.Require().NotEmpty(sent)
	return sent[len(sent)-1].Text
}

func (s *PluginSuite) config() store.FeatureConfig {
	cfg, err := s.store.GetConfig(s.ctx, botNumber)
	s.Require().NoError(err)
	return cfg
}

func (s *PluginSuite) TestRegisteredCommands() {
	for _, name := range []string{"ping", "menu", "antilink", "resetwarn", "autotyping", "autorecording",
		"autoreact", "anticall", "readmessage", "autoviewstatus", "autolikestatus", "welcome", "goodbye",
		"kick", "promote", "demote"} {
		s.Contains(s.names, name)
	}
	s.NotContains(s.names, "antilink-guard")
}

func (s *PluginSuite) TestPing() {
	s.ownerSays(".ping")
	s.Equal("🚀 *Pong:* 0ms", s.lastText())
	s.Len(s.conn.Reactions(), 1)
}

func (s *PluginSuite) TestMenuListsCommandsByCategory() {
	s.ownerSays(".help")
	menu := s.lastText()
	s.Contains(menu, "Test Bot")
	s.Contains(menu, "*ADMIN*")
	s.Contains(menu, "*SETTINGS*")
	s.Contains(menu, "`.kick`")
	s.Contains(menu, "`.ping`")
	s.NotContains(menu, "antilink-guard")
}

func (s *PluginSuite) TestToggleRequiresOwner() {
	s.send(&whatsapp.Message{
		Key:  whatsapp.MessageKey{Chat: memberJID, Sender: memberJID, ID: "x"},
		Body: ".autotyping on",
	})
	s.Contains(s.lastText(), "Only the owner")
	s.False(s.config().AutoTyping)
}

func (s *PluginSuite) TestToggles() {
	s.ownerSays(".autotyping on")
	s.Equal("✅ Auto typing on for 15550001111.", s.lastText())
	s.ownerSays(".anti-call on")
	s.ownerSays(".autoreact maybe")
	s.Contains(s.lastText(), "Current Status: OFF")

	cfg := s.config()
	s.True(cfg.AutoTyping)
	s.True(cfg.AntiCall)
	s.False(cfg.AutoReact)

	s.ownerSays(".autotyping off")
	s.False(s.config().AutoTyping)
}

func (s *PluginSuite) TestWelcomeIsGroupScopedInGroups() {
	s.ownerSays(".welcome on")
	s.groupSays(phone.JID(botNumber), ".welcome off")
	s.Equal("✅ Welcome messages off for this group.", s.lastText())

	cfg := s.config()
	s.True(cfg.WelcomeEnable)
	s.False(cfg.WelcomeFor(groupJID))
	s.True(cfg.WelcomeFor("other@g.us"))
}

func (s *PluginSuite) TestAntiLinkCommand() {
	s.groupSays(memberJID, ".antilink kick")
	s.Contains(s.lastText(), "Only group admins")

	s.groupSays(adminJID, ".antilink")
	s.Contains(s.lastText(), "Current Mode: *OFF*")

	s.groupSays(adminJID, ".antilink kick")
	cfg := s.config()
	s.True(cfg.AntiLink)
	s.Equal(store.AntiLinkModeKick, cfg.AntiLinkMode)

	s.groupSays(adminJID, ".antilink bogus")
	s.Contains(s.lastText(), "Invalid option")

	s.groupSays(adminJID, ".antilink off")
	s.False(s.config().AntiLink)
}

func (s *PluginSuite) TestWarnModeKicksAtThreshold() {
	s.groupSays(adminJID, ".antilink warn")

	s.groupSays(memberJID, "join https://chat.whatsapp.com/abc")
	s.Contains(s.lastText(), "*[1/3]*")
	s.groupSays(memberJID, "see www.example.com")
	s.Contains(s.lastText(), "*[2/3]*")
	s.Empty(s.conn.ParticipantUpdates())

	s.groupSays(memberJID, "last one wa.me/123")
	s.Contains(s.lastText(), "removed after 3 link warnings")
	s.Equal([]whatsapptest.ParticipantUpdate{
		{Group: groupJID, Users: []string{memberJID}, Action: whatsapp.ParticipantRemove},
	}, s.conn.ParticipantUpdates())
	s.Len(s.conn.Deleted(), 3)

	count, err := s.store.WarnCount(s.ctx, groupJID, memberJID)
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *PluginSuite) TestGuardIgnoresAdminsAndCleanText() {
	s.groupSays(adminJID, ".antilink delete")
	before := len(s.conn.Sent())

	s.groupSays(adminJID, "https://example.com/admin-link")
	s.groupSays(memberJID, "no links here")

	s.Len(s.conn.Sent(), before)
	s.Empty(s.conn.Deleted())
}

func (s *PluginSuite) TestDeleteMode() {
	s.groupSays(adminJID, ".antilink delete")
	msg := s.groupSays(memberJID, "https://youtu.be/xyz")

	s.Equal([]whatsapp.MessageKey{msg.Key}, s.conn.Deleted())
	s.Contains(s.lastText(), "Message deleted")
	s.Empty(s.conn.ParticipantUpdates())
}

func (s *PluginSuite) TestResetWarnTargets() {
	_, err := s.store.IncrementWarn(s.ctx, groupJID, memberJID)
	s.Require().NoError(err)

	s.groupSays(adminJID, ".resetwarn")
	s.Contains(s.lastText(), "Please quote a message")

	s.groupSays(adminJID, ".resetwarn @15550003333")
	s.Equal("✅ Anti-link warns reset for @15550003333", s.lastText())

	count, err := s.store.WarnCount(s.ctx, groupJID, memberJID)
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *PluginSuite) TestKickUsesTarget() {
	s.send(&whatsapp.Message{
		Key:          whatsapp.MessageKey{Chat: groupJID, Sender: adminJID, ID: "k"},
		Body:         ".remove",
		IsGroup:      true,
		QuotedSender: memberJID,
	})
	s.Equal([]whatsapptest.ParticipantUpdate{
		{Group: groupJID, Users: []string{memberJID}, Action: whatsapp.ParticipantRemove},
	}, s.conn.ParticipantUpdates())
	s.Contains(s.lastText(), "@15550003333")

	s.groupSays(adminJID, ".promote")
	s.Contains(s.lastText(), "Please tag, reply, or provide a number to promote")

	s.groupSays(adminJID, ".demote 15550001111")
	s.Equal("❌ The bot cannot demote itself.", s.lastText())
}

func TestContainsLink(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"https://chat.whatsapp.com/AbC", true},
		{"hit me up on t.me/someone", true},
		{"WWW.EXAMPLE.COM", true},
		{"http://foo.bar/baz", true},
		{"plain text", false},
		{"version 1.2.3", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ContainsLink(tt.text), tt.text)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	reg := dispatch.NewRegistry()
	_, err := Register(reg, Deps{})
	require.NoError(t, err)
	_, err = Register(reg, Deps{})
	assert.Error(t, err)
}
