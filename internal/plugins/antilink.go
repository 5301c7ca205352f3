package plugins

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/whatsapp-automation/gateway/internal/dispatch"
	"github.com/whatsapp-automation/gateway/internal/phone"
	"github.com/whatsapp-automation/gateway/internal/store"
	"github.com/whatsapp-automation/gateway/internal/whatsapp"
)

// WarnThreshold is the number of link warnings after which a user is removed.
const WarnThreshold = 3

var linkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:https?://)?(?:www\.)?chat\.whatsapp\.com/\S+`),
	regexp.MustCompile(`(?i)\b(?:https?://)?wa\.me/\S+`),
	regexp.MustCompile(`(?i)\b(?:https?://)?(?:t\.me|telegram\.me)/\S+`),
	regexp.MustCompile(`(?i)\b(?:https?://)?(?:www\.)?youtube\.com/\S+`),
	regexp.MustCompile(`(?i)\b(?:https?://)?youtu\.be/\S+`),
	regexp.MustCompile(`(?i)\b(?:https?://)?(?:www\.)?facebook\.com/\S+`),
	regexp.MustCompile(`(?i)\b(?:https?://)?fb\.me/\S+`),
	regexp.MustCompile(`(?i)\b(?:https?://)?(?:www\.)?instagram\.com/\S+`),
	regexp.MustCompile(`(?i)\b(?:https?://)?(?:www\.)?twitter\.com/\S+`),
	regexp.MustCompile(`(?i)\b(?:https?://)?(?:www\.)?tiktok\.com/\S+`),
	regexp.MustCompile(`(?i)\b(?:https?://)?(?:www\.)?linkedin\.com/\S+`),
	regexp.MustCompile(`(?i)\b(?:https?://)?(?:www\.)?snapchat\.com/\S+`),
	regexp.MustCompile(`(?i)\b(?:https?://)?(?:www\.)?pinterest\.com/\S+`),
	regexp.MustCompile(`(?i)\b(?:https?://)?(?:www\.)?reddit\.com/\S+`),
	regexp.MustCompile(`(?i)\b(?:https?://)?(?:www\.)?discord\.com/\S+`),
	regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+\.\S+`),
}

// ContainsLink reports whether text carries a URL or an invite link.
func ContainsLink(text string) bool {
	for _, re := range linkPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func antiLinkPlugins(deps Deps) []dispatch.Plugin {
	return []dispatch.Plugin{
		{
			Pattern:   "antilink",
			Category:  "settings",
			Desc:      "Configure anti-link settings",
			AdminOnly: true,
			Handler:   antiLinkCommand,
		},
		{
			Pattern:   "resetwarn",
			Category:  "settings",
			Desc:      "Reset anti-link warns for a user",
			AdminOnly: true,
			Handler: func(c *dispatch.Context) error {
				return resetWarn(c, deps.Warns)
			},
		},
		{
			Pattern: "antilink-guard",
			OnBody:  true,
			Handler: func(c *dispatch.Context) error {
				return guardLinks(c, deps.Warns)
			},
		},
	}
}

func antiLinkCommand(c *dispatch.Context) error {
	current := "OFF"
	if c.Config.AntiLink {
		current = strings.ToUpper(c.Config.AntiLinkMode)
	}

	option := c.Arg(0)
	switch option {
	case "":
		return c.Reply(fmt.Sprintf("🛡️ *ANTI-LINK SETTINGS*\n\n"+
			"1️⃣ Warn\n2️⃣ Delete message\n3️⃣ Kick user\n4️⃣ Off\n\n"+
			"📌 Commands:\n%[1]santilink warn\n%[1]santilink delete\n%[1]santilink kick\n%[1]santilink off\n\n"+
			"⚙️ Current Mode: *%[2]s*", c.Prefix, current))
	case "off":
		c.Config.AntiLink = false
		if err := c.SaveConfig(); err != nil {
			_ = c.Reply("⚠️ Failed to update setting.")
			return err
		}
		return c.Reply("❎ Anti-Link disabled for this bot number.")
	case store.AntiLinkModeWarn, store.AntiLinkModeDelete, store.AntiLinkModeKick:
		c.Config.AntiLink = true
		c.Config.AntiLinkMode = option
		if err := c.SaveConfig(); err != nil {
			_ = c.Reply("⚠️ Failed to update setting.")
			return err
		}
		return c.Reply(fmt.Sprintf("✅ Anti-Link set to *%s* and enabled for this bot number.", strings.ToUpper(option)))
	default:
		return c.Reply("❌ Invalid option.\nUse: warn | delete | kick | off")
	}
}

// resetTarget resolves the user: quoted author, then an "@number" argument,
// then the first mention.
func resetTarget(c *dispatch.Context) string {
	if c.Msg.QuotedSender != "" {
		return c.Msg.QuotedSender
	}
	if len(c.Args) > 0 && strings.HasPrefix(c.Args[0], "@") {
		if n := phone.Normalize(c.Args[0]); n != "" {
			return phone.JID(n)
		}
	}
	if len(c.Msg.Mentions) > 0 {
		return c.Msg.Mentions[0]
	}
	return ""
}

func resetWarn(c *dispatch.Context, warns WarnStore) error {
	target := resetTarget(c)
	if target == "" {
		return c.Reply(fmt.Sprintf("❌ Please quote a message or use %sresetwarn @user", c.Prefix))
	}
	if _, err := warns.ResetWarn(c.Ctx, c.Chat, target); err != nil {
		_ = c.Reply("⚠️ Failed to reset warns.")
		return err
	}
	return c.Reply(fmt.Sprintf("✅ Anti-link warns reset for @%s", phone.FromJID(target)), target)
}

// guardLinks enforces ANTI_LINK on ordinary group messages. Admins are exempt
// and nothing happens unless the bot can moderate the group.
func guardLinks(c *dispatch.Context, warns WarnStore) error {
	if !c.IsGroup || !c.Config.AntiLink || !ContainsLink(c.Body) {
		return nil
	}
	if c.SenderIsAdmin() || !c.BotIsAdmin() {
		return nil
	}

	user := "@" + phone.FromJID(c.Sender)
	if err := c.Conn.DeleteMessage(c.Ctx, c.Msg.Key); err != nil {
		return fmt.Errorf("delete link message: %w", err)
	}

	switch c.Config.AntiLinkMode {
	case store.AntiLinkModeDelete:
		return c.Reply("🗑️ Message deleted.\nLinks are not allowed here.")

	case store.AntiLinkModeKick:
		if err := c.Reply(fmt.Sprintf("🚪 %s removed.\nReason: Sending links.", user), c.Sender); err != nil {
			return err
		}
		return c.Conn.UpdateParticipants(c.Ctx, c.Chat, []string{c.Sender}, whatsapp.ParticipantRemove)

	default:
		count, err := warns.IncrementWarn(c.Ctx, c.Chat, c.Sender)
		if err != nil {
			return fmt.Errorf("increment warn: %w", err)
		}
		if count < WarnThreshold {
			return c.Reply(fmt.Sprintf("⚠️ Warning %s\nLinks are not allowed in this group.\n\n*[%d/%d]*", user, count, WarnThreshold), c.Sender)
		}
		if err := c.Reply(fmt.Sprintf("🚪 %s removed after %d link warnings.\n\nReason: Repeatedly sending links.", user, WarnThreshold), c.Sender); err != nil {
			return err
		}
		if err := c.Conn.UpdateParticipants(c.Ctx, c.Chat, []string{c.Sender}, whatsapp.ParticipantRemove); err != nil {
			return err
		}
		_, err = warns.ResetWarn(c.Ctx, c.Chat, c.Sender)
		return err
	}
}
