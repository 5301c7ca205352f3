package plugins

import (
	"fmt"

	"github.com/whatsapp-automation/gateway/internal/dispatch"
	"github.com/whatsapp-automation/gateway/internal/phone"
	"github.com/whatsapp-automation/gateway/internal/whatsapp"
)

func groupPlugins() []dispatch.Plugin {
	return []dispatch.Plugin{
		moderation("kick", []string{"remove"}, "❌", "Removes a member from the group", whatsapp.ParticipantRemove,
			"kick", "✅ Successfully kicked @%s from the group."),
		moderation("promote", []string{"makeadmin"}, "⬆️", "Promotes a member to group admin", whatsapp.ParticipantPromote,
			"promote", "✅ Successfully promoted @%s to admin."),
		moderation("demote", []string{"unadmin"}, "⬇️", "Demotes a group admin", whatsapp.ParticipantDemote,
			"demote", "✅ Successfully demoted @%s."),
	}
}

func moderation(pattern string, alias []string, react, desc string, action whatsapp.ParticipantAction, verb, done string) dispatch.Plugin {
	return dispatch.Plugin{
		Pattern:   pattern,
		Alias:     alias,
		Category:  "admin",
		Desc:      desc,
		React:     react,
		GroupOnly: true,
		AdminOnly: true,
		BotAdmin:  true,
		Handler: func(c *dispatch.Context) error {
			target := c.Target()
			if target == "" {
				return c.Reply(fmt.Sprintf("❌ Please tag, reply, or provide a number to %s.", verb))
			}
			if phone.SameUser(target, c.Conn.SelfJID()) {
				return c.Reply(fmt.Sprintf("❌ The bot cannot %s itself.", verb))
			}
			if err := c.Conn.UpdateParticipants(c.Ctx, c.Chat, []string{target}, action); err != nil {
				_ = c.Reply(fmt.Sprintf("❌ Failed to %s the member.", verb))
				return err
			}
			return c.Reply(fmt.Sprintf(done, phone.FromJID(target)), target)
		},
	}
}
