package plugins

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/whatsapp-automation/gateway/internal/config"
	"github.com/whatsapp-automation/gateway/internal/dispatch"
)

func mainPlugins(deps Deps) []dispatch.Plugin {
	return []dispatch.Plugin{
		{
			Pattern:  "ping",
			Category: "main",
			Desc:     "Check bot speed",
			Handler: func(c *dispatch.Context) error {
				start := deps.Clock.Now()
				if err := c.React("📍"); err != nil {
					return err
				}
				speed := deps.Clock.Now().Sub(start).Milliseconds()
				return c.Reply(fmt.Sprintf("🚀 *Pong:* %dms", speed))
			},
		},
		{
			Pattern:  "menu",
			Alias:    []string{"help", "list"},
			Category: "main",
			Desc:     "Show the command list",
			React:    "✅",
			Handler: func(c *dispatch.Context) error {
				return c.Reply(renderMenu(c, deps))
			},
		},
	}
}

func renderMenu(c *dispatch.Context, deps Deps) string {
	mode := "PUBLIC"
	if deps.WorkType == config.WorkPrivate {
		mode = "PRIVATE"
	}
	user := c.Msg.PushName
	if user == "" {
		user = "User"
	}
	name := c.BotName
	if name == "" {
		name = "Gateway Bot"
	}
	cmds := c.Plugins.Commands()

	var b strings.Builder
	fmt.Fprintf(&b, "╭══〘 *%s* 〙══⊷\n", name)
	fmt.Fprintf(&b, "┃❍ *Mode:* `%s`\n", mode)
	fmt.Fprintf(&b, "┃❍ *User:* `%s`\n", user)
	fmt.Fprintf(&b, "┃❍ *Plugins:* `%d`\n", len(cmds))
	fmt.Fprintf(&b, "┃❍ *Up since:* `%s`\n", humanize.RelTime(deps.Started, deps.Clock.Now(), "ago", "from now"))
	b.WriteString("╰═════════════════⊷\n\n*Command List ⤵*")

	category := ""
	for _, p := range cmds {
		if p.Category != category {
			if category != "" {
				b.WriteString("╰━━━━━━━━━━━━━━━━━⊷")
			}
			category = p.Category
			fmt.Fprintf(&b, "\n\n╭━━━━❮ *%s* ❯━⊷\n", strings.ToUpper(category))
		}
		fmt.Fprintf(&b, "┃✞︎ `%s%s`\n", c.Prefix, p.Pattern)
	}
	if category != "" {
		b.WriteString("╰━━━━━━━━━━━━━━━━━⊷")
	}
	fmt.Fprintf(&b, "\n\n> *%s*", name)
	return b.String()
}
