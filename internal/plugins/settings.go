package plugins

import (
	"fmt"

	"github.com/whatsapp-automation/gateway/internal/dispatch"
	"github.com/whatsapp-automation/gateway/internal/store"
)

type toggle struct {
	pattern string
	alias   []string
	label   string
	get     func(*store.FeatureConfig) bool
	set     func(*store.FeatureConfig, bool)
}

var toggles = []toggle{
	{"autotyping", []string{"auto-typing"}, "Auto typing",
		func(c *store.FeatureConfig) bool { return c.AutoTyping },
		func(c *store.FeatureConfig, on bool) { c.AutoTyping = on }},
	{"autorecording", []string{"auto-recording"}, "Auto recording",
		func(c *store.FeatureConfig) bool { return c.AutoRecording },
		func(c *store.FeatureConfig, on bool) { c.AutoRecording = on }},
	{"autoreact", []string{"auto-react"}, "Auto react",
		func(c *store.FeatureConfig) bool { return c.AutoReact },
		func(c *store.FeatureConfig, on bool) { c.AutoReact = on }},
	{"anticall", []string{"anti-call"}, "Anti-call",
		func(c *store.FeatureConfig) bool { return c.AntiCall },
		func(c *store.FeatureConfig, on bool) { c.AntiCall = on }},
	{"readmessage", []string{"read-message", "autoread"}, "Read receipts",
		func(c *store.FeatureConfig) bool { return c.ReadMessage },
		func(c *store.FeatureConfig, on bool) { c.ReadMessage = on }},
	{"autoviewstatus", []string{"auto-seen", "autostatusview"}, "Auto status view",
		func(c *store.FeatureConfig) bool { return c.AutoViewStatus },
		func(c *store.FeatureConfig, on bool) { c.AutoViewStatus = on }},
	{"autolikestatus", []string{"status-react", "statusreaction"}, "Auto status like",
		func(c *store.FeatureConfig) bool { return c.AutoLikeStatus },
		func(c *store.FeatureConfig, on bool) { c.AutoLikeStatus = on }},
	{"autostatusreply", []string{"status-reply"}, "Auto status reply",
		func(c *store.FeatureConfig) bool { return c.AutoStatusReply },
		func(c *store.FeatureConfig, on bool) { c.AutoStatusReply = on }},
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func settingsPlugins() []dispatch.Plugin {
	out := make([]dispatch.Plugin, 0, len(toggles)+2)
	for _, t := range toggles {
		t := t
		out = append(out, dispatch.Plugin{
			Pattern:   t.pattern,
			Alias:     t.alias,
			Category:  "settings",
			Desc:      "Turn " + t.label + " on or off",
			OwnerOnly: true,
			Handler: func(c *dispatch.Context) error {
				status := c.Arg(0)
				if status != "on" && status != "off" {
					return c.Reply(fmt.Sprintf("*🫟 Current Status: %s*\n\n*Example: %s%s on*", onOff(t.get(c.Config)), c.Prefix, t.pattern))
				}
				t.set(c.Config, status == "on")
				if err := c.SaveConfig(); err != nil {
					_ = c.Reply(fmt.Sprintf("%s %s, but failed to update user config.", t.label, status))
					return err
				}
				return c.Reply(fmt.Sprintf("✅ %s %s for %s.", t.label, status, c.Number))
			},
		})
	}

	out = append(out,
		groupToggle("welcome", "Welcome messages",
			func(c *store.FeatureConfig) bool { return c.WelcomeEnable },
			func(c *store.FeatureConfig, group string) bool { return c.WelcomeFor(group) },
			func(c *store.FeatureConfig, on bool) { c.WelcomeEnable = on },
			(*store.FeatureConfig).SetGroupWelcome),
		groupToggle("goodbye", "Goodbye messages",
			func(c *store.FeatureConfig) bool { return c.GoodbyeEnable },
			func(c *store.FeatureConfig, group string) bool { return c.GoodbyeFor(group) },
			func(c *store.FeatureConfig, on bool) { c.GoodbyeEnable = on },
			(*store.FeatureConfig).SetGroupGoodbye),
	)
	return out
}

// groupToggle builds a switch that writes a per-group override when used in a
// group and the global flag otherwise.
func groupToggle(
	pattern, label string,
	global func(*store.FeatureConfig) bool,
	forGroup func(*store.FeatureConfig, string) bool,
	setGlobal func(*store.FeatureConfig, bool),
	setGroup func(*store.FeatureConfig, string, bool),
) dispatch.Plugin {
	return dispatch.Plugin{
		Pattern:   pattern,
		Category:  "settings",
		Desc:      label + " for new and departing members",
		OwnerOnly: true,
		Handler: func(c *dispatch.Context) error {
			status := c.Arg(0)
			if status != "on" && status != "off" {
				cur := global(c.Config)
				if c.IsGroup {
					cur = forGroup(c.Config, c.Chat)
				}
				return c.Reply(fmt.Sprintf("*🫟 Current Status: %s*\n\n_Example: %s%s on_", onOff(cur), c.Prefix, pattern))
			}
			on := status == "on"
			scope := "for " + c.Number
			if c.IsGroup {
				setGroup(c.Config, c.Chat, on)
				scope = "for this group"
			} else {
				setGlobal(c.Config, on)
			}
			if err := c.SaveConfig(); err != nil {
				_ = c.Reply(fmt.Sprintf("%s %s, but failed to update user config.", label, status))
				return err
			}
			return c.Reply(fmt.Sprintf("✅ %s %s %s.", label, status, scope))
		},
	}
}
