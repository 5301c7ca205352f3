// Package plugins holds the built-in command set.
package plugins

import (
	"context"
	"time"

	"github.com/whatsapp-automation/gateway/internal/clock"
	"github.com/whatsapp-automation/gateway/internal/dispatch"
)

// WarnStore keeps anti-link warning counters per (group, user).
type WarnStore interface {
	IncrementWarn(ctx context.Context, group, user string) (int, error)
	ResetWarn(ctx context.Context, group, user string) (bool, error)
}

type Deps struct {
	Warns    WarnStore
	Clock    clock.Clock
	Started  time.Time
	WorkType string
}

// Register adds every built-in plugin to reg and returns the command names
// it registered.
func Register(reg *dispatch.Registry, deps Deps) ([]string, error) {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Started.IsZero() {
		deps.Started = deps.Clock.Now()
	}

	var all []dispatch.Plugin
	all = append(all, mainPlugins(deps)...)
	all = append(all, antiLinkPlugins(deps)...)
	all = append(all, settingsPlugins()...)
	all = append(all, groupPlugins()...)

	var names []string
	for _, p := range all {
		if err := reg.Register(p); err != nil {
			return nil, err
		}
		if !p.OnBody {
			names = append(names, p.Pattern)
		}
	}
	return names, nil
}
