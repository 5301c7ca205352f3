package dispatch

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Handler runs one command invocation.
type Handler func(c *Context) error

// Plugin describes a command and the gates the dispatcher applies before
// running it.
type Plugin struct {
	Pattern  string
	Alias    []string
	Category string
	Desc     string
	// React is sent as a reaction to the triggering message before Handler runs.
	React string

	OwnerOnly bool
	GroupOnly bool
	// AdminOnly requires the sender to be a group admin (owners pass too).
	AdminOnly bool
	// BotAdmin requires the bot itself to be a group admin.
	BotAdmin bool

	// OnBody subscribes Handler to every non-prefixed message body instead of
	// a command name. Pattern is used for logging only.
	OnBody bool

	Handler Handler
}

// Registry holds the registered plugins.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*Plugin
	byAlias map[string]*Plugin
	order   []*Plugin
	body    []*Plugin
}

func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]*Plugin),
		byAlias: make(map[string]*Plugin),
	}
}

// Register adds p. Names and aliases are case-insensitive; a name may be
// registered once and an alias claimed by one plugin only.
func (r *Registry) Register(p Plugin) error {
	if p.Handler == nil {
		return fmt.Errorf("plugin %q has no handler", p.Pattern)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	pp := &p
	if p.OnBody {
		r.body = append(r.body, pp)
		return nil
	}

	name := strings.ToLower(strings.TrimSpace(p.Pattern))
	if name == "" {
		return fmt.Errorf("plugin has no pattern")
	}
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("command %q already registered", name)
	}
	aliases := make([]string, 0, len(p.Alias))
	for _, a := range p.Alias {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" || a == name {
			continue
		}
		if _, dup := r.byAlias[a]; dup {
			return fmt.Errorf("alias %q already registered", a)
		}
		aliases = append(aliases, a)
	}

	pp.Pattern = name
	pp.Alias = aliases
	r.byName[name] = pp
	for _, a := range aliases {
		r.byAlias[a] = pp
	}
	r.order = append(r.order, pp)
	return nil
}

// MustRegister is Register that panics, for static plugin tables.
func (r *Registry) MustRegister(p Plugin) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

// Lookup finds a command by primary name first, then by alias.
func (r *Registry) Lookup(name string) (*Plugin, bool) {
	name = strings.ToLower(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.byName[name]; ok {
		return p, true
	}
	p, ok := r.byAlias[name]
	return p, ok
}

// Commands returns every command plugin sorted by category, then name.
func (r *Registry) Commands() []*Plugin {
	r.mu.RLock()
	out := append([]*Plugin(nil), r.order...)
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Pattern < out[j].Pattern
	})
	return out
}

// BodyHandlers returns the plugins subscribed to every message body, in
// registration order.
func (r *Registry) BodyHandlers() []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Plugin(nil), r.body...)
}
