// Package policy resolves layered tool allow/deny rules into the
// effective permitted set for one dispatch. Layers compose left-to-right
// (global, agent, binding); deny always wins, and later layers can only
// narrow what earlier layers permit.
package policy

import (
	"strings"
	"sync"
)

// Wildcard in an allow list permits every tool.
const Wildcard = "*"

// groupPrefix marks an alias that expands to a set of tool names.
const groupPrefix = "group:"

// Rules is one layer of allow/deny lists.
//
// A nil Allow slice means the layer does not constrain the allow set; an
// empty non-nil Allow means nothing is allowed.
type Rules struct {
	Allow []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty" yaml:"deny,omitempty"`
}

// Resolver expands group aliases and composes rule layers.
type Resolver struct {
	mu     sync.RWMutex
	groups map[string][]string
}

// NewResolver creates a resolver with the default group aliases.
func NewResolver() *Resolver {
	r := &Resolver{groups: make(map[string][]string)}
	r.DefineGroup("fs_read", []string{"read_file", "list_dir"})
	r.DefineGroup("fs_write", []string{"write_file"})
	r.DefineGroup("shell", []string{"bash"})
	r.DefineGroup("memory", []string{"memory_search", "memory_get"})
	r.DefineGroup("orchestration", []string{"agent_spawn", "agent_send", "broadcast", "pipeline", "supervisor"})
	return r
}

// DefineGroup registers or replaces a group alias.
func (r *Resolver) DefineGroup(name string, members []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[name] = append([]string(nil), members...)
}

// expand resolves group aliases in a rule list. Unknown groups expand to
// nothing.
func (r *Resolver) expand(list []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(list))
	for _, item := range list {
		if name, ok := strings.CutPrefix(item, groupPrefix); ok {
			out = append(out, r.groups[name]...)
			continue
		}
		out = append(out, item)
	}
	return out
}

// Effective is a resolved policy ready for membership checks.
type Effective struct {
	allowAll bool
	allowSet bool
	allow    map[string]struct{}
	deny     map[string]struct{}
}

// Resolve composes the layers left-to-right. Nil layers are skipped.
func (r *Resolver) Resolve(layers ...*Rules) *Effective {
	eff := &Effective{
		allow: make(map[string]struct{}),
		deny:  make(map[string]struct{}),
	}

	for _, layer := range layers {
		if layer == nil {
			continue
		}
		for _, name := range r.expand(layer.Deny) {
			eff.deny[name] = struct{}{}
		}
		if layer.Allow == nil {
			continue
		}

		expanded := r.expand(layer.Allow)
		wildcard := false
		set := make(map[string]struct{}, len(expanded))
		for _, name := range expanded {
			if name == Wildcard {
				wildcard = true
				continue
			}
			set[name] = struct{}{}
		}

		switch {
		case !eff.allowSet:
			eff.allowSet = true
			eff.allowAll = wildcard
			eff.allow = set
		case wildcard:
			// "*" is the universe; intersecting with it changes nothing.
		case eff.allowAll:
			// An explicit set replaces a wildcard from an earlier layer.
			eff.allowAll = false
			eff.allow = set
		default:
			for name := range eff.allow {
				if _, ok := set[name]; !ok {
					delete(eff.allow, name)
				}
			}
		}
	}
	return eff
}

// IsAllowed reports whether the tool survives the resolved policy:
// not denied, and either covered by a wildcard or explicitly allowed.
// A nil policy permits everything.
func (e *Effective) IsAllowed(tool string) bool {
	if e == nil {
		return true
	}
	if _, denied := e.deny[tool]; denied {
		return false
	}
	if !e.allowSet {
		return false
	}
	if e.allowAll {
		return true
	}
	_, ok := e.allow[tool]
	return ok
}

// Filter returns the subset of names the policy permits, preserving
// order.
func (e *Effective) Filter(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if e.IsAllowed(name) {
			out = append(out, name)
		}
	}
	return out
}
