// Package channels connects external messaging surfaces to the gateway.
// Adapters produce inbound messages; the binding resolver picks the
// agent that should handle each one; replies flow back through the
// originating adapter.
package channels

import (
	"sync"
)

// Binding routes messages matching its filters to an agent. Empty
// filter fields match anything; non-empty fields must match exactly.
type Binding struct {
	AgentID string `json:"agent_id" yaml:"agent_id"`

	Peer    string `json:"peer,omitempty" yaml:"peer,omitempty"`
	Channel string `json:"channel,omitempty" yaml:"channel,omitempty"`
	Team    string `json:"team,omitempty" yaml:"team,omitempty"`
	Account string `json:"account,omitempty" yaml:"account,omitempty"`

	// Priority is the base score before filter bonuses.
	Priority int `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// MatchContext is the inbound message identity a binding is scored
// against.
type MatchContext struct {
	Peer    string
	Channel string
	Team    string
	Account string
}

// Resolver scores bindings against inbound messages. Registration order
// breaks ties, so deterministic configuration gives deterministic
// routing.
type Resolver struct {
	mu       sync.RWMutex
	bindings []*Binding
}

// NewResolver creates an empty binding resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Add registers a binding. Order of registration is significant.
func (r *Resolver) Add(b *Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings = append(r.bindings, b)
}

// Resolve returns the best-scoring binding for the message, or the
// default-channel fallback, or nil when nothing applies.
//
// Score = priority + 4 per peer match + 2 per team match + 2 per account
// match + 1 per channel match. A binding with a filter that contradicts
// the message is excluded outright.
func (r *Resolver) Resolve(mc MatchContext) *Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Binding
	bestScore := -1
	for _, b := range r.bindings {
		score, ok := score(b, mc)
		if !ok {
			continue
		}
		if score > bestScore {
			best, bestScore = b, score
		}
	}
	if best != nil {
		return best
	}

	for _, b := range r.bindings {
		if b.Channel == "default" {
			return b
		}
	}
	return nil
}

func score(b *Binding, mc MatchContext) (int, bool) {
	s := b.Priority
	if b.Peer != "" {
		if b.Peer != mc.Peer {
			return 0, false
		}
		s += 4
	}
	if b.Team != "" {
		if b.Team != mc.Team {
			return 0, false
		}
		s += 2
	}
	if b.Account != "" {
		if b.Account != mc.Account {
			return 0, false
		}
		s += 2
	}
	if b.Channel != "" && b.Channel != "default" {
		if b.Channel != mc.Channel {
			return 0, false
		}
		s += 1
	}
	return s, true
}
