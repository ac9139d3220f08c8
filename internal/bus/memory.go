package bus

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentos/pkg/models"
)

// MemoryBus is an in-process Conn with NATS subject semantics: token
// wildcards, queue-group load balancing, synchronous delivery. It backs
// tests and single-process deployments.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   []*memorySub
	rr     map[string]int
	closed bool
}

type memorySub struct {
	bus     *MemoryBus
	subject string
	group   string
	handler Handler
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{rr: make(map[string]int)}
}

// Publish delivers the envelope to all matching subscriptions, one
// member per queue group.
func (b *MemoryBus) Publish(ctx context.Context, subject string, env *models.Envelope) error {
	return b.deliver(ctx, subject, env)
}

// PublishCore is identical to Publish in process.
func (b *MemoryBus) PublishCore(ctx context.Context, subject string, env *models.Envelope) error {
	return b.deliver(ctx, subject, env)
}

func (b *MemoryBus) deliver(ctx context.Context, subject string, env *models.Envelope) error {
	b.mu.Lock()
	var direct []*memorySub
	groups := make(map[string][]*memorySub)
	for _, sub := range b.subs {
		if !subjectMatches(sub.subject, subject) {
			continue
		}
		if sub.group == "" {
			direct = append(direct, sub)
		} else {
			groups[sub.group] = append(groups[sub.group], sub)
		}
	}
	for group, members := range groups {
		pick := b.rr[group] % len(members)
		b.rr[group]++
		direct = append(direct, members[pick])
	}
	b.mu.Unlock()

	// Delivery happens outside the lock so handlers can publish.
	for _, sub := range direct {
		_ = sub.handler(ctx, env)
	}
	return nil
}

// Subscribe attaches a handler; wildcard subjects are supported.
func (b *MemoryBus) Subscribe(subject, queueGroup string, handler Handler) (Subscription, error) {
	sub := &memorySub{bus: b, subject: subject, group: queueGroup, handler: handler}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub, nil
}

func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	for i, sub := range s.bus.subs {
		if sub == s {
			s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
			break
		}
	}
	return nil
}

// NewInbox returns a unique private subject.
func (b *MemoryBus) NewInbox() string {
	return "_INBOX." + uuid.NewString()
}

// Close drops all subscriptions.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
	b.closed = true
	return nil
}

// subjectMatches applies NATS token matching: * matches one token,
// > matches the remainder.
func subjectMatches(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, tok := range pt {
		if tok == ">" {
			return i < len(st)
		}
		if i >= len(st) {
			return false
		}
		if tok != "*" && tok != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
