package bus

import (
	"context"

	"github.com/haasonsaas/agentos/pkg/models"
)

// Handler processes a delivered envelope. A nil return acknowledges the
// message; an error requests redelivery where the transport supports it.
type Handler func(ctx context.Context, env *models.Envelope) error

// Subscription is a cancellable subscription.
type Subscription interface {
	Unsubscribe() error
}

// Conn is the message bus surface the rest of the system depends on.
// The production implementation speaks NATS JetStream; tests use the
// in-memory bus.
type Conn interface {
	// Publish sends an envelope through the durable workqueue path.
	Publish(ctx context.Context, subject string, env *models.Envelope) error

	// PublishCore sends an envelope without durability, for reply-to
	// correlated inboxes.
	PublishCore(ctx context.Context, subject string, env *models.Envelope) error

	// Subscribe delivers envelopes on subject to handler. A non-empty
	// queueGroup load-balances across subscribers sharing the group.
	Subscribe(subject, queueGroup string, handler Handler) (Subscription, error)

	// NewInbox returns a unique private subject for reply correlation.
	NewInbox() string

	// Close tears the connection down.
	Close() error
}
