package channels

import (
	"context"
)

// InboundMessage is a message arriving from an external surface.
type InboundMessage struct {
	Channel string // adapter type, e.g. "web", "slack"
	Peer    string // platform sender ID
	Team    string
	Account string
	Text    string

	Metadata map[string]string
}

// OutboundMessage is a reply heading back to an external surface.
type OutboundMessage struct {
	Channel string
	Peer    string
	Text    string
	IsError bool
}

// Adapter is one external messaging surface. Implementations own their
// platform connection; the manager owns routing.
type Adapter interface {
	// Type names the channel this adapter serves.
	Type() string

	// Start connects and begins producing inbound messages.
	Start(ctx context.Context) error

	// Stop disconnects. The Messages channel closes on stop.
	Stop(ctx context.Context) error

	// Send delivers a reply to the platform.
	Send(ctx context.Context, msg *OutboundMessage) error

	// Messages is the inbound stream.
	Messages() <-chan *InboundMessage
}
