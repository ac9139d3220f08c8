package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of envelope flowing through the bus.
type EventType string

const (
	EventTaskRequest  EventType = "task.request"
	EventTaskResponse EventType = "task.response"
	EventTaskDone     EventType = "task.done"
	EventTaskError    EventType = "task.error"
	EventToolInvoke   EventType = "tool.invoke"
)

// Terminal reports whether the event type ends a request/response interaction.
func (t EventType) Terminal() bool {
	return t == EventTaskDone || t == EventTaskError
}

// Envelope is the CloudEvents-shaped wrapper around every bus message.
//
// Every message entering or leaving the platform is an Envelope: channel
// adapters wrap inbound chat messages, agents emit response envelopes, and
// the gateway correlates replies by CorrelationID. The envelope is the only
// wire format the bus and the WebSocket server understand.
type Envelope struct {
	// ID uniquely identifies this message. IDs are UUIDv7 so they sort
	// by creation time.
	ID string `json:"id"`

	// Type is the event type (task.request, task.response, ...).
	Type EventType `json:"type"`

	// Source identifies the sender as a URI: agent://<id>,
	// gateway://<node>, or channel://<type>/<sender>.
	Source string `json:"source"`

	// Target identifies the recipient as a URI: agent://<id> or
	// topic://<name>.
	Target string `json:"target"`

	// Time is the creation timestamp (RFC 3339 on the wire).
	Time time.Time `json:"time"`

	// Data is the opaque payload.
	Data json.RawMessage `json:"data,omitempty"`

	// CorrelationID groups all envelopes belonging to one interaction.
	// When absent on a response it defaults to the request's ID.
	CorrelationID string `json:"correlationId,omitempty"`

	// CausationID names the envelope that directly caused this one.
	CausationID string `json:"causationId,omitempty"`

	// ReplyTo is a bus subject the recipient should stream replies to.
	ReplyTo string `json:"replyTo,omitempty"`

	// IdempotencyKey deduplicates retries. Falls back to ID when empty.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`

	// SequenceNumber orders envelopes within a lane when set.
	SequenceNumber int64 `json:"sequenceNumber,omitempty"`

	// TTL is the message time-to-live in milliseconds. Zero means no limit.
	TTL int64 `json:"ttl,omitempty"`

	// TraceContext carries the W3C traceparent header value.
	TraceContext string `json:"traceContext,omitempty"`

	// Metadata holds small string key/value routing hints
	// (channel id, user id, team, account).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewEnvelope creates an envelope with a fresh time-ordered ID.
func NewEnvelope(typ EventType, source, target string) *Envelope {
	return &Envelope{
		ID:     NewID(),
		Type:   typ,
		Source: source,
		Target: target,
		Time:   time.Now().UTC(),
	}
}

// NewID mints a UUIDv7. V7 IDs embed a millisecond timestamp so they are
// monotonically orderable across the cluster. Falls back to v4 if the
// random source fails.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// DedupeKey returns the key the idempotency store uses for this envelope.
func (e *Envelope) DedupeKey() string {
	if e.IdempotencyKey != "" {
		return e.IdempotencyKey
	}
	return e.ID
}

// Correlation returns the effective correlation ID: the explicit one if
// set, otherwise the envelope's own ID.
func (e *Envelope) Correlation() string {
	if e.CorrelationID != "" {
		return e.CorrelationID
	}
	return e.ID
}

// Reply builds a response envelope addressed back at the sender. The reply
// inherits the request's correlation ID (defaulting to the request ID) and
// records the request as its cause.
func (e *Envelope) Reply(typ EventType, source string, data any) (*Envelope, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return &Envelope{
		ID:            NewID(),
		Type:          typ,
		Source:        source,
		Target:        e.Source,
		Time:          time.Now().UTC(),
		Data:          raw,
		CorrelationID: e.Correlation(),
		CausationID:   e.ID,
		Metadata:      e.Metadata,
	}, nil
}
