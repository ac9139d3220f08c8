package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/haasonsaas/agentos/pkg/models"
)

const (
	taskAckWait    = 30 * time.Second
	taskMaxDeliver = 5
)

// NATSConfig configures the JetStream-backed bus.
type NATSConfig struct {
	// URL is the NATS server address; empty uses the library default.
	URL string

	// Name identifies this connection to the server.
	Name string

	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// NATSBus is the production Conn backed by NATS JetStream.
type NATSBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *slog.Logger
}

// ConnectNATS dials the server and ensures the task and event streams
// exist.
func ConnectNATS(cfg NATSConfig) (*NATSBus, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "bus")

	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	opts := []nats.Option{
		nats.Timeout(timeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	b := &NATSBus{nc: nc, js: js, logger: logger}
	if err := b.ensureStreams(); err != nil {
		nc.Close()
		return nil, err
	}
	return b, nil
}

func (b *NATSBus) ensureStreams() error {
	streams := []*nats.StreamConfig{
		{
			Name:      TaskStream,
			Subjects:  []string{taskSubjectPattern},
			Retention: nats.WorkQueuePolicy,
			Storage:   nats.FileStorage,
		},
		{
			Name:      EventStream,
			Subjects:  []string{eventSubjectPattern},
			Retention: nats.InterestPolicy,
			Storage:   nats.FileStorage,
		},
	}
	for _, cfg := range streams {
		if _, err := b.js.StreamInfo(cfg.Name); err == nil {
			continue
		}
		if _, err := b.js.AddStream(cfg); err != nil {
			if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
				continue
			}
			return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
		b.logger.Info("stream created", "stream", cfg.Name)
	}
	return nil
}

// Publish sends an envelope to a JetStream subject. The envelope's
// dedupe key doubles as the JetStream message ID so the server drops
// duplicates inside its dedupe window.
func (b *NATSBus) Publish(ctx context.Context, subject string, env *models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	_, err = b.js.Publish(subject, data,
		nats.Context(ctx),
		nats.MsgId(env.DedupeKey()),
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// PublishCore sends an envelope on the core connection without
// durability. Reply inboxes use this path.
func (b *NATSBus) PublishCore(_ context.Context, subject string, env *models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe attaches handler to subject. Workqueue and event-stream
// subjects get JetStream consumers with manual acks; anything else,
// reply inboxes included, is a core subscription.
func (b *NATSBus) Subscribe(subject, queueGroup string, handler Handler) (Subscription, error) {
	if b.isJetStreamSubject(subject) {
		return b.subscribeDurable(subject, queueGroup, handler)
	}
	return b.subscribeCore(subject, queueGroup, handler)
}

func (b *NATSBus) isJetStreamSubject(subject string) bool {
	return (strings.HasPrefix(subject, "agent.") && strings.HasSuffix(subject, ".inbox")) ||
		strings.HasPrefix(subject, "events.agent.")
}

func (b *NATSBus) subscribeDurable(subject, queueGroup string, handler Handler) (Subscription, error) {
	cb := func(msg *nats.Msg) {
		env, err := decodeEnvelope(msg.Data)
		if err != nil {
			b.logger.Warn("dropping undecodable message", "subject", msg.Subject, "error", err)
			msg.Term()
			return
		}
		if err := handler(context.Background(), env); err != nil {
			b.logger.Warn("handler failed, requesting redelivery",
				"subject", msg.Subject, "envelope_id", env.ID, "error", err)
			msg.Nak()
			return
		}
		msg.Ack()
	}

	opts := []nats.SubOpt{
		nats.ManualAck(),
		nats.AckWait(taskAckWait),
		nats.MaxDeliver(taskMaxDeliver),
		nats.DeliverAll(),
	}
	var (
		sub *nats.Subscription
		err error
	)
	if queueGroup != "" {
		sub, err = b.js.QueueSubscribe(subject, queueGroup, cb, opts...)
	} else {
		sub, err = b.js.Subscribe(subject, cb, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

func (b *NATSBus) subscribeCore(subject, queueGroup string, handler Handler) (Subscription, error) {
	cb := func(msg *nats.Msg) {
		env, err := decodeEnvelope(msg.Data)
		if err != nil {
			b.logger.Warn("dropping undecodable message", "subject", msg.Subject, "error", err)
			return
		}
		if err := handler(context.Background(), env); err != nil {
			b.logger.Warn("handler failed", "subject", msg.Subject, "envelope_id", env.ID, "error", err)
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if queueGroup != "" {
		sub, err = b.nc.QueueSubscribe(subject, queueGroup, cb)
	} else {
		sub, err = b.nc.Subscribe(subject, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// NewInbox returns a private reply subject.
func (b *NATSBus) NewInbox() string {
	return b.nc.NewInbox()
}

// Close drains in-flight messages and closes the connection.
func (b *NATSBus) Close() error {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return err
	}
	return nil
}

func decodeEnvelope(data []byte) (*models.Envelope, error) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
