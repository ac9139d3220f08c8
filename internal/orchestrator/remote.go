package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/agentos/internal/bus"
	"github.com/haasonsaas/agentos/internal/infra"
	"github.com/haasonsaas/agentos/pkg/models"
)

// remoteAgent dispatches to an agent on another node via bus
// request/reply: publish the task to the agent's inbox with a private
// replyTo subject, then stream decoded events back until a terminal
// envelope or the deadline.
type remoteAgent struct {
	agentID string
	conn    bus.Conn
	timeout time.Duration
	logger  *slog.Logger
}

// Status is optimistic for remote agents; liveness is discovered at
// dispatch time when the reply stream times out.
func (a *remoteAgent) Status() (models.AgentStatus, error) {
	return models.StatusReady, nil
}

func (a *remoteAgent) Dispatch(ctx context.Context, env *models.Envelope) (*infra.EventQueue[models.AgentEvent], error) {
	inbox := a.conn.NewInbox()
	queue := infra.NewEventQueue[models.AgentEvent]()

	var once sync.Once
	var sub bus.Subscription
	var timer *time.Timer
	finish := func() {
		once.Do(func() {
			if timer != nil {
				timer.Stop()
			}
			if sub != nil {
				if err := sub.Unsubscribe(); err != nil {
					a.logger.Warn("inbox unsubscribe failed", "error", err)
				}
			}
		})
	}

	sub, err := a.conn.Subscribe(inbox, "", func(ctx context.Context, reply *models.Envelope) error {
		switch reply.Type {
		case models.EventTaskResponse:
			var ev models.AgentEvent
			if err := json.Unmarshal(reply.Data, &ev); err != nil {
				a.logger.Warn("undecodable reply event", "error", err)
				return nil
			}
			queue.Push(ev)
		case models.EventTaskDone:
			queue.Complete()
			finish()
		case models.EventTaskError:
			var payload struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(reply.Data, &payload); err != nil || payload.Error == "" {
				payload.Error = "remote task failed"
			}
			queue.Fail(errors.New(payload.Error))
			finish()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe reply inbox: %w", err)
	}

	timer = time.AfterFunc(a.timeout, func() {
		queue.Fail(fmt.Errorf("%w: agent %s after %s", ErrDispatchTimeout, a.agentID, a.timeout))
		finish()
	})

	req := *env
	req.Target = "agent://" + a.agentID
	req.ReplyTo = inbox
	if err := a.conn.Publish(ctx, bus.AgentInbox(a.agentID), &req); err != nil {
		finish()
		queue.Fail(err)
		return nil, fmt.Errorf("publish to %s: %w", a.agentID, err)
	}
	return queue, nil
}
