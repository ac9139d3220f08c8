package gateway

import (
	"testing"

	"github.com/haasonsaas/agentos/pkg/models"
)

func TestResponseRouter_RoutesTrackedReply(t *testing.T) {
	r := NewResponseRouter(nil)
	var got []*models.Envelope
	r.Attach("s1", func(env *models.Envelope) { got = append(got, env) })
	r.Track("corr-1", "s1")

	reply := &models.Envelope{ID: models.NewID(), Type: models.EventTaskResponse, CorrelationID: "corr-1"}
	if !r.Route(reply) {
		t.Fatal("expected routed delivery")
	}
	if len(got) != 1 || got[0].ID != reply.ID {
		t.Fatalf("unexpected deliveries %v", got)
	}

	// Non-terminal replies keep the correlation alive.
	if r.Tracked() != 1 {
		t.Errorf("expected correlation still tracked, got %d", r.Tracked())
	}
}

func TestResponseRouter_TerminalReplyUntracks(t *testing.T) {
	r := NewResponseRouter(nil)
	r.Attach("s1", func(*models.Envelope) {})
	r.Track("corr-1", "s1")

	r.Route(&models.Envelope{Type: models.EventTaskDone, CorrelationID: "corr-1"})
	if r.Tracked() != 0 {
		t.Errorf("terminal reply should untrack, got %d", r.Tracked())
	}
}

func TestResponseRouter_UnknownCorrelationDropped(t *testing.T) {
	r := NewResponseRouter(nil)
	if r.Route(&models.Envelope{Type: models.EventTaskResponse, CorrelationID: "ghost"}) {
		t.Error("unknown correlation must drop silently")
	}
}

func TestResponseRouter_CloseSessionDropsAll(t *testing.T) {
	r := NewResponseRouter(nil)
	r.Attach("s1", func(*models.Envelope) {})
	r.Track("corr-1", "s1")
	r.Track("corr-2", "s1")

	r.CloseSession("s1")
	if r.Tracked() != 0 {
		t.Errorf("close should drop all correlations, got %d", r.Tracked())
	}
	// Late replies after close must not error.
	if r.Route(&models.Envelope{Type: models.EventTaskResponse, CorrelationID: "corr-1"}) {
		t.Error("late reply should be dropped")
	}
}

func TestResponseRouter_Untrack(t *testing.T) {
	r := NewResponseRouter(nil)
	r.Attach("s1", func(*models.Envelope) {})
	r.Track("corr-1", "s1")
	r.Untrack("corr-1")
	if r.Tracked() != 0 {
		t.Errorf("expected untracked, got %d", r.Tracked())
	}
}
