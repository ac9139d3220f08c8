package agent

import (
	"testing"

	"github.com/haasonsaas/agentos/pkg/models"
)

func TestConversation_SystemPromptPinned(t *testing.T) {
	conv := NewConversation("you are a coder")
	conv.Append(models.Message{Role: models.RoleUser, Content: "hi"})

	msgs := conv.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != models.RoleSystem || msgs[0].Content != "you are a coder" {
		t.Errorf("system prompt must lead, got %+v", msgs[0])
	}
}

func TestConversation_AppendRejectsSystem(t *testing.T) {
	conv := NewConversation("prompt")
	conv.Append(models.Message{Role: models.RoleSystem, Content: "sneaky"})
	if conv.Len() != 0 {
		t.Error("system messages must not enter the history")
	}
}

func TestConversation_ReplaceHistoryKeepsSystem(t *testing.T) {
	conv := NewConversation("prompt")
	conv.Append(
		models.Message{Role: models.RoleUser, Content: "a"},
		models.Message{Role: models.RoleAssistant, Content: "b"},
	)

	conv.ReplaceHistory([]models.Message{
		{Role: models.RoleSystem, Content: "dropme"},
		{Role: models.RoleAssistant, Content: "summary"},
	})

	msgs := conv.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected system + summary, got %d messages", len(msgs))
	}
	if msgs[0].Content != "prompt" || msgs[1].Content != "summary" {
		t.Errorf("unexpected rebuild %+v", msgs)
	}
}

func TestConversation_MessagesIsACopy(t *testing.T) {
	conv := NewConversation("prompt")
	conv.Append(models.Message{Role: models.RoleUser, Content: "a"})

	msgs := conv.Messages()
	msgs[1].Content = "mutated"

	if conv.Messages()[1].Content != "a" {
		t.Error("callers must not be able to mutate the history")
	}
}
