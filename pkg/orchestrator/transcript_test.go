package orchestrator

import (
	"strings"
	"testing"
)

type wordCountTokenizer struct{}

func (wordCountTokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(strings.Fields(text))
}

func TestTranscriptRenderForAgentMergesConsecutiveBotMessages(t *testing.T) {
	tr := NewTranscript("conv-1", nil)
	tr.AddHumanMessage("hi there")
	tr.AddBotMessage("Hello")
	tr.AddBotMessage("how can I help?")
	tr.AddHumanMessage("book a flight")

	messages := tr.RenderForAgent("be concise", 0, nil, 0)

	want := []Message{
		{Role: "system", Content: "be concise"},
		{Role: "user", Content: "hi there"},
		{Role: "assistant", Content: "Hello how can I help?"},
		{Role: "user", Content: "book a flight"},
	}

	if len(messages) != len(want) {
		t.Fatalf("got %d messages, want %d: %+v", len(messages), len(want), messages)
	}
	for i := range want {
		if messages[i] != want[i] {
			t.Errorf("message %d: got %+v, want %+v", i, messages[i], want[i])
		}
	}
}

func TestTranscriptRenderForAgentTruncatesByMaxMessages(t *testing.T) {
	tr := NewTranscript("conv-1", nil)
	for i := 0; i < 5; i++ {
		tr.AddHumanMessage("turn")
		tr.AddBotMessage("reply")
	}

	messages := tr.RenderForAgent("", 3, nil, 0)
	if len(messages) != 3 {
		t.Fatalf("expected exactly 3 messages after truncation, got %d", len(messages))
	}
}

func TestTranscriptRenderForAgentRespectsTokenBudget(t *testing.T) {
	tr := NewTranscript("conv-1", nil)
	for i := 0; i < 10; i++ {
		tr.AddHumanMessage("one two three four five")
	}

	messages := tr.RenderForAgent("system prompt here", 0, wordCountTokenizer{}, 12)

	total := 0
	for _, m := range messages {
		total += wordCountTokenizer{}.Count(m.Content)
	}
	if total > 12 {
		t.Fatalf("expected rendered messages to fit the 12-token budget, got %d tokens across %d messages", total, len(messages))
	}
	if messages[0].Role != "system" {
		t.Fatalf("expected the leading system message to survive truncation, got %+v", messages[0])
	}
}

// TestTranscriptUpdateLastBotMessageCutOff exercises invariant 3: after a
// cut-off utterance the transcript message equals the spoken prefix with a
// trailing "-", matching what Conversation.processSynthesisResult writes.
func TestTranscriptUpdateLastBotMessageCutOff(t *testing.T) {
	tr := NewTranscript("conv-1", nil)
	tr.AddBotMessage("")
	tr.UpdateLastBotMessage("Sure, I can help you with" + "-")

	logs := tr.EventLogs()
	last := logs[len(logs)-1]
	if last.Message.Content != "Sure, I can help you with-" {
		t.Errorf("got %q, want %q", last.Message.Content, "Sure, I can help you with-")
	}
}

func TestTranscriptUpdateLastBotMessageFullUtterance(t *testing.T) {
	tr := NewTranscript("conv-1", nil)
	tr.AddBotMessage("")
	tr.UpdateLastBotMessage("The full reply.")

	logs := tr.EventLogs()
	last := logs[len(logs)-1]
	if last.Message.Content != "The full reply." {
		t.Errorf("got %q, want %q", last.Message.Content, "The full reply.")
	}
}

func TestTranscriptActionsRenderAsMessages(t *testing.T) {
	tr := NewTranscript("conv-1", nil)
	tr.AddActionStart("lookup_weather", `{"city":"Madrid"}`)
	tr.AddActionFinish("lookup_weather", "sunny, 25C")

	messages := tr.RenderForAgent("", 0, nil, 0)
	if len(messages) != 2 {
		t.Fatalf("expected 2 rendered messages for an action pair, got %d: %+v", len(messages), messages)
	}
	if messages[0].Role != "assistant" || !strings.Contains(messages[0].Content, "lookup_weather") {
		t.Errorf("expected an assistant action-start message mentioning the action name, got %+v", messages[0])
	}
	if messages[1].Role != "function" || messages[1].Content != "sunny, 25C" {
		t.Errorf("expected a function message with the action output, got %+v", messages[1])
	}
}
