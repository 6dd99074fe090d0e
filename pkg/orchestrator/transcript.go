package orchestrator

import (
	"strings"
	"sync"
)

// EventLogKind discriminates the Transcript's tagged-union log entries.
type EventLogKind int

const (
	EventLogMessage EventLogKind = iota
	EventLogActionStart
	EventLogActionFinish
)

// EventLog is one entry in a Transcript: either a chat Message, or the start
// or finish of an agent action (function/tool call). Only Kind-appropriate
// fields are populated.
type EventLog struct {
	Kind EventLogKind

	// EventLogMessage
	Message Message

	// EventLogActionStart / EventLogActionFinish
	ActionName  string
	ActionInput string
	ActionOutput string
}

// Transcript accumulates the full conversation history as an ordered log of
// events, and knows how to render itself as an LLM-ready message list. It is
// the Go counterpart to the original's Transcript class in
// vocode.streaming.transcript.
type Transcript struct {
	mu       sync.Mutex
	events   []EventLog
	manager  EventsManager
	convID   string

	// lastPublishedLen tracks how many bot-visible characters of the latest
	// assistant message have already been published via MaybePublish, so
	// repeated calls during streaming synthesis only publish the delta.
	lastPublishedLen int
}

func NewTranscript(conversationID string, manager EventsManager) *Transcript {
	if manager == nil {
		manager = NoOpEventsManager{}
	}
	return &Transcript{manager: manager, convID: conversationID}
}

// AddHumanMessage appends a final user transcription to the log.
func (t *Transcript) AddHumanMessage(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, EventLog{Kind: EventLogMessage, Message: Message{Role: "user", Content: text}})
}

// AddBotMessage appends an assistant utterance to the log.
func (t *Transcript) AddBotMessage(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, EventLog{Kind: EventLogMessage, Message: Message{Role: "assistant", Content: text}})
	t.lastPublishedLen = 0
}

// UpdateLastBotMessage overwrites the content of the most recent assistant
// message, used when a bot utterance is cut off mid-sentence by a barge-in.
func (t *Transcript) UpdateLastBotMessage(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.events) - 1; i >= 0; i-- {
		if t.events[i].Kind == EventLogMessage && t.events[i].Message.Role == "assistant" {
			t.events[i].Message.Content = text
			return
		}
	}
}

// AddActionStart / AddActionFinish log a tool call's invocation and result,
// rendered back into the transcript as dedicated user-visible turns so the
// agent can see the outcome of its own tool use in later renders.
func (t *Transcript) AddActionStart(name, input string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, EventLog{Kind: EventLogActionStart, ActionName: name, ActionInput: input})
}

func (t *Transcript) AddActionFinish(name, output string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, EventLog{Kind: EventLogActionFinish, ActionName: name, ActionOutput: output})
}

// MaybePublish publishes a TranscriptEvent for the current last assistant
// message if its content has grown since the last publish. Called as a
// streamed bot utterance accumulates so subscribers see incremental updates
// rather than waiting for the whole sentence.
func (t *Transcript) MaybePublish() {
	t.mu.Lock()
	var last *Message
	for i := len(t.events) - 1; i >= 0; i-- {
		if t.events[i].Kind == EventLogMessage && t.events[i].Message.Role == "assistant" {
			last = &t.events[i].Message
			break
		}
	}
	if last == nil || len(last.Content) <= t.lastPublishedLen {
		t.mu.Unlock()
		return
	}
	t.lastPublishedLen = len(last.Content)
	msg := *last
	convID := t.convID
	t.mu.Unlock()

	t.manager.Publish(TranscriptEvent{ConversationID: convID, Message: msg})
}

// EventLogs returns a snapshot copy of the raw event log, for callers (like
// TranscriptCompleteEvent) that want the full structured history.
func (t *Transcript) EventLogs() []EventLog {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]EventLog, len(t.events))
	copy(out, t.events)
	return out
}

// RenderForAgent renders the transcript into an LLM-ready message list:
// consecutive assistant messages are merged (mirroring
// format_openai_chat_messages_from_transcript's bot-message-merge loop),
// action start/finish pairs become a function-call/function-result message
// pair, and the whole thing is truncated from the front, oldest-first, to
// respect maxMessages and the tokenizer's maxTokens budget.
func (t *Transcript) RenderForAgent(systemPrompt string, maxMessages int, tokenizer Tokenizer, maxTokens int) []Message {
	t.mu.Lock()
	events := make([]EventLog, len(t.events))
	copy(events, t.events)
	t.mu.Unlock()

	var merged []Message
	for _, ev := range events {
		switch ev.Kind {
		case EventLogMessage:
			if n := len(merged); n > 0 && merged[n-1].Role == "assistant" && ev.Message.Role == "assistant" {
				merged[n-1].Content = mergeBotMessages(merged[n-1].Content, ev.Message.Content)
				continue
			}
			merged = append(merged, ev.Message)
		case EventLogActionStart:
			merged = append(merged, Message{Role: "assistant", Content: "[calling action " + ev.ActionName + " with input " + ev.ActionInput + "]"})
		case EventLogActionFinish:
			merged = append(merged, Message{Role: "function", Content: ev.ActionOutput})
		}
	}

	if maxMessages > 0 && len(merged) > maxMessages {
		merged = merged[len(merged)-maxMessages:]
	}

	rendered := make([]Message, 0, len(merged)+1)
	if systemPrompt != "" {
		rendered = append(rendered, Message{Role: "system", Content: systemPrompt})
	}
	rendered = append(rendered, merged...)

	if tokenizer == nil || maxTokens <= 0 {
		return rendered
	}
	return truncateToTokenBudget(rendered, tokenizer, maxTokens)
}

// mergeBotMessages joins two consecutive assistant turns with a space,
// mirroring the original's "".join(bot_messages_buffer) behaviour without
// introducing a spurious run-together of words.
func mergeBotMessages(a, b string) string {
	a = strings.TrimRight(a, " ")
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + " " + b
}

// truncateToTokenBudget drops the oldest non-system messages until the
// rendered list fits within maxTokens, always keeping a leading system
// message if present.
func truncateToTokenBudget(messages []Message, tokenizer Tokenizer, maxTokens int) []Message {
	total := func(msgs []Message) int {
		sum := 0
		for _, m := range msgs {
			sum += tokenizer.Count(m.Content)
		}
		return sum
	}

	hasSystem := len(messages) > 0 && messages[0].Role == "system"
	start := 0
	if hasSystem {
		start = 1
	}

	for total(messages) > maxTokens && len(messages) > start+1 {
		messages = append(messages[:start], messages[start+1:]...)
	}
	return messages
}
