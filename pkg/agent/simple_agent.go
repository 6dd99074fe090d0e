// Package agent implements the Agent side of the conversation pipeline: the
// collaborator that turns a transcribed utterance into a stream of
// AgentResponse events by driving an LLMProvider (or StreamingLLMProvider)
// through the transcript and the sentence collator.
package agent

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/duplexcall/duplexcall/pkg/memory"
	"github.com/duplexcall/duplexcall/pkg/orchestrator"
)

// SimpleAgent is the Go counterpart of the original's single-prompt
// ChatGPTAgent: one system prompt, the rendered transcript as context, and
// one LLM call per turn, streamed through CollateResponse when the
// underlying provider supports it. It implements orchestrator.Agent.
type SimpleAgent struct {
	llm          orchestrator.LLMProvider
	systemPrompt string
	config       orchestrator.AgentConfig
	tokenizer    orchestrator.Tokenizer
	logger       orchestrator.Logger
	vectorDB     memory.VectorDB

	actionFactory orchestrator.ActionFactory
	stateManager  orchestrator.ConversationStateManager

	in      chan *orchestrator.InterruptibleEvent
	out     chan *orchestrator.InterruptibleEvent
	actions chan orchestrator.ActionInput

	transcript    *orchestrator.Transcript
	eventFactory  *orchestrator.EventFactory

	mu      sync.Mutex
	current context.CancelFunc

	lastBotMessage atomic.Pointer[string]

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Option configures a SimpleAgent at construction time.
type Option func(*SimpleAgent)

func WithTokenizer(t orchestrator.Tokenizer) Option {
	return func(a *SimpleAgent) { a.tokenizer = t }
}

func WithLogger(l orchestrator.Logger) Option {
	return func(a *SimpleAgent) { a.logger = l }
}

func WithActionFactory(f orchestrator.ActionFactory) Option {
	return func(a *SimpleAgent) { a.actionFactory = f }
}

// WithVectorDB attaches a long-term-memory backend. When set, handleInput
// queries it for the closest-matching memory and folds it into the rendered
// context as a leading user-role message before calling the LLM.
func WithVectorDB(db memory.VectorDB) Option {
	return func(a *SimpleAgent) { a.vectorDB = db }
}

// NewSimpleAgent builds a SimpleAgent around llm, which may additionally
// implement orchestrator.StreamingLLMProvider -- if it does, CompleteStream
// drives the sentence collator token by token; otherwise a single Complete
// call is treated as one giant token fed through the same collator, so
// callers never need a second code path to handle non-streaming providers.
func NewSimpleAgent(llm orchestrator.LLMProvider, systemPrompt string, config orchestrator.AgentConfig, opts ...Option) *SimpleAgent {
	a := &SimpleAgent{
		llm:          llm,
		systemPrompt: systemPrompt,
		config:       config,
		logger:       &orchestrator.NoOpLogger{},
		in:           make(chan *orchestrator.InterruptibleEvent, 16),
		out:          make(chan *orchestrator.InterruptibleEvent, 16),
		actions:      make(chan orchestrator.ActionInput, 4),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *SimpleAgent) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	go a.run(ctx)
}

func (a *SimpleAgent) run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-a.in:
			if !ok {
				return
			}
			if ev.IsInterrupted() {
				continue
			}
			a.handleInput(ev)
		}
	}
}

func (a *SimpleAgent) handleInput(ev *orchestrator.InterruptibleEvent) {
	input, ok := ev.Payload.(orchestrator.AgentInput)
	if !ok {
		return
	}

	taskCtx, cancel := context.WithCancel(ev.Context())
	a.mu.Lock()
	a.current = cancel
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		if a.current != nil {
			a.current()
			a.current = nil
		}
		a.mu.Unlock()
	}()

	// A filler-audio cue is emitted up front so the random-audio manager has
	// something to play while the LLM call is in flight; the conversation
	// core decides whether to actually play it.
	a.emit(orchestrator.AgentResponse{Kind: orchestrator.AgentResponseFillerAudio})

	messages := a.renderContext()
	if a.vectorDB != nil {
		if results, err := a.vectorDB.Query(taskCtx, input.Transcription.Message, 1); err != nil {
			a.logger.Warn("vector db query failed", "err", err)
		} else if msg, ok := memory.ResultToMessage(results); ok {
			messages = append([]orchestrator.Message{messages[0], msg}, messages[1:]...)
		}
	}

	tokens := make(chan orchestrator.CollatorToken)
	var streamErr error
	go func() {
		defer close(tokens)
		if streaming, ok := a.llm.(orchestrator.StreamingLLMProvider); ok {
			streamErr = streaming.CompleteStream(taskCtx, messages, func(tok string) error {
				select {
				case tokens <- orchestrator.CollatorToken{Text: tok}:
					return nil
				case <-taskCtx.Done():
					return taskCtx.Err()
				}
			}, func(name, arguments string) error {
				select {
				case tokens <- orchestrator.CollatorToken{Fragment: &orchestrator.FunctionFragment{Name: name, Arguments: arguments}}:
					return nil
				case <-taskCtx.Done():
					return taskCtx.Err()
				}
			})
			return
		}
		reply, err := a.llm.Complete(taskCtx, messages)
		if err != nil {
			streamErr = err
			return
		}
		select {
		case tokens <- orchestrator.CollatorToken{Text: reply}:
		case <-taskCtx.Done():
		}
	}()

	sentences, calls := orchestrator.CollateResponse(tokens, a.actionFactory != nil)

	var full strings.Builder
	for sentence := range sentences {
		full.WriteString(sentence)
		if taskCtx.Err() != nil {
			return
		}
		a.emit(orchestrator.AgentResponse{Kind: orchestrator.AgentResponseMessage, Message: sentence, IsInterruptible: true})
	}

	if streamErr != nil {
		a.logger.Error("llm call failed", "err", streamErr, "conversation_id", input.ConversationID)
		return
	}

	text := full.String()
	a.lastBotMessage.Store(&text)

	if call, ok := <-calls; ok {
		a.dispatchFunctionCall(taskCtx, call)
	}
}

// dispatchFunctionCall runs the tool a streaming LLM asked for through the
// attached ActionFactory, logging the round trip into the transcript and
// surfacing the request on ActionsChannel for anything observing the agent
// from outside.
func (a *SimpleAgent) dispatchFunctionCall(ctx context.Context, call orchestrator.FunctionCall) {
	run, ok := a.actionFactory.Create(call.Name)
	if !ok {
		a.logger.Warn("llm requested an unknown action", "action", call.Name)
		return
	}

	if a.transcript != nil {
		a.transcript.AddActionStart(call.Name, call.Arguments)
	}

	select {
	case a.actions <- orchestrator.ActionInput{Name: call.Name, Input: call.Arguments}:
	default:
		a.logger.Warn("actions channel full, dropping action request", "action", call.Name)
	}

	output, err := run(ctx, call.Arguments)
	if err != nil {
		a.logger.Error("action failed", "action", call.Name, "err", err)
		return
	}
	if a.transcript != nil {
		a.transcript.AddActionFinish(call.Name, output)
	}
}

func (a *SimpleAgent) emit(resp orchestrator.AgentResponse) {
	if a.eventFactory == nil {
		return
	}
	ev := a.eventFactory.Create(resp)
	select {
	case a.out <- ev:
	default:
		a.logger.Warn("agent output channel full, dropping response")
	}
}

// renderContext asks the attached Transcript to render at most the last 20
// messages and, if a tokenizer is configured, to truncate them to a fixed
// 4096-token budget. Neither limit is read from configuration.
func (a *SimpleAgent) renderContext() []orchestrator.Message {
	if a.transcript == nil {
		return []orchestrator.Message{{Role: "system", Content: a.systemPrompt}}
	}
	maxMessages := 20
	maxTokens := 0
	if a.tokenizer != nil {
		maxTokens = 4096
	}
	return a.transcript.RenderForAgent(a.systemPrompt, maxMessages, a.tokenizer, maxTokens)
}

func (a *SimpleAgent) Terminate() {
	a.once.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
	})
	<-a.done
}

func (a *SimpleAgent) InputChannel() chan<- *orchestrator.InterruptibleEvent { return a.in }
func (a *SimpleAgent) OutputChannel() <-chan *orchestrator.InterruptibleEvent { return a.out }

// ActionsChannel carries a request every time a streamed LLM reply
// aggregates into a FunctionCall and dispatchFunctionCall runs it -- empty
// for the lifetime of an agent with no ActionFactory attached.
func (a *SimpleAgent) ActionsChannel() <-chan orchestrator.ActionInput {
	return a.actions
}

func (a *SimpleAgent) GetActionFactory() orchestrator.ActionFactory { return a.actionFactory }

func (a *SimpleAgent) GetAgentConfig() orchestrator.AgentConfig { return a.config }

// UpdateLastBotMessageOnCutOff lets the conversation core tell the agent what
// was actually spoken before a barge-in truncated it, so the next turn's
// rendered context reflects reality rather than the full planned utterance.
func (a *SimpleAgent) UpdateLastBotMessageOnCutOff(text string) {
	a.lastBotMessage.Store(&text)
}

// CreateGoodbyeDetectionTask reports whether text contains, case-insensitively,
// one of a fixed set of farewell phrases ("goodbye", "bye", "see you",
// "have a good", "take care"). It makes no LLM call, so it is cheap enough to
// run after every bot turn.
func (a *SimpleAgent) CreateGoodbyeDetectionTask(ctx context.Context, text string) <-chan bool {
	out := make(chan bool, 1)
	go func() {
		defer close(out)
		lowered := strings.ToLower(text)
		for _, phrase := range []string{"goodbye", "bye", "see you", "have a good", "take care"} {
			if strings.Contains(lowered, phrase) {
				select {
				case out <- true:
				case <-ctx.Done():
				}
				return
			}
		}
		select {
		case out <- false:
		case <-ctx.Done():
		}
	}()
	return out
}

func (a *SimpleAgent) CancelCurrentTask() {
	a.mu.Lock()
	cancel := a.current
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (a *SimpleAgent) AttachTranscript(t *orchestrator.Transcript) { a.transcript = t }

func (a *SimpleAgent) SetInterruptibleEventFactory(f *orchestrator.EventFactory) { a.eventFactory = f }

func (a *SimpleAgent) AttachConversationStateManager(m orchestrator.ConversationStateManager) {
	a.stateManager = m
}

var _ orchestrator.Agent = (*SimpleAgent)(nil)

// simpleConversationState is a minimal in-memory ConversationStateManager,
// useful for an agent that needs to stash a flag (e.g. "transfer requested")
// without a richer backend.
type simpleConversationState struct {
	mu    sync.Mutex
	state map[string]interface{}
}

func NewSimpleConversationState() orchestrator.ConversationStateManager {
	return &simpleConversationState{state: make(map[string]interface{})}
}

func (s *simpleConversationState) Get(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state[key]
	return v, ok
}

func (s *simpleConversationState) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = value
}
