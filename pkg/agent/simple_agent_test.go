package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/duplexcall/duplexcall/pkg/memory"
	"github.com/duplexcall/duplexcall/pkg/orchestrator"
)

type fakeLLM struct {
	reply string
	err   error
}

func (f *fakeLLM) Complete(ctx context.Context, messages []orchestrator.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}
func (f *fakeLLM) Name() string { return "fake-llm" }

type fakeStreamingLLM struct {
	tokens    []string
	fragments []functionFragment
	err       error
}

func (f *fakeStreamingLLM) Complete(ctx context.Context, messages []orchestrator.Message) (string, error) {
	return "", errors.New("CompleteStream should be used instead")
}
func (f *fakeStreamingLLM) Name() string { return "fake-streaming-llm" }
func (f *fakeStreamingLLM) CompleteStream(ctx context.Context, messages []orchestrator.Message, onToken func(string) error, onFunctionFragment func(name, arguments string) error) error {
	for _, tok := range f.tokens {
		if err := onToken(tok); err != nil {
			return err
		}
	}
	for _, frag := range f.fragments {
		if err := onFunctionFragment(frag.name, frag.arguments); err != nil {
			return err
		}
	}
	return f.err
}

type functionFragment struct{ name, arguments string }

type fakeVectorDB struct {
	results []memory.Result
	err     error
	queried chan string
}

func (d *fakeVectorDB) Store(ctx context.Context, content string) error { return nil }
func (d *fakeVectorDB) Query(ctx context.Context, query string, topK int) ([]memory.Result, error) {
	if d.queried != nil {
		d.queried <- query
	}
	return d.results, d.err
}
func (d *fakeVectorDB) TearDown(ctx context.Context) error { return nil }

func newStartedAgent(t *testing.T, llm orchestrator.LLMProvider, opts ...Option) (*SimpleAgent, func()) {
	t.Helper()
	a := NewSimpleAgent(llm, "be helpful", orchestrator.AgentConfig{}, opts...)
	a.SetInterruptibleEventFactory(orchestrator.NewEventFactory("conv-1", context.Background()))
	a.Start(context.Background())
	return a, func() { a.Terminate() }
}

func send(t *testing.T, a *SimpleAgent, message string) {
	t.Helper()
	factory := orchestrator.NewEventFactory("conv-1", context.Background())
	ev := factory.Create(orchestrator.AgentInput{Transcription: orchestrator.Transcription{Message: message, IsFinal: true}, ConversationID: "conv-1"})
	a.InputChannel() <- ev
}

func drain(t *testing.T, out <-chan *orchestrator.InterruptibleEvent, timeout time.Duration) []orchestrator.AgentResponse {
	t.Helper()
	var got []orchestrator.AgentResponse
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-out:
			resp, ok := ev.Payload.(orchestrator.AgentResponse)
			if !ok {
				t.Fatalf("expected an AgentResponse payload, got %T", ev.Payload)
			}
			got = append(got, resp)
			if resp.Kind == orchestrator.AgentResponseMessage {
				return got
			}
		case <-deadline:
			return got
		}
	}
}

func TestSimpleAgentEmitsFillerThenMessage(t *testing.T) {
	llm := &fakeLLM{reply: "Hello there."}
	a, stop := newStartedAgent(t, llm)
	defer stop()

	send(t, a, "hi")

	got := drain(t, a.OutputChannel(), time.Second)
	if len(got) < 2 {
		t.Fatalf("expected at least a filler-audio cue and a message, got %+v", got)
	}
	if got[0].Kind != orchestrator.AgentResponseFillerAudio {
		t.Errorf("expected the first response to be a filler-audio cue, got %+v", got[0])
	}
	last := got[len(got)-1]
	if last.Kind != orchestrator.AgentResponseMessage || last.Message != "Hello there." {
		t.Errorf("expected a message response carrying the reply, got %+v", last)
	}
}

func TestSimpleAgentStreamingDrivesCollator(t *testing.T) {
	llm := &fakeStreamingLLM{tokens: []string{"One", ".", " Two", "."}}
	a, stop := newStartedAgent(t, llm)
	defer stop()

	send(t, a, "go")

	var sentences []string
	deadline := time.After(time.Second)
loop:
	for {
		select {
		case ev := <-a.OutputChannel():
			resp := ev.Payload.(orchestrator.AgentResponse)
			if resp.Kind == orchestrator.AgentResponseMessage {
				sentences = append(sentences, resp.Message)
			}
		case <-deadline:
			break loop
		}
		if len(sentences) >= 2 {
			break
		}
	}

	if len(sentences) != 2 {
		t.Fatalf("expected two collated sentences, got %v", sentences)
	}
	if sentences[0] != "One." || sentences[1] != "Two." {
		t.Errorf("got %v", sentences)
	}
}

type fakeActionFactory struct {
	name string
	run  func(ctx context.Context, input string) (string, error)
}

func (f *fakeActionFactory) Create(name string) (func(ctx context.Context, input string) (string, error), bool) {
	if name != f.name {
		return nil, false
	}
	return f.run, true
}

func TestSimpleAgentDispatchesFunctionCall(t *testing.T) {
	llm := &fakeStreamingLLM{
		tokens:    []string{"One moment."},
		fragments: []functionFragment{{name: "get_w"}, {name: "eather", arguments: `{"city":"Reno"}`}},
	}
	ran := make(chan string, 1)
	factory := &fakeActionFactory{
		name: "get_weather",
		run: func(ctx context.Context, input string) (string, error) {
			ran <- input
			return "sunny", nil
		},
	}
	a, stop := newStartedAgent(t, llm, WithActionFactory(factory))
	defer stop()

	send(t, a, "what's the weather")
	drain(t, a.OutputChannel(), time.Second)

	select {
	case got := <-ran:
		if got != `{"city":"Reno"}` {
			t.Errorf("action ran with input %q, want {\"city\":\"Reno\"}", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the aggregated FunctionCall to dispatch the action")
	}

	select {
	case req := <-a.ActionsChannel():
		if req.Name != "get_weather" || req.Input != `{"city":"Reno"}` {
			t.Errorf("got %+v on ActionsChannel", req)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the dispatched request to also appear on ActionsChannel")
	}
}

func TestSimpleAgentVectorDBPrependsContext(t *testing.T) {
	db := &fakeVectorDB{
		results: []memory.Result{{Content: "the user's name is Alex", Distance: 0.1}},
		queried: make(chan string, 1),
	}
	llm := &fakeLLM{reply: "Hi Alex."}
	a, stop := newStartedAgent(t, llm, WithVectorDB(db))
	defer stop()

	send(t, a, "what's my name?")
	drain(t, a.OutputChannel(), time.Second)

	select {
	case q := <-db.queried:
		if q != "what's my name?" {
			t.Errorf("expected the vector db to be queried with the transcription, got %q", q)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the vector db to be queried before the LLM call")
	}
}

func TestSimpleAgentCancelCurrentTaskInterruptsInFlightCall(t *testing.T) {
	llm := newBlockingStreamLLM()
	a, stop := newStartedAgent(t, llm)
	defer stop()

	send(t, a, "tell me a long story")

	select {
	case llm.tokens <- "partial":
	case <-time.After(time.Second):
		t.Fatal("expected the agent to start pulling tokens")
	}

	a.CancelCurrentTask()

	select {
	case <-llm.cancelled:
	case <-time.After(time.Second):
		t.Fatal("expected CancelCurrentTask to cancel the in-flight call's context")
	}
}

// blockingStreamLLM blocks in CompleteStream, pulling tokens from its own
// tokens channel, until its context is cancelled -- at which point it closes
// cancelled so a test can observe that CancelCurrentTask propagated.
type blockingStreamLLM struct {
	tokens    chan string
	cancelled chan struct{}
}

func newBlockingStreamLLM() *blockingStreamLLM {
	return &blockingStreamLLM{tokens: make(chan string), cancelled: make(chan struct{})}
}

func (f *blockingStreamLLM) Complete(ctx context.Context, messages []orchestrator.Message) (string, error) {
	return "", errors.New("unused")
}
func (f *blockingStreamLLM) Name() string { return "blocking-stream-llm" }
func (f *blockingStreamLLM) CompleteStream(ctx context.Context, messages []orchestrator.Message, onToken func(string) error, onFunctionFragment func(name, arguments string) error) error {
	for {
		select {
		case tok := <-f.tokens:
			if err := onToken(tok); err != nil {
				close(f.cancelled)
				return err
			}
		case <-ctx.Done():
			close(f.cancelled)
			return ctx.Err()
		}
	}
}

func TestSimpleAgentGoodbyeDetection(t *testing.T) {
	a := NewSimpleAgent(&fakeLLM{}, "", orchestrator.AgentConfig{})

	cases := map[string]bool{
		"goodbye, take care!":       true,
		"see you later":             true,
		"book me a flight to Reno":  false,
	}
	for text, want := range cases {
		select {
		case got := <-a.CreateGoodbyeDetectionTask(context.Background(), text):
			if got != want {
				t.Errorf("CreateGoodbyeDetectionTask(%q) = %v, want %v", text, got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("goodbye detection for %q did not complete", text)
		}
	}
}

func TestSimpleConversationStateGetSet(t *testing.T) {
	s := NewSimpleConversationState()
	if _, ok := s.Get("missing"); ok {
		t.Error("expected Get on an unset key to report false")
	}
	s.Set("transfer_requested", true)
	v, ok := s.Get("transfer_requested")
	if !ok || v != true {
		t.Errorf("got (%v, %v), want (true, true)", v, ok)
	}
}
