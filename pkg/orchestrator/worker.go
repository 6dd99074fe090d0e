package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// InterruptibleEvent carries one unit of pipeline work (a transcription, an
// agent response fragment, a synthesis result) through a staged worker along
// with its own cancellation scope, so a later interrupt can cancel exactly
// the work in flight for this event without touching the next one.
type InterruptibleEvent struct {
	ID             string
	ConversationID string
	Payload        interface{}

	ctx         context.Context
	cancel      context.CancelFunc
	interrupted atomic.Bool
}

// IsInterrupted reports whether Interrupt has already been called for this event.
func (e *InterruptibleEvent) IsInterrupted() bool {
	return e.interrupted.Load()
}

// Interrupt cancels the event's context exactly once. Safe to call
// concurrently and safe to call more than once.
func (e *InterruptibleEvent) Interrupt() bool {
	if !e.interrupted.CompareAndSwap(false, true) {
		return false
	}
	e.cancel()
	return true
}

// Context returns the event-scoped context; a worker processing this event
// should select on ctx.Done() wherever it blocks.
func (e *InterruptibleEvent) Context() context.Context {
	return e.ctx
}

// EventFactory builds InterruptibleEvents scoped to a single conversation and
// is responsible for handing each one to its destination queue. It mirrors
// the teacher's habit of threading one cancellation root per conversation
// rather than per process.
type EventFactory struct {
	conversationID string
	rootCtx        context.Context
}

func NewEventFactory(conversationID string, rootCtx context.Context) *EventFactory {
	return &EventFactory{conversationID: conversationID, rootCtx: rootCtx}
}

// Create builds a new event carrying payload, derived from the factory's
// root context so a conversation-wide cancellation also cancels every event
// still in flight.
func (f *EventFactory) Create(payload interface{}) *InterruptibleEvent {
	ctx, cancel := context.WithCancel(f.rootCtx)
	return &InterruptibleEvent{
		ID:             uuid.NewString(),
		ConversationID: f.conversationID,
		Payload:        payload,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Enqueue creates an event and delivers it to ch without blocking; if ch is
// full the event is dropped and false is returned. This is the Go analogue
// of the original's QueueingInterruptableEventFactory.create_interruptable_event
// + interruptable_events.put_nowait pairing.
func (f *EventFactory) Enqueue(ch chan<- *InterruptibleEvent, payload interface{}) (*InterruptibleEvent, bool) {
	ev := f.Create(payload)
	select {
	case ch <- ev:
		return ev, true
	default:
		return ev, false
	}
}

// AsyncQueueWorker consumes InterruptibleEvents from In and hands each to
// Process, one at a time, until Terminate is called or the worker's context
// is cancelled. It is the base staged-worker shape the AgentResponses and
// SynthesisResults stages build on; the Transcriptions stage is a plain loop
// over the transcriber's output channel.
type AsyncQueueWorker struct {
	In      chan *InterruptibleEvent
	Process func(ctx context.Context, ev *InterruptibleEvent) error

	logger Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func NewAsyncQueueWorker(bufSize int, logger Logger, process func(ctx context.Context, ev *InterruptibleEvent) error) *AsyncQueueWorker {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &AsyncQueueWorker{
		In:      make(chan *InterruptibleEvent, bufSize),
		Process: process,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start runs the consume loop in its own goroutine. Calling Start twice is a
// programmer error and is not guarded against, matching the teacher's
// once-per-lifetime worker convention.
func (w *AsyncQueueWorker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.run(ctx)
}

func (w *AsyncQueueWorker) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.In:
			if !ok {
				return
			}
			if ev.IsInterrupted() {
				continue
			}
			w.processSafely(ctx, ev)
		}
	}
}

// processSafely runs Process for a single event behind a recover() so a
// panic inside one stage's callback -- a bad type assertion, a nil pointer,
// whatever -- fails only this event rather than taking the whole worker
// goroutine, and with it the process, down.
func (w *AsyncQueueWorker) processSafely(ctx context.Context, ev *InterruptibleEvent) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker process panicked", "id", ev.ID, "panic", r)
		}
	}()
	if err := w.Process(ev.Context(), ev); err != nil {
		w.logger.Error("worker process failed", "id", ev.ID, "err", err)
	}
}

// ConsumeNonblocking attempts to enqueue ev, dropping it if the input buffer
// is full rather than blocking the producer.
func (w *AsyncQueueWorker) ConsumeNonblocking(ev *InterruptibleEvent) bool {
	select {
	case w.In <- ev:
		return true
	default:
		return false
	}
}

// Terminate cancels the run loop and waits for it to exit.
func (w *AsyncQueueWorker) Terminate() {
	w.once.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
	})
	<-w.done
}

// InterruptibleWorker adds a single current-event cancellation slot on top of
// AsyncQueueWorker: CancelCurrentTask interrupts whichever event is presently
// being processed without tearing down the worker itself.
// Conversation.broadcastInterrupt uses it to cut the AgentResponses stage's
// in-flight event.
type InterruptibleWorker struct {
	*AsyncQueueWorker

	mu      sync.Mutex
	current *InterruptibleEvent
}

func NewInterruptibleWorker(bufSize int, logger Logger, process func(ctx context.Context, ev *InterruptibleEvent) error) *InterruptibleWorker {
	w := &InterruptibleWorker{}
	wrapped := func(ctx context.Context, ev *InterruptibleEvent) error {
		w.mu.Lock()
		w.current = ev
		w.mu.Unlock()
		err := process(ctx, ev)
		w.mu.Lock()
		if w.current == ev {
			w.current = nil
		}
		w.mu.Unlock()
		return err
	}
	w.AsyncQueueWorker = NewAsyncQueueWorker(bufSize, logger, wrapped)
	return w
}

// CancelCurrentTask interrupts whatever event is currently being processed,
// if any. No-op if the worker is idle.
func (w *InterruptibleWorker) CancelCurrentTask() {
	w.mu.Lock()
	ev := w.current
	w.mu.Unlock()
	if ev != nil {
		ev.Interrupt()
	}
}

// InterruptibleAgentResponseWorker is the InterruptibleWorker the
// AgentResponses stage runs on. It adds no behaviour of its own to the
// embedded InterruptibleWorker.
type InterruptibleAgentResponseWorker struct {
	*InterruptibleWorker
}

func NewInterruptibleAgentResponseWorker(bufSize int, logger Logger, process func(ctx context.Context, ev *InterruptibleEvent) error) *InterruptibleAgentResponseWorker {
	return &InterruptibleAgentResponseWorker{InterruptibleWorker: NewInterruptibleWorker(bufSize, logger, process)}
}

// ThreadAsyncWorker adapts a blocking, synchronous function (typically one
// driving a native/cgo audio API, like malgo) into the same worker shape used
// by the async stages, running the blocking call on a dedicated goroutine and
// delivering results back over Out.
type ThreadAsyncWorker struct {
	In  chan []byte
	Out chan []byte

	blockingCall func(chunk []byte) ([]byte, error)
	logger       Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func NewThreadAsyncWorker(bufSize int, logger Logger, blockingCall func(chunk []byte) ([]byte, error)) *ThreadAsyncWorker {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &ThreadAsyncWorker{
		In:           make(chan []byte, bufSize),
		Out:          make(chan []byte, bufSize),
		blockingCall: blockingCall,
		logger:       logger,
		done:         make(chan struct{}),
	}
}

func (w *ThreadAsyncWorker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.run(ctx)
}

func (w *ThreadAsyncWorker) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			// Terminate cancels ctx without closing In, so whatever was
			// already queued (e.g. a FileDevice's final chunks) still gets
			// written before the worker exits.
			w.drain()
			return
		case chunk, ok := <-w.In:
			if !ok {
				return
			}
			w.processChunk(ctx, chunk)
		}
	}
}

func (w *ThreadAsyncWorker) processChunk(ctx context.Context, chunk []byte) {
	out, err := w.blockingCall(chunk)
	if err != nil {
		w.logger.Error("thread worker blocking call failed", "err", err)
		return
	}
	if out == nil {
		return
	}
	select {
	case w.Out <- out:
	case <-ctx.Done():
	}
}

// drain processes whatever is already buffered in In without blocking,
// stopping as soon as the buffer is empty.
func (w *ThreadAsyncWorker) drain() {
	for {
		select {
		case chunk, ok := <-w.In:
			if !ok {
				return
			}
			w.processChunk(context.Background(), chunk)
		default:
			return
		}
	}
}

func (w *ThreadAsyncWorker) ConsumeNonblocking(chunk []byte) bool {
	select {
	case w.In <- chunk:
		return true
	default:
		return false
	}
}

func (w *ThreadAsyncWorker) Terminate() {
	w.once.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
	})
	<-w.done
}
