package orchestrator

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	idleWatchdogTick   = 15 * time.Second
	sentimentLoopTick  = 1 * time.Second
	synthesisChunkSize = 1024
	synthesizerTimeout = 15 * time.Second
)

// VectorMemory is the minimal surface Conversation needs from an agent's
// long-term-memory backend: a chance to release connections during
// termination. The richer read/write contract lives in pkg/memory.
type VectorMemory interface {
	TearDown(ctx context.Context) error
}

// synthesisPair couples a synthesized utterance with the transcript message
// it is filling in, so SynthesisResultsWorker can render it once emission
// completes.
type synthesisPair struct {
	text            string
	result          SynthesisResult
	isInterruptible bool
}

// Conversation wires a Transcriber, an Agent, a Synthesizer and an
// OutputDevice into the full duplex pipeline described by the interruptible
// producer/consumer graph: Transcriptions -> AgentResponses ->
// SynthesisResults, with a broadcast-interrupt protocol cutting across all
// three on a barge-in. It is the direct structural counterpart of the
// original's StreamingConversation class.
type Conversation struct {
	id string

	transcriber  Transcriber
	agent        Agent
	synthesizer  Synthesizer
	outputDevice OutputDevice

	config        Config
	agentConfig   AgentConfig
	logger        Logger
	eventsManager EventsManager
	sentiment     SentimentAnalyser
	vectorMemory  VectorMemory

	transcript   *Transcript
	eventFactory *EventFactory
	randomAudio  *RandomAudioManager

	agentResponsesWorker   *InterruptibleAgentResponseWorker
	synthesisResultsWorker *InterruptibleWorker

	active          atomic.Bool
	isHumanSpeaking atomic.Bool
	lastActionNanos atomic.Int64
	botSentiment    atomic.Pointer[BotSentiment]

	interruptMu    sync.Mutex
	interruptQueue []*InterruptibleEvent

	cancel          context.CancelFunc
	idleCancel      context.CancelFunc
	sentimentCancel context.CancelFunc
	terminateOnce   sync.Once
	terminateReason atomic.Pointer[string]
	stopped         chan struct{}
}

// Option configures optional Conversation collaborators.
type Option func(*Conversation)

func WithLogger(l Logger) Option {
	return func(c *Conversation) { c.logger = l }
}

func WithEventsManager(m EventsManager) Option {
	return func(c *Conversation) { c.eventsManager = m }
}

func WithSentimentAnalyser(a SentimentAnalyser) Option {
	return func(c *Conversation) { c.sentiment = a }
}

func WithVectorMemory(v VectorMemory) Option {
	return func(c *Conversation) { c.vectorMemory = v }
}

func WithRandomAudio(filler, backTrack, followUp []AudioPhrase) Option {
	return func(c *Conversation) {
		c.randomAudio = NewRandomAudioManager(c.outputDevice, c.logger, filler, backTrack, followUp)
	}
}

// NewConversation builds a Conversation ready to Start. id, if empty, is generated.
func NewConversation(id string, transcriber Transcriber, agent Agent, synthesizer Synthesizer, outputDevice OutputDevice, config Config, opts ...Option) *Conversation {
	if id == "" {
		id = uuid.NewString()
	}
	c := &Conversation{
		id:            id,
		transcriber:   transcriber,
		agent:         agent,
		synthesizer:   synthesizer,
		outputDevice:  outputDevice,
		config:        config,
		logger:        &NoOpLogger{},
		eventsManager: NoOpEventsManager{},
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.randomAudio == nil {
		c.randomAudio = NewRandomAudioManager(outputDevice, c.logger, nil, nil, nil)
	}
	c.transcript = NewTranscript(id, c.eventsManager)
	c.agentConfig = agent.GetAgentConfig()
	c.agentResponsesWorker = NewInterruptibleAgentResponseWorker(32, c.logger, c.processAgentResponse)
	c.synthesisResultsWorker = NewInterruptibleWorker(32, c.logger, c.processSynthesisResult)
	return c
}

// ID returns the conversation's identifier.
func (c *Conversation) ID() string { return c.id }

// Transcript exposes the accumulated transcript for inspection.
func (c *Conversation) Transcript() *Transcript { return c.transcript }

func (c *Conversation) registerEvent(ev *InterruptibleEvent) {
	if ev == nil {
		return
	}
	c.interruptMu.Lock()
	c.interruptQueue = append(c.interruptQueue, ev)
	c.interruptMu.Unlock()
}

func (c *Conversation) touchActionTimestamp() {
	c.lastActionNanos.Store(time.Now().UnixNano())
}

// setTerminateReason records why Terminate was triggered, for the
// conversations_terminated_total metric. The first caller wins; a direct,
// externally-triggered Terminate call with no prior reason is labelled
// "external".
func (c *Conversation) setTerminateReason(reason string) {
	c.terminateReason.CompareAndSwap(nil, &reason)
}

// Start begins all pipeline goroutines and the transcriber/agent.
func (c *Conversation) Start(ctx context.Context) error {
	rootCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.eventFactory = NewEventFactory(c.id, rootCtx)
	c.active.Store(true)
	c.touchActionTimestamp()
	conversationsStarted.Inc()

	if err := c.transcriber.Start(rootCtx); err != nil {
		cancel()
		return err
	}

	c.agent.AttachTranscript(c.transcript)
	c.agent.SetInterruptibleEventFactory(c.eventFactory)
	c.agent.Start(rootCtx)

	c.agentResponsesWorker.Start(rootCtx)
	c.synthesisResultsWorker.Start(rootCtx)

	go c.pumpAgentOutput(rootCtx)
	go c.runTranscriptionsStage(rootCtx)

	idleCtx, idleCancel := context.WithCancel(rootCtx)
	c.idleCancel = idleCancel
	go c.runIdleWatchdog(idleCtx)

	sentimentCtx, sentimentCancel := context.WithCancel(rootCtx)
	c.sentimentCancel = sentimentCancel
	if c.sentiment != nil && c.agentConfig.TrackBotSentiment {
		go c.runSentimentLoop(sentimentCtx)
	}

	if c.agentConfig.InitialMessage != "" {
		c.sendInitialMessage()
	}

	return nil
}

func (c *Conversation) sendInitialMessage() {
	ev := c.eventFactory.Create(AgentResponse{Kind: AgentResponseMessage, Message: c.agentConfig.InitialMessage, IsInterruptible: false})
	c.registerEvent(ev)
	c.agentResponsesWorker.ConsumeNonblocking(ev)
}

func (c *Conversation) pumpAgentOutput(ctx context.Context) {
	out := c.agent.OutputChannel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-out:
			if !ok {
				return
			}
			c.registerEvent(ev)
			c.agentResponsesWorker.ConsumeNonblocking(ev)
		}
	}
}

// runTranscriptionsStage implements the Transcriptions stage.
func (c *Conversation) runTranscriptionsStage(ctx context.Context) {
	in := c.transcriber.OutputChannel()
	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-in:
			if !ok {
				return
			}
			c.processTranscription(ctx, tr)
		}
	}
}

func (c *Conversation) processTranscription(ctx context.Context, tr Transcription) {
	c.touchActionTimestamp()

	if strings.TrimSpace(tr.Message) == "" {
		return
	}

	var isInterrupt bool
	if !c.isHumanSpeaking.Load() && tr.Confidence >= c.config.MinInterruptConfidence {
		isInterrupt = c.broadcastInterrupt()
		c.randomAudio.StopCurrent()
		if c.agentConfig.SendBackTrackingAudio {
			c.randomAudio.SendBackTrackingAudio(ctx)
		}
	}
	tr.IsInterrupt = isInterrupt
	c.isHumanSpeaking.Store(!tr.IsFinal)

	if !tr.IsFinal {
		return
	}

	c.transcript.AddHumanMessage(tr.Message)
	ev, ok := c.eventFactory.Enqueue(c.agent.InputChannel(), AgentInput{Transcription: tr, ConversationID: c.id})
	c.registerEvent(ev)
	if !ok {
		c.logger.Warn("agent input channel full, dropping transcription", "conversation_id", c.id)
	}
}

// processAgentResponse implements the AgentResponses stage.
func (c *Conversation) processAgentResponse(ctx context.Context, ev *InterruptibleEvent) error {
	resp, ok := ev.Payload.(AgentResponse)
	if !ok {
		return nil
	}

	switch resp.Kind {
	case AgentResponseFillerAudio:
		c.randomAudio.SendFillerAudio(ctx)
		return nil
	case AgentResponseFollowUpAudio:
		c.randomAudio.SendFollowUpAudio(ctx)
		return nil
	case AgentResponseStop:
		c.setTerminateReason("agent_stop")
		go c.Terminate(context.Background())
		return nil
	}

	c.randomAudio.StopCurrent()

	spanCtx, span := StartSpan(ctx, "synthesizer.CreateSpeech")
	synthesisCtx, synthesisCancel := context.WithTimeout(spanCtx, synthesizerTimeout)
	synthesisStart := time.Now()
	result, err := c.synthesizer.CreateSpeech(synthesisCtx, resp.Message, synthesisChunkSize, c.botSentiment.Load())
	synthesisCancel()
	span.End()
	if err != nil {
		c.logger.Error("synthesis failed", "err", err, "conversation_id", c.id)
		return err
	}
	synthesisLatency.Observe(time.Since(synthesisStart).Seconds())

	c.randomAudio.StopCurrent()

	pair := synthesisPair{text: resp.Message, result: result, isInterruptible: resp.IsInterruptible}
	sev := c.eventFactory.Create(pair)
	c.registerEvent(sev)
	if !c.synthesisResultsWorker.ConsumeNonblocking(sev) {
		c.logger.Warn("synthesis results channel full, dropping utterance", "conversation_id", c.id)
	}
	return nil
}

// processSynthesisResult implements the SynthesisResults stage.
func (c *Conversation) processSynthesisResult(ctx context.Context, ev *InterruptibleEvent) error {
	pair, ok := ev.Payload.(synthesisPair)
	if !ok {
		c.setTerminateReason("invariant_violation")
		go c.Terminate(context.Background())
		return ErrSynthesisMissingPair
	}

	c.transcript.AddBotMessage("")

	res := SendSpeechToOutput(
		ctx,
		pair.result,
		c.outputDevice,
		c.transcriber,
		synthesisChunkSize,
		c.config.PerChunkAllowanceSeconds,
		stopFunc(ev.IsInterrupted),
		nil,
		nil,
	)

	secondsSpoken.Observe(res.SecondsSpoken)

	finalText := res.MessageSentUpTo
	if res.CutOff {
		finalText += "-"
	}
	c.transcript.UpdateLastBotMessage(finalText)
	c.transcript.MaybePublish()

	if res.CutOff {
		c.agent.UpdateLastBotMessageOnCutOff(finalText)
	}

	if c.agentConfig.EndConversationOnGoodbye {
		timeout := c.config.GoodbyeDetectionTimeout
		if timeout <= 0 {
			timeout = 0.1
		}
		goodbyeCtx, goodbyeCancel := context.WithTimeout(ctx, time.Duration(timeout*float64(time.Second)))
		select {
		case isGoodbye, ok := <-c.agent.CreateGoodbyeDetectionTask(goodbyeCtx, finalText):
			if ok && isGoodbye {
				goodbyeCancel()
				c.setTerminateReason("goodbye_detected")
				go c.Terminate(context.Background())
				return nil
			}
		case <-goodbyeCtx.Done():
		}
		goodbyeCancel()
	}

	if c.agentConfig.SendFollowUpAudio {
		fev := c.eventFactory.Create(AgentResponse{Kind: AgentResponseFollowUpAudio})
		c.registerEvent(fev)
		c.agentResponsesWorker.ConsumeNonblocking(fev)
	}

	return nil
}

// broadcastInterrupt drains the interrupt queue, interrupting every event
// not already interrupted, then cancels the agent's and the AgentResponses
// stage's in-flight work. Returns true iff at least one event was interrupted.
func (c *Conversation) broadcastInterrupt() bool {
	c.interruptMu.Lock()
	events := c.interruptQueue
	c.interruptQueue = nil
	c.interruptMu.Unlock()

	count := 0
	for _, ev := range events {
		if ev.Interrupt() {
			count++
		}
	}

	c.agent.CancelCurrentTask()
	c.agentResponsesWorker.CancelCurrentTask()

	if count > 0 {
		interruptsBroadcast.Inc()
	}
	return count > 0
}

func (c *Conversation) runIdleWatchdog(ctx context.Context) {
	ticker := time.NewTicker(idleWatchdogTick)
	defer ticker.Stop()
	allowed := c.config.AllowedIdleTimeSeconds
	if c.agentConfig.AllowedIdleTimeSeconds > 0 {
		allowed = c.agentConfig.AllowedIdleTimeSeconds
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := c.lastActionNanos.Load()
			if time.Since(time.Unix(0, last)).Seconds() > allowed {
				c.setTerminateReason("idle_timeout")
				go c.Terminate(context.Background())
				return
			}
		}
	}
}

func (c *Conversation) runSentimentLoop(ctx context.Context) {
	ticker := time.NewTicker(sentimentLoopTick)
	defer ticker.Stop()
	lastLen := -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rendered := c.renderedTranscriptString()
			if len(rendered) == lastLen {
				continue
			}
			lastLen = len(rendered)
			sentiment, err := c.sentiment.Analyse(ctx, rendered)
			if err != nil {
				c.logger.Warn("sentiment analysis failed", "err", err)
				continue
			}
			c.botSentiment.Store(&sentiment)
		}
	}
}

func (c *Conversation) renderedTranscriptString() string {
	logs := c.transcript.EventLogs()
	var b strings.Builder
	for _, e := range logs {
		if e.Kind == EventLogMessage {
			b.WriteString(e.Message.Role)
			b.WriteString(":")
			b.WriteString(e.Message.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Terminate idempotently tears the conversation down in order: interrupts
// first (to unblock in-flight emits), then the synthesizer (to stop
// outgoing network calls), then the agent/memory, then the pipeline stages,
// then I/O.
func (c *Conversation) Terminate(ctx context.Context) {
	c.terminateOnce.Do(func() {
		c.active.Store(false)
		c.setTerminateReason("external")
		conversationsTerminated.WithLabelValues(*c.terminateReason.Load()).Inc()

		if c.idleCancel != nil {
			c.idleCancel()
		}
		if c.sentimentCancel != nil {
			c.sentimentCancel()
		}

		c.broadcastInterrupt()

		c.eventsManager.Publish(TranscriptCompleteEvent{ConversationID: c.id, Transcript: c.transcript})
		if err := c.eventsManager.Flush(ctx); err != nil {
			c.logger.Warn("events manager flush failed", "err", err)
		}

		c.synthesizer.TearDown()

		if c.vectorMemory != nil {
			if err := c.vectorMemory.TearDown(ctx); err != nil {
				c.logger.Warn("vector memory teardown failed", "err", err)
			}
		}

		c.agent.Terminate()

		c.agentResponsesWorker.Terminate()
		c.synthesisResultsWorker.Terminate()

		c.outputDevice.Terminate()
		c.transcriber.Terminate()
		c.randomAudio.Terminate()

		if c.cancel != nil {
			c.cancel()
		}
		close(c.stopped)
	})
}

// Done returns a channel closed once Terminate has fully completed.
func (c *Conversation) Done() <-chan struct{} {
	return c.stopped
}

// Active reports whether the conversation is still accepting work.
func (c *Conversation) Active() bool {
	return c.active.Load()
}
