// Package orchestrator implements the real-time voice-conversation pipeline:
// the interruptible producer/consumer graph that couples a streaming
// transcriber, a token-streaming agent, a synthesizer and an output device
// into a single duplex conversation.
package orchestrator

import "context"

// Logger is the narrow structured-logging surface every pipeline component
// writes through. Never fmt.Println or the stdlib log package directly.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything. Zero value is ready to use.
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// Voice and Language mirror the teacher's enums; the domain has no reason to
// diverge from them.
type Voice string

const (
	VoiceF1 Voice = "F1"
	VoiceF2 Voice = "F2"
	VoiceF3 Voice = "F3"
	VoiceF4 Voice = "F4"
	VoiceF5 Voice = "F5"
	VoiceM1 Voice = "M1"
	VoiceM2 Voice = "M2"
	VoiceM3 Voice = "M3"
	VoiceM4 Voice = "M4"
	VoiceM5 Voice = "M5"
)

type Language string

const (
	LanguageEn Language = "en"
	LanguageEs Language = "es"
	LanguageFr Language = "fr"
	LanguageDe Language = "de"
	LanguageIt Language = "it"
	LanguagePt Language = "pt"
	LanguageJa Language = "ja"
	LanguageZh Language = "zh"
)

// Message is a single role/content chat turn handed to an LLM.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AudioEncoding names the PCM framing an output device or synthesizer
// operates on.
type AudioEncoding string

const (
	AudioEncodingLinear16 AudioEncoding = "linear16"
	AudioEncodingMulaw    AudioEncoding = "mulaw"
)

// Low-level provider interfaces. Thin adapters over external services --
// kept exactly at the teacher's abstraction level. pkg/providers/{llm,stt,tts}
// implement these; pkg/agent, pkg/transcriber and pkg/synthesizer wrap them
// into the richer Agent/Transcriber/Synthesizer interfaces the conversation
// core consumes.

type STTProvider interface {
	Transcribe(ctx context.Context, audio []byte, lang Language) (string, error)
	Name() string
}

type StreamingSTTProvider interface {
	STTProvider
	StreamTranscribe(ctx context.Context, lang Language, onTranscript func(transcript string, isFinal bool) error) (chan<- []byte, error)
}

type LLMProvider interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Name() string
}

// StreamingLLMProvider additionally exposes a token-at-a-time feed, which
// SimpleAgent drives through the sentence collator instead of waiting for a
// single monolithic reply. onFunctionFragment is called for a provider's
// partial tool-call deltas, if it streams any -- a provider that never calls
// it is still a valid StreamingLLMProvider, it just never drives the
// collator's FunctionCall aggregation.
type StreamingLLMProvider interface {
	LLMProvider
	CompleteStream(ctx context.Context, messages []Message, onToken func(token string) error, onFunctionFragment func(name, arguments string) error) error
}

type TTSProvider interface {
	Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error)
	StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error
	Name() string
}

type VADProvider interface {
	Process(chunk []byte) (*VADEvent, error)
	Reset()
	Clone() VADProvider
	Name() string
}

type VADEventType string

const (
	VADSpeechStart VADEventType = "SPEECH_START"
	VADSpeechEnd   VADEventType = "SPEECH_END"
	VADSilence     VADEventType = "SILENCE"
)

type VADEvent struct {
	Type      VADEventType
	Timestamp int64
}

// BotSentiment colors synthesized speech. Produced by a SentimentAnalyser,
// consumed by a Synthesizer. Single-writer snapshot -- see
// Conversation.botSentiment (atomic.Pointer, not a mutex; Open Question #2).
type BotSentiment struct {
	Emotion  string
	Degree   float64
	Markdown string
}

// SentimentAnalyser is an external collaborator: given the transcript
// rendered as a string, produce the bot's sentiment for the next utterance.
type SentimentAnalyser interface {
	Analyse(ctx context.Context, transcript string) (BotSentiment, error)
}

// Transcription is produced by a Transcriber and consumed (and mutated, to
// stamp IsInterrupt) by the Transcriptions stage. Create-once, discard-after-use.
type Transcription struct {
	Message     string
	Confidence  float64
	IsFinal     bool
	IsInterrupt bool
}

// TranscriberConfig is the behavioural knob set a Transcriber exposes to the
// conversation core.
type TranscriberConfig struct {
	MinInterruptConfidence float64
	MuteDuringSpeech       bool
}

// Transcriber is the external speech-to-text collaborator. Concrete
// implementations live in pkg/transcriber.
type Transcriber interface {
	Start(ctx context.Context) error
	Ready(ctx context.Context) (bool, error)
	SendAudio(chunk []byte)
	OutputChannel() <-chan Transcription
	Mute()
	Unmute()
	GetTranscriberConfig() TranscriberConfig
	Terminate()
}

// AgentConfig is the behavioural knob set an Agent exposes to the
// conversation core.
type AgentConfig struct {
	Actions                  []string
	InitialMessage           string
	SendBackTrackingAudio    bool
	SendFollowUpAudio        bool
	EndConversationOnGoodbye bool
	AllowedIdleTimeSeconds   float64
	TrackBotSentiment        bool
}

// AgentInput travels from the Transcriptions stage into the agent.
type AgentInput struct {
	Transcription  Transcription
	ConversationID string
}

// AgentResponseKind discriminates the tagged union an Agent emits on its
// output channel.
type AgentResponseKind int

const (
	AgentResponseMessage AgentResponseKind = iota
	AgentResponseFillerAudio
	AgentResponseFollowUpAudio
	AgentResponseStop
)

// AgentResponse is what the AgentResponses stage consumes: either an
// utterance to synthesize, a request to play one of the canned audio banks,
// or a request to terminate the conversation.
type AgentResponse struct {
	Kind            AgentResponseKind
	Message         string
	IsInterruptible bool
}

// ActionInput travels from the agent to an attached action (tool) for
// execution; the action system is intentionally minimal here (actions are
// named and carry opaque string input/output) since the pipeline's
// authoritative contract is the interrupt/synthesis protocol, not a generic
// tool-calling runtime.
type ActionInput struct {
	Name  string
	Input string
}

// ActionOutput is what an executed action reports back.
type ActionOutput struct {
	Name   string
	Output string
	Err    error
}

// ActionFactory resolves an action name to an executable function. A nil
// ActionFactory means the agent supports no actions.
type ActionFactory interface {
	Create(name string) (func(ctx context.Context, input string) (string, error), bool)
}

// ConversationStateManager is consulted by an agent implementation that
// needs to read or mutate conversation-scoped state beyond the transcript
// (e.g. a call-transfer flag). Unused by SimpleAgent; present so the
// external interface matches what a richer agent could need.
type ConversationStateManager interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{})
}

// Agent is the external language-model collaborator. Concrete implementations
// live in pkg/agent.
type Agent interface {
	Start(ctx context.Context)
	Terminate()
	InputChannel() chan<- *InterruptibleEvent
	OutputChannel() <-chan *InterruptibleEvent
	ActionsChannel() <-chan ActionInput
	GetActionFactory() ActionFactory
	GetAgentConfig() AgentConfig
	UpdateLastBotMessageOnCutOff(text string)
	CreateGoodbyeDetectionTask(ctx context.Context, text string) <-chan bool
	CancelCurrentTask()
	AttachTranscript(t *Transcript)
	SetInterruptibleEventFactory(f *EventFactory)
	AttachConversationStateManager(m ConversationStateManager)
}

// SynthesizerConfig is the behavioural knob set a Synthesizer exposes to the
// conversation core.
type SynthesizerConfig struct {
	SamplingRate      int
	AudioEncoding     AudioEncoding
	ShouldEncodeAsWav bool
	HasSentiment      bool
}

// ChunkResult is one element of a SynthesisResult's lazy chunk sequence.
type ChunkResult struct {
	Chunk  []byte
	IsLast bool
}

// SynthesisResult is produced once per synthesized utterance. Chunks is
// single-use and may close early (truncation); Err reports why.
type SynthesisResult struct {
	Chunks         <-chan ChunkResult
	Err            func() error
	GetMessageUpTo func(seconds float64) string
	Cached         bool
}

// Synthesizer is the external text-to-speech collaborator. Concrete
// implementations live in pkg/synthesizer.
type Synthesizer interface {
	CreateSpeech(ctx context.Context, message string, chunkSize int, sentiment *BotSentiment) (SynthesisResult, error)
	ReadySynthesizer(ctx context.Context) error
	TearDown()
	GetSynthesizerConfig() SynthesizerConfig
}

// OutputDevice is the external audio sink. Concrete implementations live in
// pkg/outputdevice.
type OutputDevice interface {
	Start(ctx context.Context) error
	ConsumeNonblocking(chunk []byte)
	Terminate()
	SamplingRate() int
	AudioEncoding() AudioEncoding
}

// EventsManager fans transcript/lifecycle events out to external subscribers
// (telephony bridges, logging sinks, dashboards...). A nil manager is valid
// and simply drops events.
type EventsManager interface {
	Publish(event interface{})
	Flush(ctx context.Context) error
}

// NoOpEventsManager drops everything published to it.
type NoOpEventsManager struct{}

func (NoOpEventsManager) Publish(event interface{})       {}
func (NoOpEventsManager) Flush(ctx context.Context) error { return nil }

// TranscriptCompleteEvent is published exactly once, during Terminate.
type TranscriptCompleteEvent struct {
	ConversationID string
	Transcript     *Transcript
}

// TranscriptEvent is published incrementally as bot messages are updated
// (see Transcript.MaybePublish).
type TranscriptEvent struct {
	ConversationID string
	Message        Message
}

// Tokenizer counts tokens the way the configured LLM would, so
// Transcript.RenderForAgent can enforce a token budget instead of a raw
// message-count cap.
type Tokenizer interface {
	Count(text string) int
}

// Config is the conversation's injected, immutable-after-construction
// configuration record. No process-wide singletons -- see spec Design Notes.
type Config struct {
	SampleRate               int
	MaxContextMessages       int
	MaxContextTokens         int
	VoiceStyle               Voice
	Language                 Language
	PerChunkAllowanceSeconds float64
	TextToSpeechChunkSeconds float64
	AllowedIdleTimeSeconds   float64
	MinInterruptConfidence   float64
	GoodbyeDetectionTimeout  float64
}

// DefaultConfig mirrors the teacher's DefaultConfig plus the pipeline knobs
// named in spec section 6.
func DefaultConfig() Config {
	return Config{
		SampleRate:               44100,
		MaxContextMessages:       20,
		MaxContextTokens:         4096,
		VoiceStyle:               VoiceF1,
		Language:                 LanguageEn,
		PerChunkAllowanceSeconds: 0.01,
		TextToSpeechChunkSeconds: 1.0,
		AllowedIdleTimeSeconds:   15 * 60,
		MinInterruptConfidence:   0.3,
		GoodbyeDetectionTimeout:  0.1,
	}
}
