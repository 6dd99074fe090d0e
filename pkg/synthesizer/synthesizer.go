// Package synthesizer adapts the low-level TTSProvider contract (see
// pkg/orchestrator) into the richer Synthesizer interface the conversation
// core consumes: a lazily-produced chunk stream plus a way to recover which
// prefix of the message was actually spoken after a barge-in truncates it.
package synthesizer

import (
	"context"
	"strings"

	"github.com/duplexcall/duplexcall/pkg/orchestrator"
)

// wordsPerMinute approximates average spoken delivery; used to recover how
// much of a message corresponds to however many seconds actually played,
// mirroring the original's get_message_cutoff_from_voice_speed rather than
// the total-output-length variant, since a streamed synthesis doesn't know
// its own total length until it's fully drained.
const wordsPerMinute = 150

// TTSSynthesizer wraps a TTSProvider, adding a process-lifetime phrase cache
// and the message-cutoff accounting the conversation core needs after a
// barge-in.
type TTSSynthesizer struct {
	provider orchestrator.TTSProvider
	config   orchestrator.SynthesizerConfig
	cache    Cache
	logger   orchestrator.Logger
	voice    orchestrator.Voice
	lang     orchestrator.Language
}

// Option configures a TTSSynthesizer at construction time.
type Option func(*TTSSynthesizer)

func WithCache(c Cache) Option {
	return func(s *TTSSynthesizer) { s.cache = c }
}

func WithLogger(l orchestrator.Logger) Option {
	return func(s *TTSSynthesizer) { s.logger = l }
}

func NewTTSSynthesizer(provider orchestrator.TTSProvider, config orchestrator.SynthesizerConfig, voice orchestrator.Voice, lang orchestrator.Language, opts ...Option) *TTSSynthesizer {
	s := &TTSSynthesizer{
		provider: provider,
		config:   config,
		logger:   &orchestrator.NoOpLogger{},
		voice:    voice,
		lang:     lang,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSpeech synthesizes message, serving from cache when available.
// sentiment is accepted to satisfy the Synthesizer interface; TTSSynthesizer
// does not use it, and no TTSProvider in this module takes a sentiment.
func (s *TTSSynthesizer) CreateSpeech(ctx context.Context, message string, chunkSize int, sentiment *orchestrator.BotSentiment) (orchestrator.SynthesisResult, error) {
	if s.cache != nil {
		if audio, ok := s.cache.Get(s.voice, s.lang, message); ok {
			return chunkedResult(audio, chunkSize, message, true), nil
		}
	}

	out := make(chan orchestrator.ChunkResult)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		var full []byte
		var pending []byte
		flushPending := func(isLast bool) {
			if pending == nil {
				return
			}
			select {
			case out <- orchestrator.ChunkResult{Chunk: pending, IsLast: isLast}:
			case <-ctx.Done():
			}
			pending = nil
		}

		err := s.provider.StreamSynthesize(ctx, message, s.voice, s.lang, func(chunk []byte) error {
			flushPending(false)
			pending = chunk
			full = append(full, chunk...)
			return nil
		})
		flushPending(true)
		errCh <- err

		if err == nil && s.cache != nil && len(full) > 0 {
			s.cache.Put(s.voice, s.lang, message, full)
		}
	}()

	return orchestrator.SynthesisResult{
		Chunks: out,
		Err: func() error {
			select {
			case err := <-errCh:
				return err
			default:
				return nil
			}
		},
		GetMessageUpTo: func(seconds float64) string { return messageCutoffByVoiceSpeed(message, seconds) },
		Cached:         false,
	}, nil
}

func (s *TTSSynthesizer) ReadySynthesizer(ctx context.Context) error { return nil }

func (s *TTSSynthesizer) TearDown() {}

func (s *TTSSynthesizer) GetSynthesizerConfig() orchestrator.SynthesizerConfig { return s.config }

var _ orchestrator.Synthesizer = (*TTSSynthesizer)(nil)

// chunkedResult slices a fully-rendered audio buffer (a cache hit) into
// chunkSize pieces, delivered over a channel the same way a live synthesis
// would be, so the conversation core's consumer doesn't need to special-case
// the cached path.
func chunkedResult(audio []byte, chunkSize int, message string, cached bool) orchestrator.SynthesisResult {
	out := make(chan orchestrator.ChunkResult)
	go func() {
		defer close(out)
		if chunkSize <= 0 {
			chunkSize = len(audio)
			if chunkSize == 0 {
				return
			}
		}
		for i := 0; i < len(audio); i += chunkSize {
			end := i + chunkSize
			isLast := end >= len(audio)
			if isLast {
				end = len(audio)
			}
			out <- orchestrator.ChunkResult{Chunk: audio[i:end], IsLast: isLast}
		}
	}()
	return orchestrator.SynthesisResult{
		Chunks:         out,
		Err:            func() error { return nil },
		GetMessageUpTo: func(seconds float64) string { return messageCutoffByVoiceSpeed(message, seconds) },
		Cached:         cached,
	}
}

// messageCutoffByVoiceSpeed estimates how many words of message were spoken
// in the given number of seconds at wordsPerMinute, and returns that prefix.
// Direct port of the original's get_message_cutoff_from_voice_speed.
func messageCutoffByVoiceSpeed(message string, seconds float64) string {
	if seconds <= 0 || message == "" {
		return ""
	}
	words := strings.Fields(message)
	wordsPerSecond := float64(wordsPerMinute) / 60.0
	spoken := int(wordsPerSecond * seconds)
	if spoken >= len(words) {
		return message
	}
	if spoken <= 0 {
		return ""
	}
	return strings.Join(words[:spoken], " ")
}
