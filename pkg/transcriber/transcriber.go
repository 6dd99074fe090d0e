// Package transcriber adapts the low-level STTProvider/StreamingSTTProvider
// provider contracts (see pkg/orchestrator) into the richer Transcriber
// interface the conversation core consumes: a running session with a
// mute/unmute gate and an output channel of Transcriptions.
package transcriber

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/duplexcall/duplexcall/pkg/orchestrator"
)

// StreamingTranscriber wraps a StreamingSTTProvider, forwarding its
// transcript callbacks onto a channel the conversation core reads from.
type StreamingTranscriber struct {
	provider orchestrator.StreamingSTTProvider
	lang     orchestrator.Language
	cfg      orchestrator.TranscriberConfig
	logger   orchestrator.Logger

	out   chan orchestrator.Transcription
	audio chan<- []byte

	muted atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewStreamingTranscriber(provider orchestrator.StreamingSTTProvider, lang orchestrator.Language, cfg orchestrator.TranscriberConfig, logger orchestrator.Logger) *StreamingTranscriber {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	return &StreamingTranscriber{
		provider: provider,
		lang:     lang,
		cfg:      cfg,
		logger:   logger,
		out:      make(chan orchestrator.Transcription, 32),
	}
}

func (t *StreamingTranscriber) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	audioIn, err := t.provider.StreamTranscribe(ctx, t.lang, func(text string, isFinal bool) error {
		if t.muted.Load() {
			return nil
		}
		select {
		case t.out <- orchestrator.Transcription{Message: text, Confidence: confidenceFor(isFinal), IsFinal: isFinal}:
		case <-ctx.Done():
		}
		return nil
	})
	if err != nil {
		cancel()
		return err
	}
	t.audio = audioIn
	return nil
}

// confidenceFor assigns a confidence value to providers that don't report
// one of their own: final transcriptions get 1.0 and interim ones 0.5. The
// interim value is above the default MinInterruptConfidence of 0.3, so an
// interim transcription can trigger a barge-in under the default config.
func confidenceFor(isFinal bool) float64 {
	if isFinal {
		return 1.0
	}
	return 0.5
}

func (t *StreamingTranscriber) Ready(ctx context.Context) (bool, error) { return true, nil }

func (t *StreamingTranscriber) SendAudio(chunk []byte) {
	if t.muted.Load() && t.cfg.MuteDuringSpeech {
		return
	}
	if t.audio == nil {
		return
	}
	select {
	case t.audio <- chunk:
	default:
	}
}

func (t *StreamingTranscriber) OutputChannel() <-chan orchestrator.Transcription { return t.out }

func (t *StreamingTranscriber) Mute()   { t.muted.Store(true) }
func (t *StreamingTranscriber) Unmute() { t.muted.Store(false) }

func (t *StreamingTranscriber) GetTranscriberConfig() orchestrator.TranscriberConfig { return t.cfg }

func (t *StreamingTranscriber) Terminate() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// LocalMicTranscriber wraps a batch STTProvider with local capture framing:
// an RMSVAD decides when a burst of microphone audio looks like a complete
// utterance, buffers it, and hands the buffer to the provider once speech
// ends. An EchoSuppressor, if attached via SetEchoSuppressor, discards
// frames that look like the conversation's own speaker output rather than
// real user speech. Neither component is the conversation's interruption
// authority -- see orchestrator.Conversation, which decides barge-in purely
// from Transcription.Confidence.
type LocalMicTranscriber struct {
	provider orchestrator.STTProvider
	vad      orchestrator.VADProvider
	echo     *EchoSuppressor
	lang     orchestrator.Language
	cfg      orchestrator.TranscriberConfig
	logger   orchestrator.Logger

	out   chan orchestrator.Transcription
	muted atomic.Bool

	mu     sync.Mutex
	buf    []byte
	cancel context.CancelFunc
}

func NewLocalMicTranscriber(provider orchestrator.STTProvider, vad orchestrator.VADProvider, lang orchestrator.Language, cfg orchestrator.TranscriberConfig, logger orchestrator.Logger) *LocalMicTranscriber {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	return &LocalMicTranscriber{
		provider: provider,
		vad:      vad,
		lang:     lang,
		cfg:      cfg,
		logger:   logger,
		out:      make(chan orchestrator.Transcription, 32),
	}
}

// SetEchoSuppressor attaches an optional echo suppressor; RecordPlayedAudio
// must be called by the output device whenever it plays a chunk for this to
// have any effect.
func (t *LocalMicTranscriber) SetEchoSuppressor(es *EchoSuppressor) { t.echo = es }

func (t *LocalMicTranscriber) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	go func() {
		<-ctx.Done()
	}()
	return nil
}

func (t *LocalMicTranscriber) Ready(ctx context.Context) (bool, error) { return true, nil }

func (t *LocalMicTranscriber) SendAudio(chunk []byte) {
	if t.muted.Load() && t.cfg.MuteDuringSpeech {
		return
	}
	if t.echo != nil && t.echo.IsEcho(chunk) {
		return
	}

	event, err := t.vad.Process(chunk)
	if err != nil {
		t.logger.Warn("vad process failed", "err", err)
		return
	}

	t.mu.Lock()
	t.buf = append(t.buf, chunk...)
	shouldFlush := event != nil && event.Type == orchestrator.VADSpeechEnd
	buf := t.buf
	if shouldFlush {
		t.buf = nil
	}
	t.mu.Unlock()

	if !shouldFlush || len(buf) == 0 {
		return
	}

	go t.transcribeBuffer(buf)
}

func (t *LocalMicTranscriber) transcribeBuffer(buf []byte) {
	ctx := context.Background()
	text, err := t.provider.Transcribe(ctx, buf, t.lang)
	if err != nil {
		t.logger.Warn("transcription failed", "err", err)
		return
	}
	if t.muted.Load() {
		return
	}
	t.out <- orchestrator.Transcription{Message: text, Confidence: 1.0, IsFinal: true}
}

func (t *LocalMicTranscriber) OutputChannel() <-chan orchestrator.Transcription { return t.out }

func (t *LocalMicTranscriber) Mute()   { t.muted.Store(true) }
func (t *LocalMicTranscriber) Unmute() { t.muted.Store(false) }

func (t *LocalMicTranscriber) GetTranscriberConfig() orchestrator.TranscriberConfig { return t.cfg }

func (t *LocalMicTranscriber) Terminate() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
