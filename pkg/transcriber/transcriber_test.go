package transcriber

import (
	"context"
	"testing"
	"time"

	"github.com/duplexcall/duplexcall/pkg/orchestrator"
)

type fakeStreamingSTT struct {
	audio        chan []byte
	onTranscript func(text string, isFinal bool) error
}

func (f *fakeStreamingSTT) Transcribe(ctx context.Context, audio []byte, lang orchestrator.Language) (string, error) {
	return "", nil
}

func (f *fakeStreamingSTT) Name() string { return "fake-streaming" }

func (f *fakeStreamingSTT) StreamTranscribe(ctx context.Context, lang orchestrator.Language, onTranscript func(transcript string, isFinal bool) error) (chan<- []byte, error) {
	f.onTranscript = onTranscript
	return f.audio, nil
}

func TestStreamingTranscriberForwardsFinalTranscripts(t *testing.T) {
	stt := &fakeStreamingSTT{audio: make(chan []byte, 4)}
	tr := NewStreamingTranscriber(stt, orchestrator.LanguageEn, orchestrator.TranscriberConfig{}, nil)

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Terminate()

	if err := stt.onTranscript("hello there", true); err != nil {
		t.Fatalf("onTranscript: %v", err)
	}

	select {
	case got := <-tr.OutputChannel():
		if got.Message != "hello there" || !got.IsFinal || got.Confidence != 1.0 {
			t.Errorf("got %+v, want final transcription with confidence 1.0", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transcription")
	}
}

func TestStreamingTranscriberMuteSuppressesOutput(t *testing.T) {
	stt := &fakeStreamingSTT{audio: make(chan []byte, 4)}
	tr := NewStreamingTranscriber(stt, orchestrator.LanguageEn, orchestrator.TranscriberConfig{}, nil)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Terminate()

	tr.Mute()
	if err := stt.onTranscript("should not appear", true); err != nil {
		t.Fatalf("onTranscript: %v", err)
	}

	select {
	case got := <-tr.OutputChannel():
		t.Fatalf("expected no output while muted, got %+v", got)
	case <-time.After(50 * time.Millisecond):
	}

	tr.Unmute()
	if err := stt.onTranscript("now visible", true); err != nil {
		t.Fatalf("onTranscript: %v", err)
	}
	select {
	case got := <-tr.OutputChannel():
		if got.Message != "now visible" {
			t.Errorf("got %q, want %q", got.Message, "now visible")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transcription after unmute")
	}
}

func TestStreamingTranscriberSendAudioForwardsToProvider(t *testing.T) {
	stt := &fakeStreamingSTT{audio: make(chan []byte, 4)}
	tr := NewStreamingTranscriber(stt, orchestrator.LanguageEn, orchestrator.TranscriberConfig{}, nil)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Terminate()

	tr.SendAudio([]byte{1, 2, 3, 4})
	select {
	case chunk := <-stt.audio:
		if len(chunk) != 4 {
			t.Errorf("got chunk of length %d, want 4", len(chunk))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for audio to reach the provider")
	}
}

// fakeSTT is a batch STTProvider that records every buffer it was asked to
// transcribe and returns a canned reply.
type fakeSTT struct {
	reply string
	err   error
	got   chan []byte
}

func (f *fakeSTT) Transcribe(ctx context.Context, audio []byte, lang orchestrator.Language) (string, error) {
	if f.got != nil {
		f.got <- audio
	}
	return f.reply, f.err
}

func (f *fakeSTT) Name() string { return "fake-batch" }

// scriptedVAD returns VADSpeechEnd on the call index given by endAt, and nil
// otherwise -- enough to drive LocalMicTranscriber's buffer-then-flush logic
// without reimplementing RMSVAD's timing semantics.
type scriptedVAD struct {
	endAt int
	calls int
}

func (v *scriptedVAD) Process(chunk []byte) (*orchestrator.VADEvent, error) {
	v.calls++
	if v.calls == v.endAt {
		return &orchestrator.VADEvent{Type: orchestrator.VADSpeechEnd}, nil
	}
	return nil, nil
}

func (v *scriptedVAD) Reset()                          { v.calls = 0 }
func (v *scriptedVAD) Clone() orchestrator.VADProvider { return &scriptedVAD{endAt: v.endAt} }
func (v *scriptedVAD) Name() string                    { return "scripted" }

func TestLocalMicTranscriberFlushesOnSpeechEnd(t *testing.T) {
	stt := &fakeSTT{reply: "what the user said", got: make(chan []byte, 1)}
	vad := &scriptedVAD{endAt: 3}
	tr := NewLocalMicTranscriber(stt, vad, orchestrator.LanguageEn, orchestrator.TranscriberConfig{}, nil)

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Terminate()

	tr.SendAudio([]byte{1, 1})
	tr.SendAudio([]byte{2, 2})
	tr.SendAudio([]byte{3, 3})

	select {
	case buf := <-stt.got:
		if len(buf) != 6 {
			t.Errorf("provider received %d bytes, want the full 6-byte buffer", len(buf))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the provider to be called")
	}

	select {
	case got := <-tr.OutputChannel():
		if got.Message != "what the user said" || !got.IsFinal {
			t.Errorf("got %+v, want the provider's reply as a final transcription", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the transcription")
	}
}

func TestLocalMicTranscriberMutedDropsTranscription(t *testing.T) {
	stt := &fakeSTT{reply: "ignored", got: make(chan []byte, 1)}
	vad := &scriptedVAD{endAt: 1}
	tr := NewLocalMicTranscriber(stt, vad, orchestrator.LanguageEn, orchestrator.TranscriberConfig{MuteDuringSpeech: true}, nil)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Terminate()

	tr.Mute()
	tr.SendAudio([]byte{1, 1})

	select {
	case buf := <-stt.got:
		t.Fatalf("expected SendAudio to be dropped while muted, but provider saw %v", buf)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocalMicTranscriberEchoSuppressorDropsEchoedAudio(t *testing.T) {
	stt := &fakeSTT{reply: "ignored", got: make(chan []byte, 1)}
	vad := &scriptedVAD{endAt: 1}
	tr := NewLocalMicTranscriber(stt, vad, orchestrator.LanguageEn, orchestrator.TranscriberConfig{}, nil)

	es := NewEchoSuppressor()
	played := generateSine(440, 100, 44100, 0.8)
	es.RecordPlayedAudio(played)
	tr.SetEchoSuppressor(es)

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Terminate()

	tr.SendAudio(played)

	select {
	case buf := <-stt.got:
		t.Fatalf("expected echoed audio to be dropped before reaching the VAD, but provider saw %v", buf)
	case <-time.After(50 * time.Millisecond):
	}
	if vad.calls != 0 {
		t.Errorf("expected VAD to never see echoed audio, got %d calls", vad.calls)
	}
}
