package synthesizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/duplexcall/duplexcall/pkg/orchestrator"
)

type fakeTTSProvider struct {
	chunks [][]byte
	err    error
}

func (f *fakeTTSProvider) Synthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language) ([]byte, error) {
	var full []byte
	for _, c := range f.chunks {
		full = append(full, c...)
	}
	return full, f.err
}

func (f *fakeTTSProvider) StreamSynthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language, onChunk func([]byte) error) error {
	for _, c := range f.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return f.err
}

func (f *fakeTTSProvider) Name() string { return "fake-tts" }

func collectChunks(t *testing.T, result orchestrator.SynthesisResult) []orchestrator.ChunkResult {
	t.Helper()
	var got []orchestrator.ChunkResult
	deadline := time.After(time.Second)
	for {
		select {
		case c, ok := <-result.Chunks:
			if !ok {
				return got
			}
			got = append(got, c)
		case <-deadline:
			t.Fatal("timed out waiting for synthesis chunks")
		}
	}
}

func TestCreateSpeechStreamsChunksInOrder(t *testing.T) {
	provider := &fakeTTSProvider{chunks: [][]byte{[]byte("ab"), []byte("cd"), []byte("ef")}}
	s := NewTTSSynthesizer(provider, orchestrator.SynthesizerConfig{}, orchestrator.VoiceF1, orchestrator.LanguageEn)

	result, err := s.CreateSpeech(context.Background(), "hello there", 0, nil)
	if err != nil {
		t.Fatalf("CreateSpeech returned an error: %v", err)
	}

	got := collectChunks(t, result)
	want := []string{"ab", "cd", "ef"}
	if len(got) != len(want) {
		t.Fatalf("got %d chunks, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if string(got[i].Chunk) != w {
			t.Errorf("chunk %d: got %q, want %q", i, got[i].Chunk, w)
		}
		if got[i].IsLast != (i == len(want)-1) {
			t.Errorf("chunk %d: IsLast=%v, want %v", i, got[i].IsLast, i == len(want)-1)
		}
	}
	if result.Err() != nil {
		t.Errorf("expected no error after a successful stream, got %v", result.Err())
	}
	if result.Cached {
		t.Error("expected a live synthesis to report Cached=false")
	}
}

func TestCreateSpeechPropagatesProviderError(t *testing.T) {
	provider := &fakeTTSProvider{chunks: nil, err: errors.New("upstream failure")}
	s := NewTTSSynthesizer(provider, orchestrator.SynthesizerConfig{}, orchestrator.VoiceF1, orchestrator.LanguageEn)

	result, err := s.CreateSpeech(context.Background(), "hello", 0, nil)
	if err != nil {
		t.Fatalf("CreateSpeech returned an error synchronously: %v", err)
	}
	collectChunks(t, result)

	deadline := time.After(time.Second)
	for {
		if e := result.Err(); e != nil {
			if e.Error() != "upstream failure" {
				t.Errorf("got error %v, want upstream failure", e)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("expected result.Err() to eventually report the provider's error")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestCreateSpeechServesFromCacheOnHit(t *testing.T) {
	cache := NewMemoryCache()
	cache.Put(orchestrator.VoiceF1, orchestrator.LanguageEn, "cached phrase", []byte("cached-audio"))
	provider := &fakeTTSProvider{chunks: [][]byte{[]byte("should-not-be-used")}}
	s := NewTTSSynthesizer(provider, orchestrator.SynthesizerConfig{}, orchestrator.VoiceF1, orchestrator.LanguageEn, WithCache(cache))

	result, err := s.CreateSpeech(context.Background(), "cached phrase", 4, nil)
	if err != nil {
		t.Fatalf("CreateSpeech returned an error: %v", err)
	}
	if !result.Cached {
		t.Error("expected a cache hit to report Cached=true")
	}

	got := collectChunks(t, result)
	var full []byte
	for _, c := range got {
		full = append(full, c.Chunk...)
	}
	if string(full) != "cached-audio" {
		t.Errorf("got %q, want %q", full, "cached-audio")
	}
}

func TestCreateSpeechPopulatesCacheAfterLiveSynthesis(t *testing.T) {
	cache := NewMemoryCache()
	provider := &fakeTTSProvider{chunks: [][]byte{[]byte("live-"), []byte("audio")}}
	s := NewTTSSynthesizer(provider, orchestrator.SynthesizerConfig{}, orchestrator.VoiceF1, orchestrator.LanguageEn, WithCache(cache))

	result, err := s.CreateSpeech(context.Background(), "a fresh phrase", 0, nil)
	if err != nil {
		t.Fatalf("CreateSpeech returned an error: %v", err)
	}
	collectChunks(t, result)

	deadline := time.After(time.Second)
	for {
		if audio, ok := cache.Get(orchestrator.VoiceF1, orchestrator.LanguageEn, "a fresh phrase"); ok {
			if string(audio) != "live-audio" {
				t.Errorf("got cached audio %q, want %q", audio, "live-audio")
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("expected the cache to be populated after a live synthesis completes")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestGetMessageUpToRecoversSpokenPrefix(t *testing.T) {
	provider := &fakeTTSProvider{chunks: [][]byte{[]byte("audio")}}
	s := NewTTSSynthesizer(provider, orchestrator.SynthesizerConfig{}, orchestrator.VoiceF1, orchestrator.LanguageEn)

	result, err := s.CreateSpeech(context.Background(), "one two three four five six", 0, nil)
	if err != nil {
		t.Fatalf("CreateSpeech returned an error: %v", err)
	}
	collectChunks(t, result)

	if got := result.GetMessageUpTo(2.0); got != "one two three four five" {
		t.Errorf("got %q, want %q", got, "one two three four five")
	}
	if got := result.GetMessageUpTo(0); got != "" {
		t.Errorf("got %q, want empty string for zero seconds", got)
	}
	if got := result.GetMessageUpTo(1000); got != "one two three four five six" {
		t.Errorf("got %q, want the full message once seconds exceeds its length", got)
	}
}

func TestMemoryCacheDistinguishesVoiceAndLanguage(t *testing.T) {
	cache := NewMemoryCache()
	cache.Put(orchestrator.VoiceF1, orchestrator.LanguageEn, "hello", []byte("en-f1"))
	cache.Put(orchestrator.VoiceM1, orchestrator.LanguageEn, "hello", []byte("en-m1"))
	cache.Put(orchestrator.VoiceF1, orchestrator.LanguageEs, "hello", []byte("es-f1"))

	if audio, ok := cache.Get(orchestrator.VoiceF1, orchestrator.LanguageEn, "hello"); !ok || string(audio) != "en-f1" {
		t.Errorf("got (%q, %v), want (en-f1, true)", audio, ok)
	}
	if audio, ok := cache.Get(orchestrator.VoiceM1, orchestrator.LanguageEn, "hello"); !ok || string(audio) != "en-m1" {
		t.Errorf("got (%q, %v), want (en-m1, true)", audio, ok)
	}
	if _, ok := cache.Get(orchestrator.VoiceM1, orchestrator.LanguageEs, "hello"); ok {
		t.Error("expected no entry for an (voice, lang) pair that was never stored")
	}
}
