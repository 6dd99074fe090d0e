package synthesizer

import (
	"sync"

	"github.com/duplexcall/duplexcall/pkg/orchestrator"
)

// Cache stores previously synthesized audio for a (voice, language, text)
// triple so a repeated utterance -- a fixed disclaimer, a common
// confirmation phrase -- skips the network round trip to the TTS provider
// entirely. Mirrors the original's AudioCache, minus the on-disk layer: this
// is a process-lifetime cache only.
type Cache interface {
	Get(voice orchestrator.Voice, lang orchestrator.Language, text string) ([]byte, bool)
	Put(voice orchestrator.Voice, lang orchestrator.Language, text string, audio []byte)
}

type cacheKey struct {
	voice orchestrator.Voice
	lang  orchestrator.Language
	text  string
}

// MemoryCache is a Cache backed by a plain map guarded by a mutex. Entries
// never expire; callers synthesizing unbounded free-form text should not use
// this for arbitrary LLM output, only for a bounded set of known phrases.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[cacheKey][]byte
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[cacheKey][]byte)}
}

func (c *MemoryCache) Get(voice orchestrator.Voice, lang orchestrator.Language, text string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	audio, ok := c.entries[cacheKey{voice, lang, text}]
	return audio, ok
}

func (c *MemoryCache) Put(voice orchestrator.Voice, lang orchestrator.Language, text string, audio []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{voice, lang, text}] = audio
}
