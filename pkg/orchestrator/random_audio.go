package orchestrator

import (
	"context"
	"math/rand"
	"sync"
)

// AudioPhrase is a single cached filler/back-tracking/follow-up utterance
// ready to be pushed straight to the output device.
type AudioPhrase struct {
	Text  string
	Audio []byte
}

// PhraseCache is the read/write surface a phrase bank is resolved through --
// the same shape as pkg/synthesizer.Cache, so the Synthesizer's own cache
// instance can double as the backing store for filler/back-tracking/
// follow-up phrases, keyed the same way: (voice, language, text).
type PhraseCache interface {
	Get(voice Voice, lang Language, text string) ([]byte, bool)
	Put(voice Voice, lang Language, text string, audio []byte)
}

// ResolvePhraseBank turns a list of phrase texts into a ready-to-play
// AudioPhrase bank, synthesizing only the phrases cache doesn't already hold
// for (voice, lang) and caching the result -- so a fixed set of canned
// phrases is synthesized once per voice no matter how many conversations
// end up building a RandomAudioManager around it.
func ResolvePhraseBank(ctx context.Context, cache PhraseCache, voice Voice, lang Language, synthesize func(ctx context.Context, text string) ([]byte, error), texts []string) ([]AudioPhrase, error) {
	bank := make([]AudioPhrase, 0, len(texts))
	for _, text := range texts {
		audio, ok := cache.Get(voice, lang, text)
		if !ok {
			var err error
			audio, err = synthesize(ctx, text)
			if err != nil {
				return nil, err
			}
			cache.Put(voice, lang, text, audio)
		}
		bank = append(bank, AudioPhrase{Text: text, Audio: audio})
	}
	return bank, nil
}

// RandomAudioManager plays a random phrase from one of three banks (filler,
// back-tracking, follow-up) while the agent is thinking or the user has just
// finished a turn. Only one audio stream may be active at a time; starting a
// new one stops whatever is currently playing, mirroring the mutual
// exclusion the original enforces by awaiting the previous send task before
// starting the next.
type RandomAudioManager struct {
	output OutputDevice
	logger Logger

	filler      []AudioPhrase
	backTrack   []AudioPhrase
	followUp    []AudioPhrase

	// sendMu serializes the whole stop-current/start-new sequence in send, so
	// two concurrent Send*Audio calls can't both pass StopCurrent before
	// either has registered its own stream -- without it, both would launch
	// and the single-stream guarantee would be lost.
	sendMu sync.Mutex

	mu         sync.Mutex
	cancelCur  context.CancelFunc
	streamDone chan struct{}
}

func NewRandomAudioManager(output OutputDevice, logger Logger, filler, backTrack, followUp []AudioPhrase) *RandomAudioManager {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &RandomAudioManager{output: output, logger: logger, filler: filler, backTrack: backTrack, followUp: followUp}
}

func (m *RandomAudioManager) pick(bank []AudioPhrase) (AudioPhrase, bool) {
	if len(bank) == 0 {
		return AudioPhrase{}, false
	}
	return bank[rand.Intn(len(bank))], true
}

// SendFillerAudio plays a random filler phrase ("hmm", "let me think...").
func (m *RandomAudioManager) SendFillerAudio(ctx context.Context) {
	m.send(ctx, m.filler)
}

// SendBackTrackingAudio plays a random back-tracking phrase ("sorry, go
// ahead") after the user interrupts the bot mid-sentence.
func (m *RandomAudioManager) SendBackTrackingAudio(ctx context.Context) {
	m.send(ctx, m.backTrack)
}

// SendFollowUpAudio plays a random follow-up phrase ("are you still there?").
// The conversation requests one after each bot reply when the agent config
// enables SendFollowUpAudio.
func (m *RandomAudioManager) SendFollowUpAudio(ctx context.Context) {
	m.send(ctx, m.followUp)
}

func (m *RandomAudioManager) send(ctx context.Context, bank []AudioPhrase) {
	phrase, ok := m.pick(bank)
	if !ok {
		return
	}

	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	m.StopCurrent()

	streamCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	m.mu.Lock()
	m.cancelCur = cancel
	m.streamDone = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		select {
		case <-streamCtx.Done():
			return
		default:
		}
		m.output.ConsumeNonblocking(phrase.Audio)
	}()
}

// StopCurrent cancels and waits for whatever random-audio stream is
// currently playing, if any. Safe to call when nothing is playing.
func (m *RandomAudioManager) StopCurrent() {
	m.mu.Lock()
	cancel := m.cancelCur
	done := m.streamDone
	m.cancelCur = nil
	m.streamDone = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Terminate stops any current stream. RandomAudioManager owns no other
// background resources.
func (m *RandomAudioManager) Terminate() {
	m.StopCurrent()
}
