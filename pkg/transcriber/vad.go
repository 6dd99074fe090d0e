package transcriber

import (
	"math"
	"time"

	"github.com/duplexcall/duplexcall/pkg/orchestrator"
)

// RMSVAD is a simple root-mean-square voice activity detector. It is not the
// conversation's interruption authority (see Transcriber) -- it only feeds a
// LocalMicTranscriber's decision about when to stop buffering audio for the
// underlying STTProvider and flush a transcription.
type RMSVAD struct {
	threshold    float64
	silenceLimit time.Duration
	isSpeaking   bool
	silenceStart time.Time

	consecutiveFrames int
	minConfirmed      int
	lastRMS           float64
}

func NewRMSVAD(threshold float64, silenceLimit time.Duration) *RMSVAD {
	return &RMSVAD{
		threshold:    threshold,
		silenceLimit: silenceLimit,
		minConfirmed: 7,
	}
}

func (v *RMSVAD) SetMinConfirmed(count int) { v.minConfirmed = count }
func (v *RMSVAD) SetThreshold(threshold float64) { v.threshold = threshold }
func (v *RMSVAD) Threshold() float64 { return v.threshold }
func (v *RMSVAD) LastRMS() float64 { return v.lastRMS }
func (v *RMSVAD) IsSpeaking() bool { return v.isSpeaking }

func (v *RMSVAD) Process(chunk []byte) (*orchestrator.VADEvent, error) {
	rms := v.calculateRMS(chunk)
	v.lastRMS = rms
	now := time.Now()

	if rms > v.threshold {
		v.consecutiveFrames++
		if !v.isSpeaking {
			if v.consecutiveFrames >= v.minConfirmed {
				v.isSpeaking = true
				return &orchestrator.VADEvent{Type: orchestrator.VADSpeechStart, Timestamp: now.UnixMilli()}, nil
			}
			return nil, nil
		}
		v.silenceStart = time.Time{}
		return nil, nil
	}

	v.consecutiveFrames = 0

	if v.isSpeaking {
		if v.silenceStart.IsZero() {
			v.silenceStart = now
		}
		if now.Sub(v.silenceStart) >= v.silenceLimit {
			v.isSpeaking = false
			v.silenceStart = time.Time{}
			return &orchestrator.VADEvent{Type: orchestrator.VADSpeechEnd, Timestamp: now.UnixMilli()}, nil
		}
	}

	return &orchestrator.VADEvent{Type: orchestrator.VADSilence, Timestamp: now.UnixMilli()}, nil
}

func (v *RMSVAD) Name() string { return "rms_vad" }

func (v *RMSVAD) Reset() {
	v.isSpeaking = false
	v.silenceStart = time.Time{}
	v.consecutiveFrames = 0
}

func (v *RMSVAD) Clone() orchestrator.VADProvider {
	return &RMSVAD{
		threshold:    v.threshold,
		silenceLimit: v.silenceLimit,
		minConfirmed: v.minConfirmed,
	}
}

func (v *RMSVAD) calculateRMS(chunk []byte) float64 {
	if len(chunk) == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < len(chunk)-1; i += 2 {
		sample := int16(chunk[i]) | (int16(chunk[i+1]) << 8)
		f := float64(sample) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(chunk)/2))
}
