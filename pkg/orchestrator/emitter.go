package orchestrator

import (
	"context"
	"time"
)

// StopSignal lets SendSpeechToOutput be cut short by a later interrupt
// without plumbing a context through every chunk write (ConsumeNonblocking
// itself takes no context).
type StopSignal interface {
	Stopped() bool
}

type stopFunc func() bool

func (f stopFunc) Stopped() bool { return f() }

// SendSpeechToOutputResult reports how much of a synthesized utterance
// actually reached the output device.
type SendSpeechToOutputResult struct {
	MessageSentUpTo string
	CutOff          bool
	SecondsSpoken   float64
}

// SendSpeechToOutput paces a SynthesisResult's audio chunks out to device at
// roughly real-time speed, so a later interrupt lands close to where the
// user actually heard the bot stop rather than where the synthesizer
// finished generating. It is the direct port of the original's
// send_speech_to_output: mute the transcriber first if its config asks for
// it, for each chunk compute how many seconds of audio the chunk
// represents, write it to the device, mark "started" after the first chunk
// goes out, then sleep for the remainder of that chunk's real duration
// (minus a small per-chunk scheduling allowance) before pulling the next
// chunk -- unless stop fires first, in which case the result is truncated at
// the last fully-sent chunk and CutOff is set -- and unmute the transcriber
// again before returning, however the loop exited. trans is a shared mutable
// resource: this is the only function that mutes or unmutes it (the initial
// message goes through the same SynthesisResults stage, so it is played
// through here too).
func SendSpeechToOutput(
	ctx context.Context,
	result SynthesisResult,
	device OutputDevice,
	trans Transcriber,
	chunkSize int,
	perChunkAllowanceSeconds float64,
	stop StopSignal,
	onStarted func(),
	sleep func(time.Duration),
) SendSpeechToOutputResult {
	if sleep == nil {
		sleep = time.Sleep
	}

	if trans != nil && trans.GetTranscriberConfig().MuteDuringSpeech {
		trans.Mute()
		defer trans.Unmute()
	}

	sampleRate := device.SamplingRate()
	bytesPerSample := 2 // linear16
	secondsPerChunk := func(n int) float64 {
		if sampleRate <= 0 {
			return 0
		}
		return float64(n) / float64(bytesPerSample) / float64(sampleRate)
	}

	var secondsSpoken float64
	started := false
	cutOff := false

loop:
	for {
		select {
		case <-ctx.Done():
			cutOff = true
			break loop
		case chunk, ok := <-result.Chunks:
			if !ok {
				break loop
			}
			if stop != nil && stop.Stopped() {
				cutOff = true
				break loop
			}

			chunkStart := time.Now()
			chunkLen := secondsPerChunk(len(chunk.Chunk))

			device.ConsumeNonblocking(chunk.Chunk)
			if !started {
				started = true
				if onStarted != nil {
					onStarted()
				}
			}
			secondsSpoken += chunkLen

			elapsed := time.Since(chunkStart).Seconds()
			remaining := chunkLen - elapsed - perChunkAllowanceSeconds
			if remaining > 0 {
				sleep(time.Duration(remaining * float64(time.Second)))
			}

			if chunk.IsLast {
				break loop
			}
		}
	}

	if result.Err != nil {
		_ = result.Err()
	}

	message := ""
	if result.GetMessageUpTo != nil {
		message = result.GetMessageUpTo(secondsSpoken)
	}

	return SendSpeechToOutputResult{
		MessageSentUpTo: message,
		CutOff:          cutOff,
		SecondsSpoken:   secondsSpoken,
	}
}
