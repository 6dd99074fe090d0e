// Package outputdevice implements the OutputDevice side of the conversation
// pipeline: a sink that accepts raw PCM chunks and plays, streams or writes
// them out, all without blocking the caller (ConsumeNonblocking).
package outputdevice

import (
	"github.com/duplexcall/duplexcall/pkg/orchestrator"
)

// baseConfig holds the sampling rate / encoding every implementation
// reports through OutputDevice's matching getters.
type baseConfig struct {
	sampleRate    int
	audioEncoding orchestrator.AudioEncoding
}

func (b baseConfig) SamplingRate() int                       { return b.sampleRate }
func (b baseConfig) AudioEncoding() orchestrator.AudioEncoding { return b.audioEncoding }
