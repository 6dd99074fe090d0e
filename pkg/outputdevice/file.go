package outputdevice

import (
	"context"
	"os"

	"github.com/duplexcall/duplexcall/pkg/audio"
	"github.com/duplexcall/duplexcall/pkg/orchestrator"
)

// FileDevice writes synthesized audio to a WAV file on disk, one block at a
// time on a dedicated goroutine via orchestrator.ThreadAsyncWorker so a slow
// disk never stalls the pipeline. Mirrors the original's FileOutputDevice +
// FileWriterWorker pair.
type FileDevice struct {
	baseConfig

	path   string
	logger orchestrator.Logger

	f      *os.File
	pcm    []byte
	worker *orchestrator.ThreadAsyncWorker
}

func NewFileDevice(path string, sampleRate int, logger orchestrator.Logger) *FileDevice {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	return &FileDevice{
		baseConfig: baseConfig{sampleRate: sampleRate, audioEncoding: orchestrator.AudioEncodingLinear16},
		path:       path,
		logger:     logger,
	}
}

func (d *FileDevice) Start(ctx context.Context) error {
	f, err := os.Create(d.path)
	if err != nil {
		return err
	}
	d.f = f

	d.worker = orchestrator.NewThreadAsyncWorker(64, d.logger, func(chunk []byte) ([]byte, error) {
		d.pcm = append(d.pcm, chunk...)
		_, err := d.f.Write(chunk)
		return nil, err
	})
	d.worker.Start(ctx)
	return nil
}

func (d *FileDevice) ConsumeNonblocking(chunk []byte) {
	if d.worker == nil {
		return
	}
	if !d.worker.ConsumeNonblocking(chunk) {
		d.logger.Warn("file output worker queue full, dropping chunk")
	}
}

// Terminate stops the writer goroutine and rewrites the file with a proper
// WAV header now that the final PCM length is known.
func (d *FileDevice) Terminate() {
	if d.worker != nil {
		d.worker.Terminate()
	}
	if d.f == nil {
		return
	}
	d.f.Close()
	if err := os.WriteFile(d.path, audio.NewWavBuffer(d.pcm, d.sampleRate), 0644); err != nil {
		d.logger.Warn("failed to finalize wav file", "err", err)
	}
}

var _ orchestrator.OutputDevice = (*FileDevice)(nil)
