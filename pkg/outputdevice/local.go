package outputdevice

import (
	"context"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/duplexcall/duplexcall/pkg/orchestrator"
)

// LocalDevice plays synthesized audio through the machine's default audio
// output via malgo, the same library the teacher wires up for full-duplex
// capture+playback. Here it only drives playback; microphone capture is the
// transcriber's concern (see pkg/transcriber).
type LocalDevice struct {
	baseConfig

	logger orchestrator.Logger

	mctx   *malgo.AllocatedContext
	device *malgo.Device

	mu      sync.Mutex
	pending []byte

	onPlay func([]byte)
}

// SetOnPlay attaches a callback invoked with every chunk handed to
// ConsumeNonblocking, before it's queued for playback -- wired to a
// transcriber's EchoSuppressor.RecordPlayedAudio so local full-duplex setups
// can tell their own speaker output apart from real microphone speech.
func (d *LocalDevice) SetOnPlay(fn func([]byte)) { d.onPlay = fn }

func NewLocalDevice(sampleRate int, encoding orchestrator.AudioEncoding, logger orchestrator.Logger) *LocalDevice {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	return &LocalDevice{
		baseConfig: baseConfig{sampleRate: sampleRate, audioEncoding: encoding},
		logger:     logger,
	}
}

func (d *LocalDevice) Start(ctx context.Context) error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(d.sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		d.mu.Lock()
		n := copy(pOutput, d.pending)
		d.pending = d.pending[n:]
		d.mu.Unlock()
		for i := n; i < len(pOutput); i++ {
			pOutput[i] = 0
		}
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		mctx.Uninit()
		return err
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		return err
	}

	d.mctx = mctx
	d.device = device
	return nil
}

func (d *LocalDevice) ConsumeNonblocking(chunk []byte) {
	if d.onPlay != nil {
		d.onPlay(chunk)
	}
	d.mu.Lock()
	d.pending = append(d.pending, chunk...)
	d.mu.Unlock()
}

func (d *LocalDevice) Terminate() {
	if d.device != nil {
		d.device.Uninit()
	}
	if d.mctx != nil {
		d.mctx.Uninit()
	}
}

var _ orchestrator.OutputDevice = (*LocalDevice)(nil)
