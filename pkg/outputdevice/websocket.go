package outputdevice

import (
	"context"
	"sync"

	"github.com/coder/websocket"

	"github.com/duplexcall/duplexcall/pkg/orchestrator"
)

// WebsocketDevice streams synthesized audio chunks out over an already
// -accepted *websocket.Conn as binary frames, draining an internal queue so
// ConsumeNonblocking never blocks the pipeline on a slow client. It is the
// Go counterpart of the original's WebsocketOutputDevice.
type WebsocketDevice struct {
	baseConfig

	conn   *websocket.Conn
	logger orchestrator.Logger

	queue chan []byte

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWebsocketDevice(conn *websocket.Conn, sampleRate int, encoding orchestrator.AudioEncoding, logger orchestrator.Logger) *WebsocketDevice {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	return &WebsocketDevice{
		baseConfig: baseConfig{sampleRate: sampleRate, audioEncoding: encoding},
		conn:       conn,
		logger:     logger,
		queue:      make(chan []byte, 64),
		done:       make(chan struct{}),
	}
}

func (d *WebsocketDevice) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	go d.process(ctx)
	return nil
}

func (d *WebsocketDevice) process(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-d.queue:
			if !ok {
				return
			}
			if err := d.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				d.logger.Warn("websocket output write failed", "err", err)
				return
			}
		}
	}
}

func (d *WebsocketDevice) ConsumeNonblocking(chunk []byte) {
	select {
	case d.queue <- chunk:
	default:
		d.logger.Warn("websocket output queue full, dropping chunk")
	}
}

func (d *WebsocketDevice) Terminate() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-d.done
	d.conn.Close(websocket.StatusNormalClosure, "")
}

var _ orchestrator.OutputDevice = (*WebsocketDevice)(nil)
