package outputdevice

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileDeviceWritesWavWithHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.wav")

	d := NewFileDevice(path, 16000, nil)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	d.ConsumeNonblocking([]byte{1, 2, 3, 4})
	d.ConsumeNonblocking([]byte{5, 6, 7, 8})

	// Terminate waits for the writer goroutine to drain before finalizing
	// the file, so no extra synchronization is needed here.
	d.Terminate()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written file: %v", err)
	}

	if len(data) != 44+8 {
		t.Fatalf("got %d bytes, want a 44-byte wav header plus 8 bytes of pcm", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Errorf("missing RIFF/WAVE markers: %q", data[:12])
	}
	if string(data[36:40]) != "data" {
		t.Errorf("missing data chunk marker: %q", data[36:40])
	}
	pcm := data[44:]
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if string(pcm) != string(want) {
		t.Errorf("got pcm %v, want %v", pcm, want)
	}

	if d.SamplingRate() != 16000 {
		t.Errorf("got sampling rate %d, want 16000", d.SamplingRate())
	}
}

func TestFileDeviceConsumeBeforeStartIsNoop(t *testing.T) {
	d := NewFileDevice(filepath.Join(t.TempDir(), "unused.wav"), 16000, nil)
	// No panic expected, and no file is created since Start was never called.
	d.ConsumeNonblocking([]byte{1, 2, 3})
}
