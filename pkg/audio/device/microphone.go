package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/netbdpro/nbdlive/pkg/audio"
	"github.com/netbdpro/nbdlive/pkg/audio/capture"
)

var _ capture.Source = (*Microphone)(nil)

var errMicrophoneOpen = errors.New("device: microphone already open")

// blockBuffer is the number of device periods buffered between the audio
// thread and the capture unit before blocks are dropped.
const blockBuffer = 32

// Microphone is the default capture device, opened as mono signed 16-bit.
type Microphone struct {
	rate int

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	dev     *malgo.Device
	ch      chan []float32
	closed  bool
	dropped atomic.Int64
}

// NewMicrophone creates a microphone that requests rate Hz from the device.
func NewMicrophone(rate int) *Microphone {
	return &Microphone{rate: rate}
}

// SampleRate implements [capture.Source].
func (m *Microphone) SampleRate() int { return m.rate }

// Open implements [capture.Source].
func (m *Microphone) Open(ctx context.Context) (<-chan []float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dev != nil {
		return nil, errMicrophoneOpen
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("malgo", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("device: init audio context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(m.rate)
	cfg.PeriodSizeInMilliseconds = 20

	ch := make(chan []float32, blockBuffer)
	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) { m.deliver(input) },
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("device: init microphone: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("device: start microphone: %w", err)
	}

	m.ctx, m.dev, m.ch = mctx, dev, ch
	m.closed = false

	go func() {
		<-ctx.Done()
		_ = m.Close()
	}()
	return ch, nil
}

// deliver runs on the audio thread and must not block.
func (m *Microphone) deliver(input []byte) {
	samples := audio.DecodePCM16(input)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.ch == nil {
		return
	}
	select {
	case m.ch <- samples:
	default:
		if m.dropped.Add(1) == 1 {
			slog.Warn("device: microphone blocks dropped, consumer too slow")
		}
	}
}

// Close implements [capture.Source].
func (m *Microphone) Close() error {
	m.mu.Lock()
	if m.closed || m.dev == nil {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	dev, mctx, ch := m.dev, m.ctx, m.ch
	m.mu.Unlock()

	// Stop waits for the data callback, which takes m.mu.
	var err error
	if serr := dev.Stop(); serr != nil {
		err = fmt.Errorf("device: stop microphone: %w", serr)
	}
	dev.Uninit()
	_ = mctx.Uninit()
	mctx.Free()

	m.mu.Lock()
	close(ch)
	m.dev, m.ctx, m.ch = nil, nil, nil
	m.mu.Unlock()
	return err
}
