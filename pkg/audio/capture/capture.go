// Package capture turns a platform microphone into a stream of fixed-size
// [audio.Frame] values at the capture rate the Live API expects.
//
// A [Unit] is single-use: it is started once, produces frames until its
// context is cancelled or the source ends, and cannot be restarted. While
// running it publishes the RMS level of the most recent frame through
// [Unit.Volume] for input visualisers.
package capture

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/netbdpro/nbdlive/pkg/audio"
)

var (
	// ErrMicrophoneUnavailable is returned (wrapped) when the source cannot
	// be opened, e.g. permission denied or no capture device present.
	ErrMicrophoneUnavailable = errors.New("capture: microphone unavailable")

	// ErrAlreadyStarted is returned by [Unit.Start] on a second call.
	ErrAlreadyStarted = errors.New("capture: unit already started")
)

// Source is the platform microphone. Implementations deliver raw mono sample
// blocks of arbitrary size at [Source.SampleRate] until Close is called or
// ctx is cancelled, at which point the channel is closed.
type Source interface {
	// Open acquires the device. It returns an error if access is denied or
	// no device is available.
	Open(ctx context.Context) (<-chan []float32, error)

	// SampleRate is the rate of the blocks delivered by Open.
	SampleRate() int

	// Close releases the device. Safe to call more than once.
	Close() error
}

// Option configures a [Unit].
type Option func(*Unit)

// WithFrameSize sets the number of samples per emitted frame.
func WithFrameSize(n int) Option {
	return func(u *Unit) {
		if n > 0 {
			u.frameSize = n
		}
	}
}

// WithBuffer sets the capacity of the frame channel returned by Start.
func WithBuffer(n int) Option {
	return func(u *Unit) {
		if n >= 0 {
			u.buffer = n
		}
	}
}

// Unit frames, resamples and meters the samples produced by a [Source].
// All methods are safe for concurrent use.
type Unit struct {
	src       Source
	frameSize int
	buffer    int

	volume atomic.Uint64 // math.Float64bits of the last frame RMS

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Unit reading from src.
func New(src Source, opts ...Option) *Unit {
	u := &Unit{
		src:       src,
		frameSize: audio.DefaultFrameSize,
		buffer:    4,
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

// Start opens the source and begins emitting frames of exactly the
// configured size at [audio.CaptureSampleRate]. The returned channel is
// closed when ctx is cancelled, [Unit.Close] is called, or the source ends.
// A trailing partial frame is discarded.
func (u *Unit) Start(ctx context.Context) (<-chan audio.Frame, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.started {
		return nil, ErrAlreadyStarted
	}
	u.started = true

	runCtx, cancel := context.WithCancel(ctx)
	blocks, err := u.src.Open(runCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", ErrMicrophoneUnavailable, err)
	}

	out := make(chan audio.Frame, u.buffer)
	u.cancel = cancel
	u.done = make(chan struct{})
	go u.run(runCtx, blocks, out)
	return out, nil
}

func (u *Unit) run(ctx context.Context, blocks <-chan []float32, out chan<- audio.Frame) {
	defer close(u.done)
	defer close(out)

	conv := audio.RateConverter{Target: audio.CaptureSampleRate}
	srcRate := u.src.SampleRate()
	pending := make([]float32, 0, u.frameSize*2)
	var emitted int64

	for {
		var block []float32
		var ok bool
		select {
		case <-ctx.Done():
			return
		case block, ok = <-blocks:
			if !ok {
				return
			}
		}

		pending = append(pending, conv.Convert(block, srcRate)...)
		for len(pending) >= u.frameSize {
			samples := make([]float32, u.frameSize)
			copy(samples, pending[:u.frameSize])
			pending = append(pending[:0], pending[u.frameSize:]...)

			frame := audio.Frame{
				Samples:    samples,
				SampleRate: audio.CaptureSampleRate,
				Timestamp:  time.Duration(emitted) * time.Second / audio.CaptureSampleRate,
			}
			emitted += int64(u.frameSize)
			u.volume.Store(math.Float64bits(audio.RMS(samples)))

			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Volume returns the RMS level of the most recently emitted frame, or 0
// when the unit is not running.
func (u *Unit) Volume() float64 {
	return math.Float64frombits(u.volume.Load())
}

// Close stops capture and releases the source. It waits for the framing
// goroutine to exit. Safe to call more than once and before Start.
func (u *Unit) Close() error {
	u.mu.Lock()
	cancel, done := u.cancel, u.done
	u.cancel = nil
	u.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := u.src.Close()
	<-done
	u.volume.Store(0)
	if err != nil {
		return fmt.Errorf("capture: close source: %w", err)
	}
	return nil
}
