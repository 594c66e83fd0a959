// Package mock provides in-memory implementations of the microphone
// ([capture.Source]) and speaker ([playback.Output]) capabilities for use in
// unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	mic := mock.NewSource(16000)
//	out := &mock.Output{}
//	devices := &mock.Devices{Mic: mic, Out: out}
//	mic.Push(make([]float32, 4096))
//	out.Advance(0.5)
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/netbdpro/nbdlive/pkg/audio"
	"github.com/netbdpro/nbdlive/pkg/audio/capture"
	"github.com/netbdpro/nbdlive/pkg/audio/playback"
)

// Compile-time interface assertions.
var (
	_ capture.Source  = (*Source)(nil)
	_ playback.Output = (*Output)(nil)
	_ playback.Handle = (*Handle)(nil)
)

// ─── Source ──────────────────────────────────────────────────────────────────

// Source is a mock microphone. Blocks handed to [Source.Push] are delivered
// on the channel returned by Open.
type Source struct {
	mu sync.Mutex

	// Rate is returned by [Source.SampleRate].
	Rate int

	// OpenError, when non-nil, is returned by [Source.Open].
	OpenError error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	ch     chan []float32
	closed bool
}

// NewSource creates a Source delivering blocks at rate Hz.
func NewSource(rate int) *Source {
	return &Source{Rate: rate}
}

// Open implements [capture.Source].
func (s *Source) Open(_ context.Context) (<-chan []float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountOpen++
	if s.OpenError != nil {
		return nil, s.OpenError
	}
	s.ch = make(chan []float32, 64)
	s.closed = false
	return s.ch, nil
}

// SampleRate implements [capture.Source].
func (s *Source) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Rate
}

// Close implements [capture.Source]. It closes the block channel.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.ch != nil && !s.closed {
		close(s.ch)
		s.closed = true
	}
	return nil
}

// Push delivers a block to the open channel. It reports false when the
// source is not open or its buffer is full.
func (s *Source) Push(block []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil || s.closed {
		return false
	}
	select {
	case s.ch <- block:
		return true
	default:
		return false
	}
}

// End closes the block channel as if the device disappeared.
func (s *Source) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil && !s.closed {
		close(s.ch)
		s.closed = true
	}
}

// Opens returns the number of Open calls so far.
func (s *Source) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountOpen
}

// Closes returns the number of Close calls so far.
func (s *Source) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

// ─── Output ──────────────────────────────────────────────────────────────────

// Scheduled records one call to [Output.Schedule].
type Scheduled struct {
	Buffer audio.Buffer
	Start  float64
	Handle *Handle
}

// End returns the clock time at which the buffer finishes.
func (s Scheduled) End() float64 {
	return s.Start + s.Buffer.Duration()
}

// Output is a mock audio output with a manually advanced clock. Buffers are
// never rendered; tests finish them explicitly with [Output.Finish].
type Output struct {
	mu sync.Mutex

	// ScheduleError, when non-nil, is returned by [Output.Schedule].
	ScheduleError error

	// CallCountClose records how many times Close was called.
	CallCountClose int

	now       float64
	scheduled []Scheduled
}

// Now implements [playback.Output].
func (o *Output) Now() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// SetNow moves the clock to t seconds.
func (o *Output) SetNow(t float64) {
	o.mu.Lock()
	o.now = t
	o.mu.Unlock()
}

// Advance moves the clock forward by d seconds.
func (o *Output) Advance(d float64) {
	o.mu.Lock()
	o.now += d
	o.mu.Unlock()
}

// Schedule implements [playback.Output]. A start time in the past is
// recorded as the current clock, matching real output contexts.
func (o *Output) Schedule(buf audio.Buffer, when float64, onEnded func()) (playback.Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ScheduleError != nil {
		return nil, o.ScheduleError
	}
	h := &Handle{onEnded: onEnded}
	o.scheduled = append(o.scheduled, Scheduled{
		Buffer: buf,
		Start:  max(when, o.now),
		Handle: h,
	})
	return h, nil
}

// Close implements [playback.Output].
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	return nil
}

// Closes returns the number of Close calls so far.
func (o *Output) Closes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.CallCountClose
}

// Scheduled returns a copy of every Schedule call so far, in call order.
func (o *Output) Scheduled() []Scheduled {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Scheduled, len(o.scheduled))
	copy(out, o.scheduled)
	return out
}

// Finish simulates the i-th scheduled buffer playing to completion. It
// invokes the buffer's onEnded callback unless the buffer was stopped.
func (o *Output) Finish(i int) error {
	o.mu.Lock()
	if i < 0 || i >= len(o.scheduled) {
		o.mu.Unlock()
		return errors.New("mock: no such scheduled buffer")
	}
	h := o.scheduled[i].Handle
	o.mu.Unlock()
	h.finish()
	return nil
}

// Handle is a mock [playback.Handle].
type Handle struct {
	mu       sync.Mutex
	stops    int
	finished bool
	onEnded  func()
}

// Stop implements [playback.Handle].
func (h *Handle) Stop() {
	h.mu.Lock()
	h.stops++
	h.mu.Unlock()
}

// Stopped reports whether Stop was called at least once.
func (h *Handle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stops > 0
}

// Stops returns the number of Stop calls.
func (h *Handle) Stops() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stops
}

func (h *Handle) finish() {
	h.mu.Lock()
	if h.finished || h.stops > 0 {
		h.mu.Unlock()
		return
	}
	h.finished = true
	fn := h.onEnded
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// ─── Devices ─────────────────────────────────────────────────────────────────

// Devices bundles a mock microphone and speaker.
type Devices struct {
	mu sync.Mutex

	// Mic is returned by [Devices.Microphone].
	Mic *Source

	// Out is returned by [Devices.Speaker].
	Out *Output

	// SpeakerError, when non-nil, is returned by [Devices.Speaker].
	SpeakerError error

	// CallCountSpeaker records how many times Speaker was called.
	CallCountSpeaker int
}

// Microphone returns Mic.
func (d *Devices) Microphone() capture.Source {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Mic
}

// Speaker returns Out, or SpeakerError.
func (d *Devices) Speaker() (playback.Output, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountSpeaker++
	if d.SpeakerError != nil {
		return nil, d.SpeakerError
	}
	return d.Out, nil
}
