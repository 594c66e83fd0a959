// Package playback schedules decoded model audio for gapless, ordered output
// and supports immediate cancellation for barge-in.
//
// The scheduling algorithm lives in [Queue] and is independent of any audio
// API: it talks to an [Output] that exposes an audio clock and can start a
// buffer at a given clock time. [Timeline] is the software implementation of
// [Output] used with real speakers; tests use a simulated clock.
package playback

import (
	"errors"

	"github.com/netbdpro/nbdlive/pkg/audio"
)

// ErrClosed is returned when scheduling on a stopped queue or closed output.
var ErrClosed = errors.New("playback: closed")

// Handle refers to one scheduled buffer.
type Handle interface {
	// Stop silences the buffer immediately, whether it is still waiting for
	// its start time or already playing. Stopping does not invoke the
	// buffer's onEnded callback. Safe to call more than once.
	Stop()
}

// Extent is implemented by handles of outputs that render a buffer with a
// length other than its nominal duration, for example after resampling to
// the device rate. End is the clock time at which the rendered buffer
// finishes; [Queue] starts the next buffer there.
type Extent interface {
	End() float64
}

// Output is an audio output context with its own clock.
//
// Implementations must be safe for concurrent use and must never invoke an
// onEnded callback synchronously from within Schedule or Stop.
type Output interface {
	// Now returns the current audio clock in seconds.
	Now() float64

	// Schedule starts buf at clock time when (seconds). A time in the past
	// starts the buffer immediately. onEnded, if non-nil, is called once
	// after the buffer has played to completion.
	Schedule(buf audio.Buffer, when float64, onEnded func()) (Handle, error)

	// Close releases the output. Pending buffers are discarded.
	Close() error
}
