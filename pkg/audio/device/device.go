// Package device binds the capture and playback stages to the host's sound
// hardware: the microphone through miniaudio (malgo) and the speaker through
// oto.
package device

import (
	"sync"
	"time"

	"github.com/netbdpro/nbdlive/pkg/audio"
	"github.com/netbdpro/nbdlive/pkg/audio/capture"
	"github.com/netbdpro/nbdlive/pkg/audio/playback"
)

// DefaultOutputBuffer is the oto player buffer. Smaller values lower the
// latency between the playback clock and the loudspeaker at the risk of
// underruns.
const DefaultOutputBuffer = 100 * time.Millisecond

// System hands out the default microphone and speaker of the host. A new
// microphone and speaker are created for every voice session; the
// underlying oto context is shared for the lifetime of the process.
type System struct {
	captureRate  int
	playbackRate int
	outputBuffer time.Duration

	once    sync.Once
	speaker *speakerContext
	err     error
}

// Option configures a [System].
type Option func(*System)

// WithCaptureRate sets the rate requested from the microphone. The capture
// unit resamples to [audio.CaptureSampleRate] if the device differs.
func WithCaptureRate(hz int) Option {
	return func(s *System) {
		if hz > 0 {
			s.captureRate = hz
		}
	}
}

// WithPlaybackRate sets the speaker rate.
func WithPlaybackRate(hz int) Option {
	return func(s *System) {
		if hz > 0 {
			s.playbackRate = hz
		}
	}
}

// WithOutputBuffer sets the speaker buffer duration.
func WithOutputBuffer(d time.Duration) Option {
	return func(s *System) {
		if d > 0 {
			s.outputBuffer = d
		}
	}
}

// NewSystem creates a System. No device is touched until Microphone or
// Speaker is called.
func NewSystem(opts ...Option) *System {
	s := &System{
		captureRate:  audio.CaptureSampleRate,
		playbackRate: audio.PlaybackSampleRate,
		outputBuffer: DefaultOutputBuffer,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Microphone returns a new, unopened microphone source.
func (s *System) Microphone() capture.Source {
	return NewMicrophone(s.captureRate)
}

// Speaker opens a new speaker output. The oto context is created on first
// use; a failure there is sticky because oto permits one context per
// process.
func (s *System) Speaker() (playback.Output, error) {
	s.once.Do(func() {
		s.speaker, s.err = newSpeakerContext(s.playbackRate, s.outputBuffer)
	})
	if s.err != nil {
		return nil, s.err
	}
	return s.speaker.open(), nil
}
