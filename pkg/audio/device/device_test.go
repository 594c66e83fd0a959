package device

import (
	"testing"
	"time"

	"github.com/netbdpro/nbdlive/pkg/audio"
)

func TestNewSystem_Defaults(t *testing.T) {
	t.Parallel()

	s := NewSystem()
	if s.captureRate != audio.CaptureSampleRate {
		t.Errorf("captureRate = %d, want %d", s.captureRate, audio.CaptureSampleRate)
	}
	if s.playbackRate != audio.PlaybackSampleRate {
		t.Errorf("playbackRate = %d, want %d", s.playbackRate, audio.PlaybackSampleRate)
	}
	if s.outputBuffer != DefaultOutputBuffer {
		t.Errorf("outputBuffer = %v, want %v", s.outputBuffer, DefaultOutputBuffer)
	}
}

func TestNewSystem_Options(t *testing.T) {
	t.Parallel()

	s := NewSystem(
		WithCaptureRate(48000),
		WithPlaybackRate(44100),
		WithOutputBuffer(40*time.Millisecond),
		WithCaptureRate(-1), // ignored
	)
	if s.captureRate != 48000 || s.playbackRate != 44100 || s.outputBuffer != 40*time.Millisecond {
		t.Errorf("got capture=%d playback=%d buffer=%v", s.captureRate, s.playbackRate, s.outputBuffer)
	}
}

func TestMicrophone_UnopenedIsSafe(t *testing.T) {
	t.Parallel()

	m := NewSystem(WithCaptureRate(48000)).Microphone()
	if m.SampleRate() != 48000 {
		t.Errorf("SampleRate = %d, want 48000", m.SampleRate())
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close on unopened microphone: %v", err)
	}
	// deliver after Close must not panic.
	m.(*Microphone).deliver([]byte{1, 2, 3, 4})
}
