// Package audio holds the sample-level types and codecs shared by the capture,
// uplink and playback stages of a live voice session.
//
// Samples travel through the process as mono float32 values in [-1, 1]. They
// are quantised to 16-bit little-endian PCM only at the network boundary,
// where they are additionally base64-encoded into an [EncodedChunk] because
// the Live protocol carries audio inside JSON text frames.
package audio

import (
	"fmt"
	"time"
)

const (
	// CaptureSampleRate is the rate the remote model expects for user speech.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the rate of the audio the remote model returns.
	PlaybackSampleRate = 24000

	// DefaultFrameSize is the number of samples per captured frame
	// (256 ms at 16 kHz).
	DefaultFrameSize = 4096
)

// Frame is a fixed-size block of single-channel samples captured from the
// microphone. Frames are produced continuously while capture is active and
// consumed immediately by the uplink; they are never persisted.
type Frame struct {
	// Samples are mono float32 samples, nominally in [-1, 1].
	Samples []float32

	// SampleRate in Hz (always [CaptureSampleRate] once the frame leaves the
	// capture unit).
	SampleRate int

	// Timestamp marks the position of the first sample relative to the start
	// of capture.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// EncodedChunk is the transport-safe form of a PCM16 buffer: base64 text plus
// a MIME tag declaring the sample format and rate.
type EncodedChunk struct {
	// Data is the standard base64 encoding of little-endian int16 samples.
	Data string

	// MIMEType declares the format, e.g. "audio/pcm;rate=16000".
	MIMEType string
}

// Buffer is decoded PCM ready for scheduling on an output.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the buffer length in seconds.
func (b Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// PCMMIMEType returns the MIME tag for raw 16-bit PCM at rate.
func PCMMIMEType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}
