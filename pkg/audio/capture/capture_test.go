package capture_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/netbdpro/nbdlive/pkg/audio"
	"github.com/netbdpro/nbdlive/pkg/audio/capture"
	"github.com/netbdpro/nbdlive/pkg/audio/mock"
)

func recvFrame(t *testing.T, frames <-chan audio.Frame) audio.Frame {
	t.Helper()
	select {
	case f, ok := <-frames:
		if !ok {
			t.Fatal("frame channel closed unexpectedly")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return audio.Frame{}
}

func filled(v float32, n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestUnit_FixedSizeFrames(t *testing.T) {
	t.Parallel()

	src := mock.NewSource(audio.CaptureSampleRate)
	u := capture.New(src, capture.WithFrameSize(100))
	t.Cleanup(func() { _ = u.Close() })

	frames, err := u.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Odd block sizes must be re-framed into exact 100-sample frames.
	src.Push(filled(0.1, 70))
	src.Push(filled(0.1, 70))
	src.Push(filled(0.1, 70))

	f1 := recvFrame(t, frames)
	f2 := recvFrame(t, frames)
	for i, f := range []audio.Frame{f1, f2} {
		if len(f.Samples) != 100 {
			t.Errorf("frame %d has %d samples, want 100", i, len(f.Samples))
		}
		if f.SampleRate != audio.CaptureSampleRate {
			t.Errorf("frame %d rate = %d, want %d", i, f.SampleRate, audio.CaptureSampleRate)
		}
	}
	if f1.Timestamp != 0 {
		t.Errorf("first timestamp = %v, want 0", f1.Timestamp)
	}
	if want := 100 * time.Second / audio.CaptureSampleRate; f2.Timestamp != want {
		t.Errorf("second timestamp = %v, want %v", f2.Timestamp, want)
	}
}

func TestUnit_ResamplesToCaptureRate(t *testing.T) {
	t.Parallel()

	src := mock.NewSource(48000)
	u := capture.New(src, capture.WithFrameSize(160))
	t.Cleanup(func() { _ = u.Close() })

	frames, err := u.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	src.Push(filled(0.2, 480)) // 10 ms at 48 kHz = 160 samples at 16 kHz

	f := recvFrame(t, frames)
	if len(f.Samples) != 160 {
		t.Fatalf("frame has %d samples, want 160", len(f.Samples))
	}
	if math.Abs(float64(f.Samples[10])-0.2) > 1e-6 {
		t.Errorf("sample = %v, want 0.2", f.Samples[10])
	}
}

func TestUnit_VolumeTracksLastFrame(t *testing.T) {
	t.Parallel()

	src := mock.NewSource(audio.CaptureSampleRate)
	u := capture.New(src, capture.WithFrameSize(50))

	frames, err := u.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	src.Push(filled(0.5, 50))
	recvFrame(t, frames)
	if v := u.Volume(); math.Abs(v-0.5) > 1e-6 {
		t.Errorf("Volume = %v, want 0.5", v)
	}

	if err := u.Close(); err != nil {
		t.Fatal(err)
	}
	if v := u.Volume(); v != 0 {
		t.Errorf("Volume after Close = %v, want 0", v)
	}
}

func TestUnit_SecondStartFails(t *testing.T) {
	t.Parallel()

	src := mock.NewSource(audio.CaptureSampleRate)
	u := capture.New(src)
	t.Cleanup(func() { _ = u.Close() })

	if _, err := u.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := u.Start(context.Background()); !errors.Is(err, capture.ErrAlreadyStarted) {
		t.Errorf("second Start err = %v, want ErrAlreadyStarted", err)
	}
	if src.Opens() != 1 {
		t.Errorf("source opened %d times, want 1", src.Opens())
	}
}

func TestUnit_OpenFailure(t *testing.T) {
	t.Parallel()

	denied := errors.New("permission denied")
	src := mock.NewSource(audio.CaptureSampleRate)
	src.OpenError = denied
	u := capture.New(src)

	_, err := u.Start(context.Background())
	if !errors.Is(err, capture.ErrMicrophoneUnavailable) {
		t.Errorf("err = %v, want ErrMicrophoneUnavailable", err)
	}
	if !errors.Is(err, denied) {
		t.Errorf("err = %v, want to wrap cause", err)
	}
	if err := u.Close(); err != nil {
		t.Errorf("Close after failed Start: %v", err)
	}
}

func TestUnit_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	src := mock.NewSource(audio.CaptureSampleRate)
	u := capture.New(src)

	if err := u.Close(); err != nil {
		t.Fatalf("Close before Start: %v", err)
	}
	frames, err := u.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := u.Close(); err != nil {
		t.Fatal(err)
	}
	if err := u.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-frames; ok {
		t.Error("frame channel still open after Close")
	}
	if src.Closes() != 1 {
		t.Errorf("source closed %d times, want 1", src.Closes())
	}
}

func TestUnit_ContextCancelEndsStream(t *testing.T) {
	t.Parallel()

	src := mock.NewSource(audio.CaptureSampleRate)
	u := capture.New(src)
	t.Cleanup(func() { _ = u.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	frames, err := u.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case _, ok := <-frames:
		if ok {
			t.Error("received frame after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame channel not closed after cancel")
	}
}

func TestUnit_SourceEndClosesStream(t *testing.T) {
	t.Parallel()

	src := mock.NewSource(audio.CaptureSampleRate)
	u := capture.New(src, capture.WithFrameSize(10))
	t.Cleanup(func() { _ = u.Close() })

	frames, err := u.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	src.Push(filled(0.1, 15)) // one full frame plus a discarded tail
	src.End()

	recvFrame(t, frames)
	select {
	case _, ok := <-frames:
		if ok {
			t.Error("partial trailing frame was emitted")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame channel not closed after source ended")
	}
}
