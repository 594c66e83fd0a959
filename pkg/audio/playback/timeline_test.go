package playback_test

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/netbdpro/nbdlive/pkg/audio"
	"github.com/netbdpro/nbdlive/pkg/audio/playback"
)

func constBuf(v float32, n, rate int) audio.Buffer {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return audio.Buffer{Samples: s, SampleRate: rate}
}

func TestTimeline_ClockAdvancesOnRender(t *testing.T) {
	t.Parallel()

	tl := playback.NewTimeline(1000)
	if tl.Now() != 0 {
		t.Fatalf("Now = %v, want 0", tl.Now())
	}
	tl.Render(make([]float32, 250))
	if math.Abs(tl.Now()-0.25) > eps {
		t.Errorf("Now = %v, want 0.25", tl.Now())
	}
}

func TestTimeline_SampleAccurateStart(t *testing.T) {
	t.Parallel()

	tl := playback.NewTimeline(1000)
	if _, err := tl.Schedule(constBuf(0.5, 4, 1000), 0.003, nil); err != nil {
		t.Fatal(err)
	}

	out := make([]float32, 10)
	tl.Render(out)
	want := []float32{0, 0, 0, 0.5, 0.5, 0.5, 0.5, 0, 0, 0}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out = %v, want %v", out, want)
		}
	}
}

func TestTimeline_BackToBackAcrossBlocks(t *testing.T) {
	t.Parallel()

	tl := playback.NewTimeline(1000)
	var ended atomic.Int32
	onEnded := func() { ended.Add(1) }
	if _, err := tl.Schedule(constBuf(0.25, 6, 1000), 0, onEnded); err != nil {
		t.Fatal(err)
	}
	if _, err := tl.Schedule(constBuf(-0.25, 6, 1000), 0.006, onEnded); err != nil {
		t.Fatal(err)
	}

	var rendered []float32
	for range 4 {
		block := make([]float32, 4)
		tl.Render(block)
		rendered = append(rendered, block...)
	}
	for i, s := range rendered {
		var want float32
		switch {
		case i < 6:
			want = 0.25
		case i < 12:
			want = -0.25
		}
		if s != want {
			t.Fatalf("sample %d = %v, want %v (all: %v)", i, s, want, rendered)
		}
	}
	if ended.Load() != 2 {
		t.Errorf("onEnded called %d times, want 2", ended.Load())
	}
	if tl.Active() != 0 {
		t.Errorf("Active = %d, want 0", tl.Active())
	}
}

func TestTimeline_PastStartPlaysNow(t *testing.T) {
	t.Parallel()

	tl := playback.NewTimeline(1000)
	tl.Render(make([]float32, 100))
	if _, err := tl.Schedule(constBuf(0.5, 2, 1000), 0.01, nil); err != nil {
		t.Fatal(err)
	}
	out := make([]float32, 3)
	tl.Render(out)
	if out[0] != 0.5 || out[1] != 0.5 || out[2] != 0 {
		t.Errorf("out = %v, want [0.5 0.5 0]", out)
	}
}

func TestTimeline_MixAndClip(t *testing.T) {
	t.Parallel()

	tl := playback.NewTimeline(1000)
	for range 3 {
		if _, err := tl.Schedule(constBuf(0.5, 2, 1000), 0, nil); err != nil {
			t.Fatal(err)
		}
	}
	out := make([]float32, 2)
	tl.Render(out)
	if out[0] != 1 || out[1] != 1 {
		t.Errorf("out = %v, want clipped [1 1]", out)
	}
}

func TestTimeline_StopSilencesWithoutCallback(t *testing.T) {
	t.Parallel()

	tl := playback.NewTimeline(1000)
	var ended atomic.Int32
	playing, err := tl.Schedule(constBuf(0.5, 10, 1000), 0, func() { ended.Add(1) })
	if err != nil {
		t.Fatal(err)
	}
	waiting, err := tl.Schedule(constBuf(0.5, 10, 1000), 0.01, func() { ended.Add(1) })
	if err != nil {
		t.Fatal(err)
	}

	tl.Render(make([]float32, 5))
	playing.Stop()
	waiting.Stop()
	waiting.Stop()

	out := make([]float32, 20)
	tl.Render(out)
	for i, s := range out {
		if s != 0 {
			t.Fatalf("sample %d = %v after Stop, want silence", i, s)
		}
	}
	if ended.Load() != 0 {
		t.Errorf("onEnded called %d times for stopped buffers", ended.Load())
	}
	if tl.Active() != 0 {
		t.Errorf("Active = %d, want 0", tl.Active())
	}
}

func TestTimeline_ResamplesForeignRate(t *testing.T) {
	t.Parallel()

	tl := playback.NewTimeline(2000)
	if _, err := tl.Schedule(constBuf(0.5, 10, 1000), 0, nil); err != nil {
		t.Fatal(err)
	}
	out := make([]float32, 30)
	tl.Render(out)
	nonZero := 0
	for _, s := range out {
		if s != 0 {
			nonZero++
		}
	}
	if nonZero != 20 {
		t.Errorf("rendered %d samples, want 20 after 2x upsampling", nonZero)
	}
}

func TestTimeline_ReadProducesPCM16(t *testing.T) {
	t.Parallel()

	tl := playback.NewTimeline(1000)
	if _, err := tl.Schedule(constBuf(1, 2, 1000), 0, nil); err != nil {
		t.Fatal(err)
	}
	p := make([]byte, 8)
	n, err := tl.Read(p)
	if err != nil || n != 8 {
		t.Fatalf("Read = %d, %v; want 8, nil", n, err)
	}
	if v := int16(binary.LittleEndian.Uint16(p[0:])); v != 32767 {
		t.Errorf("first sample = %d, want 32767", v)
	}
	if v := int16(binary.LittleEndian.Uint16(p[4:])); v != 0 {
		t.Errorf("third sample = %d, want 0", v)
	}
	if math.Abs(tl.Now()-0.004) > eps {
		t.Errorf("Now = %v, want 0.004", tl.Now())
	}
}

func TestTimeline_Close(t *testing.T) {
	t.Parallel()

	tl := playback.NewTimeline(1000)
	h, err := tl.Schedule(constBuf(0.5, 10, 1000), 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := tl.Close(); err != nil {
		t.Fatal(err)
	}
	if err := tl.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	h.Stop()

	if _, err := tl.Schedule(constBuf(0.5, 10, 1000), 0, nil); !errors.Is(err, playback.ErrClosed) {
		t.Errorf("Schedule after Close: err = %v, want ErrClosed", err)
	}
	if _, err := tl.Read(make([]byte, 4)); !errors.Is(err, io.EOF) {
		t.Errorf("Read after Close: err = %v, want io.EOF", err)
	}
}

func TestQueueOnTimeline_GaplessPlayback(t *testing.T) {
	t.Parallel()

	tl := playback.NewTimeline(1000)
	q := playback.NewQueue(tl)

	for range 3 {
		if _, err := q.Schedule(constBuf(0.5, 7, 1000)); err != nil {
			t.Fatal(err)
		}
	}
	out := make([]float32, 25)
	tl.Render(out)
	for i, s := range out {
		want := float32(0)
		if i < 21 {
			want = 0.5
		}
		if s != want {
			t.Fatalf("sample %d = %v, want %v", i, s, want)
		}
	}
	if q.Pending() != 0 {
		t.Errorf("Pending = %d after all buffers ended, want 0", q.Pending())
	}
}

func TestQueue_GaplessOnResamplingTimeline(t *testing.T) {
	t.Parallel()

	const (
		buffers = 50
		size    = 4801
	)
	for _, rate := range []int{24000, 44100, 48000, 22050} {
		t.Run(strconv.Itoa(rate), func(t *testing.T) {
			t.Parallel()
			tl := playback.NewTimeline(rate)
			q := playback.NewQueue(tl)

			for range buffers {
				if _, err := q.Schedule(constBuf(0.5, size, audio.PlaybackSampleRate)); err != nil {
					t.Fatal(err)
				}
			}

			total := int(math.Ceil(q.Cursor()*float64(rate))) + rate/10
			out := make([]float32, total)
			tl.Render(out)

			first, last := -1, -1
			for i, s := range out {
				if s != 0 {
					if first < 0 {
						first = i
					}
					last = i
				}
			}
			if first != 0 {
				t.Fatalf("first sound at %d, want 0", first)
			}
			var gaps, overlaps int
			for _, s := range out[:last+1] {
				switch {
				case s == 0:
					gaps++
				case s > 0.5+1e-6:
					overlaps++
				}
			}
			if gaps != 0 || overlaps != 0 {
				t.Errorf("gaps = %d, overlaps = %d, want none", gaps, overlaps)
			}
			if tl.Active() != 0 {
				t.Errorf("Active = %d after rendering everything", tl.Active())
			}
		})
	}
}
