package playback

import (
	"container/heap"
	"io"
	"math"
	"slices"
	"sync"

	"github.com/netbdpro/nbdlive/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ Output    = (*Timeline)(nil)
	_ io.Reader = (*Timeline)(nil)
	_ Extent    = (*voice)(nil)
)

// Timeline is a software audio output context. Its clock counts rendered
// samples: Now advances only when the consumer pulls audio through
// [Timeline.Render] or [Timeline.Read]. Scheduled buffers are mixed
// sample-accurately at their start position and clipped to [-1, 1].
//
// A pull-based speaker (e.g. an oto player) reads PCM16 from the Timeline;
// tests drive Render directly to advance time deterministically.
//
// All methods are safe for concurrent use.
type Timeline struct {
	rate int

	mu      sync.Mutex
	pos     int64     // samples rendered so far
	pending voiceHeap // not yet started, ordered by start sample
	active  []*voice
	seq     uint64
	closed  bool
}

// NewTimeline creates a Timeline rendering mono audio at rate Hz.
func NewTimeline(rate int) *Timeline {
	if rate <= 0 {
		rate = audio.PlaybackSampleRate
	}
	return &Timeline{rate: rate}
}

// SampleRate returns the render rate in Hz.
func (t *Timeline) SampleRate() int { return t.rate }

// Now implements [Output].
func (t *Timeline) Now() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.pos) / float64(t.rate)
}

// Schedule implements [Output]. Buffers at a different rate are resampled
// to the render rate.
func (t *Timeline) Schedule(buf audio.Buffer, when float64, onEnded func()) (Handle, error) {
	samples := buf.Samples
	if buf.SampleRate > 0 && buf.SampleRate != t.rate {
		samples = audio.Resample(samples, buf.SampleRate, t.rate)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}

	start := int64(math.Round(when * float64(t.rate)))
	start = max(start, t.pos)
	t.seq++
	v := &voice{
		t:       t,
		start:   start,
		seq:     t.seq,
		samples: samples,
		onEnded: onEnded,
	}
	heap.Push(&t.pending, v)
	return v, nil
}

// Render mixes the next len(out) samples into out and advances the clock.
// Callbacks of buffers that finished within this block run after the
// internal lock is released.
func (t *Timeline) Render(out []float32) {
	clear(out)
	ended := t.render(out)
	for _, fn := range ended {
		fn()
	}
}

func (t *Timeline) render(out []float32) []func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	n := int64(len(out))
	end := t.pos + n
	for t.pending.Len() > 0 && t.pending[0].start < end {
		t.active = append(t.active, heap.Pop(&t.pending).(*voice))
	}

	var ended []func()
	t.active = slices.DeleteFunc(t.active, func(v *voice) bool {
		from := max(v.start, t.pos)
		src := from - v.start
		for dst := from - t.pos; dst < n && src < int64(len(v.samples)); dst, src = dst+1, src+1 {
			out[dst] += v.samples[src]
		}
		if v.start+int64(len(v.samples)) > end {
			return false
		}
		v.state = voiceEnded
		if v.onEnded != nil {
			ended = append(ended, v.onEnded)
		}
		return true
	})

	for i, s := range out {
		out[i] = max(-1, min(1, s))
	}
	t.pos = end
	return ended
}

// Read implements [io.Reader], rendering the next len(p)/2 samples as
// little-endian PCM16. It never blocks: silence is produced when nothing is
// scheduled. After Close it returns [io.EOF].
func (t *Timeline) Read(p []byte) (int, error) {
	n := len(p) / 2
	if n == 0 {
		return 0, nil
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return 0, io.EOF
	}

	buf := make([]float32, n)
	t.Render(buf)
	return audio.PutPCM16(p, buf), nil
}

// Active returns the number of buffers scheduled or playing.
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending.Len() + len(t.active)
}

// Close discards every scheduled buffer without invoking callbacks. Later
// calls to Schedule fail with [ErrClosed]. Safe to call more than once.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for _, v := range t.pending {
		v.state = voiceStopped
	}
	for _, v := range t.active {
		v.state = voiceStopped
	}
	t.pending = nil
	t.active = nil
	return nil
}

type voiceState int

const (
	voiceScheduled voiceState = iota
	voiceEnded
	voiceStopped
)

// voice is one scheduled buffer on a Timeline.
type voice struct {
	t       *Timeline
	start   int64 // absolute start sample
	seq     uint64
	index   int // heap index while pending, -1 otherwise
	state   voiceState
	samples []float32
	onEnded func()
}

// Stop implements [Handle].
func (v *voice) Stop() {
	t := v.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if v.state != voiceScheduled {
		return
	}
	v.state = voiceStopped
	if v.index >= 0 {
		heap.Remove(&t.pending, v.index)
		return
	}
	t.active = slices.DeleteFunc(t.active, func(a *voice) bool { return a == v })
}

// End implements [Extent]: the clock time of the sample after the last one,
// on the render grid.
func (v *voice) End() float64 {
	return float64(v.start+int64(len(v.samples))) / float64(v.t.rate)
}

// voiceHeap implements [container/heap.Interface] as a min-heap ordered by
// start sample, with insertion order breaking ties.
type voiceHeap []*voice

func (h voiceHeap) Len() int { return len(h) }

func (h voiceHeap) Less(i, j int) bool {
	if h[i].start != h[j].start {
		return h[i].start < h[j].start
	}
	return h[i].seq < h[j].seq
}

func (h voiceHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *voiceHeap) Push(x any) {
	v := x.(*voice)
	v.index = len(*h)
	*h = append(*h, v)
}

func (h *voiceHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	old[n-1] = nil
	v.index = -1
	*h = old[:n-1]
	return v
}
