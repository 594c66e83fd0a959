package playback

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/netbdpro/nbdlive/pkg/audio"
)

// Queue turns a stream of received audio chunks into back-to-back playback.
//
// It keeps a monotonic cursor holding the clock time at which the next
// buffer should start. Each buffer starts at max(cursor, Now()) and advances
// the cursor to its end, so bursts play gaplessly and network stalls
// turn into silence instead of overlap. Chunks are scheduled strictly in
// the order Enqueue is called; no reordering is performed.
//
// All methods are safe for concurrent use.
type Queue struct {
	out         Output
	defaultRate int

	mu        sync.Mutex
	cursor    float64
	nextID    uint64
	scheduled map[uint64]Handle
	closed    bool
}

// QueueOption configures a [Queue].
type QueueOption func(*Queue)

// WithDefaultRate sets the sample rate assumed for chunks whose MIME tag
// does not carry one. Default: [audio.PlaybackSampleRate].
func WithDefaultRate(rate int) QueueOption {
	return func(q *Queue) {
		if rate > 0 {
			q.defaultRate = rate
		}
	}
}

// NewQueue creates a Queue scheduling onto out.
func NewQueue(out Output, opts ...QueueOption) *Queue {
	q := &Queue{
		out:         out,
		defaultRate: audio.PlaybackSampleRate,
		scheduled:   make(map[uint64]Handle),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue decodes chunk and schedules it after everything already queued.
// It returns the scheduled start time. Decode failures are returned to the
// caller and leave the cursor untouched.
func (q *Queue) Enqueue(chunk audio.EncodedChunk) (float64, error) {
	buf, err := audio.DecodeChunk(chunk, q.defaultRate)
	if err != nil {
		return 0, err
	}
	return q.Schedule(buf)
}

// Schedule queues an already decoded buffer. See [Queue.Enqueue].
func (q *Queue) Schedule(buf audio.Buffer) (float64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrClosed
	}

	start := max(q.cursor, q.out.Now())
	id := q.nextID
	q.nextID++

	h, err := q.out.Schedule(buf, start, func() { q.release(id) })
	if err != nil {
		return 0, fmt.Errorf("playback: schedule: %w", err)
	}
	q.scheduled[id] = h
	q.cursor = start + buf.Duration()
	if e, ok := h.(Extent); ok {
		q.cursor = e.End()
	}
	return start, nil
}

// release forgets a buffer that finished playing on its own.
func (q *Queue) release(id uint64) {
	q.mu.Lock()
	delete(q.scheduled, id)
	q.mu.Unlock()
}

// Interrupt stops and forgets every scheduled or playing buffer and resets
// the cursor to zero so the next chunk starts at the current clock time.
// It returns the number of buffers that were cut.
func (q *Queue) Interrupt() int {
	q.mu.Lock()
	handles := q.drainLocked()
	q.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
	if len(handles) > 0 {
		slog.Debug("playback: interrupted", "buffers", len(handles))
	}
	return len(handles)
}

// Stop drains the queue like [Queue.Interrupt] and rejects any later chunk
// with [ErrClosed]. Safe to call more than once.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.closed = true
	handles := q.drainLocked()
	q.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
}

func (q *Queue) drainLocked() []Handle {
	handles := make([]Handle, 0, len(q.scheduled))
	for _, h := range q.scheduled {
		handles = append(handles, h)
	}
	clear(q.scheduled)
	q.cursor = 0
	return handles
}

// Pending returns the number of buffers scheduled or playing.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.scheduled)
}

// Cursor returns the clock time at which the next buffer would start if the
// output clock has not passed it.
func (q *Queue) Cursor() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cursor
}
