package voice

import (
	"context"
	"errors"
	"log/slog"

	"github.com/netbdpro/nbdlive/pkg/audio"
	"github.com/netbdpro/nbdlive/pkg/audio/playback"
	"github.com/netbdpro/nbdlive/pkg/provider/live"
)

// uplink encodes microphone frames and sends them in capture order. Frames
// captured during the handshake are buffered by the capture unit and go out
// first. A failed send drops that chunk only.
func (c *Controller) uplink(ctx context.Context, r *run, frames <-chan audio.Frame) {
	defer close(r.uplinkDone)
	for f := range frames {
		if err := r.session.Send(audio.EncodeFrame(f)); err != nil {
			c.metrics.ChunksDropped.Add(ctx, 1)
			slog.Debug("voice: send chunk", "err", err)
			continue
		}
		c.metrics.ChunksSent.Add(ctx, 1)
	}
}

// downlink feeds model audio into the playback queue and reacts to control
// signals. When the message stream ends it tears the session down unless
// that already happened.
func (c *Controller) downlink(ctx context.Context, r *run) {
	defer close(r.downlinkDone)
	for msg := range r.session.Messages() {
		c.handle(ctx, r, msg)
	}

	err := r.session.Err()
	switch {
	case err != nil:
		c.end(r.gen, reasonRemoteError, err)
	default:
		c.end(r.gen, reasonRemoteClose, ErrRemoteClosed)
	}
}

func (c *Controller) handle(ctx context.Context, r *run, msg live.Message) {
	if msg.Interrupted {
		c.setInterrupted(r.gen, true)
		n := r.queue.Interrupt()
		c.metrics.Interruptions.Add(ctx, 1)
		slog.Debug("voice: barge-in", "cut", n)
		c.setInterrupted(r.gen, false)
	}

	for _, chunk := range msg.Audio {
		_, err := r.queue.Enqueue(chunk)
		switch {
		case err == nil:
			c.metrics.ChunksScheduled.Add(ctx, 1)
		case errors.Is(err, playback.ErrClosed):
			return
		default:
			c.metrics.DecodeErrors.Add(ctx, 1)
			slog.Debug("voice: drop reply chunk", "err", err)
		}
	}

	if msg.InputTranscript != "" {
		slog.Debug("voice: heard", "text", msg.InputTranscript)
	}
	if msg.OutputTranscript != "" {
		slog.Debug("voice: said", "text", msg.OutputTranscript)
	}
}
