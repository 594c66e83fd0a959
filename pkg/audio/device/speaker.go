package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/netbdpro/nbdlive/pkg/audio/playback"
)

var _ playback.Output = (*Speaker)(nil)

type speakerContext struct {
	ctx  *oto.Context
	rate int
}

func newSpeakerContext(rate int, buffer time.Duration) (*speakerContext, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   rate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   buffer,
	})
	if err != nil {
		return nil, fmt.Errorf("device: init speaker: %w", err)
	}
	<-ready
	return &speakerContext{ctx: ctx, rate: rate}, nil
}

func (c *speakerContext) open() *Speaker {
	tl := playback.NewTimeline(c.rate)
	p := c.ctx.NewPlayer(tl)
	p.Play()
	return &Speaker{Timeline: tl, player: p}
}

// Speaker is a playback output rendered by an oto player. Its clock is the
// embedded [playback.Timeline], which advances as oto pulls samples.
type Speaker struct {
	*playback.Timeline

	closeOnce sync.Once
	player    *oto.Player
	err       error
}

// Close stops the player and discards pending audio. Safe to call more
// than once.
func (s *Speaker) Close() error {
	s.closeOnce.Do(func() {
		_ = s.Timeline.Close()
		s.player.Pause()
		if err := s.player.Close(); err != nil {
			s.err = fmt.Errorf("device: close speaker: %w", err)
		}
	})
	return s.err
}
