package audio

import (
	"log/slog"
	"sync"
)

// Resample converts mono float32 samples from srcRate to dstRate using linear
// interpolation. If the rates match (or either is not positive) the input is
// returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// RateConverter resamples a stream of sample blocks to a fixed target rate.
// It logs once when the source rate differs from the target.
// Create one per stream; not designed for shared use across goroutines.
type RateConverter struct {
	Target int

	warnedMismatch sync.Once
}

// Convert resamples block from srcRate to the converter's target rate.
func (c *RateConverter) Convert(block []float32, srcRate int) []float32 {
	if srcRate == c.Target {
		return block
	}
	c.warnedMismatch.Do(func() {
		slog.Info("audio rate mismatch: resampling",
			"from_hz", srcRate,
			"to_hz", c.Target,
		)
	})
	return Resample(block, srcRate, c.Target)
}
