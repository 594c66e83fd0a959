package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrEmptyChunk is returned by [DecodeChunk] when the chunk carries no samples.
var ErrEmptyChunk = errors.New("audio: empty chunk")

// EncodePCM16 clamps each sample to [-1, 1] and quantises it to a signed
// 16-bit little-endian integer. Negative values scale by 32768 and positive
// values by 32767 so that both ends of the range are reachable without
// overflow.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	PutPCM16(out, samples)
	return out
}

// PutPCM16 is the allocation-free form of [EncodePCM16]. It writes
// min(len(samples), len(dst)/2) samples into dst and returns the number of
// bytes written.
func PutPCM16(dst []byte, samples []float32) int {
	n := min(len(samples), len(dst)/2)
	for i := range n {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(quantise(samples[i])))
	}
	return n * 2
}

func quantise(s float32) int16 {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	if v < 0 {
		return int16(math.Round(v * 32768))
	}
	return int16(math.Round(v * 32767))
}

// DecodePCM16 converts little-endian int16 PCM to float32 samples. A trailing
// odd byte is ignored.
func DecodePCM16(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if v < 0 {
			out[i] = float32(v) / 32768
		} else {
			out[i] = float32(v) / 32767
		}
	}
	return out
}

// EncodeFrame quantises a captured frame and wraps it for transmission.
func EncodeFrame(f Frame) EncodedChunk {
	rate := f.SampleRate
	if rate <= 0 {
		rate = CaptureSampleRate
	}
	return EncodedChunk{
		Data:     base64.StdEncoding.EncodeToString(EncodePCM16(f.Samples)),
		MIMEType: PCMMIMEType(rate),
	}
}

// DecodeChunk reverses the transport encoding of a received chunk. The
// sample rate is taken from the chunk's MIME tag when present and falls back
// to defaultRate otherwise.
func DecodeChunk(c EncodedChunk, defaultRate int) (Buffer, error) {
	pcm, err := base64.StdEncoding.DecodeString(c.Data)
	if err != nil {
		return Buffer{}, fmt.Errorf("audio: decode chunk: %w", err)
	}
	if len(pcm) < 2 {
		return Buffer{}, ErrEmptyChunk
	}
	rate := RateFromMIME(c.MIMEType)
	if rate <= 0 {
		rate = defaultRate
	}
	return Buffer{Samples: DecodePCM16(pcm), SampleRate: rate}, nil
}

// RateFromMIME extracts the rate parameter from a tag such as
// "audio/pcm;rate=24000". It returns 0 when the tag has no rate.
func RateFromMIME(mime string) int {
	var rate int
	for i := 0; i < len(mime); i++ {
		if mime[i] != ';' {
			continue
		}
		param := mime[i+1:]
		for len(param) > 0 && param[0] == ' ' {
			param = param[1:]
		}
		if _, err := fmt.Sscanf(param, "rate=%d", &rate); err == nil {
			return rate
		}
	}
	return 0
}

// RMS returns the root-mean-square level of samples, or 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
