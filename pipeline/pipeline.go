// Package pipeline converts raw float frames from the capture graph into
// quantized PCM16 chunks and per-frame level metrics. It runs synchronously
// on the frame-ready callback and never blocks.
package pipeline

import (
	"errors"
	"math"
)

const (
	SampleRate = 16000
	Channels   = 1
	FrameSize  = 4096

	// DefaultAmplification is applied to every sample before clamping.
	// Meeting audio routed through loopback sources tends to arrive quiet.
	DefaultAmplification = 3.0
)

var ErrEmptyFrame = errors.New("pipeline: empty frame")

// Levels holds the per-frame meter values, computed before amplification.
type Levels struct {
	Avg float64 // mean(|sample|)
	Max float64 // max(|sample|)
}

// Chunk is one quantized, sequence-numbered unit of audio. Sequence numbers
// are strictly increasing within a session and restart at zero on Reset.
type Chunk struct {
	Seq        uint64  `json:"seq"`
	SampleRate int     `json:"sampleRate"`
	Channels   int     `json:"channels"`
	Payload    []int16 `json:"audio"`
}

type Processor struct {
	gain float32
	seq  uint64
}

func NewProcessor(gain float64) *Processor {
	if gain <= 0 {
		gain = DefaultAmplification
	}
	return &Processor{gain: float32(gain)}
}

// ProcessFrame computes level metrics, amplifies, hard-clips to [-1, 1] and
// quantizes to signed 16-bit PCM. A malformed frame fails only itself: the
// sequence counter does not advance and the session keeps running.
func (p *Processor) ProcessFrame(frame []float32) (Chunk, Levels, error) {
	if len(frame) == 0 {
		return Chunk{}, Levels{}, ErrEmptyFrame
	}

	var sum, max float64
	payload := make([]int16, len(frame))
	for i, s := range frame {
		if math.IsNaN(float64(s)) {
			s = 0
		}
		abs := float64(s)
		if abs < 0 {
			abs = -abs
		}
		sum += abs
		if abs > max {
			max = abs
		}

		amplified := s * p.gain
		if amplified > 1.0 {
			amplified = 1.0
		} else if amplified < -1.0 {
			amplified = -1.0
		}
		payload[i] = quantize(amplified)
	}

	chunk := Chunk{
		Seq:        p.seq,
		SampleRate: SampleRate,
		Channels:   Channels,
		Payload:    payload,
	}
	p.seq++

	return chunk, Levels{Avg: sum / float64(len(frame)), Max: max}, nil
}

// Reset restarts the sequence counter for a new session.
func (p *Processor) Reset() {
	p.seq = 0
}

// quantize maps a clamped float to int16. Negative values scale by 32768 and
// non-negative by 32767, mirroring the asymmetric two's-complement range.
func quantize(s float32) int16 {
	if s < 0 {
		v := int32(s * 32768)
		if v < -32768 {
			v = -32768
		}
		return int16(v)
	}
	v := int32(s * 32767)
	if v > 32767 {
		v = 32767
	}
	return int16(v)
}
