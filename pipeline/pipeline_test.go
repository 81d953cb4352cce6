package pipeline

import (
	"math"
	"testing"
)

func constFrame(v float32, n int) []float32 {
	frame := make([]float32, n)
	for i := range frame {
		frame[i] = v
	}
	return frame
}

func TestProcessFramePositiveFullScale(t *testing.T) {
	p := NewProcessor(DefaultAmplification)
	chunk, _, err := p.ProcessFrame(constFrame(1.0, FrameSize))
	if err != nil {
		t.Fatal(err)
	}
	for i, s := range chunk.Payload {
		if s != 32767 {
			t.Fatalf("sample %d: got %d, want 32767", i, s)
		}
	}
}

func TestProcessFrameNegativeFullScale(t *testing.T) {
	p := NewProcessor(DefaultAmplification)
	chunk, _, err := p.ProcessFrame(constFrame(-1.0, FrameSize))
	if err != nil {
		t.Fatal(err)
	}
	for i, s := range chunk.Payload {
		if s != -32768 {
			t.Fatalf("sample %d: got %d, want -32768", i, s)
		}
	}
}

func TestProcessFrameAmplifiesQuietSignal(t *testing.T) {
	p := NewProcessor(3.0)
	chunk, _, err := p.ProcessFrame([]float32{0.1})
	if err != nil {
		t.Fatal(err)
	}
	want := int16(math.Trunc(0.1 * 3.0 * 32767))
	got := chunk.Payload[0]
	if got < want-1 || got > want+1 {
		t.Fatalf("got %d, want about %d", got, want)
	}
}

func TestProcessFrameLevelsBeforeAmplification(t *testing.T) {
	p := NewProcessor(3.0)
	_, levels, err := p.ProcessFrame([]float32{0.5, -0.25, 0, 0.25})
	if err != nil {
		t.Fatal(err)
	}
	if levels.Max != 0.5 {
		t.Errorf("max: got %v, want 0.5", levels.Max)
	}
	wantAvg := (0.5 + 0.25 + 0 + 0.25) / 4
	if math.Abs(levels.Avg-wantAvg) > 1e-9 {
		t.Errorf("avg: got %v, want %v", levels.Avg, wantAvg)
	}
}

func TestSequenceNumbersMonotonic(t *testing.T) {
	p := NewProcessor(0)
	for want := uint64(0); want < 5; want++ {
		chunk, _, err := p.ProcessFrame(constFrame(0.1, 8))
		if err != nil {
			t.Fatal(err)
		}
		if chunk.Seq != want {
			t.Fatalf("got seq %d, want %d", chunk.Seq, want)
		}
	}
	p.Reset()
	chunk, _, _ := p.ProcessFrame(constFrame(0.1, 8))
	if chunk.Seq != 0 {
		t.Fatalf("after reset got seq %d, want 0", chunk.Seq)
	}
}

func TestEmptyFrameFailsFrameOnly(t *testing.T) {
	p := NewProcessor(0)
	if _, _, err := p.ProcessFrame(nil); err != ErrEmptyFrame {
		t.Fatalf("got %v, want ErrEmptyFrame", err)
	}
	// The failed frame must not consume a sequence number.
	chunk, _, err := p.ProcessFrame(constFrame(0.1, 8))
	if err != nil {
		t.Fatal(err)
	}
	if chunk.Seq != 0 {
		t.Fatalf("got seq %d, want 0", chunk.Seq)
	}
}

func TestNaNSampleTreatedAsSilence(t *testing.T) {
	p := NewProcessor(0)
	chunk, levels, err := p.ProcessFrame([]float32{float32(math.NaN()), 0.5})
	if err != nil {
		t.Fatal(err)
	}
	if chunk.Payload[0] != 0 {
		t.Errorf("NaN sample quantized to %d, want 0", chunk.Payload[0])
	}
	if levels.Max != 0.5 {
		t.Errorf("NaN corrupted levels: %v", levels)
	}
}

func TestChunkMetadata(t *testing.T) {
	p := NewProcessor(0)
	chunk, _, err := p.ProcessFrame(constFrame(0.1, FrameSize))
	if err != nil {
		t.Fatal(err)
	}
	if chunk.SampleRate != SampleRate || chunk.Channels != Channels {
		t.Fatalf("metadata: got %d/%d, want %d/%d",
			chunk.SampleRate, chunk.Channels, SampleRate, Channels)
	}
	if len(chunk.Payload) != FrameSize {
		t.Fatalf("payload length %d, want %d", len(chunk.Payload), FrameSize)
	}
}
