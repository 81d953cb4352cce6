package capture

import (
	"errors"
	"testing"

	"earshot/audio"
	"earshot/pipeline"
)

func frames(n int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		frame := make([]float32, pipeline.FrameSize)
		for j := range frame {
			frame[j] = 0.1
		}
		out[i] = frame
	}
	return out
}

func zoomContext() *audio.FakeContext {
	return audio.NewFakeContext([]audio.Source{
		{ID: "zoom-1", DisplayName: "Zoom Meeting", Kind: audio.KindWindow},
	})
}

func TestGraphForwardsThrottledSubset(t *testing.T) {
	ctx := zoomContext()
	ctx.SetFrames(frames(37))

	var chunks []pipeline.Chunk
	var levelCount int
	g := NewPipelineGraph(ctx, GraphConfig{
		ForwardDivisor: 10,
		Sink:           func(c pipeline.Chunk) { chunks = append(chunks, c) },
		Levels:         func(pipeline.Levels) { levelCount++ },
	})

	if err := g.Attach("zoom-1"); err != nil {
		t.Fatal(err)
	}
	defer g.Detach()

	if len(chunks) != 3 {
		t.Fatalf("forwarded %d chunks from 37 frames, want 3", len(chunks))
	}
	// The level meter sees every frame; the transport sees one in ten.
	if levelCount != 37 {
		t.Fatalf("level meter saw %d frames, want 37", levelCount)
	}
	processed, forwarded := g.Counters()
	if processed != 37 || forwarded != 3 {
		t.Fatalf("counters %d/%d, want 37/3", processed, forwarded)
	}
}

func TestGraphChunkSequenceNumbers(t *testing.T) {
	ctx := zoomContext()
	ctx.SetFrames(frames(30))

	var chunks []pipeline.Chunk
	g := NewPipelineGraph(ctx, GraphConfig{
		ForwardDivisor: 10,
		Sink:           func(c pipeline.Chunk) { chunks = append(chunks, c) },
	})
	if err := g.Attach("zoom-1"); err != nil {
		t.Fatal(err)
	}
	g.Detach()

	// Frames are numbered 0..29; forwarded ones are the 10th, 20th, 30th.
	wantSeqs := []uint64{9, 19, 29}
	for i, c := range chunks {
		if c.Seq != wantSeqs[i] {
			t.Fatalf("chunk %d seq %d, want %d", i, c.Seq, wantSeqs[i])
		}
	}
}

func TestGraphDetachResetsSession(t *testing.T) {
	ctx := zoomContext()
	ctx.SetFrames(frames(10))

	var chunks []pipeline.Chunk
	g := NewPipelineGraph(ctx, GraphConfig{
		ForwardDivisor: 10,
		Sink:           func(c pipeline.Chunk) { chunks = append(chunks, c) },
	})

	for i := 0; i < 2; i++ {
		if err := g.Attach("zoom-1"); err != nil {
			t.Fatal(err)
		}
		if err := g.Detach(); err != nil {
			t.Fatal(err)
		}
	}
	// Sequence numbers restart per session.
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].Seq != chunks[1].Seq {
		t.Fatalf("seq did not reset: %d vs %d", chunks[0].Seq, chunks[1].Seq)
	}
}

func TestGraphVanishedSource(t *testing.T) {
	g := NewPipelineGraph(zoomContext(), GraphConfig{})
	if err := g.Attach("nope"); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("got %v, want ErrSourceUnavailable", err)
	}
}

func TestGraphStartFailureReleasesDevice(t *testing.T) {
	ctx := zoomContext()
	ctx.FailStart(errors.New("stream refused"))
	g := NewPipelineGraph(ctx, GraphConfig{})

	if err := g.Attach("zoom-1"); err == nil {
		t.Fatal("expected start failure")
	}
	if ctx.OpenHandles() != 0 {
		t.Fatalf("failed attach leaked %d handles", ctx.OpenHandles())
	}
}

func TestTenCyclesLeakNoHandles(t *testing.T) {
	ctx := zoomContext()
	ctx.SetFrames(frames(5))
	g := NewPipelineGraph(ctx, GraphConfig{})
	c := NewController(g)

	before := ctx.OpenHandles()
	for i := 0; i < 10; i++ {
		if err := c.Start("zoom-1"); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		if err := c.Stop(); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
	if after := ctx.OpenHandles(); after != before {
		t.Fatalf("handle count before %d, after %d", before, after)
	}
}
