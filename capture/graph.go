package capture

import (
	"fmt"
	"sync"

	"earshot/audio"
	"earshot/log"
	"earshot/pipeline"
)

// PipelineGraph is the in-process Graph: it binds a capture device to the
// signal pipeline and pushes the throttled chunk subset to a sink. The level
// callback fires for every frame; the sink for one in every divisor.
type PipelineGraph struct {
	ctx      audio.Context
	cfg      audio.CaptureConfig
	proc     *pipeline.Processor
	throttle *pipeline.Throttle
	sink     func(pipeline.Chunk)
	levels   func(pipeline.Levels)

	mu  sync.Mutex
	dev audio.CaptureDevice

	framesMu        sync.Mutex
	framesProcessed uint64
	chunksForwarded uint64
}

type GraphConfig struct {
	Amplification  float64
	ForwardDivisor int
	Sink           func(pipeline.Chunk)
	Levels         func(pipeline.Levels)
}

func NewPipelineGraph(ctx audio.Context, cfg GraphConfig) *PipelineGraph {
	g := &PipelineGraph{
		ctx: ctx,
		cfg: audio.CaptureConfig{
			SampleRate: pipeline.SampleRate,
			Channels:   pipeline.Channels,
			FrameSize:  pipeline.FrameSize,
		},
		proc:     pipeline.NewProcessor(cfg.Amplification),
		throttle: pipeline.NewThrottle(cfg.ForwardDivisor),
		sink:     cfg.Sink,
		levels:   cfg.Levels,
	}
	return g
}

func (g *PipelineGraph) Attach(sourceID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dev != nil {
		return ErrSessionActive
	}

	source, ok := audio.FindSource(g.ctx, sourceID)
	if !ok {
		return ErrSourceUnavailable
	}

	dev, err := g.ctx.NewCapture(&source, g.cfg)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}

	dev.SetCallback(g.onFrame)
	if err := dev.Start(); err != nil {
		// Roll back fully: the device must not outlive a failed attach.
		dev.ClearCallback()
		dev.Close()
		return err
	}

	g.dev = dev
	return nil
}

func (g *PipelineGraph) Detach() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dev == nil {
		return nil
	}
	g.dev.Stop()
	g.dev.ClearCallback()
	g.dev.Close()
	g.dev = nil
	g.proc.Reset()
	g.throttle.Reset()
	return nil
}

// onFrame runs on every buffer-ready callback, synchronously and to
// completion. The sink must not block; transport sends are fire-and-forget
// from here.
func (g *PipelineGraph) onFrame(frame []float32) {
	chunk, lv, err := g.proc.ProcessFrame(frame)
	if err != nil {
		// Frame-level fault: drop this frame, keep the session.
		log.Warnf("frame dropped: %v", err)
		return
	}

	if g.levels != nil {
		g.levels(lv)
	}

	forward := g.throttle.Forward()

	g.framesMu.Lock()
	g.framesProcessed++
	if forward {
		g.chunksForwarded++
	}
	g.framesMu.Unlock()

	if forward && g.sink != nil {
		g.sink(chunk)
	}
}

// Counters reports frames processed and chunks forwarded since creation.
func (g *PipelineGraph) Counters() (frames, forwarded uint64) {
	g.framesMu.Lock()
	defer g.framesMu.Unlock()
	return g.framesProcessed, g.chunksForwarded
}

// ResetCounters zeroes the diagnostic counters, used when the backend
// rejects the session and metrics must restart from a clean slate.
func (g *PipelineGraph) ResetCounters() {
	g.framesMu.Lock()
	g.framesProcessed = 0
	g.chunksForwarded = 0
	g.framesMu.Unlock()
}
