//go:build linux

package audio

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
)

type pulseContext struct {
	client *pulse.Client
}

func NewContext() (Context, error) {
	c, err := pulse.NewClient()
	if err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}
	return &pulseContext{client: c}, nil
}

func (p *pulseContext) Sources() ([]Source, error) {
	sources, err := p.client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("pulse list sources: %w", err)
	}
	var result []Source
	for _, s := range sources {
		kind := KindWindow
		// Monitor sources carry the whole sink's output, i.e. system audio.
		if strings.Contains(s.Name(), ".monitor") || strings.Contains(s.Name(), "Monitor of") {
			kind = KindScreen
		}
		result = append(result, Source{
			ID:          s.ID(),
			DisplayName: s.Name(),
			Kind:        kind,
		})
	}
	return result, nil
}

func (p *pulseContext) NewCapture(source *Source, config CaptureConfig) (CaptureDevice, error) {
	return &pulseCapture{
		client: p.client,
		source: source,
		config: config,
	}, nil
}

func (p *pulseContext) Close() {
	p.client.Close()
}

type pulseCapture struct {
	client   *pulse.Client
	source   *Source
	config   CaptureConfig
	callback atomic.Pointer[FrameCallback]

	stream *pulse.RecordStream
	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

func (c *pulseCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	framer := NewFramer(c.config.FrameSize, func(frame []float32) {
		cb := c.callback.Load()
		if cb != nil {
			(*cb)(frame)
		}
	})

	writer := pulse.Float32Writer(func(buf []float32) (int, error) {
		if len(buf) == 0 {
			return 0, nil
		}
		framer.Push(buf)
		return len(buf), nil
	})

	opts := []pulse.RecordOption{
		pulse.RecordMono,
		pulse.RecordSampleRate(int(c.config.SampleRate)),
		pulse.RecordLatency(0.05),
	}
	if c.source != nil {
		src, err := c.client.SourceByID(c.source.ID)
		if err == nil && src != nil {
			opts = append(opts, pulse.RecordSource(src))
		}
	}

	stream, err := c.client.NewRecord(writer, opts...)
	if err != nil {
		return fmt.Errorf("pulse record: %w", err)
	}

	c.stream = stream
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		stream.Start()
		<-c.stop
		stream.Stop()
		stream.Close()
		framer.Flush()
	}()

	return nil
}

func (c *pulseCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		select {
		case <-c.stop:
		default:
			close(c.stop)
		}
		<-c.done
	}
}

func (c *pulseCapture) Close() {
	c.Stop()
}

func (c *pulseCapture) SetCallback(cb FrameCallback) {
	c.callback.Store(&cb)
}

func (c *pulseCapture) ClearCallback() {
	c.callback.Store(nil)
}
