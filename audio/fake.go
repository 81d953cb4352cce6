package audio

import (
	"errors"
	"sync"
)

// FakeContext is an in-memory backend for tests. It serves a fixed source
// list, feeds caller-supplied frames on Start, and counts open capture
// handles so teardown leaks are detectable.
type FakeContext struct {
	mu         sync.Mutex
	sources    []Source
	frames     [][]float32
	failEnum   error
	failStart  error
	openCount  int
	totalOpens int
}

func NewFakeContext(sources []Source) *FakeContext {
	return &FakeContext{sources: sources}
}

// SetFrames configures the frames every new capture delivers on Start.
func (f *FakeContext) SetFrames(frames [][]float32) {
	f.mu.Lock()
	f.frames = frames
	f.mu.Unlock()
}

// FailEnumeration makes Sources return err.
func (f *FakeContext) FailEnumeration(err error) {
	f.mu.Lock()
	f.failEnum = err
	f.mu.Unlock()
}

// FailStart makes every capture's Start return err.
func (f *FakeContext) FailStart(err error) {
	f.mu.Lock()
	f.failStart = err
	f.mu.Unlock()
}

// OpenHandles reports captures created but not yet closed.
func (f *FakeContext) OpenHandles() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openCount
}

// TotalOpens reports every capture ever created.
func (f *FakeContext) TotalOpens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalOpens
}

func (f *FakeContext) Sources() ([]Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEnum != nil {
		return nil, f.failEnum
	}
	out := make([]Source, len(f.sources))
	copy(out, f.sources)
	return out, nil
}

func (f *FakeContext) NewCapture(source *Source, _ CaptureConfig) (CaptureDevice, error) {
	if source != nil {
		found := false
		for _, s := range f.sources {
			if s.ID == source.ID {
				found = true
				break
			}
		}
		if !found {
			return nil, errors.New("fake: source not found")
		}
	}
	f.mu.Lock()
	f.openCount++
	f.totalOpens++
	f.mu.Unlock()
	return &FakeCapture{parent: f}, nil
}

func (f *FakeContext) Close() {}

type FakeCapture struct {
	parent *FakeContext

	mu      sync.Mutex
	cb      FrameCallback
	started bool
	closed  bool
}

func (c *FakeCapture) SetCallback(cb FrameCallback) {
	c.mu.Lock()
	c.cb = cb
	c.mu.Unlock()
}

func (c *FakeCapture) ClearCallback() {
	c.mu.Lock()
	c.cb = nil
	c.mu.Unlock()
}

// Start delivers the configured frames synchronously, matching the
// callback-per-buffer shape of the real backends.
func (c *FakeCapture) Start() error {
	c.parent.mu.Lock()
	failStart := c.parent.failStart
	frames := c.parent.frames
	c.parent.mu.Unlock()
	if failStart != nil {
		return failStart
	}

	c.mu.Lock()
	c.started = true
	cb := c.cb
	c.mu.Unlock()

	if cb != nil {
		for _, frame := range frames {
			cb(frame)
		}
	}
	return nil
}

// Feed delivers one extra frame while started, for drip-feeding tests.
func (c *FakeCapture) Feed(frame []float32) {
	c.mu.Lock()
	cb := c.cb
	started := c.started
	c.mu.Unlock()
	if started && cb != nil {
		cb(frame)
	}
}

func (c *FakeCapture) Stop() {
	c.mu.Lock()
	c.started = false
	c.mu.Unlock()
}

func (c *FakeCapture) Close() {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.started = false
	c.mu.Unlock()
	if alreadyClosed {
		return
	}
	c.parent.mu.Lock()
	c.parent.openCount--
	c.parent.mu.Unlock()
}
