package stream

import (
	"context"
	"errors"
	"sync"
)

// FakeBackend stands in for the transcription service in tests. Its Dialer
// can be told to refuse a number of attempts before accepting, and accepted
// connections record every event written to them.
type FakeBackend struct {
	mu          sync.Mutex
	dialCount   int
	refuseFirst int
	conns       []*FakeConn
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{}
}

// RefuseNext makes the next n dial attempts fail.
func (b *FakeBackend) RefuseNext(n int) {
	b.mu.Lock()
	b.refuseFirst = b.dialCount + n
	b.mu.Unlock()
}

// RefuseAll makes every dial attempt fail until RefuseNext(0).
func (b *FakeBackend) RefuseAll() {
	b.mu.Lock()
	b.refuseFirst = int(^uint(0) >> 1)
	b.mu.Unlock()
}

func (b *FakeBackend) DialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dialCount
}

// Conn returns the most recently accepted connection, or nil.
func (b *FakeBackend) Conn() *FakeConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.conns) == 0 {
		return nil
	}
	return b.conns[len(b.conns)-1]
}

// Dialer is the injection point for Client.
func (b *FakeBackend) Dialer(ctx context.Context, addr string) (rawConn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialCount++
	if b.dialCount <= b.refuseFirst {
		return nil, errors.New("connection refused")
	}
	fc := &FakeConn{inbound: make(chan Event, 16)}
	b.conns = append(b.conns, fc)
	return fc, nil
}

// FakeConn records written events and lets tests push inbound ones.
type FakeConn struct {
	mu       sync.Mutex
	written  []Event
	writeErr error
	closed   bool
	inbound  chan Event
}

func (c *FakeConn) WriteEvent(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	if c.closed {
		return errors.New("write on closed conn")
	}
	c.written = append(c.written, ev)
	return nil
}

func (c *FakeConn) ReadEvent() (Event, error) {
	ev, ok := <-c.inbound
	if !ok {
		return Event{}, errors.New("conn closed")
	}
	return ev, nil
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}

// Push delivers an inbound event as if the backend sent it.
func (c *FakeConn) Push(ev Event) {
	c.inbound <- ev
}

// FailWrites makes subsequent writes return err.
func (c *FakeConn) FailWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

func (c *FakeConn) Written() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.written))
	copy(out, c.written)
	return out
}

func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
