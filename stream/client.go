// Package stream maintains the persistent connection to the transcription
// backend. It owns the process-wide ConnectionState: every other component
// only reads snapshots of it.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"earshot/log"
	"earshot/pipeline"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error" // retry budget exhausted; manual Connect resumes
)

var ErrNotConnected = errors.New("stream: not connected")

const (
	// DefaultRetryDelay is the fixed pause before each reconnect attempt.
	DefaultRetryDelay = 1000 * time.Millisecond
	// DefaultMaxRetries caps consecutive failed attempts before the client
	// gives up and waits for an explicit Connect.
	DefaultMaxRetries = 10

	dialTimeout = 10 * time.Second
)

// rawConn is the transport beneath the client; production uses a websocket,
// tests inject fakes.
type rawConn interface {
	WriteEvent(ev Event) error
	ReadEvent() (Event, error)
	Close() error
}

// Dialer opens a rawConn to the backend address.
type Dialer func(ctx context.Context, addr string) (rawConn, error)

// Stats counts traffic for the diagnostics pull.
type Stats struct {
	SentChunks uint64
	SentBytes  uint64
	Reconnects int
}

type Client struct {
	dial       Dialer
	retryDelay time.Duration
	maxRetries int

	mu         sync.Mutex
	addr       string
	conn       rawConn
	state      State
	retryCount int
	closed     bool
	timer      *time.Timer
	stats      Stats

	onState  func(State, int)
	onReject func(reason string)
}

func New(dial Dialer) *Client {
	if dial == nil {
		dial = dialWebsocket
	}
	return &Client{
		dial:       dial,
		retryDelay: DefaultRetryDelay,
		maxRetries: DefaultMaxRetries,
		state:      StateDisconnected,
	}
}

// OnStateChange registers the single state listener. Must be set before
// Connect; invoked without the client lock held.
func (c *Client) OnStateChange(fn func(state State, retries int)) {
	c.onState = fn
}

// OnRejection registers the handler for a backend domain-level refusal.
func (c *Client) OnRejection(fn func(reason string)) {
	c.onReject = fn
}

// Connect starts (or restarts) the connection to addr. A manual call resets
// the retry counter, so it also revives a client parked in StateError.
func (c *Client) Connect(addr string) {
	c.mu.Lock()
	c.addr = addr
	c.retryCount = 0
	c.closed = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.attempt()
}

// Close shuts the client down without scheduling reconnects.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Status returns the current connection state.
func (c *Client) Status() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RetryCount returns the consecutive failed attempts so far.
func (c *Client) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

// Connected reports whether chunks can currently be sent.
func (c *Client) Connected() bool {
	return c.Status() == StateConnected
}

// TrafficStats returns a snapshot of the send counters.
func (c *Client) TrafficStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Send transmits one chunk. While not connected it fails immediately with
// ErrNotConnected; the caller treats that as a drop, never a retry — stale
// audio has no value once the backend has fallen behind.
func (c *Client) Send(chunk pipeline.Chunk) error {
	c.mu.Lock()
	conn := c.conn
	st := c.state
	c.mu.Unlock()
	if st != StateConnected || conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(ChunkPayload{
		Audio:      chunk.Payload,
		SampleRate: chunk.SampleRate,
		Channels:   chunk.Channels,
	})
	if err != nil {
		return fmt.Errorf("stream: encode chunk: %w", err)
	}

	if err := conn.WriteEvent(Event{Event: EventAudioChunk, Data: data}); err != nil {
		c.connDropped(conn)
		return fmt.Errorf("stream: send: %w", err)
	}

	c.mu.Lock()
	c.stats.SentChunks++
	c.stats.SentBytes += uint64(len(chunk.Payload) * 2)
	c.mu.Unlock()
	return nil
}

// SendStop signals end of session to the backend.
func (c *Client) SendStop() error {
	c.mu.Lock()
	conn := c.conn
	st := c.state
	c.mu.Unlock()
	if st != StateConnected || conn == nil {
		return ErrNotConnected
	}
	if err := conn.WriteEvent(Event{Event: EventAudioStop}); err != nil {
		c.connDropped(conn)
		return fmt.Errorf("stream: send stop: %w", err)
	}
	return nil
}

func (c *Client) attempt() {
	c.setState(StateConnecting)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()

		c.mu.Lock()
		addr := c.addr
		c.mu.Unlock()

		conn, err := c.dial(ctx, addr)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			if err == nil {
				conn.Close()
			}
			return
		}
		if err != nil {
			c.mu.Unlock()
			log.Warnf("backend dial failed: %v", err)
			c.retryOrGiveUp()
			return
		}
		c.conn = conn
		if c.retryCount > 0 {
			c.stats.Reconnects++
		}
		c.retryCount = 0
		c.mu.Unlock()

		c.setState(StateConnected)
		go c.readLoop(conn)
	}()
}

func (c *Client) readLoop(conn rawConn) {
	for {
		ev, err := conn.ReadEvent()
		if err != nil {
			c.connDropped(conn)
			return
		}
		if ev.Event == EventSessionRejected {
			reason := ev.Error
			if reason == "" {
				reason = "session rejected by backend"
			}
			log.Warnf("backend rejection: %s", reason)
			if c.onReject != nil {
				c.onReject(reason)
			}
		}
	}
}

// connDropped handles a transport-level failure or remote close. Only the
// goroutine that still holds the current conn wins; later callers no-op.
func (c *Client) connDropped(conn rawConn) {
	c.mu.Lock()
	if c.conn != conn || c.closed {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()
	conn.Close()
	c.retryOrGiveUp()
}

func (c *Client) retryOrGiveUp() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.retryCount++
	n := c.retryCount
	gaveUp := n >= c.maxRetries
	if !gaveUp {
		c.timer = time.AfterFunc(c.retryDelay, c.attempt)
	}
	c.mu.Unlock()

	if gaveUp {
		log.Errorf("backend unreachable after %d attempts, giving up", n)
		c.setState(StateError)
		return
	}
	c.setState(StateDisconnected)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s && s != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = s
	retries := c.retryCount
	fn := c.onState
	c.mu.Unlock()

	log.BackendState(string(s), retries)
	if fn != nil {
		fn(s, retries)
	}
}
