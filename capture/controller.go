// Package capture owns the lifecycle of at most one capture session per
// process. The processing graph sits behind the Graph interface so the
// controller works the same whether the graph lives in-process or on the
// far side of the worker IPC boundary.
package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateStopping State = "stopping"
	StateError    State = "error"
)

var (
	ErrSessionActive     = errors.New("capture: a session is already active")
	ErrNoSession         = errors.New("capture: no active session")
	ErrPermissionDenied  = errors.New("capture: permission denied")
	ErrSourceUnavailable = errors.New("capture: source unavailable")
)

// Session is the bounded lifetime of one capture attachment.
type Session struct {
	SourceID  string
	State     State
	StartedAt time.Time
}

// Graph attaches and detaches the signal-processing graph for a source.
// Attach must either fully succeed or leave no resources behind.
type Graph interface {
	Attach(sourceID string) error
	Detach() error
}

type Controller struct {
	graph Graph

	mu       sync.Mutex
	sess     *Session
	lastErr  error
	onChange func(State)
}

func NewController(graph Graph) *Controller {
	return &Controller{graph: graph}
}

// OnStateChange registers a listener invoked after every transition.
// Must be set before the controller is used.
func (c *Controller) OnStateChange(fn func(State)) {
	c.onChange = fn
}

// Start opens a session against the given source. It is rejected whenever a
// non-terminal session exists; there is never a second concurrent graph.
func (c *Controller) Start(sourceID string) error {
	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.sess = &Session{SourceID: sourceID, State: StateStarting}
	c.lastErr = nil
	c.mu.Unlock()
	c.notify(StateStarting)

	err := c.graph.Attach(sourceID)

	c.mu.Lock()
	if err != nil {
		// Full rollback: no half-initialized session survives a failed attach.
		c.sess = nil
		c.lastErr = err
		c.mu.Unlock()
		if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrSourceUnavailable) {
			c.notify(StateIdle)
			return err
		}
		c.notify(StateError)
		return fmt.Errorf("capture: attach: %w", err)
	}
	c.sess.State = StateActive
	c.sess.StartedAt = time.Now()
	c.mu.Unlock()
	c.notify(StateActive)
	return nil
}

// Stop synchronously detaches the graph and releases every handle acquired
// at start, then returns the controller to idle.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	if c.sess.State != StateActive {
		c.mu.Unlock()
		return fmt.Errorf("capture: cannot stop while %s", c.sess.State)
	}
	c.sess.State = StateStopping
	c.mu.Unlock()
	c.notify(StateStopping)

	err := c.graph.Detach()

	c.mu.Lock()
	c.sess = nil
	if err != nil {
		c.lastErr = err
	}
	c.mu.Unlock()
	c.notify(StateIdle)
	if err != nil {
		return fmt.Errorf("capture: detach: %w", err)
	}
	return nil
}

// Fail records an asynchronous fault (device disconnect, backend rejection)
// and tears the session down. Safe to call when no session exists.
func (c *Controller) Fail(cause error) {
	c.mu.Lock()
	hadSession := c.sess != nil
	c.sess = nil
	c.lastErr = cause
	c.mu.Unlock()
	if hadSession {
		c.graph.Detach()
		c.notify(StateError)
	}
}

// Current returns a snapshot of the session, or false when idle.
func (c *Controller) Current() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return Session{}, false
	}
	return *c.sess, true
}

// Streaming reports whether a session is actively producing frames.
func (c *Controller) Streaming() bool {
	sess, ok := c.Current()
	return ok && sess.State == StateActive
}

// LastError returns the most recent fatal session error, if any.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) notify(s State) {
	if c.onChange != nil {
		c.onChange(s)
	}
}
