package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"earshot/audio"
	"earshot/capture"
	"earshot/ipc"
	"earshot/log"
	"earshot/pipeline"
	"earshot/stream"
)

// requestTimeout bounds a worker request waiting on a host reply. A host
// that stops answering is treated as gone.
const requestTimeout = 5 * time.Second

var ErrRequestTimeout = errors.New("bridge: host did not answer in time")

// Worker is the desktop-session half: it asks the host for sources and
// session grants, runs the capture graph, and ships forwarded chunks back.
type Worker struct {
	conn *ipc.Conn
	actx audio.Context

	reqID   atomic.Uint64
	mu      sync.Mutex
	pending map[string]chan *ipc.Envelope
	ctrl    *capture.Controller
	graph   *capture.PipelineGraph
	closed  bool

	onBackend func(stream.State, int)
	onLevels  func(pipeline.Levels)
	onStopped func(reason string)
}

// NewWorker wraps an established host connection. Call Run to start the
// dispatch loop.
func NewWorker(nc net.Conn, actx audio.Context) *Worker {
	return &Worker{
		conn:    ipc.NewConn(nc),
		actx:    actx,
		pending: make(map[string]chan *ipc.Envelope),
	}
}

// Dial connects to the host's unix socket.
func Dial(socketPath string, actx audio.Context) (*Worker, error) {
	nc, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("bridge: dial %s: %w", socketPath, err)
	}
	return NewWorker(nc, actx), nil
}

// OnBackendStatus registers the handler for backend connection pushes.
func (w *Worker) OnBackendStatus(fn func(state stream.State, retries int)) {
	w.onBackend = fn
}

// OnLevels registers the per-frame level meter handler.
func (w *Worker) OnLevels(fn func(pipeline.Levels)) {
	w.onLevels = fn
}

// OnSessionStopped registers the handler for host-initiated teardowns.
func (w *Worker) OnSessionStopped(fn func(reason string)) {
	w.onStopped = fn
}

// Run reads host messages until the connection closes. It returns the read
// error, or nil after Close.
func (w *Worker) Run() error {
	defer w.teardown("connection closed")
	for {
		env, err := w.conn.Recv()
		if err != nil {
			w.mu.Lock()
			closed := w.closed
			w.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		w.dispatch(env)
	}
}

// Close shuts the worker down, ending any active session.
func (w *Worker) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.teardown("worker shutdown")
	return w.conn.Close()
}

// Streaming reports whether a capture session is active.
func (w *Worker) Streaming() bool {
	w.mu.Lock()
	ctrl := w.ctrl
	w.mu.Unlock()
	return ctrl != nil && ctrl.Streaming()
}

// Session returns the active capture session, if any.
func (w *Worker) Session() (capture.Session, bool) {
	w.mu.Lock()
	ctrl := w.ctrl
	w.mu.Unlock()
	if ctrl == nil {
		return capture.Session{}, false
	}
	return ctrl.Current()
}

// RequestSources asks the host for the ordered source list.
func (w *Worker) RequestSources() ([]audio.Source, error) {
	env, err := w.request(ipc.TypeGetSources, nil)
	if err != nil {
		return nil, err
	}
	var resp ipc.SourcesResponse
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		return nil, fmt.Errorf("bridge: malformed sources-response: %w", err)
	}
	return resp.Sources, nil
}

// RequestCapture asks the host to grant a session on sourceID. The grant
// arrives asynchronously as init-capture; poll Streaming for the outcome.
func (w *Worker) RequestCapture(sourceID string) error {
	return w.conn.SendTyped(w.nextID(), ipc.TypeStartCapture, ipc.StartCapture{SourceID: sourceID})
}

// StopCapture ends the active session and reports its counters to the host.
func (w *Worker) StopCapture() error {
	w.mu.Lock()
	ctrl := w.ctrl
	graph := w.graph
	w.ctrl = nil
	w.graph = nil
	w.mu.Unlock()

	if ctrl == nil {
		return capture.ErrNoSession
	}
	var frames, forwarded uint64
	if graph != nil {
		frames, forwarded = graph.Counters()
	}
	if err := ctrl.Stop(); err != nil && !errors.Is(err, capture.ErrNoSession) {
		return err
	}
	return w.conn.SendTyped("", ipc.TypeStopCapture, ipc.StopCapture{
		FramesProcessed: frames,
		ChunksForwarded: forwarded,
	})
}

// Metrics fetches the host's relay counters.
func (w *Worker) Metrics() (ipc.MetricsResponse, error) {
	env, err := w.request(ipc.TypeRequestMetrics, nil)
	if err != nil {
		return ipc.MetricsResponse{}, err
	}
	var resp ipc.MetricsResponse
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		return ipc.MetricsResponse{}, fmt.Errorf("bridge: malformed metrics-response: %w", err)
	}
	return resp, nil
}

func (w *Worker) dispatch(env *ipc.Envelope) {
	// Replies to our own requests first.
	w.mu.Lock()
	ch, waiting := w.pending[env.ID]
	if waiting {
		delete(w.pending, env.ID)
	}
	w.mu.Unlock()
	if waiting {
		ch <- env
		return
	}

	switch env.Type {
	case ipc.TypeInitCapture:
		w.handleInit(env)

	case ipc.TypeStopCapture:
		var sc ipc.StopCapture
		if env.Payload != nil {
			json.Unmarshal(env.Payload, &sc)
		}
		w.teardown(sc.Reason)

	case ipc.TypeBackendStatus:
		var bs ipc.BackendStatus
		if err := json.Unmarshal(env.Payload, &bs); err != nil {
			return
		}
		if w.onBackend != nil {
			w.onBackend(bs.State, bs.Retries)
		}

	case ipc.TypeRequestMetrics:
		var frames, forwarded uint64
		w.mu.Lock()
		graph := w.graph
		w.mu.Unlock()
		if graph != nil {
			frames, forwarded = graph.Counters()
		}
		w.conn.SendTyped(env.ID, ipc.TypeMetricsResponse, ipc.MetricsResponse{
			FramesProcessed: frames,
			ChunksForwarded: forwarded,
		})

	case ipc.TypeError:
		log.Warnf("host error: %s", env.Error)

	default:
		log.Warnf("unexpected host message %q", env.Type)
	}
}

// handleInit opens the granted source and starts the signal graph.
func (w *Worker) handleInit(env *ipc.Envelope) {
	var init ipc.InitCapture
	if err := json.Unmarshal(env.Payload, &init); err != nil {
		w.conn.SendError(env.ID, ipc.TypeCaptureAck, "malformed init-capture")
		return
	}

	w.mu.Lock()
	if w.ctrl != nil && w.ctrl.Streaming() {
		w.mu.Unlock()
		w.conn.SendTyped(env.ID, ipc.TypeCaptureAck, ipc.CaptureAck{
			SourceID: init.SourceID,
			Reason:   "session already active",
		})
		return
	}

	graph := capture.NewPipelineGraph(w.actx, capture.GraphConfig{
		Amplification:  init.Amplification,
		ForwardDivisor: init.ForwardDivisor,
		Sink:           w.sendChunk,
		Levels:         w.sendLevels,
	})
	ctrl := capture.NewController(graph)
	w.graph = graph
	w.ctrl = ctrl
	w.mu.Unlock()

	if err := ctrl.Start(init.SourceID); err != nil {
		w.mu.Lock()
		w.graph = nil
		w.ctrl = nil
		w.mu.Unlock()
		w.conn.SendTyped(env.ID, ipc.TypeCaptureAck, ipc.CaptureAck{
			SourceID: init.SourceID,
			Reason:   err.Error(),
		})
		return
	}
	w.conn.SendTyped(env.ID, ipc.TypeCaptureAck, ipc.CaptureAck{SourceID: init.SourceID, OK: true})
}

// sendChunk ships one forwarded chunk to the host, fire-and-forget.
func (w *Worker) sendChunk(c pipeline.Chunk) {
	if err := w.conn.SendTyped("", ipc.TypeSendAudioChunk, ipc.AudioChunk{Chunk: c}); err != nil {
		log.Warnf("ship chunk %d: %v", c.Seq, err)
	}
}

func (w *Worker) sendLevels(lv pipeline.Levels) {
	if w.onLevels != nil {
		w.onLevels(lv)
	}
	w.conn.SendTyped("", ipc.TypeLevelUpdate, ipc.LevelUpdate{Avg: lv.Avg, Max: lv.Max})
}

// teardown ends any active session without notifying the host.
func (w *Worker) teardown(reason string) {
	w.mu.Lock()
	ctrl := w.ctrl
	w.ctrl = nil
	w.graph = nil
	w.mu.Unlock()

	if ctrl == nil {
		return
	}
	if err := ctrl.Stop(); err != nil && !errors.Is(err, capture.ErrNoSession) {
		log.Warnf("teardown: %v", err)
	}
	if w.onStopped != nil {
		w.onStopped(reason)
	}
}

// request sends a message and waits for the host's reply with the same ID.
func (w *Worker) request(msgType string, payload any) (*ipc.Envelope, error) {
	id := w.nextID()
	ch := make(chan *ipc.Envelope, 1)

	w.mu.Lock()
	w.pending[id] = ch
	w.mu.Unlock()

	if err := w.conn.SendTyped(id, msgType, payload); err != nil {
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()
		return nil, err
	}

	select {
	case env := <-ch:
		if env.Error != "" {
			return nil, fmt.Errorf("bridge: %s: %s", msgType, env.Error)
		}
		return env, nil
	case <-time.After(requestTimeout):
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()
		return nil, ErrRequestTimeout
	}
}

func (w *Worker) nextID() string {
	return fmt.Sprintf("req-%d", w.reqID.Add(1))
}
