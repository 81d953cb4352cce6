// Package bridge connects the two halves of the process split: the host,
// which owns the backend connection and source enumeration, and the worker,
// which runs inside the desktop session and owns the capture device. They
// talk over a local socket using the ipc framing.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"earshot/audio"
	"earshot/ipc"
	"earshot/log"
	"earshot/pipeline"
	"earshot/stream"
)

// HostConfig carries the capture tuning the host hands to a worker on every
// session grant.
type HostConfig struct {
	SocketPath     string
	Amplification  float64
	ForwardDivisor int

	// ChunkTap, when set, sees every relayed chunk, connected or not.
	ChunkTap func(pipeline.Chunk)
	// SessionEnd fires after a session's final counters are logged.
	SessionEnd func()
}

// HostMetrics is the host-side diagnostics snapshot.
type HostMetrics struct {
	ChunksReceived uint64
	ChunksDropped  uint64
	SentChunks     uint64
	SentBytes      uint64
	LastLevels     pipeline.Levels
	WorkerAttached bool
}

// Host serves one worker connection at a time and relays its audio to the
// backend stream.
type Host struct {
	cfg    HostConfig
	actx   audio.Context
	client *stream.Client

	mu         sync.Mutex
	conn       *ipc.Conn
	received   uint64
	dropped    uint64
	levels     pipeline.Levels
	sessSource string
	sessStart  time.Time
}

func NewHost(cfg HostConfig, actx audio.Context, client *stream.Client) *Host {
	h := &Host{cfg: cfg, actx: actx, client: client}

	client.OnStateChange(func(s stream.State, retries int) {
		h.pushTyped("", ipc.TypeBackendStatus, ipc.BackendStatus{State: s, Retries: retries})
	})
	client.OnRejection(func(reason string) {
		// The backend has no receiving context: tear the session down and
		// start metrics from scratch next time. The worker's teardown does
		// not echo stop-capture back, so the session ends here.
		h.mu.Lock()
		h.received = 0
		h.dropped = 0
		h.sessSource = ""
		h.mu.Unlock()
		h.pushTyped("", ipc.TypeStopCapture, ipc.StopCapture{Reason: reason})
	})
	return h
}

// Listen accepts worker connections on a unix socket until ctx is done.
// Connections are served one at a time; a second worker waits for the first
// to disconnect.
func (h *Host) Listen(ctx context.Context, socketPath string) error {
	// A stale socket file from a crashed run blocks the bind.
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("bridge: remove stale socket: %w", err)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", socketPath)
	if err != nil {
		return fmt.Errorf("bridge: listen %s: %w", socketPath, err)
	}
	defer ln.Close()
	if err := os.Chmod(socketPath, 0o600); err != nil {
		return fmt.Errorf("bridge: chmod socket: %w", err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("bridge: accept: %w", err)
		}
		log.Infof("worker connected from %v", nc.RemoteAddr())
		h.ServeConn(nc)
	}
}

// ServeConn handles one worker connection until it closes.
func (h *Host) ServeConn(nc net.Conn) {
	conn := ipc.NewConn(nc)

	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		if h.conn == conn {
			h.conn = nil
			// A dead worker takes its session with it.
			h.sessSource = ""
		}
		h.mu.Unlock()
		conn.Close()
		log.Info("worker disconnected")
	}()

	// Let the worker render the backend state immediately.
	conn.SendTyped("", ipc.TypeBackendStatus, ipc.BackendStatus{
		State:   h.client.Status(),
		Retries: h.client.RetryCount(),
	})

	for {
		env, err := conn.Recv()
		if err != nil {
			return
		}
		if err := h.dispatch(conn, env); err != nil {
			log.Warnf("ipc %s: %v", env.Type, err)
		}
	}
}

func (h *Host) dispatch(conn *ipc.Conn, env *ipc.Envelope) error {
	switch env.Type {
	case ipc.TypeGetSources:
		sources := audio.ListSources(h.actx)
		return conn.SendTyped(env.ID, ipc.TypeSourcesResponse, ipc.SourcesResponse{Sources: sources})

	case ipc.TypeStartCapture:
		var req ipc.StartCapture
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return conn.SendError(env.ID, ipc.TypeError, "malformed start-capture")
		}
		log.Infof("granting capture on source %s", req.SourceID)
		return conn.SendTyped(env.ID, ipc.TypeInitCapture, ipc.InitCapture{
			SourceID:       req.SourceID,
			Amplification:  h.cfg.Amplification,
			ForwardDivisor: h.cfg.ForwardDivisor,
		})

	case ipc.TypeCaptureAck:
		var ack ipc.CaptureAck
		if err := json.Unmarshal(env.Payload, &ack); err != nil {
			return err
		}
		if !ack.OK {
			// The grant never became a session; an already-active session
			// nacking a second grant keeps its own marker untouched.
			log.Warnf("worker failed to open %s: %s", ack.SourceID, ack.Reason)
			return nil
		}
		h.mu.Lock()
		h.sessSource = ack.SourceID
		h.sessStart = time.Now()
		h.mu.Unlock()
		return nil

	case ipc.TypeSendAudioChunk:
		var ac ipc.AudioChunk
		if err := json.Unmarshal(env.Payload, &ac); err != nil {
			return err
		}
		h.mu.Lock()
		h.received++
		h.mu.Unlock()
		if h.cfg.ChunkTap != nil {
			h.cfg.ChunkTap(ac.Chunk)
		}
		if err := h.client.Send(ac.Chunk); err != nil {
			// Stale audio is worthless; drop and count.
			h.mu.Lock()
			h.dropped++
			h.mu.Unlock()
			if !errors.Is(err, stream.ErrNotConnected) {
				return err
			}
		}
		return nil

	case ipc.TypeLevelUpdate:
		var lv ipc.LevelUpdate
		if err := json.Unmarshal(env.Payload, &lv); err != nil {
			return err
		}
		h.mu.Lock()
		h.levels = pipeline.Levels{Avg: lv.Avg, Max: lv.Max}
		h.mu.Unlock()
		return nil

	case ipc.TypeStopCapture:
		var sc ipc.StopCapture
		if env.Payload != nil {
			if err := json.Unmarshal(env.Payload, &sc); err != nil {
				return err
			}
		}
		h.mu.Lock()
		source := h.sessSource
		started := h.sessStart
		dropped := h.dropped
		h.sessSource = ""
		h.mu.Unlock()
		stats := h.client.TrafficStats()
		log.CaptureSession(log.SessionMetrics{
			SourceName:      source,
			DurationS:       time.Since(started).Seconds(),
			FramesProcessed: sc.FramesProcessed,
			ChunksForwarded: sc.ChunksForwarded,
			ChunksDropped:   dropped,
			SentKB:          float64(stats.SentBytes) / 1024,
		})
		log.SessionEnd(sc.ChunksForwarded)
		if h.cfg.SessionEnd != nil {
			h.cfg.SessionEnd()
		}
		if err := h.client.SendStop(); err != nil && !errors.Is(err, stream.ErrNotConnected) {
			return err
		}
		return nil

	case ipc.TypeRequestMetrics:
		m := h.Metrics()
		return conn.SendTyped(env.ID, ipc.TypeMetricsResponse, ipc.MetricsResponse{
			ChunksReceived: m.ChunksReceived,
			SentChunks:     m.SentChunks,
			SentBytes:      m.SentBytes,
		})

	default:
		return conn.SendError(env.ID, ipc.TypeError, fmt.Sprintf("unknown message type %q", env.Type))
	}
}

// Streaming reports whether a granted session has not yet ended.
func (h *Host) Streaming() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessSource != ""
}

// Metrics returns a snapshot combining relay counters with transport stats.
func (h *Host) Metrics() HostMetrics {
	h.mu.Lock()
	m := HostMetrics{
		ChunksReceived: h.received,
		ChunksDropped:  h.dropped,
		LastLevels:     h.levels,
		WorkerAttached: h.conn != nil,
	}
	h.mu.Unlock()

	stats := h.client.TrafficStats()
	m.SentChunks = stats.SentChunks
	m.SentBytes = stats.SentBytes
	return m
}

// pushTyped sends to the current worker, if any.
func (h *Host) pushTyped(id, msgType string, payload any) {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.SendTyped(id, msgType, payload); err != nil {
		log.Warnf("push %s to worker: %v", msgType, err)
	}
}
