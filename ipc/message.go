// Package ipc carries the control protocol between the privileged host
// process and the desktop-session worker over a local socket. Messages are
// JSON envelopes with length-prefixed framing and strictly increasing
// sequence numbers per direction.
package ipc

import (
	"encoding/json"

	"earshot/audio"
	"earshot/pipeline"
	"earshot/stream"
)

const (
	// Worker -> host.
	TypeGetSources     = "get-sources"
	TypeStartCapture   = "start-capture"
	TypeStopCapture    = "stop-capture"
	TypeSendAudioChunk = "send-audio-chunk"
	TypeCaptureAck     = "capture-ack"
	TypeLevelUpdate    = "level-update"

	// Host -> worker.
	TypeSourcesResponse = "sources-response"
	TypeInitCapture     = "init-capture"
	TypeMetricsResponse = "metrics-response"
	TypeBackendStatus   = "backend-status"

	// Either direction.
	TypeRequestMetrics = "request-metrics"
	TypeError          = "error"
)

// MaxMessageSize bounds a single framed message. Source thumbnails dominate;
// 16MB leaves generous headroom.
const MaxMessageSize = 16 * 1024 * 1024

// Envelope is the wire-format wrapper for all IPC messages.
type Envelope struct {
	ID      string          `json:"id"`
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// SourcesResponse answers get-sources with the ordered source list.
type SourcesResponse struct {
	Sources []audio.Source `json:"sources"`
}

// StartCapture asks the host to grant a capture session on a source.
type StartCapture struct {
	SourceID string `json:"sourceId"`
}

// InitCapture is the host's grant: the worker should open the device and
// run the signal graph with these settings.
type InitCapture struct {
	SourceID       string  `json:"sourceId"`
	Amplification  float64 `json:"amplification"`
	ForwardDivisor int     `json:"forwardDivisor"`
}

// CaptureAck reports whether the worker managed to open the granted source.
type CaptureAck struct {
	SourceID string `json:"sourceId"`
	OK       bool   `json:"ok"`
	Reason   string `json:"reason,omitempty"`
}

// StopCapture carries the final session counters when the worker ends a
// session. When sent by the host it is a teardown command and the counters
// are zero.
type StopCapture struct {
	FramesProcessed uint64 `json:"framesProcessed"`
	ChunksForwarded uint64 `json:"chunksForwarded"`
	Reason          string `json:"reason,omitempty"`
}

// AudioChunk wraps one forwarded pipeline chunk.
type AudioChunk struct {
	Chunk pipeline.Chunk `json:"chunk"`
}

// LevelUpdate carries per-frame meter readings for UI display.
type LevelUpdate struct {
	Avg float64 `json:"avg"`
	Max float64 `json:"max"`
}

// MetricsResponse answers request-metrics. The worker fills the capture
// counters, the host fills the relay and transport counters.
type MetricsResponse struct {
	FramesProcessed uint64 `json:"framesProcessed"`
	ChunksForwarded uint64 `json:"chunksForwarded"`
	ChunksReceived  uint64 `json:"chunksReceived"`
	SentChunks      uint64 `json:"sentChunks"`
	SentBytes       uint64 `json:"sentBytes"`
}

// BackendStatus is pushed by the host whenever the backend connection
// changes state.
type BackendStatus struct {
	State   stream.State `json:"state"`
	Retries int          `json:"retries"`
}
