package stream

import "encoding/json"

// Wire events exchanged with the transcription backend. Outbound audio
// travels as audio:chunk; audio:stop marks end of session. The backend may
// push session:rejected when there is no receiving context to attach to.
const (
	EventAudioChunk      = "audio:chunk"
	EventAudioStop       = "audio:stop"
	EventSessionRejected = "session:rejected"
)

// Event is one JSON text frame on the wire.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// ChunkPayload is the audio:chunk body.
type ChunkPayload struct {
	Audio      []int16 `json:"audio"`
	SampleRate int     `json:"sampleRate"`
	Channels   int     `json:"channels"`
}
