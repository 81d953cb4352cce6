package audio

import "strings"

// priorityApps are communication-app tokens, in preference order. A source
// whose display name contains an earlier token sorts before one matching a
// later token; see ListSources.
var priorityApps = []string{
	"zoom",
	"microsoft teams",
	"teams",
	"google meet",
	"meet",
	"webex",
	"slack huddle",
	"slack",
	"discord",
	"skype",
	"facetime",
	"gotomeeting",
	"whereby",
	"jitsi",
}

// PriorityRank returns the index of the first matching priority-app token,
// or -1 when the name matches none.
func PriorityRank(name string) int {
	lower := strings.ToLower(name)
	for i, token := range priorityApps {
		if strings.Contains(lower, token) {
			return i
		}
	}
	return -1
}

func IsPriorityApp(name string) bool {
	return PriorityRank(name) >= 0
}

// SourceKind distinguishes endpoint-scoped sources (a single application or
// window) from whole-display loopback sources.
type SourceKind string

const (
	KindWindow SourceKind = "window"
	KindScreen SourceKind = "screen"
)

// Source is an immutable snapshot of one capturable endpoint. Re-queried on
// demand, never mutated in place.
type Source struct {
	ID           string     `json:"id"` // opaque platform-specific identifier
	DisplayName  string     `json:"displayName"`
	Kind         SourceKind `json:"kind"`
	Thumbnail    []byte     `json:"thumbnail,omitempty"` // optional preview image
	PriorityRank int        `json:"priorityRank"`
}

// FrameCallback receives one fixed-size buffer of mono float32 samples.
type FrameCallback func(frame []float32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
	FrameSize  int // samples per delivered frame
}

// Context is a handle to the platform capture backend.
type Context interface {
	Sources() ([]Source, error)
	NewCapture(source *Source, config CaptureConfig) (CaptureDevice, error)
	Close()
}

// CaptureDevice is one open capture graph attachment.
type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb FrameCallback)
	ClearCallback()
}
