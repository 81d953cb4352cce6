package pipeline

// DefaultForwardDivisor forwards one frame in ten. Full-rate 16 kHz PCM at
// every buffer tick is more than downstream transcription needs to keep
// sub-second latency; the level meter still sees every frame. Tunable via
// config rather than a hard constant.
const DefaultForwardDivisor = 10

// Throttle decides which processed frames reach the transport. The policy is
// deliberately lossy: dropped frames are discarded, never buffered.
type Throttle struct {
	divisor uint64
	count   uint64
}

func NewThrottle(divisor int) *Throttle {
	if divisor < 1 {
		divisor = DefaultForwardDivisor
	}
	return &Throttle{divisor: uint64(divisor)}
}

// Forward reports whether the next frame should be transmitted. Exactly one
// call in every divisor returns true, so 37 frames yield 3 forwards.
func (t *Throttle) Forward() bool {
	t.count++
	return t.count%t.divisor == 0
}

// Count returns the number of frames seen.
func (t *Throttle) Count() uint64 {
	return t.count
}

// Reset restarts the cycle at a session boundary.
func (t *Throttle) Reset() {
	t.count = 0
}
