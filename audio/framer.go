package audio

// Framer re-blocks arbitrary-length sample batches from a backend into
// fixed-size frames. Backends deliver whatever the platform hands them; the
// processing graph wants exact FrameSize buffers.
type Framer struct {
	size int
	buf  []float32
	emit FrameCallback
}

func NewFramer(size int, emit FrameCallback) *Framer {
	return &Framer{size: size, emit: emit}
}

// Push appends samples and emits complete frames. The emitted slice is owned
// by the callback; Framer never reuses it.
func (f *Framer) Push(samples []float32) {
	f.buf = append(f.buf, samples...)
	for len(f.buf) >= f.size {
		frame := make([]float32, f.size)
		copy(frame, f.buf[:f.size])
		f.buf = f.buf[f.size:]
		f.emit(frame)
	}
}

// Pending returns the number of buffered samples not yet forming a frame.
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Flush discards any partial frame. Called on teardown so a restarted
// session never sees samples from the previous one.
func (f *Framer) Flush() {
	f.buf = nil
}
