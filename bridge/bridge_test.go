package bridge

import (
	"errors"
	"net"
	"testing"
	"time"

	"earshot/audio"
	"earshot/pipeline"
	"earshot/stream"
)

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func frames(n int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		frame := make([]float32, pipeline.FrameSize)
		for j := range frame {
			frame[j] = 0.1
		}
		out[i] = frame
	}
	return out
}

type harness struct {
	backend *stream.FakeBackend
	client  *stream.Client
	host    *Host
	worker  *Worker
	hostCtx *audio.FakeContext
	workCtx *audio.FakeContext
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	sources := []audio.Source{
		{ID: "zoom-1", DisplayName: "Zoom Meeting", Kind: audio.KindWindow},
		{ID: "browser-1", DisplayName: "Firefox", Kind: audio.KindWindow},
	}
	h := &harness{
		backend: stream.NewFakeBackend(),
		hostCtx: audio.NewFakeContext(sources),
		workCtx: audio.NewFakeContext(sources),
	}
	h.client = stream.New(h.backend.Dialer)

	h.host = NewHost(HostConfig{
		Amplification:  pipeline.DefaultAmplification,
		ForwardDivisor: pipeline.DefaultForwardDivisor,
	}, h.hostCtx, h.client)

	h.client.Connect("ws://backend")
	waitFor(t, "backend connection", h.client.Connected)

	hostSide, workerSide := net.Pipe()
	h.worker = NewWorker(workerSide, h.workCtx)

	go h.worker.Run()
	go h.host.ServeConn(hostSide)

	t.Cleanup(func() {
		h.worker.Close()
		h.client.Close()
	})
	return h
}

func TestWorkerRequestsSources(t *testing.T) {
	h := newHarness(t)

	sources, err := h.worker.RequestSources()
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 2 {
		t.Fatalf("got %d sources, want 2", len(sources))
	}
	// The host orders before answering: the meeting app leads.
	if sources[0].ID != "zoom-1" {
		t.Fatalf("first source %s, want zoom-1", sources[0].ID)
	}
}

func TestCaptureGrantShipsThrottledChunks(t *testing.T) {
	h := newHarness(t)
	h.workCtx.SetFrames(frames(37))

	if err := h.worker.RequestCapture("zoom-1"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "3 chunks at backend", func() bool {
		return countChunks(h.backend) == 3
	})

	m := h.host.Metrics()
	if m.ChunksReceived != 3 {
		t.Fatalf("host received %d chunks, want 3", m.ChunksReceived)
	}
	if m.LastLevels.Avg == 0 {
		t.Fatal("level meter never reached the host")
	}
}

func TestStopCaptureReportsCountersAndSignalsBackend(t *testing.T) {
	h := newHarness(t)
	h.workCtx.SetFrames(frames(20))

	if err := h.worker.RequestCapture("zoom-1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "session active", h.worker.Streaming)

	if err := h.worker.StopCapture(); err != nil {
		t.Fatal(err)
	}
	if h.worker.Streaming() {
		t.Fatal("session survived stop")
	}
	waitFor(t, "stop event at backend", func() bool {
		for _, ev := range h.backend.Conn().Written() {
			if ev.Event == stream.EventAudioStop {
				return true
			}
		}
		return false
	})
}

func TestHostMetricsRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.workCtx.SetFrames(frames(37))

	if err := h.worker.RequestCapture("zoom-1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "chunks relayed", func() bool { return countChunks(h.backend) == 3 })

	m, err := h.worker.Metrics()
	if err != nil {
		t.Fatal(err)
	}
	if m.ChunksReceived != 3 {
		t.Fatalf("chunks received %d, want 3", m.ChunksReceived)
	}
	if m.SentChunks != 3 {
		t.Fatalf("sent chunks %d, want 3", m.SentChunks)
	}
}

func TestFailedGrantLeavesHostIdle(t *testing.T) {
	h := newHarness(t)
	h.workCtx.FailStart(errors.New("device busy"))

	if err := h.worker.RequestCapture("zoom-1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "grant reaching the worker", func() bool {
		return h.workCtx.TotalOpens() == 1
	})
	// Give the nack time to cross back to the host.
	time.Sleep(20 * time.Millisecond)

	if h.worker.Streaming() {
		t.Fatal("worker reports an active session after a failed open")
	}
	if h.host.Streaming() {
		t.Fatal("host marks a session that never started")
	}
}

func TestWorkerDisconnectClearsHostSession(t *testing.T) {
	h := newHarness(t)
	h.workCtx.SetFrames(frames(20))

	if err := h.worker.RequestCapture("zoom-1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "session marked on host", h.host.Streaming)

	h.worker.Close()
	waitFor(t, "host session cleared", func() bool { return !h.host.Streaming() })
}

func TestBackendRejectionTearsDownSession(t *testing.T) {
	h := newHarness(t)

	stopped := make(chan string, 1)
	h.worker.OnSessionStopped(func(reason string) { stopped <- reason })

	if err := h.worker.RequestCapture("zoom-1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "session active", h.worker.Streaming)
	waitFor(t, "session marked on host", h.host.Streaming)

	h.backend.Conn().Push(stream.Event{
		Event: stream.EventSessionRejected,
		Error: "no receiving meeting",
	})

	select {
	case reason := <-stopped:
		if reason != "no receiving meeting" {
			t.Fatalf("reason = %q", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("rejection never reached the worker")
	}
	if h.worker.Streaming() {
		t.Fatal("session survived backend rejection")
	}
	if h.host.Streaming() {
		t.Fatal("host still marks the rejected session")
	}
	m := h.host.Metrics()
	if m.ChunksReceived != 0 {
		t.Fatalf("metrics not reset after rejection: %d", m.ChunksReceived)
	}
}

func TestBackendStatusPushedToWorker(t *testing.T) {
	sources := []audio.Source{{ID: "s", DisplayName: "S", Kind: audio.KindScreen}}
	backend := stream.NewFakeBackend()
	client := stream.New(backend.Dialer)
	host := NewHost(HostConfig{}, audio.NewFakeContext(sources), client)

	client.Connect("ws://backend")
	waitFor(t, "backend connection", client.Connected)
	defer client.Close()

	hostSide, workerSide := net.Pipe()
	worker := NewWorker(workerSide, audio.NewFakeContext(sources))
	defer worker.Close()

	states := make(chan stream.State, 4)
	worker.OnBackendStatus(func(s stream.State, _ int) { states <- s })

	go worker.Run()
	go host.ServeConn(hostSide)

	select {
	case s := <-states:
		if s != stream.StateConnected {
			t.Fatalf("initial backend state %s, want connected", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no backend status push on connect")
	}
}

func TestSecondSessionRefused(t *testing.T) {
	h := newHarness(t)

	if err := h.worker.RequestCapture("zoom-1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first session", h.worker.Streaming)

	// The worker nacks the second grant; the first session keeps running.
	if err := h.worker.RequestCapture("browser-1"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if !h.worker.Streaming() {
		t.Fatal("first session was disturbed")
	}
	sess, ok := h.worker.Session()
	if !ok || sess.SourceID != "zoom-1" {
		t.Fatalf("active session %+v, want zoom-1", sess)
	}
}

func countChunks(b *stream.FakeBackend) int {
	conn := b.Conn()
	if conn == nil {
		return 0
	}
	n := 0
	for _, ev := range conn.Written() {
		if ev.Event == stream.EventAudioChunk {
			n++
		}
	}
	return n
}
