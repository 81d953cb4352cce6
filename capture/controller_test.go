package capture

import (
	"errors"
	"sync"
	"testing"
)

type fakeGraph struct {
	mu        sync.Mutex
	attached  int
	detached  int
	attachErr error
	detachErr error
}

func (g *fakeGraph) Attach(sourceID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.attachErr != nil {
		return g.attachErr
	}
	g.attached++
	return nil
}

func (g *fakeGraph) Detach() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.detached++
	return g.detachErr
}

func TestStartStopCycle(t *testing.T) {
	g := &fakeGraph{}
	c := NewController(g)

	if err := c.Start("src-1"); err != nil {
		t.Fatal(err)
	}
	sess, ok := c.Current()
	if !ok || sess.State != StateActive || sess.SourceID != "src-1" {
		t.Fatalf("unexpected session: %+v %v", sess, ok)
	}
	if !c.Streaming() {
		t.Fatal("expected streaming")
	}

	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Current(); ok {
		t.Fatal("session should be gone after stop")
	}
	if c.Streaming() {
		t.Fatal("should not be streaming after stop")
	}
}

func TestDoubleStartRejected(t *testing.T) {
	g := &fakeGraph{}
	c := NewController(g)

	if err := c.Start("src-1"); err != nil {
		t.Fatal(err)
	}
	if err := c.Start("src-2"); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second start: got %v, want ErrSessionActive", err)
	}
	if g.attached != 1 {
		t.Fatalf("graph attached %d times, want 1", g.attached)
	}
}

func TestStopWithoutSession(t *testing.T) {
	c := NewController(&fakeGraph{})
	if err := c.Stop(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("got %v, want ErrNoSession", err)
	}
}

func TestPermissionDeniedLeavesIdle(t *testing.T) {
	g := &fakeGraph{attachErr: ErrPermissionDenied}
	c := NewController(g)

	err := c.Start("src-1")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("got %v, want ErrPermissionDenied", err)
	}
	if _, ok := c.Current(); ok {
		t.Fatal("denied start must not leave a session")
	}
	// Controller stays usable.
	g.attachErr = nil
	if err := c.Start("src-1"); err != nil {
		t.Fatalf("restart after denial: %v", err)
	}
}

func TestAttachFaultRollsBack(t *testing.T) {
	g := &fakeGraph{attachErr: errors.New("graph exploded")}
	c := NewController(g)

	if err := c.Start("src-1"); err == nil {
		t.Fatal("expected attach error")
	}
	if _, ok := c.Current(); ok {
		t.Fatal("failed attach must not leave a session")
	}
	if c.LastError() == nil {
		t.Fatal("fault should be recorded")
	}
}

func TestFailTearsDownActiveSession(t *testing.T) {
	g := &fakeGraph{}
	c := NewController(g)

	if err := c.Start("src-1"); err != nil {
		t.Fatal(err)
	}
	c.Fail(errors.New("backend rejected session"))
	if _, ok := c.Current(); ok {
		t.Fatal("session should be destroyed on failure")
	}
	if g.detached != 1 {
		t.Fatalf("graph detached %d times, want 1", g.detached)
	}
	// Fail with no session is a no-op.
	c.Fail(errors.New("again"))
	if g.detached != 1 {
		t.Fatal("no-session fail must not detach")
	}
}

func TestStateChangeNotifications(t *testing.T) {
	g := &fakeGraph{}
	c := NewController(g)
	var states []State
	c.OnStateChange(func(s State) { states = append(states, s) })

	c.Start("src-1")
	c.Stop()

	want := []State{StateStarting, StateActive, StateStopping, StateIdle}
	if len(states) != len(want) {
		t.Fatalf("got transitions %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("transition %d: got %s, want %s", i, states[i], want[i])
		}
	}
}

func TestRepeatedCyclesDetachEveryTime(t *testing.T) {
	g := &fakeGraph{}
	c := NewController(g)
	for i := 0; i < 10; i++ {
		if err := c.Start("src-1"); err != nil {
			t.Fatalf("cycle %d start: %v", i, err)
		}
		if err := c.Stop(); err != nil {
			t.Fatalf("cycle %d stop: %v", i, err)
		}
	}
	if g.attached != 10 || g.detached != 10 {
		t.Fatalf("attach/detach mismatch: %d/%d", g.attached, g.detached)
	}
}
