package process

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeProc exits on TERM when cooperative, otherwise only on KILL.
type fakeProc struct {
	pid         int32
	name        string
	cooperative bool
	terminated  int
	killed      int
	alive       bool
}

func (f *fakeProc) Pid() int32            { return f.pid }
func (f *fakeProc) Name() (string, error) { return f.name, nil }

func (f *fakeProc) Terminate() error {
	f.terminated++
	if f.cooperative {
		f.alive = false
	}
	return nil
}

func (f *fakeProc) Kill() error {
	f.killed++
	f.alive = false
	return nil
}

func newFakeStopper(attempts int, procs ...*fakeProc) *Stopper {
	s := NewStopper([]string{"Lumen"}, attempts, time.Millisecond)
	s.list = func() ([]target, error) {
		var out []target
		for _, p := range procs {
			if p.alive {
				out = append(out, p)
			}
		}
		return out, nil
	}
	return s
}

func TestStopNoInstancesIsNoop(t *testing.T) {
	s := newFakeStopper(3)
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStopCooperativeInstanceGetsTermOnly(t *testing.T) {
	p := &fakeProc{pid: 100, name: "Lumen", cooperative: true, alive: true}
	s := newFakeStopper(3, p)

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.terminated != 1 {
		t.Fatalf("terminated = %d, want 1", p.terminated)
	}
	if p.killed != 0 {
		t.Fatalf("killed = %d, want 0 for cooperative process", p.killed)
	}
}

func TestStopEscalatesToKillOnFinalAttempt(t *testing.T) {
	p := &fakeProc{pid: 100, name: "Lumen", cooperative: false, alive: true}
	s := newFakeStopper(3, p)

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.terminated != 2 {
		t.Fatalf("terminated = %d, want 2 (attempts before escalation)", p.terminated)
	}
	if p.killed != 1 {
		t.Fatalf("killed = %d, want 1", p.killed)
	}
}

func TestStopReportsSurvivors(t *testing.T) {
	p := &fakeProc{pid: 100, name: "Lumen", cooperative: false, alive: true}
	s := newFakeStopper(2, p)
	// Survive even KILL.
	s.list = func() ([]target, error) { return []target{p}, nil }

	err := s.Stop(context.Background())
	var still *ErrStillRunning
	if !errors.As(err, &still) {
		t.Fatalf("expected ErrStillRunning, got %v", err)
	}
	if len(still.Names) != 1 || still.Names[0] != "Lumen" {
		t.Fatalf("unexpected survivors: %v", still.Names)
	}
}

func TestStopExcludesSelf(t *testing.T) {
	s := newFakeStopper(1)
	self := &fakeProc{pid: s.selfPid, name: "Lumen", alive: true}
	s.list = func() ([]target, error) { return []target{self}, nil }

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if self.terminated != 0 || self.killed != 0 {
		t.Fatal("stopper must never signal its own process")
	}
}

func TestMatchesHelperVariants(t *testing.T) {
	s := NewStopper([]string{"Lumen", "Lumen Helper"}, 1, time.Millisecond)

	cases := []struct {
		name string
		want bool
	}{
		{"Lumen", true},
		{"lumen", true},
		{"Lumen Helper (GPU)", true},
		{"Lumen Helper (Renderer)", true},
		{"Lumenizer", false},
		{"Terminal", false},
	}
	for _, tc := range cases {
		if got := s.isTarget(tc.name); got != tc.want {
			t.Errorf("isTarget(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRunningListsUniqueNames(t *testing.T) {
	a := &fakeProc{pid: 1, name: "Lumen", alive: true}
	b := &fakeProc{pid: 2, name: "Lumen", alive: true}
	c := &fakeProc{pid: 3, name: "Lumen Helper (GPU)", alive: true}
	s := newFakeStopper(1, a, b, c)

	names, err := s.Running()
	if err != nil {
		t.Fatalf("Running: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("names = %v, want 2 unique entries", names)
	}
}

func TestStopHonorsContextCancellation(t *testing.T) {
	p := &fakeProc{pid: 100, name: "Lumen", cooperative: false, alive: true}
	s := newFakeStopper(5, p)
	s.wait = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if err := s.Stop(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
