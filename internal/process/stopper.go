package process

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/breeze-rmm/reseed/internal/logging"
)

var log = logging.L("process")

// ErrStillRunning reports target instances that survived every stop attempt.
type ErrStillRunning struct {
	Names []string
}

func (e *ErrStillRunning) Error() string {
	return fmt.Sprintf("target processes still running after all stop attempts: %s", strings.Join(e.Names, ", "))
}

// target is one running process. gopsutil backs the real implementation;
// tests stub the process table with fakes.
type target interface {
	Pid() int32
	Name() (string, error)
	Terminate() error
	Kill() error
}

type gopsTarget struct {
	p *process.Process
}

func (g gopsTarget) Pid() int32            { return g.p.Pid }
func (g gopsTarget) Name() (string, error) { return g.p.Name() }
func (g gopsTarget) Terminate() error      { return g.p.Terminate() }
func (g gopsTarget) Kill() error           { return g.p.Kill() }

func liveProcesses() ([]target, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	out := make([]target, 0, len(procs))
	for _, p := range procs {
		out = append(out, gopsTarget{p: p})
	}
	return out, nil
}

// Stopper closes running instances of the target application before the
// installed bundle is touched. Attempts 1..n-1 send TERM; the final attempt
// sends KILL. The process table is re-scanned between attempts so instances
// that exited cooperatively are not signaled again.
type Stopper struct {
	names    []string
	attempts int
	wait     time.Duration
	selfPid  int32
	list     func() ([]target, error)
}

// NewStopper builds a stopper for the given process names. attempts is the
// total number of signal rounds; wait is the grace period between rounds.
func NewStopper(names []string, attempts int, wait time.Duration) *Stopper {
	lowered := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			lowered = append(lowered, n)
		}
	}
	if attempts < 1 {
		attempts = 1
	}
	return &Stopper{
		names:    lowered,
		attempts: attempts,
		wait:     wait,
		selfPid:  int32(os.Getpid()),
		list:     liveProcesses,
	}
}

// Running returns the names of currently running target instances.
func (s *Stopper) Running() ([]string, error) {
	matches, err := s.matches()
	if err != nil {
		return nil, err
	}
	return matchNames(matches), nil
}

// Stop signals every running target instance until none remain or attempts
// are exhausted. Returns *ErrStillRunning when instances survive.
func (s *Stopper) Stop(ctx context.Context) error {
	for attempt := 1; attempt <= s.attempts; attempt++ {
		matches, err := s.matches()
		if err != nil {
			return fmt.Errorf("snapshot processes: %w", err)
		}
		if len(matches) == 0 {
			return nil
		}

		final := attempt == s.attempts
		for _, m := range matches {
			name, _ := m.Name()
			if final {
				log.Warn("killing unresponsive instance", "name", name, "pid", m.Pid())
				if err := m.Kill(); err != nil {
					log.Debug("kill failed", "pid", m.Pid(), "error", err)
				}
			} else {
				log.Info("terminating instance", "name", name, "pid", m.Pid(), "attempt", attempt)
				if err := m.Terminate(); err != nil {
					log.Debug("terminate failed", "pid", m.Pid(), "error", err)
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.wait):
		}
	}

	matches, err := s.matches()
	if err != nil {
		return fmt.Errorf("snapshot processes: %w", err)
	}
	if len(matches) > 0 {
		return &ErrStillRunning{Names: matchNames(matches)}
	}
	return nil
}

func (s *Stopper) matches() ([]target, error) {
	procs, err := s.list()
	if err != nil {
		return nil, err
	}

	var matches []target
	skipped := 0
	for _, p := range procs {
		if p.Pid() == s.selfPid {
			continue
		}
		name, err := p.Name()
		if err != nil || name == "" {
			skipped++
			continue
		}
		if s.isTarget(name) {
			matches = append(matches, p)
		}
	}
	if skipped > 0 {
		log.Debug("process snapshot skipped processes", "skipped", skipped, "total", len(procs))
	}
	return matches, nil
}

// isTarget matches exact names and helper variants such as
// "Lumen Helper (GPU)" against the configured base names.
func (s *Stopper) isTarget(name string) bool {
	lowered := strings.ToLower(name)
	for _, t := range s.names {
		if lowered == t || strings.HasPrefix(lowered, t+" ") {
			return true
		}
	}
	return false
}

func matchNames(matches []target) []string {
	seen := make(map[string]bool, len(matches))
	var names []string
	for _, m := range matches {
		name, err := m.Name()
		if err != nil || name == "" {
			continue
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}
