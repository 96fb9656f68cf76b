package pipeline

import (
	"fmt"
	"time"

	"github.com/breeze-rmm/reseed/internal/bundle"
	"github.com/breeze-rmm/reseed/internal/sign"
	"github.com/breeze-rmm/reseed/internal/strategy"
)

// ResourceOutcome is one resource's fate across locating and patching.
type ResourceOutcome struct {
	RelPath  string
	Kind     strategy.Kind
	Required bool
	State    bundle.ResourceState
	Strategy string // applied tier name, "" when none fired
	Patched  bool
	Skipped  bool // no strategy matched and the kind has no fallback
	Err      error
}

// Report is the run summary handed to the UI. Paths are only populated
// while the tree they name still exists: a successful install clears the
// staging fields, a failure retains them for manual recovery.
type Report struct {
	State            string
	Bundle           string
	Version          string
	Resources        []ResourceOutcome
	PatchedCount     int
	Sign             sign.Outcome
	SignSkipped      bool
	StorageRewritten bool
	StorageErr       error
	StagedPath       string
	BackupPath       string
	WorkDir          string
	Duration         time.Duration
	Err              error
}

// Success covers both terminal states that need no operator action.
func (r *Report) Success() bool {
	return r.State == StateInstalled || r.State == StateUnchanged
}

// Degraded reports a run that patched and staged but could not sign; the
// staged tree awaits manual signing and installation.
func (r *Report) Degraded() bool { return r.State == StateDegraded }

// FailedResources returns the resources whose patch attempt errored.
func (r *Report) FailedResources() []ResourceOutcome {
	var out []ResourceOutcome
	for _, res := range r.Resources {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// ErrPreflight aborts a run before anything is mutated.
type ErrPreflight struct {
	Step string // inspect, version, processes, locate
	Err  error
}

func (e *ErrPreflight) Error() string {
	return fmt.Sprintf("preflight %s: %v", e.Step, e.Err)
}

func (e *ErrPreflight) Unwrap() error { return e.Err }

// ErrStagingFailed aborts a run that could not produce a backup and working
// copy. Nothing was installed.
type ErrStagingFailed struct {
	Err error
}

func (e *ErrStagingFailed) Error() string {
	return fmt.Sprintf("staging failed: %v", e.Err)
}

func (e *ErrStagingFailed) Unwrap() error { return e.Err }

// ErrNothingPatched reports a run where not a single resource could be
// patched. The staged tree and backup are retained for inspection.
type ErrNothingPatched struct {
	Attempted int
}

func (e *ErrNothingPatched) Error() string {
	return fmt.Sprintf("no resource could be patched (%d attempted)", e.Attempted)
}
