// Package pipeline drives one full reseed run as an explicit state machine:
// locate the installed resources, stop the app, stage a working copy with a
// backup, patch each resource, re-sign, and swap the result into place.
// Terminal states map one to one onto what the operator must do next.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/looplab/fsm"

	"github.com/breeze-rmm/reseed/internal/audit"
	"github.com/breeze-rmm/reseed/internal/bundle"
	"github.com/breeze-rmm/reseed/internal/config"
	"github.com/breeze-rmm/reseed/internal/executor"
	"github.com/breeze-rmm/reseed/internal/identity"
	"github.com/breeze-rmm/reseed/internal/install"
	"github.com/breeze-rmm/reseed/internal/logging"
	"github.com/breeze-rmm/reseed/internal/patch"
	"github.com/breeze-rmm/reseed/internal/process"
	"github.com/breeze-rmm/reseed/internal/sign"
	"github.com/breeze-rmm/reseed/internal/stage"
	"github.com/breeze-rmm/reseed/internal/storagecfg"
	"github.com/breeze-rmm/reseed/internal/strategy"
)

// Run states. Installed and Unchanged are the success terminals; Degraded
// leaves a signed-by-hand task behind; RolledBack preserved the original;
// Failed is the unrecoverable rollback failure.
const (
	StateCreated    = "created"
	StateLocated    = "located"
	StateUnchanged  = "unchanged"
	StateStaged     = "staged"
	StatePatched    = "patched"
	StateSigned     = "signed"
	StateDegraded   = "degraded"
	StateInstalled  = "installed"
	StateRolledBack = "rolledback"
	StateFailed     = "failed"
	StateAborted    = "aborted"
)

const (
	eventLocate   = "locate"
	eventSkip     = "skip"
	eventStage    = "stage"
	eventPatch    = "patch"
	eventSign     = "sign"
	eventDegrade  = "degrade"
	eventInstall  = "install"
	eventRollback = "rollback"
	eventFail     = "fail"
	eventAbort    = "abort"
)

// Options are the per-run choices collected from flags and menu answers.
type Options struct {
	ResetStorage bool
	KeepBackup   bool
	// ConfirmDrift decides whether to continue when the installed version
	// is newer than the newest verified one. nil declines.
	ConfirmDrift func(installed, verified string) bool
	// Progress receives phase notifications for interactive display.
	// nil discards them.
	Progress func(step Step)
}

// Step identifies a coarse phase of the run for interactive display.
type Step int

const (
	StepLocate Step = iota
	StepStopProcesses
	StepProcessesStopped
	StepStage
	StepPatch
	StepSign
	StepInstall
	StepRollback
)

// Stopper ends running app processes before staging begins.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Stager produces the working copy and the rollback backup.
type Stager interface {
	Stage(ctx context.Context, b *bundle.Bundle) (*stage.Staged, error)
}

// Patcher applies one resolved strategy to one staged resource.
type Patcher interface {
	Apply(path string, s strategy.Strategy) error
}

// Certifier re-signs the staged bundle.
type Certifier interface {
	Certify(ctx context.Context, bundlePath string) sign.Outcome
}

// Installer swaps the staged bundle into place and cleans up after success.
type Installer interface {
	Install(stagedPath, installPath, backupPath string) error
	Cleanup(workDir, backupPath string, keepBackup bool)
}

// StorageRewriter rewrites the identifiers persisted outside the bundle.
type StorageRewriter interface {
	Rewrite(path string, ids identity.Set) error
}

type Pipeline struct {
	cfg  *config.Config
	prof *config.Profile
	ids  identity.Set
	opts Options

	stopper      Stopper
	stager       Stager
	patcher      Patcher
	signer       Certifier
	installer    Installer
	storage      StorageRewriter
	signRequired bool

	journal *audit.Logger
	runID   string

	machine *fsm.FSM
	log     *slog.Logger
}

// New wires a production pipeline from cfg and prof. ids must be the one
// set shared with every identifier-embedding component of the run.
func New(cfg *config.Config, prof *config.Profile, ids identity.Set, opts Options) *Pipeline {
	runner := executor.NewToolRunner()
	engine := sign.NewEngine(runner, cfg.SigningIdentity, cfg.SignAttempts,
		time.Duration(cfg.SignRetryDelaySeconds)*time.Second)

	var stripper stage.SignatureStripper
	if bundle.SigningRequired() {
		stripper = engine
	}

	p := &Pipeline{
		cfg:  cfg,
		prof: prof,
		ids:  ids,
		opts: opts,
		stopper: process.NewStopper(prof.ProcessNames, cfg.ProcessAttempts,
			time.Duration(cfg.ProcessWaitSeconds)*time.Second),
		stager:       stage.New(cfg.StagingRoot, cfg.BackupDir, stripper),
		patcher:      patch.NewApplicator(),
		signer:       engine,
		installer:    install.New(),
		storage:      storagecfg.NewRewriter(cfg.StorageReadOnly),
		signRequired: bundle.SigningRequired(),
		log:          logging.L("pipeline"),
	}
	p.machine = newMachine(p.log)
	return p
}

// AttachJournal routes the run's mutating operations into the tamper-evident
// journal. A nil journal is a no-op.
func (p *Pipeline) AttachJournal(j *audit.Logger, runID string) {
	p.journal = j
	p.runID = runID
}

func newMachine(log *slog.Logger) *fsm.FSM {
	return fsm.NewFSM(
		StateCreated,
		fsm.Events{
			{Name: eventLocate, Src: []string{StateCreated}, Dst: StateLocated},
			{Name: eventSkip, Src: []string{StateLocated}, Dst: StateUnchanged},
			{Name: eventStage, Src: []string{StateLocated}, Dst: StateStaged},
			{Name: eventPatch, Src: []string{StateStaged}, Dst: StatePatched},
			{Name: eventSign, Src: []string{StatePatched}, Dst: StateSigned},
			{Name: eventDegrade, Src: []string{StatePatched}, Dst: StateDegraded},
			{Name: eventInstall, Src: []string{StateSigned}, Dst: StateInstalled},
			{Name: eventRollback, Src: []string{StateSigned}, Dst: StateRolledBack},
			{Name: eventFail, Src: []string{StateSigned}, Dst: StateFailed},
			{Name: eventAbort, Src: []string{StateCreated, StateLocated, StateStaged, StatePatched}, Dst: StateAborted},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debug("state change", "from", e.Src, "to", e.Dst)
			},
		},
	)
}

// Run executes the pipeline to a terminal state. The returned report is
// never nil; rep.Err carries the terminal error for non-success states.
func (p *Pipeline) Run(ctx context.Context) *Report {
	started := time.Now()
	rep := &Report{}
	p.journal.Log(audit.EventRunStart, p.runID, map[string]any{"bundle": p.bundleRoot()})

	b, located, err := p.locate(ctx, rep)
	if err != nil {
		return p.abort(ctx, rep, started, err)
	}

	if located.AllExistingPatched() {
		p.log.Info("all resources already patched, nothing to do")
		if p.opts.ResetStorage {
			// The app must not be running while its storage is rewritten.
			p.step(StepStopProcesses)
			if err := p.stopper.Stop(ctx); err != nil {
				return p.abort(ctx, rep, started, &ErrPreflight{Step: "processes", Err: err})
			}
			p.step(StepProcessesStopped)
			p.rewriteStorage(rep)
		}
		p.fire(ctx, eventSkip)
		return p.finish(rep, started)
	}

	p.step(StepStopProcesses)
	if err := p.stopper.Stop(ctx); err != nil {
		return p.abort(ctx, rep, started, &ErrPreflight{Step: "processes", Err: err})
	}
	p.step(StepProcessesStopped)
	if err := ctx.Err(); err != nil {
		return p.abort(ctx, rep, started, &ErrPreflight{Step: "cancelled", Err: err})
	}

	// Staging is the point of no return for cancellation: from here the run
	// completes to a terminal state or leaves directories for manual cleanup.
	p.step(StepStage)
	staged, err := p.stager.Stage(ctx, b)
	if err != nil {
		return p.abort(ctx, rep, started, &ErrStagingFailed{Err: err})
	}
	p.fire(ctx, eventStage)
	rep.WorkDir = staged.WorkDir
	rep.StagedPath = staged.BundlePath
	rep.BackupPath = staged.BackupPath
	p.journal.Log(audit.EventBackupCreated, p.runID, map[string]any{
		"backup": staged.BackupPath,
		"staged": staged.BundlePath,
	})

	p.step(StepPatch)
	p.patchResources(rep, staged)
	if rep.PatchedCount == 0 {
		return p.abort(ctx, rep, started, &ErrNothingPatched{Attempted: len(located.NeedsPatch())})
	}
	p.fire(ctx, eventPatch)

	if p.opts.ResetStorage {
		p.rewriteStorage(rep)
	}

	if p.signRequired {
		p.step(StepSign)
		out := p.signer.Certify(ctx, staged.BundlePath)
		rep.Sign = out
		if out.Degraded() {
			p.journal.Log(audit.EventSignDegraded, p.runID, map[string]any{
				"attempts": out.Attempts,
				"staged":   staged.BundlePath,
			})
			p.fire(ctx, eventDegrade)
			return p.finish(rep, started)
		}
		p.journal.Log(audit.EventBundleSigned, p.runID, map[string]any{"attempts": out.Attempts})
	} else {
		rep.SignSkipped = true
	}
	p.fire(ctx, eventSign)

	p.step(StepInstall)
	if err := p.installer.Install(staged.BundlePath, b.Root, staged.BackupPath); err != nil {
		rep.Err = err
		p.step(StepRollback)
		p.journal.Log(audit.EventRollback, p.runID, map[string]any{"error": err.Error()})
		var rollback *install.ErrRollbackFailed
		if errors.As(err, &rollback) {
			p.fire(ctx, eventFail)
		} else {
			p.fire(ctx, eventRollback)
		}
		return p.finish(rep, started)
	}
	p.fire(ctx, eventInstall)
	p.journal.Log(audit.EventBundleInstalled, p.runID, map[string]any{"path": b.Root})

	p.installer.Cleanup(staged.WorkDir, staged.BackupPath, p.opts.KeepBackup)
	rep.WorkDir = ""
	rep.StagedPath = ""
	if !p.opts.KeepBackup {
		rep.BackupPath = ""
	}
	return p.finish(rep, started)
}

// locate inspects the installed bundle and classifies its resources without
// mutating anything.
func (p *Pipeline) locate(ctx context.Context, rep *Report) (*bundle.Bundle, *bundle.LocateReport, error) {
	p.step(StepLocate)
	b, err := bundle.Inspect(p.bundleRoot(), p.prof)
	if err != nil {
		return nil, nil, &ErrPreflight{Step: "inspect", Err: err}
	}
	rep.Bundle = b.Root
	rep.Version = b.RawVersion

	if newer, verified := b.NewerThanVerified(); newer {
		if p.opts.ConfirmDrift == nil || !p.opts.ConfirmDrift(b.RawVersion, verified) {
			return nil, nil, &ErrPreflight{
				Step: "version",
				Err:  fmt.Errorf("installed version %s is newer than last verified %s", b.RawVersion, verified),
			}
		}
		p.log.Warn("continuing on unverified newer version",
			"installed", b.RawVersion, "verified", verified)
	}

	located, err := bundle.Locate(b.Root, p.prof)
	if err != nil {
		return nil, nil, &ErrPreflight{Step: "locate", Err: err}
	}
	p.fire(ctx, eventLocate)

	rep.Resources = make([]ResourceOutcome, len(located.Resources))
	for i, res := range located.Resources {
		rep.Resources[i] = ResourceOutcome{
			RelPath:  res.RelPath,
			Kind:     res.Kind,
			Required: res.Required,
			State:    res.State,
		}
	}

	if missing := located.MissingRequired(); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, res := range missing {
			names[i] = res.RelPath
		}
		return nil, nil, &ErrPreflight{
			Step: "locate",
			Err:  fmt.Errorf("required resources missing: %s", strings.Join(names, ", ")),
		}
	}
	return b, located, nil
}

// patchResources attempts every resource classified NeedsPatch against the
// staged working copy. Per-resource failures are recorded and skipped; the
// loop never aborts the run.
func (p *Pipeline) patchResources(rep *Report, staged *stage.Staged) {
	resolver := strategy.NewResolver(p.ids)
	for i := range rep.Resources {
		out := &rep.Resources[i]
		if out.State != bundle.NeedsPatch {
			continue
		}
		stagedPath := filepath.Join(staged.BundlePath, filepath.FromSlash(out.RelPath))

		content, err := os.ReadFile(stagedPath)
		if err != nil {
			out.Err = fmt.Errorf("read staged resource: %w", err)
			p.log.Error("cannot read staged resource",
				logging.KeyResource, out.RelPath, logging.KeyError, err)
			continue
		}

		strat := resolver.Resolve(out.Kind, string(content))
		if strat == nil {
			// Only the checksum kind has no catch-all tier.
			out.Skipped = true
			p.log.Warn("no strategy matched, resource left unpatched",
				logging.KeyResource, out.RelPath)
			continue
		}
		out.Strategy = strat.Name()

		if err := p.patcher.Apply(stagedPath, strat); err != nil {
			out.Err = err
			p.log.Error("patch failed, resource restored",
				logging.KeyResource, out.RelPath,
				logging.KeyStrategy, strat.Name(),
				logging.KeyError, err)
			continue
		}
		out.Patched = true
		rep.PatchedCount++
		p.journal.Log(audit.EventResourcePatched, p.runID, map[string]any{
			"resource": out.RelPath,
			"strategy": strat.Name(),
		})
	}
}

func (p *Pipeline) rewriteStorage(rep *Report) {
	path, err := p.prof.ExpandedStoragePath()
	if err != nil {
		rep.StorageErr = err
		p.log.Warn("cannot resolve storage path", logging.KeyError, err)
		return
	}
	if path == "" {
		return
	}
	if err := p.storage.Rewrite(path, p.ids); err != nil {
		rep.StorageErr = err
		p.log.Warn("storage rewrite failed",
			logging.KeyResource, path, logging.KeyError, err)
		return
	}
	rep.StorageRewritten = true
	p.journal.Log(audit.EventStorageRewritten, p.runID, map[string]any{"path": path})
}

func (p *Pipeline) bundleRoot() string {
	if p.cfg.AppPath != "" {
		return p.cfg.AppPath
	}
	return p.prof.BundlePath()
}

func (p *Pipeline) step(s Step) {
	if p.opts.Progress != nil {
		p.opts.Progress(s)
	}
}

func (p *Pipeline) fire(ctx context.Context, event string) {
	if err := p.machine.Event(ctx, event); err != nil {
		// Only a transition-table bug lands here; the state stays put.
		p.log.Error("state transition rejected", "event", event, logging.KeyError, err)
	}
}

func (p *Pipeline) abort(ctx context.Context, rep *Report, started time.Time, err error) *Report {
	rep.Err = err
	p.log.Error("run aborted", logging.KeyError, err)
	p.fire(ctx, eventAbort)
	return p.finish(rep, started)
}

func (p *Pipeline) finish(rep *Report, started time.Time) *Report {
	rep.State = p.machine.Current()
	rep.Duration = time.Since(started)
	p.log.Info("run finished",
		"state", rep.State,
		"patched", rep.PatchedCount,
		logging.KeyDurationMs, rep.Duration.Milliseconds())
	p.journal.Log(audit.EventRunEnd, p.runID, map[string]any{
		"state":      rep.State,
		"patched":    rep.PatchedCount,
		"durationMs": rep.Duration.Milliseconds(),
	})
	return rep
}
