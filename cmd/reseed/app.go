package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/breeze-rmm/reseed/internal/audit"
	"github.com/breeze-rmm/reseed/internal/bundle"
	"github.com/breeze-rmm/reseed/internal/config"
	"github.com/breeze-rmm/reseed/internal/executor"
	"github.com/breeze-rmm/reseed/internal/identity"
	"github.com/breeze-rmm/reseed/internal/install"
	"github.com/breeze-rmm/reseed/internal/lang"
	"github.com/breeze-rmm/reseed/internal/logging"
	"github.com/breeze-rmm/reseed/internal/pipeline"
	"github.com/breeze-rmm/reseed/internal/privilege"
	"github.com/breeze-rmm/reseed/internal/process"
	"github.com/breeze-rmm/reseed/internal/quarantine"
	"github.com/breeze-rmm/reseed/internal/restore"
	"github.com/breeze-rmm/reseed/internal/sign"
	"github.com/breeze-rmm/reseed/internal/storagecfg"
	"github.com/breeze-rmm/reseed/internal/ui"
)

// app holds everything a command needs after bootstrap: validated config,
// the resolved target profile, the console, the run log, and the audit
// journal.
type app struct {
	cfg     *config.Config
	prof    *config.Profile
	console *ui.Console
	runLog  *logging.RunLog
	journal *audit.Logger
	runID   string
}

// bootstrap loads and validates config, resolves the profile, selects the
// language, and routes structured logging into the run log file. The console
// stays reserved for localized user-facing text.
func bootstrap() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if profile != "" {
		cfg.Profile = profile
	}
	if flagStorageReadOnly {
		cfg.StorageReadOnly = true
	}

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		for _, e := range result.Fatals {
			fmt.Fprintln(os.Stderr, "config:", e)
		}
		return nil, fmt.Errorf("invalid configuration")
	}

	if cfg.Language != "" {
		lang.SetLanguage(lang.Language(strings.ToLower(cfg.Language)))
	}

	a := &app{
		cfg:     cfg,
		console: ui.New(os.Stdin, os.Stdout),
		runID:   uuid.NewString()[:8],
	}

	runLog, err := logging.OpenRunLog(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run log unavailable, logging to stderr: %v\n", err)
		logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	} else {
		a.runLog = runLog
		var sink io.Writer = runLog
		if strings.EqualFold(cfg.LogLevel, "debug") {
			// Debug runs stream diagnostics to the console too.
			sink = logging.TeeWriter(runLog, os.Stderr)
		}
		logging.Init(cfg.LogFormat, cfg.LogLevel, sink)
		runLog.Banner(version, a.runID)
	}

	log := logging.L("cli")
	for _, w := range result.Warnings {
		log.Warn("config adjusted", logging.KeyError, w)
	}

	journal, err := audit.NewLogger(cfg)
	if err != nil {
		log.Warn("audit journal unavailable", logging.KeyError, err)
	} else {
		a.journal = journal
	}

	prof, err := config.LoadProfile(cfg.Profile)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	a.prof = prof
	return a, nil
}

func (a *app) close() {
	a.journal.Close()
	if a.runLog != nil {
		a.runLog.Close()
	}
}

func (a *app) logPath() string {
	if a.runLog == nil {
		return ""
	}
	return a.runLog.Path()
}

func (a *app) bundleRoot() string {
	if a.cfg.AppPath != "" {
		return a.cfg.AppPath
	}
	return a.prof.BundlePath()
}

// ensurePrivilege checks elevation for a mutating subcommand and prints the
// platform-appropriate instruction when it is missing.
func (a *app) ensurePrivilege(sub string) bool {
	if !privilege.RequiresElevation(sub) || privilege.Elevated() {
		return true
	}
	text := lang.GetText()
	a.console.Say(text.PrivilegeError)
	if runtime.GOOS == "windows" {
		a.console.Say(text.RunAsAdmin)
	} else {
		a.console.Say(text.RunWithSudo)
		a.console.Sayf(text.SudoExample, "reseed "+sub)
	}
	return false
}

func cmdInteractive() int {
	a, err := bootstrap()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.close()

	code := 0
	for {
		choice := a.console.Menu(a.prof.DisplayName)
		switch choice {
		case ui.ChoiceExit:
			if runtime.GOOS == "windows" {
				a.console.WaitEnter()
			}
			return code
		case ui.ChoiceRun:
			code = a.runPipeline(pipeline.Options{})
		case ui.ChoiceRunStorage:
			if a.console.ConfirmStorageReadOnly() {
				a.cfg.StorageReadOnly = true
			}
			code = a.runPipeline(pipeline.Options{ResetStorage: true})
		case ui.ChoiceStatus:
			code = a.status()
		case ui.ChoiceRestore:
			code = a.restore()
		case ui.ChoiceUnblock:
			code = a.unblock()
		}
	}
}

func cmdRun() int {
	a, err := bootstrap()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.close()
	return a.runPipeline(pipeline.Options{
		ResetStorage: flagResetStorage,
		KeepBackup:   flagKeepBackup,
	})
}

func cmdStatus() int {
	a, err := bootstrap()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.close()
	return a.status()
}

func cmdRestore() int {
	a, err := bootstrap()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.close()
	return a.restore()
}

func cmdUnblock() int {
	a, err := bootstrap()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.close()
	return a.unblock()
}

func (a *app) runPipeline(opts pipeline.Options) int {
	if !a.ensurePrivilege("run") {
		return 1
	}
	text := lang.GetText()

	a.console.Say(text.GeneratingIds)
	ids, err := identity.NewSet()
	if err != nil {
		a.console.Sayf(text.ErrorPrefix, err)
		return 1
	}

	if flagYes {
		opts.ConfirmDrift = func(_, _ string) bool { return true }
	} else {
		opts.ConfirmDrift = a.console.ConfirmDrift
	}
	opts.Progress = a.progress

	a.console.Say(text.PleaseWait)
	p := pipeline.New(a.cfg, a.prof, ids, opts)
	p.AttachJournal(a.journal, a.runID)
	rep := p.Run(context.Background())
	a.console.Report(rep, a.prof.DisplayName, a.logPath())

	switch {
	case rep.Success():
		return 0
	case rep.Degraded():
		return 2
	default:
		return 1
	}
}

// progress narrates the run phase by phase on the console.
func (a *app) progress(step pipeline.Step) {
	text := lang.GetText()
	switch step {
	case pipeline.StepLocate:
		a.console.Say(text.LocatingResources)
	case pipeline.StepStopProcesses:
		a.console.Sayf(text.ClosingProcesses, a.prof.DisplayName)
	case pipeline.StepProcessesStopped:
		a.console.Sayf(text.ProcessesClosed, a.prof.DisplayName)
	case pipeline.StepStage:
		a.console.Say(text.StagingBundle)
	case pipeline.StepPatch:
		a.console.Say(text.PatchingResources)
	case pipeline.StepSign:
		a.console.Say(text.SigningBundle)
	case pipeline.StepInstall:
		a.console.Say(text.InstallingBundle)
	case pipeline.StepRollback:
		a.console.Say(text.RollingBack)
	}
}

// status inspects without mutating: the locate report, the persisted
// identifiers, and signature presence where the platform has one.
func (a *app) status() int {
	text := lang.GetText()

	b, err := bundle.Inspect(a.bundleRoot(), a.prof)
	if err != nil {
		a.console.Sayf(text.ErrorPrefix, err)
		return 1
	}
	located, err := bundle.Locate(b.Root, a.prof)
	if err != nil {
		a.console.Sayf(text.ErrorPrefix, err)
		return 1
	}

	st := &ui.Status{
		Bundle:    b.Root,
		Version:   b.RawVersion,
		Resources: located.Resources,
	}
	if path, err := a.prof.ExpandedStoragePath(); err == nil && path != "" {
		if ids, err := storagecfg.Identifiers(path); err == nil {
			st.Identifiers = ids
		}
	}
	if bundle.SigningRequired() && b.Executable != "" {
		if signed, err := sign.HasSignature(b.Executable); err == nil {
			st.SignChecked = true
			st.Signed = signed
		}
	}

	a.console.RenderStatus(st)
	if src := config.Source(); src != "" {
		a.console.Sayf("%s %s", text.ConfigLocation, src)
	}
	return 0
}

func (a *app) restore() int {
	if !a.ensurePrivilege("restore") {
		return 1
	}
	text := lang.GetText()

	a.console.Sayf(text.CheckingProcesses, a.prof.DisplayName)
	stopper := process.NewStopper(a.prof.ProcessNames, a.cfg.ProcessAttempts,
		time.Duration(a.cfg.ProcessWaitSeconds)*time.Second)
	if err := stopper.Stop(context.Background()); err != nil {
		a.console.Sayf(text.ErrorPrefix, err)
		return 1
	}

	b, err := restore.Run(install.New(), a.prof, a.cfg.BackupDir)
	if err != nil {
		a.console.Sayf(text.ErrorPrefix, err)
		return 1
	}
	a.journal.Log(audit.EventBackupRestored, a.runID, map[string]any{"backup": b.Path})
	a.console.Sayf(text.RestoreDone, b.Path)
	a.console.Sayf(text.RestartMessage, a.prof.DisplayName)
	return 0
}

// unblock is the "damaged application" remediation: drop quarantine flags
// from the installed bundle and re-sign it in place.
func (a *app) unblock() int {
	if !a.ensurePrivilege("unblock") {
		return 1
	}
	text := lang.GetText()
	root := a.bundleRoot()

	removed, err := quarantine.RemoveTree(root)
	if err != nil {
		a.console.Sayf(text.ErrorPrefix, err)
		return 1
	}
	a.journal.Log(audit.EventQuarantineCleared, a.runID, map[string]any{
		"bundle":  root,
		"removed": removed,
	})
	a.console.Sayf(text.UnblockDone, removed)

	if bundle.SigningRequired() {
		engine := sign.NewEngine(executor.NewToolRunner(), a.cfg.SigningIdentity,
			a.cfg.SignAttempts, time.Duration(a.cfg.SignRetryDelaySeconds)*time.Second)
		out := engine.Certify(context.Background(), root)
		if out.Degraded() {
			a.console.Sayf(text.SigningDegraded, out.Attempts)
			a.console.Sayf("%s\n  %s", text.ManualSignCommand, out.ManualCommand)
			return 2
		}
	}
	return 0
}
