// Package install swaps the staged, patched bundle into the installation
// path. A failed swap rolls back to the backup taken during staging; only a
// failed rollback is unrecoverable. Backup and staging directories survive
// until Cleanup confirms the install.
package install

import (
	"fmt"
	"os"
	"strconv"

	"github.com/breeze-rmm/reseed/internal/fsutil"
	"github.com/breeze-rmm/reseed/internal/logging"
)

var log = logging.L("install")

// ErrSwapFailed reports a failed install whose rollback restored the
// original bundle.
type ErrSwapFailed struct {
	InstallPath string
	Cause       error
}

func (e *ErrSwapFailed) Error() string {
	return fmt.Sprintf("install of %s failed, original restored: %v", e.InstallPath, e.Cause)
}

func (e *ErrSwapFailed) Unwrap() error { return e.Cause }

// ErrRollbackFailed is the one unrecoverable state: the swap failed and the
// backup could not be restored either. Both paths are retained for manual
// recovery.
type ErrRollbackFailed struct {
	InstallPath string
	StagedPath  string
	BackupPath  string
	Cause       error
	RestoreErr  error
}

func (e *ErrRollbackFailed) Error() string {
	return fmt.Sprintf("install of %s failed (%v) and rollback from %s failed (%v); staged copy kept at %s",
		e.InstallPath, e.Cause, e.BackupPath, e.RestoreErr, e.StagedPath)
}

type Installer struct {
	// chownTo overrides the ownership target, for tests. Empty uses the
	// invoking sudo user when present.
	chownUID int
	chownGID int
	hasOwner bool
}

func New() *Installer {
	ins := &Installer{}
	if uid, gid, ok := sudoInvoker(); ok {
		ins.chownUID, ins.chownGID, ins.hasOwner = uid, gid, true
	}
	return ins
}

// Install replaces the bundle at installPath with the staged copy. When the
// swap fails the original is restored from backupPath; staged and backup
// trees are never removed here.
func (ins *Installer) Install(stagedPath, installPath, backupPath string) error {
	log.Info("installing patched bundle",
		logging.KeyBundle, installPath, "staged", stagedPath)

	if err := removeBundle(installPath); err != nil {
		return ins.rollback(stagedPath, installPath, backupPath,
			fmt.Errorf("remove installed bundle: %w", err))
	}
	if err := fsutil.CopyTree(stagedPath, installPath); err != nil {
		return ins.rollback(stagedPath, installPath, backupPath,
			fmt.Errorf("copy staged bundle: %w", err))
	}
	ins.normalize(installPath)

	log.Info("bundle installed", logging.KeyBundle, installPath)
	return nil
}

func (ins *Installer) rollback(stagedPath, installPath, backupPath string, cause error) error {
	log.Warn("install failed, rolling back",
		logging.KeyBundle, installPath, logging.KeyError, cause)

	// Clear partial state before restoring; a half-copied bundle under the
	// restore target would shadow backup content.
	if err := removeBundle(installPath); err != nil && fsutil.Exists(installPath) {
		return &ErrRollbackFailed{
			InstallPath: installPath,
			StagedPath:  stagedPath,
			BackupPath:  backupPath,
			Cause:       cause,
			RestoreErr:  fmt.Errorf("clear partial install: %w", err),
		}
	}
	if err := fsutil.CopyTree(backupPath, installPath); err != nil {
		return &ErrRollbackFailed{
			InstallPath: installPath,
			StagedPath:  stagedPath,
			BackupPath:  backupPath,
			Cause:       cause,
			RestoreErr:  err,
		}
	}
	ins.normalize(installPath)

	log.Info("original bundle restored", logging.KeyBundle, installPath)
	return &ErrSwapFailed{InstallPath: installPath, Cause: cause}
}

// normalize reapplies launchable permissions and, when the run is elevated
// on behalf of a desktop user, hands ownership back to that user. Failures
// are logged; the swap already happened.
func (ins *Installer) normalize(installPath string) {
	if err := fsutil.ChmodTree(installPath, 0o755); err != nil {
		log.Warn("failed to normalize permissions", logging.KeyError, err)
	}
	if ins.hasOwner {
		if err := fsutil.ChownTree(installPath, ins.chownUID, ins.chownGID); err != nil {
			log.Warn("failed to restore ownership", logging.KeyError, err)
		}
	}
}

// Cleanup removes the staging directory and, unless keepBackup is set, the
// backup. Only call after Install returned nil.
func (ins *Installer) Cleanup(workDir, backupPath string, keepBackup bool) {
	if workDir != "" {
		if err := removeBundle(workDir); err != nil {
			log.Warn("failed to remove staging directory",
				logging.KeyBundle, workDir, logging.KeyError, err)
		}
	}
	if keepBackup || backupPath == "" {
		return
	}
	if err := removeBundle(backupPath); err != nil {
		log.Warn("failed to remove backup",
			logging.KeyBundle, backupPath, logging.KeyError, err)
	}
}

// removeBundle deletes a bundle tree, loosening read-only entries that
// would otherwise block removal.
func removeBundle(path string) error {
	if !fsutil.Exists(path) {
		return nil
	}
	if err := os.RemoveAll(path); err == nil {
		return nil
	}
	if err := fsutil.EnsureWritable(path); err != nil {
		log.Debug("failed to loosen modes before removal",
			logging.KeyBundle, path, logging.KeyError, err)
	}
	return os.RemoveAll(path)
}

func sudoInvoker() (uid, gid int, ok bool) {
	u, g := os.Getenv("SUDO_UID"), os.Getenv("SUDO_GID")
	if u == "" || g == "" {
		return 0, 0, false
	}
	uid, uerr := strconv.Atoi(u)
	gid, gerr := strconv.Atoi(g)
	if uerr != nil || gerr != nil {
		return 0, 0, false
	}
	return uid, gid, true
}
