// Package stage prepares a run: a timestamped backup of the installed
// bundle plus a disposable working copy that later steps patch, sign, and
// swap into place. The installed bundle itself is never touched here.
package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/breeze-rmm/reseed/internal/bundle"
	"github.com/breeze-rmm/reseed/internal/fsutil"
	"github.com/breeze-rmm/reseed/internal/logging"
)

var log = logging.L("stage")

const (
	backupInfix      = ".backup."
	backupTimeLayout = "20060102-150405"
	workDirPrefix    = "reseed-"
)

// SignatureStripper removes existing code signatures ahead of re-signing.
// A nil stripper skips the step entirely.
type SignatureStripper interface {
	Strip(ctx context.Context, path string) error
}

// Staged is the product of a successful staging pass.
type Staged struct {
	WorkDir    string // disposable staging directory
	BundlePath string // working copy of the bundle inside WorkDir
	BackupPath string // timestamped full backup of the installed bundle
}

type Stager struct {
	stagingRoot string
	backupDir   string
	stripper    SignatureStripper
	now         func() time.Time
}

// New returns a stager writing working copies under stagingRoot and backups
// under backupDir. An empty stagingRoot falls back to the system temp
// directory; an empty backupDir places backups next to the installed bundle.
func New(stagingRoot, backupDir string, stripper SignatureStripper) *Stager {
	return &Stager{
		stagingRoot: stagingRoot,
		backupDir:   backupDir,
		stripper:    stripper,
		now:         time.Now,
	}
}

// Stage backs up the installed bundle and produces a writable working copy.
// The staging directory, the backup, and the working copy are all required;
// permission normalization and signature stripping are tolerated failures.
func (s *Stager) Stage(ctx context.Context, b *bundle.Bundle) (*Staged, error) {
	root := s.stagingRoot
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create staging root: %w", err)
	}
	workDir, err := os.MkdirTemp(root, workDirPrefix)
	if err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}

	backupPath, err := s.backup(b)
	if err != nil {
		_ = os.RemoveAll(workDir)
		return nil, err
	}

	bundleCopy := filepath.Join(workDir, b.Profile.BundleName)
	log.Info("copying bundle into staging area",
		logging.KeyBundle, b.Root, "staged", bundleCopy)
	if err := fsutil.CopyTree(b.Root, bundleCopy); err != nil {
		_ = os.RemoveAll(workDir)
		return nil, fmt.Errorf("copy bundle into staging area: %w", err)
	}

	if err := fsutil.EnsureWritable(bundleCopy); err != nil {
		log.Warn("failed to normalize staged permissions", logging.KeyError, err)
	}
	s.stripSignatures(ctx, bundleCopy, b)

	return &Staged{WorkDir: workDir, BundlePath: bundleCopy, BackupPath: backupPath}, nil
}

func (s *Stager) backup(b *bundle.Bundle) (string, error) {
	dir := s.backupDir
	if dir == "" {
		dir = filepath.Dir(b.Root)
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	base := filepath.Join(dir, BackupName(b.Profile.BundleName, s.now()))
	backupPath := base
	for i := 2; fsutil.Exists(backupPath); i++ {
		backupPath = fmt.Sprintf("%s-%d", base, i)
	}

	log.Info("backing up installed bundle",
		logging.KeyBundle, b.Root, "backup", backupPath)
	if err := fsutil.CopyTree(b.Root, backupPath); err != nil {
		return "", fmt.Errorf("back up installed bundle: %w", err)
	}
	return backupPath, nil
}

// stripSignatures strips nested helpers before the outer bundle so the
// final strip sees no freshly invalidated children. Per-path failures are
// logged and skipped.
func (s *Stager) stripSignatures(ctx context.Context, bundleCopy string, b *bundle.Bundle) {
	if s.stripper == nil {
		return
	}
	for _, helper := range helperCopies(bundleCopy, b) {
		if err := s.stripper.Strip(ctx, helper); err != nil {
			log.Warn("failed to strip helper signature",
				logging.KeyBundle, helper, logging.KeyError, err)
		}
	}
	if err := s.stripper.Strip(ctx, bundleCopy); err != nil {
		log.Warn("failed to strip bundle signature",
			logging.KeyBundle, bundleCopy, logging.KeyError, err)
	}
}

func helperCopies(bundleCopy string, b *bundle.Bundle) []string {
	var out []string
	for _, rel := range b.Profile.Helpers {
		p := filepath.Join(bundleCopy, filepath.FromSlash(rel))
		if fsutil.Exists(p) {
			out = append(out, p)
		}
	}
	return out
}

// BackupName returns the directory name for a backup of bundleName taken
// at ts.
func BackupName(bundleName string, ts time.Time) string {
	return bundleName + backupInfix + ts.Format(backupTimeLayout)
}

// ParseBackupTime extracts the timestamp from a directory name produced by
// BackupName. ok is false for names this tool did not create.
func ParseBackupTime(bundleName, dirName string) (ts time.Time, ok bool) {
	prefix := bundleName + backupInfix
	if !strings.HasPrefix(dirName, prefix) {
		return time.Time{}, false
	}
	rest := strings.TrimPrefix(dirName, prefix)
	// Collision suffixes ("-2") do not change the timestamp.
	if len(rest) > len(backupTimeLayout) && rest[len(backupTimeLayout)] == '-' {
		rest = rest[:len(backupTimeLayout)]
	}
	ts, err := time.ParseInLocation(backupTimeLayout, rest, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
