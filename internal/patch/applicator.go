// Package patch applies a resolved strategy to one staged resource inside
// a scoped transaction: backup, transform a temp copy, verify, commit by
// atomic rename, restore on any failure. A failed resource never aborts the
// surrounding run.
package patch

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/breeze-rmm/reseed/internal/logging"
	"github.com/breeze-rmm/reseed/internal/strategy"
)

var log = logging.L("patch")

// Applicator mutates staged resources. The zero clock is time.Now; tests
// pin it for deterministic stamps.
type Applicator struct {
	now func() time.Time
}

func NewApplicator() *Applicator {
	return &Applicator{now: time.Now}
}

// Apply patches the file at path with s. On success the file holds the
// stamped, transformed content under its original mode and no artifacts
// remain. On failure the file is byte-identical to its pre-patch content.
func (a *Applicator) Apply(path string, s strategy.Strategy) error {
	logger := logging.WithResource(log, path)

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat resource: %w", err)
	}
	origMode := info.Mode().Perm()

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read resource: %w", err)
	}

	backupPath := path + ".bak"
	tempPath := path + ".tmp"

	if err := os.WriteFile(backupPath, content, 0o600); err != nil {
		return fmt.Errorf("create backup: %w", err)
	}

	restore := func() {
		if data, rerr := os.ReadFile(backupPath); rerr == nil {
			_ = os.Chmod(path, origMode|0o200)
			_ = os.WriteFile(path, data, origMode)
		}
		_ = os.Chmod(path, origMode)
		_ = os.Remove(tempPath)
		_ = os.Remove(backupPath)
	}

	// Resources ship read-only; the commit rename needs the file writable
	// on filesystems that refuse to replace read-only entries.
	if origMode&0o200 == 0 {
		if err := os.Chmod(path, origMode|0o200); err != nil {
			restore()
			return fmt.Errorf("make resource writable: %w", err)
		}
	}

	transformed, err := s.Apply(string(content))
	if err != nil {
		restore()
		return fmt.Errorf("strategy %s: %w", s.Name(), err)
	}

	out := strategy.Stamp(a.now()) + transformed

	if err := verify(out, s); err != nil {
		restore()
		return fmt.Errorf("verify %s: %w", s.Name(), err)
	}

	if err := os.WriteFile(tempPath, []byte(out), origMode); err != nil {
		restore()
		return fmt.Errorf("write temp copy: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		restore()
		return fmt.Errorf("commit patched resource: %w", err)
	}

	if err := os.Chmod(path, origMode); err != nil {
		logger.Warn("failed to restore resource mode", logging.KeyError, err)
	}
	if err := os.Remove(backupPath); err != nil {
		logger.Warn("failed to remove resource backup", logging.KeyError, err)
	}

	logger.Info("resource patched", logging.KeyStrategy, s.Name())
	return nil
}

func verify(out string, s strategy.Strategy) error {
	if strings.TrimSpace(out) == "" {
		return errors.New("transformed content is empty")
	}
	if pc := s.PostCondition(); pc != "" && !strings.Contains(out, pc) {
		return fmt.Errorf("post-condition %q absent from transformed content", pc)
	}
	if !strategy.AlreadyPatched(out) {
		return errors.New("canonical marker absent from transformed content")
	}
	return nil
}
