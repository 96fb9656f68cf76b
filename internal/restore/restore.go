// Package restore reinstalls a bundle from the timestamped backups staging
// leaves behind, newest first.
package restore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/breeze-rmm/reseed/internal/config"
	"github.com/breeze-rmm/reseed/internal/logging"
	"github.com/breeze-rmm/reseed/internal/stage"
)

var log = logging.L("restore")

// Backup is one restorable snapshot of the installed bundle.
type Backup struct {
	Path string
	Time time.Time
}

// BundleInstaller is the slice of the installer restore needs.
type BundleInstaller interface {
	Install(stagedPath, installPath, backupPath string) error
}

// List returns the backups of prof's bundle under backupDir, newest first.
// An empty backupDir scans the install directory, where staging places
// backups by default.
func List(prof *config.Profile, backupDir string) ([]Backup, error) {
	dir := scanDir(prof, backupDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s for backups: %w", dir, err)
	}

	var out []Backup
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ts, ok := stage.ParseBackupTime(prof.BundleName, e.Name())
		if !ok {
			continue
		}
		out = append(out, Backup{Path: filepath.Join(dir, e.Name()), Time: ts})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.After(out[j].Time)
		}
		// Collision suffixes sort after their base name.
		return out[i].Path > out[j].Path
	})
	return out, nil
}

// Latest returns the newest backup.
func Latest(prof *config.Profile, backupDir string) (Backup, error) {
	backups, err := List(prof, backupDir)
	if err != nil {
		return Backup{}, err
	}
	if len(backups) == 0 {
		return Backup{}, fmt.Errorf("no backups of %s under %s", prof.BundleName, scanDir(prof, backupDir))
	}
	return backups[0], nil
}

// Run restores the newest backup over the installed bundle. The backup
// doubles as its own rollback source, so a failed restore retries from the
// same tree. The backup is kept afterwards.
func Run(ins BundleInstaller, prof *config.Profile, backupDir string) (Backup, error) {
	b, err := Latest(prof, backupDir)
	if err != nil {
		return Backup{}, err
	}

	log.Info("restoring bundle from backup",
		logging.KeyBundle, prof.BundlePath(), "backup", b.Path)
	if err := ins.Install(b.Path, prof.BundlePath(), b.Path); err != nil {
		return b, err
	}
	return b, nil
}

func scanDir(prof *config.Profile, backupDir string) string {
	if backupDir != "" {
		return backupDir
	}
	return prof.InstallDir
}
