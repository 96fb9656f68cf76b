package quarantine

import (
	"fmt"
	"io/fs"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/breeze-rmm/reseed/internal/logging"
)

var log = logging.L("quarantine")

// RemoveTree strips the quarantine attribute from every entry under root
// without following symlinks, and reports how many entries carried it.
func RemoveTree(root string) (removed int, err error) {
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		switch err := unix.Lremovexattr(path, Attr); err {
		case nil:
			removed++
		case unix.ENOATTR:
			// Not quarantined.
		default:
			return fmt.Errorf("remove quarantine attribute from %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return removed, err
	}
	log.Info("quarantine attributes removed", logging.KeyBundle, root, "count", removed)
	return removed, nil
}
