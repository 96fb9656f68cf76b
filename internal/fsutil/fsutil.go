// Package fsutil holds the file-tree primitives the staging and install
// steps are built on: tree copies that preserve symlinks, recursive mode
// fixes, and ownership helpers.
package fsutil

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Exists reports whether path exists, without following a final symlink.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// CopyFile copies src to dst, preserving the source mode and mtime. Parent
// directories of dst are created as needed.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", dst, err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	_, err = io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("copy to %s: %w", dst, err)
	}

	// Fresh files inherit the umask; force the exact source mode.
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod %s: %w", dst, err)
	}
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("set mtime of %s: %w", dst, err)
	}
	return nil
}

// CopyTree recursively copies the directory src to dst, preserving file
// modes and recreating symlinks instead of following them. Application
// bundles link framework versions, so following links would both balloon
// the copy and break relative link targets.
func CopyTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", src)
	}

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}

	for _, entry := range entries {
		from := filepath.Join(src, entry.Name())
		to := filepath.Join(dst, entry.Name())

		fi, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", from, err)
		}

		switch {
		case fi.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(from)
			if err != nil {
				return fmt.Errorf("read symlink %s: %w", from, err)
			}
			if err := os.Symlink(target, to); err != nil {
				return fmt.Errorf("recreate symlink %s: %w", to, err)
			}
		case fi.IsDir():
			if err := CopyTree(from, to); err != nil {
				return err
			}
		default:
			if err := CopyFile(from, to); err != nil {
				return err
			}
		}
	}

	// Set the directory mode last so a read-only source directory does not
	// block writing its children.
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod %s: %w", dst, err)
	}
	return nil
}

// ChmodTree sets mode on every file and directory under root, skipping
// symlinks.
func ChmodTree(root string, mode os.FileMode) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.Type()&os.ModeSymlink != 0 {
			return nil
		}
		if err := os.Chmod(path, mode); err != nil {
			return fmt.Errorf("chmod %s: %w", path, err)
		}
		return nil
	})
}

// EnsureWritable adds the owner-write bit to every file and directory under
// root, preserving all other mode bits. Symlinks are skipped.
func EnsureWritable(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.Type()&os.ModeSymlink != 0 {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		mode := info.Mode().Perm()
		if mode&0o200 != 0 {
			return nil
		}
		if err := os.Chmod(path, mode|0o200); err != nil {
			return fmt.Errorf("make %s writable: %w", path, err)
		}
		return nil
	})
}
