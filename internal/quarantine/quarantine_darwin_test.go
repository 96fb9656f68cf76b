package quarantine

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestRemoveTreeStripsAttribute(t *testing.T) {
	dir := t.TempDir()
	marked := filepath.Join(dir, "Lumen.app", "Contents", "MacOS", "Lumen")
	clean := filepath.Join(dir, "Lumen.app", "Contents", "Info.plist")
	for _, p := range []string{marked, clean} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := unix.Setxattr(marked, Attr, []byte("0083;5f000000;Safari;"), 0); err != nil {
		t.Fatalf("setxattr: %v", err)
	}

	removed, err := RemoveTree(filepath.Join(dir, "Lumen.app"))
	if err != nil {
		t.Fatalf("RemoveTree: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	buf := make([]byte, 64)
	if _, err := unix.Getxattr(marked, Attr, buf); err != unix.ENOATTR {
		t.Errorf("attribute still present after RemoveTree: %v", err)
	}
}

func TestRemoveTreeMissingRoot(t *testing.T) {
	if _, err := RemoveTree(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("RemoveTree succeeded on a missing root")
	}
}
