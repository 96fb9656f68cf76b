package stage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/breeze-rmm/reseed/internal/bundle"
	"github.com/breeze-rmm/reseed/internal/config"
)

type fakeStripper struct {
	calls []string
	err   error
}

func (f *fakeStripper) Strip(_ context.Context, path string) error {
	f.calls = append(f.calls, path)
	return f.err
}

func testProfile() *config.Profile {
	return &config.Profile{
		Name:       "lumen",
		BundleName: "Lumen.app",
		InstallDir: "/Applications",
		Helpers: []string{
			"Contents/Frameworks/Lumen Helper.app",
			"Contents/Frameworks/Lumen Helper (GPU).app",
		},
	}
}

// newInstalledBundle lays out a minimal installed bundle with one resource
// and one of the two profile helpers present.
func newInstalledBundle(t *testing.T) *bundle.Bundle {
	t.Helper()
	root := filepath.Join(t.TempDir(), "Lumen.app")
	resource := filepath.Join(root, "Contents", "Resources", "app", "out", "main.js")
	if err := os.MkdirAll(filepath.Dir(resource), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(resource, []byte("let id=probe();"), 0o644); err != nil {
		t.Fatalf("write resource: %v", err)
	}
	helper := filepath.Join(root, "Contents", "Frameworks", "Lumen Helper.app", "stub")
	if err := os.MkdirAll(filepath.Dir(helper), 0o755); err != nil {
		t.Fatalf("mkdir helper: %v", err)
	}
	if err := os.WriteFile(helper, []byte("helper"), 0o755); err != nil {
		t.Fatalf("write helper: %v", err)
	}
	return &bundle.Bundle{Root: root, Profile: testProfile()}
}

func newPinnedStager(stagingRoot, backupDir string, stripper SignatureStripper) *Stager {
	s := New(stagingRoot, backupDir, stripper)
	s.now = func() time.Time {
		return time.Date(2026, 3, 14, 9, 30, 0, 0, time.Local)
	}
	return s
}

func TestStageProducesBackupAndWorkingCopy(t *testing.T) {
	b := newInstalledBundle(t)
	stagingRoot := t.TempDir()
	s := newPinnedStager(stagingRoot, "", nil)

	staged, err := s.Stage(context.Background(), b)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	if filepath.Dir(staged.BundlePath) != staged.WorkDir {
		t.Errorf("BundlePath %s not inside WorkDir %s", staged.BundlePath, staged.WorkDir)
	}
	if !strings.HasPrefix(filepath.Base(staged.BackupPath), "Lumen.app.backup.") {
		t.Errorf("backup name = %s, want Lumen.app.backup.<ts>", filepath.Base(staged.BackupPath))
	}
	if filepath.Dir(staged.BackupPath) != filepath.Dir(b.Root) {
		t.Errorf("backup placed in %s, want sibling of %s", filepath.Dir(staged.BackupPath), b.Root)
	}

	rel := filepath.Join("Contents", "Resources", "app", "out", "main.js")
	for _, root := range []string{staged.BundlePath, staged.BackupPath} {
		got, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			t.Fatalf("read copy under %s: %v", root, err)
		}
		if string(got) != "let id=probe();" {
			t.Errorf("copy under %s = %q, want original content", root, got)
		}
	}
}

func TestStageWorkingCopyIsWritable(t *testing.T) {
	b := newInstalledBundle(t)
	resource := filepath.Join(b.Root, "Contents", "Resources", "app", "out", "main.js")
	if err := os.Chmod(resource, 0o444); err != nil {
		t.Fatalf("chmod: %v", err)
	}

	s := newPinnedStager(t.TempDir(), "", nil)
	staged, err := s.Stage(context.Background(), b)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	info, err := os.Stat(filepath.Join(staged.BundlePath, "Contents", "Resources", "app", "out", "main.js"))
	if err != nil {
		t.Fatalf("stat staged resource: %v", err)
	}
	if info.Mode().Perm()&0o200 == 0 {
		t.Errorf("staged resource mode = %o, want owner-writable", info.Mode().Perm())
	}
	// The installed original keeps its restrictive mode.
	orig, err := os.Stat(resource)
	if err != nil {
		t.Fatalf("stat original: %v", err)
	}
	if orig.Mode().Perm() != 0o444 {
		t.Errorf("original mode = %o, want 444 untouched", orig.Mode().Perm())
	}
}

func TestStageStripsHelpersBeforeBundle(t *testing.T) {
	b := newInstalledBundle(t)
	stripper := &fakeStripper{}
	s := newPinnedStager(t.TempDir(), "", stripper)

	staged, err := s.Stage(context.Background(), b)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	// Only the helper that exists is stripped, then the bundle itself.
	if len(stripper.calls) != 2 {
		t.Fatalf("strip calls = %v, want existing helper plus bundle", stripper.calls)
	}
	if !strings.HasSuffix(stripper.calls[0], filepath.Join("Contents", "Frameworks", "Lumen Helper.app")) {
		t.Errorf("first strip = %s, want the helper", stripper.calls[0])
	}
	if stripper.calls[1] != staged.BundlePath {
		t.Errorf("last strip = %s, want bundle copy %s", stripper.calls[1], staged.BundlePath)
	}
}

func TestStageToleratesStripFailure(t *testing.T) {
	b := newInstalledBundle(t)
	stripper := &fakeStripper{err: errors.New("code object is not signed at all")}
	s := newPinnedStager(t.TempDir(), "", stripper)

	if _, err := s.Stage(context.Background(), b); err != nil {
		t.Fatalf("Stage failed on tolerated strip error: %v", err)
	}
}

func TestStageMissingBundleIsFatal(t *testing.T) {
	b := &bundle.Bundle{
		Root:    filepath.Join(t.TempDir(), "Lumen.app"),
		Profile: testProfile(),
	}
	stagingRoot := t.TempDir()
	s := newPinnedStager(stagingRoot, "", nil)

	if _, err := s.Stage(context.Background(), b); err == nil {
		t.Fatal("Stage succeeded without an installed bundle")
	}

	// The failed run leaves no staging leftovers behind.
	entries, err := os.ReadDir(stagingRoot)
	if err != nil {
		t.Fatalf("read staging root: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("staging root has leftovers: %v", entries)
	}
}

func TestStageBackupDirOverride(t *testing.T) {
	b := newInstalledBundle(t)
	backupDir := filepath.Join(t.TempDir(), "backups")
	s := newPinnedStager(t.TempDir(), backupDir, nil)

	staged, err := s.Stage(context.Background(), b)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if filepath.Dir(staged.BackupPath) != backupDir {
		t.Errorf("backup placed in %s, want %s", filepath.Dir(staged.BackupPath), backupDir)
	}
}

func TestStageBackupCollisionGetsSuffix(t *testing.T) {
	b := newInstalledBundle(t)
	s := newPinnedStager(t.TempDir(), "", nil)

	first, err := s.Stage(context.Background(), b)
	if err != nil {
		t.Fatalf("first Stage: %v", err)
	}
	second, err := s.Stage(context.Background(), b)
	if err != nil {
		t.Fatalf("second Stage: %v", err)
	}
	if first.BackupPath == second.BackupPath {
		t.Fatalf("both runs picked backup %s", first.BackupPath)
	}
	if !strings.HasSuffix(second.BackupPath, "-2") {
		t.Errorf("second backup = %s, want -2 suffix", second.BackupPath)
	}
}

func TestBackupNameRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 30, 17, 0, time.Local)
	name := BackupName("Lumen.app", ts)
	if name != "Lumen.app.backup.20260314-093017" {
		t.Fatalf("BackupName = %s", name)
	}

	got, ok := ParseBackupTime("Lumen.app", name)
	if !ok || !got.Equal(ts) {
		t.Errorf("ParseBackupTime(%s) = %v, %v", name, got, ok)
	}

	got, ok = ParseBackupTime("Lumen.app", name+"-2")
	if !ok || !got.Equal(ts) {
		t.Errorf("ParseBackupTime with collision suffix = %v, %v", got, ok)
	}

	for _, foreign := range []string{
		"Lumen.app",
		"Other.app.backup.20260314-093017",
		"Lumen.app.backup.notatime",
	} {
		if _, ok := ParseBackupTime("Lumen.app", foreign); ok {
			t.Errorf("ParseBackupTime accepted %q", foreign)
		}
	}
}
