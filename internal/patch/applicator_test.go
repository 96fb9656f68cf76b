package patch

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/breeze-rmm/reseed/internal/strategy"
)

type fakeStrategy struct {
	name string
	out  string
	pc   string
	err  error
}

func (f *fakeStrategy) Name() string              { return f.name }
func (f *fakeStrategy) Matches(content string) bool { return true }
func (f *fakeStrategy) PostCondition() string     { return f.pc }

func (f *fakeStrategy) Apply(content string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.out, nil
}

func writeResource(t *testing.T, dir, name, content string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write resource: %v", err)
	}
	if err := os.Chmod(path, mode); err != nil {
		t.Fatalf("chmod resource: %v", err)
	}
	return path
}

func newPinnedApplicator(t *testing.T) (*Applicator, time.Time) {
	t.Helper()
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	a := NewApplicator()
	a.now = func() time.Time { return at }
	return a, at
}

func TestApplyCommitsStampedContent(t *testing.T) {
	dir := t.TempDir()
	path := writeResource(t, dir, "main.js", "let id=probe();", 0o644)

	a, at := newPinnedApplicator(t)
	s := &fakeStrategy{name: "primary-switch-inject", out: "let id=fresh();", pc: "fresh()"}

	if err := a.Apply(path, s); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read patched: %v", err)
	}
	want := strategy.Stamp(at) + "let id=fresh();"
	if string(got) != want {
		t.Errorf("patched content = %q, want %q", got, want)
	}
	if !strategy.AlreadyPatched(string(got)) {
		t.Error("patched content does not carry the marker")
	}
}

func TestApplyRemovesArtifactsOnSuccess(t *testing.T) {
	dir := t.TempDir()
	path := writeResource(t, dir, "main.js", "let id=probe();", 0o644)

	a, _ := newPinnedApplicator(t)
	if err := a.Apply(path, &fakeStrategy{name: "p", out: "ok", pc: "ok"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	for _, suffix := range []string{".bak", ".tmp"} {
		if _, err := os.Stat(path + suffix); !os.IsNotExist(err) {
			t.Errorf("artifact %s%s left behind after success", path, suffix)
		}
	}
}

func TestApplyRestoresReadOnlyMode(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("read-only modes do not bind under root")
	}
	dir := t.TempDir()
	path := writeResource(t, dir, "main.js", "let id=probe();", 0o444)

	a, _ := newPinnedApplicator(t)
	if err := a.Apply(path, &fakeStrategy{name: "p", out: "ok", pc: "ok"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat patched: %v", err)
	}
	if info.Mode().Perm() != 0o444 {
		t.Errorf("mode after patch = %o, want 444", info.Mode().Perm())
	}
}

func TestApplyStrategyErrorRestoresOriginal(t *testing.T) {
	dir := t.TempDir()
	orig := "let id=probe();"
	path := writeResource(t, dir, "main.js", orig, 0o444)

	a, _ := newPinnedApplicator(t)
	s := &fakeStrategy{name: "p", err: errors.New("no anchor")}

	err := a.Apply(path, s)
	if err == nil {
		t.Fatal("Apply succeeded, want strategy error")
	}
	if !strings.Contains(err.Error(), "no anchor") {
		t.Errorf("error = %v, want strategy cause", err)
	}

	got, rerr := os.ReadFile(path)
	if rerr != nil {
		t.Fatalf("read restored: %v", rerr)
	}
	if string(got) != orig {
		t.Errorf("restored content = %q, want original %q", got, orig)
	}
	info, serr := os.Stat(path)
	if serr != nil {
		t.Fatalf("stat restored: %v", serr)
	}
	if os.Geteuid() != 0 && info.Mode().Perm() != 0o444 {
		t.Errorf("restored mode = %o, want 444", info.Mode().Perm())
	}
	for _, suffix := range []string{".bak", ".tmp"} {
		if _, serr := os.Stat(path + suffix); !os.IsNotExist(serr) {
			t.Errorf("artifact %s%s left behind after failure", path, suffix)
		}
	}
}

func TestApplyVerifyFailureRestoresOriginal(t *testing.T) {
	dir := t.TempDir()
	orig := "let id=probe();"
	path := writeResource(t, dir, "main.js", orig, 0o644)

	a, _ := newPinnedApplicator(t)
	// Transformed content misses its own post-condition.
	s := &fakeStrategy{name: "p", out: "let id=probe();", pc: "fresh()"}

	err := a.Apply(path, s)
	if err == nil {
		t.Fatal("Apply succeeded, want verify error")
	}
	if !strings.Contains(err.Error(), "post-condition") {
		t.Errorf("error = %v, want post-condition failure", err)
	}

	got, rerr := os.ReadFile(path)
	if rerr != nil {
		t.Fatalf("read restored: %v", rerr)
	}
	if string(got) != orig {
		t.Errorf("restored content = %q, want original %q", got, orig)
	}
}

func TestApplyMissingResource(t *testing.T) {
	a, _ := newPinnedApplicator(t)
	err := a.Apply(filepath.Join(t.TempDir(), "absent.js"), &fakeStrategy{name: "p", out: "x", pc: "x"})
	if err == nil {
		t.Fatal("Apply succeeded on missing resource")
	}
}

func TestVerifyRejectsUnstampedContent(t *testing.T) {
	s := &fakeStrategy{name: "p", pc: "fresh()"}
	if err := verify("let id=fresh();", s); err == nil {
		t.Error("verify accepted content without the marker")
	}
	if err := verify(strategy.Stamp(time.Now())+"let id=fresh();", s); err != nil {
		t.Errorf("verify rejected stamped content: %v", err)
	}
}
