package bundle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/breeze-rmm/reseed/internal/config"
)

const testPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>CFBundleShortVersionString</key>
	<string>1.3.7</string>
	<key>CFBundleExecutable</key>
	<string>Lumen</string>
</dict>
</plist>
`

func testProfile() *config.Profile {
	return &config.Profile{
		Name:        "lumen",
		DisplayName: "Lumen",
		BundleName:  "Lumen.app",
		InstallDir:  "/Applications",
		Helpers: []string{
			"Contents/Frameworks/Lumen Helper.app",
			"Contents/Frameworks/Lumen Helper (GPU).app",
		},
		Resources: []config.ProfileResource{
			{Path: "Contents/Resources/app/out/main.js", Kind: "identifier", Required: true},
			{Path: "Contents/Resources/app/out/vs/code/node/cliProcessMain.js", Kind: "identifier", Required: true},
			{Path: "Contents/Resources/app/out/vs/workbench/workbench.desktop.main.js", Kind: "checksum", Required: false},
		},
		MaxVerifiedVersion: "1.4.2",
	}
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newTestBundle(t *testing.T) (string, *config.Profile) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "Lumen.app")
	writeTestFile(t, filepath.Join(root, "Contents", "Info.plist"), testPlist)
	writeTestFile(t, filepath.Join(root, "Contents", "MacOS", "Lumen"), "binary")
	return root, testProfile()
}

func TestInspectReadsInfoPlist(t *testing.T) {
	root, prof := newTestBundle(t)

	b, err := Inspect(root, prof)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if b.RawVersion != "1.3.7" {
		t.Fatalf("RawVersion = %q, want 1.3.7", b.RawVersion)
	}
	if b.Version == nil || b.Version.String() != "1.3.7" {
		t.Fatalf("Version = %v, want 1.3.7", b.Version)
	}
	if filepath.Base(b.Executable) != "Lumen" {
		t.Fatalf("Executable = %q", b.Executable)
	}
}

func TestInspectFallsBackToPackageJSON(t *testing.T) {
	root := filepath.Join(t.TempDir(), "lumen")
	writeTestFile(t, filepath.Join(root, "resources", "app", "package.json"), `{"name":"lumen","version":"2.0.1"}`)

	b, err := Inspect(root, testProfile())
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if b.RawVersion != "2.0.1" {
		t.Fatalf("RawVersion = %q, want 2.0.1", b.RawVersion)
	}
}

func TestInspectMissingBundle(t *testing.T) {
	if _, err := Inspect(filepath.Join(t.TempDir(), "nope.app"), testProfile()); err == nil {
		t.Fatal("expected error for missing bundle")
	}
}

func TestHelperPathsSkipsMissing(t *testing.T) {
	root, prof := newTestBundle(t)
	writeTestFile(t, filepath.Join(root, "Contents", "Frameworks", "Lumen Helper.app", "Contents", "MacOS", "Lumen Helper"), "bin")

	b, err := Inspect(root, prof)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	helpers := b.HelperPaths()
	if len(helpers) != 1 {
		t.Fatalf("helpers = %v, want exactly the one that exists", helpers)
	}
	if filepath.Base(helpers[0]) != "Lumen Helper.app" {
		t.Fatalf("unexpected helper %s", helpers[0])
	}
}

func TestNewerThanVerified(t *testing.T) {
	root, prof := newTestBundle(t)

	b, err := Inspect(root, prof)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if drift, _ := b.NewerThanVerified(); drift {
		t.Fatal("1.3.7 should not be newer than verified 1.4.2")
	}

	prof.MaxVerifiedVersion = "1.2.0"
	if drift, verified := b.NewerThanVerified(); !drift || verified != "1.2.0" {
		t.Fatalf("expected drift against 1.2.0, got %v %q", drift, verified)
	}

	prof.MaxVerifiedVersion = "not-semver"
	if drift, _ := b.NewerThanVerified(); drift {
		t.Fatal("unparseable verified version must disable the check")
	}
}
