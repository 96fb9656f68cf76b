// Package bundle models the installed target application on disk and
// locates its patchable resources. Everything here is read-only; mutation
// happens on the staged copy.
package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/Masterminds/semver/v3"
	"howett.net/plist"

	"github.com/breeze-rmm/reseed/internal/config"
	"github.com/breeze-rmm/reseed/internal/logging"
)

var log = logging.L("bundle")

// Bundle is the installed application root plus the metadata needed by the
// pipeline: version for the drift gate, executable for signature
// inspection, helper sub-bundles for the signature strip.
type Bundle struct {
	Root       string
	Profile    *config.Profile
	RawVersion string
	Version    *semver.Version // nil when the raw version is not semver
	Executable string          // absolute path of the main executable, "" if unknown
}

// Inspect reads bundle metadata from root. The bundle must exist; metadata
// that cannot be read degrades to empty fields rather than failing, since a
// missing version only disables the drift warning.
func Inspect(root string, prof *config.Profile) (*Bundle, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("bundle not found at %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("bundle path %s is not a directory", root)
	}

	b := &Bundle{Root: root, Profile: prof}
	b.loadMetadata()
	return b, nil
}

func (b *Bundle) loadMetadata() {
	if b.readInfoPlist() {
		return
	}
	b.readPackageJSON()
}

// readInfoPlist pulls version and executable from Contents/Info.plist on
// darwin-style bundles.
func (b *Bundle) readInfoPlist() bool {
	path := filepath.Join(b.Root, "Contents", "Info.plist")
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	var dict map[string]any
	if _, err := plist.Unmarshal(data, &dict); err != nil {
		log.Warn("unreadable Info.plist", logging.KeyBundle, b.Root, logging.KeyError, err)
		return false
	}

	if v, ok := dict["CFBundleShortVersionString"].(string); ok {
		b.setVersion(v)
	}
	if exe, ok := dict["CFBundleExecutable"].(string); ok && exe != "" {
		b.Executable = filepath.Join(b.Root, "Contents", "MacOS", exe)
	}
	return b.RawVersion != "" || b.Executable != ""
}

// readPackageJSON falls back to the Electron app manifest, which is where
// flat installations (windows, linux) keep the version.
func (b *Bundle) readPackageJSON() {
	candidates := []string{
		filepath.Join(b.Root, "resources", "app", "package.json"),
		filepath.Join(b.Root, "Contents", "Resources", "app", "package.json"),
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var manifest struct {
			Version string `json:"version"`
		}
		if err := json.Unmarshal(data, &manifest); err != nil {
			log.Warn("unreadable package.json", logging.KeyBundle, b.Root, logging.KeyError, err)
			continue
		}
		if manifest.Version != "" {
			b.setVersion(manifest.Version)
			return
		}
	}
}

func (b *Bundle) setVersion(raw string) {
	b.RawVersion = raw
	v, err := semver.NewVersion(raw)
	if err != nil {
		log.Debug("version is not semver", logging.KeyBundle, b.Root, "version", raw)
		return
	}
	b.Version = v
}

// HelperPaths returns the absolute paths of profile helper bundles that
// exist under the root. A missing helper is normal across app versions.
func (b *Bundle) HelperPaths() []string {
	var out []string
	for _, rel := range b.Profile.Helpers {
		p := filepath.Join(b.Root, rel)
		if _, err := os.Lstat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// NewerThanVerified reports whether the installed version is newer than the
// newest version the patch tiers were verified against. Unknown versions on
// either side disable the check.
func (b *Bundle) NewerThanVerified() (bool, string) {
	if b.Version == nil || b.Profile.MaxVerifiedVersion == "" {
		return false, ""
	}
	verified, err := semver.NewVersion(b.Profile.MaxVerifiedVersion)
	if err != nil {
		return false, ""
	}
	if b.Version.GreaterThan(verified) {
		return true, verified.String()
	}
	return false, ""
}

// DisplayName names the bundle for user-facing messages.
func (b *Bundle) DisplayName() string {
	if b.Profile.DisplayName != "" {
		return b.Profile.DisplayName
	}
	return b.Profile.Name
}

// SigningRequired reports whether this platform certifies bundles at all.
func SigningRequired() bool {
	return runtime.GOOS == "darwin"
}
