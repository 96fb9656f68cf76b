// Package storagecfg rewrites the device identifiers persisted in the
// application's storage.json. The app repopulates these keys on launch, so
// an optional read-only mode pins the rewritten file afterwards.
package storagecfg

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/breeze-rmm/reseed/internal/identity"
	"github.com/breeze-rmm/reseed/internal/logging"
)

var log = logging.L("storagecfg")

// The telemetry keys the app derives from hardware identifiers.
const (
	keyMachineID    = "telemetry.machineId"
	keyMacMachineID = "telemetry.macMachineId"
	keyDevDeviceID  = "telemetry.devDeviceId"
	keySqmID        = "telemetry.sqmId"
)

// Rewriter rewrites one storage file in place.
type Rewriter struct {
	readOnly bool
}

// NewRewriter returns a rewriter. With readOnly set the rewritten file is
// left mode 0444 so the app cannot regenerate the identifiers.
func NewRewriter(readOnly bool) *Rewriter {
	return &Rewriter{readOnly: readOnly}
}

// Rewrite replaces the telemetry identifier keys in the JSON file at path
// with values from ids, preserving every other key. A sibling .bak copy is
// written first and the new content lands by atomic rename. A missing file
// is not an error; the app recreates it with whatever the patched bundle
// reports.
func (r *Rewriter) Rewrite(path string, ids identity.Set) error {
	logger := logging.WithResource(log, path)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Info("storage file absent, nothing to rewrite")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read storage file: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse storage file: %w", err)
	}

	origMode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		origMode = info.Mode().Perm()
	}

	doc[keyMachineID] = ids.MachineID
	doc[keyMacMachineID] = ids.MacMachineID
	doc[keyDevDeviceID] = ids.DevDeviceID
	doc[keySqmID] = ids.SqmID

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode storage file: %w", err)
	}

	if err := os.WriteFile(path+".bak", data, 0o600); err != nil {
		return fmt.Errorf("back up storage file: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, out, 0o644); err != nil {
		_ = os.Remove(path + ".bak")
		return fmt.Errorf("write rewritten storage file: %w", err)
	}
	if origMode&0o200 == 0 {
		// A previous run may have pinned the file read-only.
		if err := os.Chmod(path, origMode|0o200); err != nil {
			logger.Warn("failed to unlock pinned storage file", logging.KeyError, err)
		}
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("commit rewritten storage file: %w", err)
	}

	mode := origMode
	if r.readOnly {
		mode = 0o444
	} else if mode&0o200 == 0 {
		mode |= 0o200
	}
	if err := os.Chmod(path, mode); err != nil {
		logger.Warn("failed to set storage file mode", logging.KeyError, err)
	}

	logger.Info("storage identifiers rewritten", "read_only", r.readOnly)
	return nil
}

// Identifiers reports the current telemetry identifier values in the file
// at path, for status display. Missing keys map to empty strings.
func Identifiers(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse storage file: %w", err)
	}

	out := make(map[string]string, 4)
	for _, key := range []string{keyMachineID, keyMacMachineID, keyDevDeviceID, keySqmID} {
		if v, ok := doc[key].(string); ok {
			out[key] = v
		} else {
			out[key] = ""
		}
	}
	return out, nil
}
