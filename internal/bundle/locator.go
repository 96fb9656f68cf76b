package bundle

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/breeze-rmm/reseed/internal/config"
	"github.com/breeze-rmm/reseed/internal/logging"
	"github.com/breeze-rmm/reseed/internal/strategy"
)

// ResourceState classifies one fixed-list resource at locate time.
type ResourceState int

const (
	// Missing means the resource file does not exist under the bundle.
	Missing ResourceState = iota
	// AlreadyPatched means the canonical marker is present.
	AlreadyPatched
	// NeedsPatch means the resource exists and carries no marker.
	NeedsPatch
)

func (s ResourceState) String() string {
	switch s {
	case Missing:
		return "missing"
	case AlreadyPatched:
		return "already-patched"
	case NeedsPatch:
		return "needs-patch"
	}
	return "unknown"
}

// LocatedResource is one entry of the locate report.
type LocatedResource struct {
	// RelPath is the bundle-relative path from the profile, in profile order.
	RelPath string
	// Path is the absolute path under the inspected root.
	Path     string
	Kind     strategy.Kind
	Required bool
	State    ResourceState
}

// LocateReport is the read-only outcome of a locate pass.
type LocateReport struct {
	Resources []LocatedResource
}

// MissingRequired returns the required resources that are absent. Any entry
// here aborts the run before staging: a partially installed target is
// reported, not patched.
func (r *LocateReport) MissingRequired() []LocatedResource {
	var out []LocatedResource
	for _, res := range r.Resources {
		if res.Required && res.State == Missing {
			out = append(out, res)
		}
	}
	return out
}

// NeedsPatch returns the resources that exist and are unpatched.
func (r *LocateReport) NeedsPatch() []LocatedResource {
	var out []LocatedResource
	for _, res := range r.Resources {
		if res.State == NeedsPatch {
			out = append(out, res)
		}
	}
	return out
}

// AllExistingPatched reports whether every existing resource already
// carries the marker, the zero-work success condition.
func (r *LocateReport) AllExistingPatched() bool {
	existing := 0
	for _, res := range r.Resources {
		switch res.State {
		case NeedsPatch:
			return false
		case AlreadyPatched:
			existing++
		}
	}
	return existing > 0
}

// Locate classifies every profile resource under root. It reads file
// contents for the marker scan but never writes; running it repeatedly is
// free of side effects.
func Locate(root string, prof *config.Profile) (*LocateReport, error) {
	report := &LocateReport{}

	for _, pr := range prof.Resources {
		kind, err := strategy.ParseKind(pr.Kind)
		if err != nil {
			return nil, fmt.Errorf("profile resource %s: %w", pr.Path, err)
		}

		res := LocatedResource{
			RelPath:  pr.Path,
			Path:     filepath.Join(root, pr.Path),
			Kind:     kind,
			Required: pr.Required,
		}

		data, err := os.ReadFile(res.Path)
		switch {
		case err != nil && os.IsNotExist(err):
			res.State = Missing
		case err != nil:
			return nil, fmt.Errorf("read resource %s: %w", res.Path, err)
		case strategy.AlreadyPatched(string(data)):
			res.State = AlreadyPatched
		default:
			res.State = NeedsPatch
		}

		log.Debug("located resource",
			logging.KeyResource, res.RelPath, "state", res.State.String(), "kind", string(kind))
		report.Resources = append(report.Resources, res)
	}

	return report, nil
}
