// Package strategy selects and applies content patches that neutralize the
// target application's device-identifier lookups. Patches are literal and
// pattern substitutions over script text, never an AST transform: the
// upstream resource shape drifts between releases, so an ordered tier list
// trades precision for coverage, from exact known signatures down to a
// catch-all module-loader interception.
package strategy

import (
	"fmt"
	"strings"
	"time"

	"github.com/breeze-rmm/reseed/internal/identity"
	"github.com/breeze-rmm/reseed/internal/logging"
)

var log = logging.L("strategy")

// Kind classifies a patchable resource.
type Kind string

const (
	// KindIdentifier marks resources containing device-identifier lookups.
	KindIdentifier Kind = "identifier"
	// KindChecksum marks the resource that computes the update checksum
	// header.
	KindChecksum Kind = "checksum"
)

// ParseKind converts a profile kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindIdentifier:
		return KindIdentifier, nil
	case KindChecksum:
		return KindChecksum, nil
	}
	return "", fmt.Errorf("unknown resource kind %q", s)
}

// Marker is the canonical substring stamped into every successfully patched
// resource. Its presence is the idempotence signal: the locator reports
// AlreadyPatched and every match predicate stands down.
const Marker = "reseed:patched"

// Stamp returns the comment block prepended to a patched resource. It is a
// plain JS block comment so prepending it never changes script semantics.
func Stamp(now time.Time) string {
	return fmt.Sprintf("/*%s v1 %s*/\n", Marker, now.UTC().Format(time.RFC3339))
}

// AlreadyPatched reports whether content carries the canonical marker.
func AlreadyPatched(content string) bool {
	return strings.Contains(content, Marker)
}

// Strategy is one match-and-transform rule. Matches must return false for
// content the same strategy already transformed, so a second run never
// re-fires. Apply returns the transformed content without the stamp; the
// applicator prepends it.
type Strategy interface {
	Name() string
	Matches(content string) bool
	Apply(content string) (string, error)
	// PostCondition returns a substring that must be present in the
	// transformed content, verified by the applicator before commit.
	PostCondition() string
}

// Resolver picks the narrowest applicable strategy for a resource kind.
type Resolver struct {
	identifierTiers []Strategy
	checksumTiers   []Strategy
}

// NewResolver builds the tier lists around one per-run identity set. All
// fixed replacement values across every resource come from the same set.
func NewResolver(ids identity.Set) *Resolver {
	return &Resolver{
		identifierTiers: []Strategy{
			&functionInjectPrimary{},
			&functionInjectAlternate{},
			&deviceFunctionOverride{ids: ids},
			&genericWrapperInject{},
			&universalRequireIntercept{ids: ids},
		},
		checksumTiers: []Strategy{
			&checksumRewrite{},
		},
	}
}

// Resolve returns the first strategy in the kind's tier order whose match
// predicate accepts content, or nil when none applies. For identifier
// resources nil means the content is already patched: the lowest tier
// accepts everything else. For the checksum resource nil is the normal
// "literal absent, leave unpatched" outcome.
func (r *Resolver) Resolve(kind Kind, content string) Strategy {
	var tiers []Strategy
	switch kind {
	case KindIdentifier:
		tiers = r.identifierTiers
	case KindChecksum:
		tiers = r.checksumTiers
	default:
		return nil
	}

	for _, s := range tiers {
		if s.Matches(content) {
			return s
		}
	}
	return nil
}

// Tiers returns the strategy names in resolution order, for reporting.
func (r *Resolver) Tiers(kind Kind) []string {
	var tiers []Strategy
	switch kind {
	case KindIdentifier:
		tiers = r.identifierTiers
	case KindChecksum:
		tiers = r.checksumTiers
	}
	names := make([]string, 0, len(tiers))
	for _, s := range tiers {
		names = append(names, s.Name())
	}
	return names
}
