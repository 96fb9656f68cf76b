// Package identity generates the fresh device identifiers substituted into
// patched resources and rewritten configuration state.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Set is one run's worth of replacement identifiers. A single Set is generated
// per run and shared by every component that embeds identifiers, so a patched
// bundle and a rewritten storage file agree with each other.
type Set struct {
	MachineID    string // 64 hex chars
	MacMachineID string // 64 hex chars
	DevDeviceID  string // lowercase UUIDv4
	SqmID        string // uppercase UUIDv4 in braces
}

// NewSet generates a fresh identifier set.
func NewSet() (Set, error) {
	machineID, err := HexToken(32)
	if err != nil {
		return Set{}, fmt.Errorf("generate machine id: %w", err)
	}

	macMachineID, err := HexToken(32)
	if err != nil {
		return Set{}, fmt.Errorf("generate mac machine id: %w", err)
	}

	devDeviceID, err := uuid.NewRandom()
	if err != nil {
		return Set{}, fmt.Errorf("generate device id: %w", err)
	}

	sqmID, err := uuid.NewRandom()
	if err != nil {
		return Set{}, fmt.Errorf("generate sqm id: %w", err)
	}

	return Set{
		MachineID:    machineID,
		MacMachineID: macMachineID,
		DevDeviceID:  devDeviceID.String(),
		SqmID:        "{" + strings.ToUpper(sqmID.String()) + "}",
	}, nil
}

// Values returns the set in a stable order, matching the order the universal
// injection block declares its getters in.
func (s Set) Values() []string {
	return []string{s.MachineID, s.MacMachineID, s.DevDeviceID, s.SqmID}
}

// HexToken returns n random bytes hex-encoded (2n characters).
func HexToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
