//go:build !darwin && !linux && !windows

package config

// builtinProfile returns nil on platforms without a known target layout;
// a custom profile document is required there.
func builtinProfile(string) *Profile {
	return nil
}

func builtinProfileNames() []string {
	return nil
}
