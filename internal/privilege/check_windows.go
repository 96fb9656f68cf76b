//go:build windows

package privilege

import "golang.org/x/sys/windows"

// Elevated reports whether the process token carries admin elevation
// (the "Run as administrator" state).
func Elevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}
