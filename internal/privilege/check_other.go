//go:build !windows

package privilege

import "os"

// Elevated reports whether the process runs as root, which the install and
// restore paths need to replace bundles under system directories.
func Elevated() bool {
	return os.Getuid() == 0
}
