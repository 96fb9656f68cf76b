//go:build !darwin

package quarantine

import "testing"

func TestRemoveTreeUnsupported(t *testing.T) {
	if _, err := RemoveTree(t.TempDir()); err == nil {
		t.Error("RemoveTree reported success off darwin")
	}
}
