//go:build windows

package fsutil

// Owner is not meaningful under the Windows ownership model; callers get
// zero ids and apply no ownership normalization.
func Owner(string) (uid, gid int, err error) {
	return 0, 0, nil
}

// ChownTree is a no-op on Windows.
func ChownTree(string, int, int) error {
	return nil
}
