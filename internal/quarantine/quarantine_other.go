//go:build !darwin

package quarantine

import "errors"

// RemoveTree is darwin-only; other platforms do not quarantine bundles.
func RemoveTree(root string) (int, error) {
	return 0, errors.New("quarantine attributes exist only on darwin")
}
