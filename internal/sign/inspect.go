package sign

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blacktop/go-macho"
)

// HasSignature reports whether the Mach-O binary at path carries an
// embedded code signature load command. A universal binary counts as signed
// when any architecture slice is.
func HasSignature(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read executable: %w", err)
	}

	if m, err := macho.NewFile(bytes.NewReader(data)); err == nil {
		defer m.Close()
		return hasSignatureLoad(m), nil
	}

	fat, err := macho.NewFatFile(bytes.NewReader(data))
	if err != nil {
		return false, fmt.Errorf("%s is not a mach-o binary", filepath.Base(path))
	}
	defer fat.Close()

	for _, arch := range fat.Arches {
		end := uint64(arch.Offset) + uint64(arch.Size)
		if end > uint64(len(data)) {
			continue
		}
		m, merr := macho.NewFile(bytes.NewReader(data[arch.Offset:end]))
		if merr != nil {
			continue
		}
		signed := hasSignatureLoad(m)
		m.Close()
		if signed {
			return true, nil
		}
	}
	return false, nil
}

func hasSignatureLoad(m *macho.File) bool {
	for _, load := range m.Loads {
		if _, ok := load.(*macho.CodeSignature); ok {
			return true
		}
	}
	return false
}
