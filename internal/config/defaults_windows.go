//go:build windows

package config

import (
	"os"
	"path/filepath"
)

// builtinProfile returns the compiled-in profile for name, or nil.
func builtinProfile(name string) *Profile {
	switch name {
	case "lumen":
		return &Profile{
			Name:         "lumen",
			DisplayName:  "Lumen",
			BundleName:   "Lumen",
			InstallDir:   filepath.Join(os.Getenv("LOCALAPPDATA"), "Programs"),
			ProcessNames: []string{"Lumen.exe"},
			Resources: []ProfileResource{
				{Path: `resources\app\out\main.js`, Kind: "identifier", Required: true},
				{Path: `resources\app\out\vs\code\node\cliProcessMain.js`, Kind: "identifier", Required: true},
				{Path: `resources\app\out\vs\workbench\workbench.desktop.main.js`, Kind: "checksum", Required: false},
			},
			StoragePath:        filepath.Join(os.Getenv("APPDATA"), "Lumen", "User", "globalStorage", "storage.json"),
			MaxVerifiedVersion: "1.4.2",
		}
	}
	return nil
}

func builtinProfileNames() []string {
	return []string{"lumen"}
}
