//go:build linux

package config

// builtinProfile returns the compiled-in profile for name, or nil.
func builtinProfile(name string) *Profile {
	switch name {
	case "lumen":
		return &Profile{
			Name:         "lumen",
			DisplayName:  "Lumen",
			BundleName:   "lumen",
			InstallDir:   "/opt",
			ProcessNames: []string{"lumen"},
			Resources: []ProfileResource{
				{Path: "resources/app/out/main.js", Kind: "identifier", Required: true},
				{Path: "resources/app/out/vs/code/node/cliProcessMain.js", Kind: "identifier", Required: true},
				{Path: "resources/app/out/vs/workbench/workbench.desktop.main.js", Kind: "checksum", Required: false},
			},
			StoragePath:        "~/.config/Lumen/User/globalStorage/storage.json",
			MaxVerifiedVersion: "1.4.2",
		}
	}
	return nil
}

func builtinProfileNames() []string {
	return []string{"lumen"}
}
