//go:build darwin

package config

// builtinProfile returns the compiled-in profile for name, or nil.
func builtinProfile(name string) *Profile {
	switch name {
	case "lumen":
		return &Profile{
			Name:         "lumen",
			DisplayName:  "Lumen",
			BundleName:   "Lumen.app",
			InstallDir:   "/Applications",
			ProcessNames: []string{"Lumen", "Lumen Helper"},
			Helpers: []string{
				"Contents/Frameworks/Lumen Helper.app",
				"Contents/Frameworks/Lumen Helper (GPU).app",
				"Contents/Frameworks/Lumen Helper (Plugin).app",
				"Contents/Frameworks/Lumen Helper (Renderer).app",
			},
			Resources: []ProfileResource{
				{Path: "Contents/Resources/app/out/main.js", Kind: "identifier", Required: true},
				{Path: "Contents/Resources/app/out/vs/code/node/cliProcessMain.js", Kind: "identifier", Required: true},
				{Path: "Contents/Resources/app/out/vs/workbench/workbench.desktop.main.js", Kind: "checksum", Required: false},
			},
			StoragePath:        "~/Library/Application Support/Lumen/User/globalStorage/storage.json",
			MaxVerifiedVersion: "1.4.2",
		}
	}
	return nil
}

func builtinProfileNames() []string {
	return []string{"lumen"}
}
