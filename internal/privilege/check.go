package privilege

// elevatedSubcommands maps subcommands that require elevated (root/admin)
// privileges: everything that replaces the installed bundle or rewrites
// protected files.
var elevatedSubcommands = map[string]bool{
	"run":     true,
	"restore": true,
	"unblock": true,
}

// RequiresElevation returns true if the subcommand needs root/admin privileges.
func RequiresElevation(subcommand string) bool {
	return elevatedSubcommands[subcommand]
}
