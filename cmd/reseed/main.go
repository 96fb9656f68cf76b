package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.3.0"
	cfgFile string
	profile string

	flagResetStorage    bool
	flagStorageReadOnly bool
	flagKeepBackup      bool
	flagYes             bool
)

var rootCmd = &cobra.Command{
	Use:   "reseed",
	Short: "Device identity reseed tool",
	Long: `Reseed patches an installed desktop application bundle so it reports a
fresh, randomly generated device identity instead of the machine's real one.
Run without a subcommand for the interactive menu.`,
	Run: func(cmd *cobra.Command, args []string) {
		exit(cmdInteractive())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Patch the installed bundle and reset its device identity",
	Run: func(cmd *cobra.Command, args []string) {
		exit(cmdRun())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the patch state of every known resource (read-only)",
	Run: func(cmd *cobra.Command, args []string) {
		exit(cmdStatus())
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Reinstall the most recent bundle backup",
	Run: func(cmd *cobra.Command, args []string) {
		exit(cmdRestore())
	},
}

var unblockCmd = &cobra.Command{
	Use:   "unblock",
	Short: "Remove quarantine flags and re-sign the installed bundle",
	Run: func(cmd *cobra.Command, args []string) {
		exit(cmdUnblock())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("reseed v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is reseed.yaml in the platform config dir)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "target application profile (overrides config)")

	runCmd.Flags().BoolVar(&flagResetStorage, "reset-storage", false, "also rewrite the identifiers persisted in storage.json")
	runCmd.Flags().BoolVar(&flagStorageReadOnly, "storage-read-only", false, "pin storage.json read-only after rewriting it")
	runCmd.Flags().BoolVar(&flagKeepBackup, "keep-backup", false, "keep the bundle backup even after a successful install")
	runCmd.Flags().BoolVar(&flagYes, "yes", false, "answer yes to every confirmation prompt")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(unblockCmd)
	rootCmd.AddCommand(versionCmd)
}

func exit(code int) {
	if code != 0 {
		os.Exit(code)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
