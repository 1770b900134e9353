package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"stardock/internal/config"
	"stardock/pkg/logging"
)

var (
	logLevel      string
	componentsDir string
	configPath    string
)

// fileCfg holds the configuration loaded from disk. Flags set explicitly on
// the command line win over it.
var fileCfg = config.Default()

// rootCmd represents the base command for the stardock application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "stardock",
	Short: "Component orchestration for astronomy device platforms",
	Long: `stardock manages the plugin graph of an astronomy device platform:
it resolves component dependencies with version constraints, loads the
backing artifacts (shared libraries or script modules) in a safe order,
and drives each component through its lifecycle.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		dir := configPath
		if dir == "" {
			if p, err := config.DefaultPath(); err == nil {
				dir = p
			}
		}
		if dir != "" {
			if cfg, err := config.Load(dir); err == nil {
				fileCfg = cfg
			}
		}

		if !cmd.Flags().Changed("log-level") && fileCfg.LogLevel != "" {
			logLevel = fileCfg.LogLevel
		}
		if !cmd.Flags().Changed("components-dir") && fileCfg.ComponentsDir != "" {
			componentsDir = fileCfg.ComponentsDir
		}
		logging.InitForCLI(logging.ParseLevel(logLevel), os.Stderr)
	},
}

// SetVersion sets the version for the root command.
// This is called from the main package to inject the build-time version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "stardock version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&componentsDir, "components-dir", "", "directory scanned for component descriptors (overridden by STARDOCK_COMPONENTS_DIR)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "configuration directory (default ~/.config/stardock)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newTreeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
