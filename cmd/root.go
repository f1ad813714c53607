package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kayz/tavern/internal/config"
	"github.com/kayz/tavern/internal/logger"
)

var (
	logLevel   string
	configPath string

	build = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "tavern",
	Short: "tavern prompt assembly and generation engine",
	Long: `tavern assembles LLM prompts from character data, chat history,
lore books, and caller injections, and drives generation against a
configured provider.

Commands:
  tavern serve     Serve generation over the configured transport
  tavern generate  Run one generation from the command line`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	RunE: runServe,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logger.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logger.SetLevel(level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info",
		"Log level: trace, debug, info, warn, error, fatal, panic")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to config file (default: .tavern.yaml next to the executable)")
}

// SetBuild records the build identifier stamped in by the linker.
func SetBuild(b string) {
	if b != "" {
		build = b
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFrom(configPath)
	}
	return config.Load()
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
