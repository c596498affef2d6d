// Package commands provides the CLI commands for AIPex.
package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	workDir   string
)

var rootCmd = &cobra.Command{
	Use:   "aipex",
	Short: "AIPex - browser assistant conversation engine",
	Long: `AIPex drives conversations between a user, an OpenAI-compatible model
and the tools a browser client provides.

Run 'aipex serve' to expose conversations over HTTP, or 'aipex run' to send
a single prompt from the terminal.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		logging.Setup(logLevel, printLogs || cmd.Name() == serveCmd.Name())
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVar(&workDir, "dir", "", "Project directory to load configuration from")

	rootCmd.SetVersionTemplate(fmt.Sprintf("aipex %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(toolsCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetWorkDir returns the directory from the --dir flag or the current
// directory.
func GetWorkDir() (string, error) {
	if workDir != "" {
		return workDir, nil
	}
	return os.Getwd()
}
