// Package cmd implements the alnpipe command-line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bioforge/alnpipe/internal/observability"
)

var rootCmd = &cobra.Command{
	Use:   "alnpipe",
	Short: "Incremental pairwise genome alignment pipeline",
	Long: `alnpipe runs whole-genome pairwise alignment pipelines incrementally.

A pipeline manifest declares genomes to fetch and ordered pairs to
align; alnpipe expands it into a target graph (download, format,
align, chain, net, merge), decides which targets are out of date, and
runs only those, in dependency order, with bounded parallelism.

Completed work is recorded in a run ledger so interrupted or failed
runs resume where they left off.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initRoot()
	},
}

// versionInfo holds build-time version metadata, injected via
// SetVersionInfo from main.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata for the version command and
// the status server.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var cfgFile string

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to alnpipe config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().String("log-profile", "", "Log profile (structured|console)")

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.profile", rootCmd.PersistentFlags().Lookup("log-profile"))

	rootCmd.AddCommand(versionCmd)
}

// setDefaults registers configuration defaults with viper.
func setDefaults() {
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.profile", observability.ProfileStructured)

	viper.SetDefault("jobs", 4)

	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.shutdown_timeout", "10s")
}

// initRoot loads configuration and initializes logging. Runs once per
// invocation before any subcommand.
func initRoot() error {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("alnpipe")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "alnpipe"))
		}
	}

	viper.SetEnvPrefix("ALNPIPE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
		// No config file is fine; defaults and env apply.
	}

	return observability.InitCLILogger(
		viper.GetString("logging.level"),
		viper.GetString("logging.profile"),
	)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("alnpipe %s (commit %s, built %s)\n",
			versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
	},
}

// exitCodeError carries a process exit code alongside the message.
type exitCodeError struct {
	code    int
	message string
	err     error
}

func (e *exitCodeError) Error() string {
	if e.err == nil {
		return e.message
	}
	return e.message + ": " + e.err.Error()
}

func (e *exitCodeError) Unwrap() error { return e.err }

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &exitCodeError{code: code, message: message, err: err}
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context) int {
	defer observability.SyncCLILogger()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var ec *exitCodeError
		if errors.As(err, &ec) {
			return ec.code
		}
		return 1
	}
	return 0
}
