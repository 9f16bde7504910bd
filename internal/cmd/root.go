// Package cmd implements the gristmill command line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gristmill/internal/config"
	"github.com/3leaps/gristmill/internal/observability"

	// Register the built-in operations.
	_ "github.com/3leaps/gristmill/pkg/operation/imageop"
	_ "github.com/3leaps/gristmill/pkg/operation/probeop"
	_ "github.com/3leaps/gristmill/pkg/operation/textop"
)

var rootCmd = &cobra.Command{
	Use:   "gristmill",
	Short: "Resumable file processing between storage locations",
	Long: `gristmill runs batch file-processing jobs described by a manifest:
discover inputs at a source location, run an operation over each file,
publish outputs and a progress ledger to a destination, and resume from
that ledger on the next invocation.

Supported locations are local directories, local .zip archives, and
S3-compatible object storage.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	flagLogLevel   string
	flagLogProfile string
	flagQuiet      bool
	flagNoColor    bool
)

// versionInfo holds build metadata injected by main via SetVersionInfo.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// AppIdentity describes how this binary presents itself: its name, the
// environment prefix it honors, and its config file name.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

var appIdentity *AppIdentity

// GetAppIdentity returns the active identity, or nil before initialization.
func GetAppIdentity() *AppIdentity {
	return appIdentity
}

func init() {
	appIdentity = &AppIdentity{
		BinaryName: "gristmill",
		EnvPrefix:  config.EnvPrefix,
		ConfigName: config.ConfigName,
	}

	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&flagLogProfile, "log-profile", "", "Log profile (cli|structured)")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress progress records")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored log output")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Early logger so configuration failures are reportable.
		observability.InitCLILogger(flagLogLevel, flagNoColor)

		cfg, err := config.Load(cmd.Context(), rootOverrides())
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
		}

		observability.Init(cfg.Logging.Level, cfg.Logging.Profile, flagNoColor)
		return nil
	}
}

// rootOverrides translates persistent flags into config overrides, so
// flags outrank environment variables and the config file.
func rootOverrides() map[string]any {
	logging := map[string]any{}
	if flagLogLevel != "" {
		logging["level"] = flagLogLevel
	}
	if flagLogProfile != "" {
		logging["profile"] = flagLogProfile
	}
	if len(logging) == 0 {
		return map[string]any{}
	}
	return map[string]any{"logging": logging}
}

// Execute runs the CLI. SIGINT/SIGTERM cancel the command context; a
// second signal exits immediately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		stop()
		hard := make(chan os.Signal, 1)
		signal.Notify(hard, os.Interrupt, syscall.SIGTERM)
		<-hard
		os.Exit(foundry.ExitSignalInt)
	}()

	err := rootCmd.ExecuteContext(ctx)
	observability.Sync()
	if err != nil {
		if observability.CLILogger != nil {
			observability.CLILogger.Error(err.Error())
			observability.Sync()
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(exitCodeFrom(err))
	}
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}

var exitCodePattern = regexp.MustCompile(`\(exit code (\d+)\)$`)

// exitCodeFrom recovers the exit code embedded by exitError, defaulting
// to 1 for errors without one.
func exitCodeFrom(err error) int {
	if err == nil {
		return 0
	}
	m := exitCodePattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 1
	}
	code, convErr := strconv.Atoi(m[1])
	if convErr != nil || code == 0 {
		return 1
	}
	return code
}

// ExitWithCode logs a fatal error and terminates the process with the
// given exit code.
func ExitWithCode(logger *zap.Logger, code int, message string, err error) {
	if logger != nil {
		logger.Error(message, zap.Error(err), zap.Int("exit_code", code))
		_ = logger.Sync()
	}
	os.Exit(code)
}
