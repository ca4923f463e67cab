package cmd

import (
	"context"
	"errors"
	"os"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/psantana5/launchgate/internal/config"
	"github.com/psantana5/launchgate/internal/handoff"
	"github.com/psantana5/launchgate/internal/launcher"
	"github.com/psantana5/launchgate/pkg/logging"
	"github.com/psantana5/launchgate/pkg/shutdown"
	"github.com/psantana5/launchgate/pkg/tracing"
)

var (
	envFile   string
	preset    string
	logLevel  string
	logFormat string
	dryRun    bool

	runtimeCfg config.RuntimeConfig
	logger     *logging.Logger
	tracer     *tracing.Provider
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "launchgate",
	Short: "Container entrypoint for the web server and queue worker",
	Long: `launchgate waits for the broker to come up, works out how the application
object is exposed, and then replaces itself with gunicorn or an rq worker so
that the server receives container signals directly.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// ExecuteContext runs the root command with ctx.
func ExecuteContext(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil && strings.HasPrefix(err.Error(), "unknown command") {
		return &usageError{err: err}
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file read before the environment (default .env if present)")
	rootCmd.PersistentFlags().StringVar(&preset, "preset", "", "default profile: compose or host (env LAUNCHGATE_PRESET)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (env LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json (env LOG_FORMAT)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "print the final command instead of running it")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})
}

// setup loads configuration and builds the logger and tracer shared by
// every command.
func setup(cmd *cobra.Command, args []string) error {
	file := envFile
	if file == "" {
		if _, err := os.Stat(".env"); err == nil {
			file = ".env"
		}
	}

	runtimeCfg = config.Load(config.LoadOptions{EnvFile: file, Flags: cmd.Flags()})

	logger = logging.NewLogger(logging.ParseLevel(runtimeCfg.LogLevel), logging.IsJSONFormat(runtimeCfg.LogFormat)).
		WithField("launch_id", uuid.NewString())

	var err error
	tracer, err = tracing.InitTracer(tracing.Config{
		ServiceName:    "launchgate",
		ServiceVersion: Version,
		Environment:    string(runtimeCfg.Preset),
		OTLPEndpoint:   runtimeCfg.OTLPEndpoint,
		Enabled:        runtimeCfg.OTLPEndpoint != "",
	}, logger)
	if err != nil {
		logger.Warn("Tracing unavailable", map[string]interface{}{"error": err.Error()})
		tracer, _ = tracing.InitTracer(tracing.Config{ServiceName: "launchgate"}, logger)
	}

	cmd.SetContext(tracing.ExtractEnv(cmd.Context(), os.Getenv))
	return nil
}

func newLauncher(role handoff.Role, extra []string) *launcher.Launcher {
	return launcher.New(runtimeCfg, role,
		launcher.WithLogger(logger),
		launcher.WithTracer(tracer),
		launcher.WithExtraArgs(extra),
		launcher.WithVersion(Version),
	)
}

// noArgs is cobra.NoArgs reported as a usage error.
func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return &usageError{err: err}
	}
	return nil
}

type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// ExitCode maps an Execute error to the process exit status.
func ExitCode(err error) int {
	var usage *usageError
	var sigErr *shutdown.SignalError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &usage):
		return 2
	case errors.As(err, &sigErr):
		if sig, ok := sigErr.Signal.(syscall.Signal); ok {
			return 128 + int(sig)
		}
		return 130
	case errors.Is(err, context.Canceled):
		return 130
	}
	return handoff.ExitCode(err)
}
