// Package cli provides the fluxsim command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfluke/fluxgrid/detector"
	"github.com/openfluke/fluxgrid/gpu"
	"github.com/openfluke/fluxgrid/internal/config"
	"github.com/openfluke/fluxgrid/tensor"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

type envKey struct{}

// env is what PersistentPreRunE hands to every subcommand.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	backend tensor.Backend
	release func()
}

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "fluxsim",
		Short: "Differentiable grid fluid simulation",
		Long: `fluxsim runs incompressible smoke simulations on staggered grids and
checks their gradients against finite differences.

Settings come from defaults, ./fluxsim.yaml, FLUXSIM_ environment
variables and flags, in increasing priority.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" || cmd.Name() == "detect" {
				return nil
			}
			cfg, used, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			if used != "" {
				logger.Debug("using config file", "path", used)
			}
			b, release, err := selectBackend(cfg.Backend, logger)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey{}, &env{
				cfg: cfg, logger: logger, backend: b, release: release,
			}))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e := getEnv(cmd); e != nil && e.release != nil {
				e.release()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./fluxsim.yaml)")
	pf.String("log-level", "info", "log level (debug|info|warn|error)")
	pf.String("backend", "cpu", "tensor backend (cpu|gpu|auto)")
	pf.Float64("tolerance", 1e-5, "pressure solve tolerance")
	pf.Int("max-iterations", 1000, "pressure solve iteration cap")
	pf.Int("rank-deficiency", 1, "declared nullspace dimension of the pressure system")

	_ = rootCmd.RegisterFlagCompletionFunc("backend", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"cpu", "gpu", "auto"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(NewVersionCommand(Version))
	rootCmd.AddCommand(NewPlumeCommand())
	rootCmd.AddCommand(NewGradcheckCommand())
	rootCmd.AddCommand(NewDetectCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

func getEnv(cmd *cobra.Command) *env {
	if cmd.Context() == nil {
		return nil
	}
	e, _ := cmd.Context().Value(envKey{}).(*env)
	return e
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

// selectBackend returns nil for the CPU so grids pick the default backend.
// "auto" tries the GPU and falls back when no adapter is available.
func selectBackend(name string, logger *slog.Logger) (tensor.Backend, func(), error) {
	if name == "cpu" {
		return nil, nil, nil
	}
	report, err := detector.Detect()
	if err != nil {
		if name == "auto" && errors.Is(err, detector.ErrUnavailable) {
			logger.Info("gpu unavailable, using cpu", "error", err)
			return nil, nil, nil
		}
		return nil, nil, err
	}
	b, err := gpu.NewBackend(gpu.WithReport(report), gpu.WithLogger(logger))
	if err != nil {
		if name == "auto" && errors.Is(err, detector.ErrUnavailable) {
			logger.Info("gpu unavailable, using cpu", "error", err)
			return nil, nil, nil
		}
		return nil, nil, err
	}
	logger.Info("using gpu", "adapter", report.Name, "workgroup", report.Recommended.WorkgroupX)
	return b, b.Release, nil
}
