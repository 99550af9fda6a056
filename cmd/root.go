// Package cmd defines and implements the CLI commands for the clinic-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/clinic-crawler/internal/config"
	"github.com/JakeFAU/clinic-crawler/internal/crawler"
	"github.com/JakeFAU/clinic-crawler/internal/logging"
)

// Process exit codes.
const (
	exitOK              = 0
	exitFailure         = 1
	exitInvalidConfig   = 2
	exitRootUnavailable = 3
)

type runtimeKey struct{}

// runtime carries what PersistentPreRunE resolves for the subcommands.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

// deps are process-wide collaborators that tests replace.
type deps struct {
	registerer prometheus.Registerer
}

// newRootCmd creates and configures the root command.
func newRootCmd(d deps) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "clinic-crawler",
		Short: "Crawls the archived My FootDr clinic directory into a CSV file.",
		Long: `clinic-crawler walks the archived clinic directory from its root listing,
through every region, to each clinic page, and writes one CSV row per clinic.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWithFlags(cfgFile, cmd.Flags())
			if err != nil {
				if errors.Is(err, config.ErrInvalidConfig) {
					return err
				}
				return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey{}, &runtime{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey{}).(*runtime); ok {
				_ = rt.logger.Sync()
			}
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	})

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (YAML, JSON, or TOML)")
	pf.Bool("dev", false, "human-readable development logging")
	pf.String("log-level", "", "log level: debug, info, warn, error (default info)")

	cmd.AddCommand(newCrawlCmd(d), newParseCmd())
	return cmd
}

// Execute runs the CLI against the process arguments and returns the exit code.
func Execute() int {
	return run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, deps{registerer: prometheus.DefaultRegisterer})
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, d deps) int {
	root := newRootCmd(d)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, config.ErrInvalidConfig):
		return exitInvalidConfig
	case errors.Is(err, crawler.ErrRootUnavailable):
		return exitRootUnavailable
	default:
		return exitFailure
	}
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey{}).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}
