package main

import (
	"fmt"
	"os/exec"
	"time"

	habitat "github.com/axondata/go-habitat"
	"github.com/axondata/go-habitat/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// globalOptions are shared by every subcommand
type globalOptions struct {
	habPath        string
	gateway        string
	logLevel       string
	settle         string
	bootstrapDelay time.Duration
	toggleDelay    time.Duration
	pollInterval   time.Duration
	pollTimeout    time.Duration
	tempDir        string

	// set by tests
	runner habitat.CommandRunner
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&globalOptions{})
}

func newRootCmdWith(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "habconverge",
		Short: "Converge a Habitat service to a desired state",
		Long: `habconverge brings one service run by the Habitat supervisor to a
declared state (up or down), start style (persistent or transient) and
configuration, issuing only the supervisor commands that are needed.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.habPath, "hab", "", "path to the hab binary (default: looked up on PATH)")
	flags.StringVar(&opts.gateway, "gateway", habitat.DefaultAPIURL, "supervisor HTTP gateway URL")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error); overrides "+logging.EnvLogLevel)
	flags.StringVar(&opts.settle, "settle", "sleep", "how to wait after lifecycle changes: sleep or poll")
	flags.DurationVar(&opts.bootstrapDelay, "bootstrap-delay", habitat.DefaultBootstrapSettle, "wait after starting a stopped or unloaded service (settle=sleep)")
	flags.DurationVar(&opts.toggleDelay, "toggle-delay", habitat.DefaultToggleSettle, "wait after switching start style (settle=sleep)")
	flags.DurationVar(&opts.pollInterval, "poll-interval", habitat.DefaultPollInterval, "readiness poll interval (settle=poll)")
	flags.DurationVar(&opts.pollTimeout, "poll-timeout", habitat.DefaultPollTimeout, "readiness poll timeout (settle=poll)")
	flags.StringVar(&opts.tempDir, "temp-dir", "", "directory for rendered configuration files")

	cmd.AddCommand(
		newConvergeCmd(opts),
		newWatchCmd(opts),
		newDiffCmd(opts),
		newStatusCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func (o *globalOptions) logger() (zerolog.Logger, error) {
	cfg := logging.FromEnv()
	if o.logLevel != "" {
		lvl, ok := logging.ParseLevel(o.logLevel)
		if !ok {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q", o.logLevel)
		}
		cfg.Level = lvl
	}
	return logging.New(cfg), nil
}

// reconciler assembles a Reconciler from the flags. The hab binary is
// resolved here, once, and passed down explicitly.
func (o *globalOptions) reconciler(logger zerolog.Logger, extra ...habitat.Option) (*habitat.Reconciler, error) {
	hab := o.habPath
	if hab == "" {
		path, err := exec.LookPath(habitat.DefaultBinary)
		if err != nil {
			return nil, fmt.Errorf("finding %s: %w", habitat.DefaultBinary, err)
		}
		hab = path
	}

	opts := []habitat.Option{
		habitat.WithBinary(hab),
		habitat.WithGateway(o.gateway),
		habitat.WithLogger(logger),
		habitat.WithTempDir(o.tempDir),
	}
	if o.runner != nil {
		opts = append(opts, habitat.WithCommandRunner(o.runner))
	}

	switch o.settle {
	case "sleep", "":
		opts = append(opts, habitat.WithSettleDelays(o.bootstrapDelay, o.toggleDelay))
	case "poll":
		opts = append(opts, habitat.WithPolling(o.pollInterval, o.pollTimeout))
	default:
		return nil, fmt.Errorf("invalid settle mode %q (want sleep or poll)", o.settle)
	}

	opts = append(opts, extra...)
	return habitat.New(opts...), nil
}
