package main

import (
	"encoding/json"
	"errors"
	"fmt"

	habitat "github.com/axondata/go-habitat"
	"github.com/axondata/go-habitat/internal/desired"
	"github.com/spf13/cobra"
)

// serviceFlags describe a service on the command line
type serviceFlags struct {
	file       string
	origin     string
	name       string
	group      string
	state      string
	style      string
	configPath string
	supState   string
}

func (f *serviceFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.file, "file", "f", "", "desired-state document (toml, yaml or json); replaces the service flags")
	fl.StringVar(&f.origin, "origin", habitat.DefaultOrigin, "package origin")
	fl.StringVar(&f.name, "name", "", "service name")
	fl.StringVar(&f.group, "group", habitat.DefaultGroup, "service group")
	fl.StringVar(&f.state, "state", "up", "desired service state: up or down")
	fl.StringVar(&f.style, "style", "persistent", "desired start style: persistent or transient")
	fl.StringVarP(&f.configPath, "config", "c", "", "desired configuration file (toml, yaml or json)")
	fl.StringVar(&f.supState, "sup-state", "up", "desired supervisor state: up, down or ignore")
}

// request builds the reconciler request from either --file or the flags
func (f *serviceFlags) request() (habitat.Request, error) {
	if f.file != "" {
		return desired.Load(f.file)
	}

	sup, ok := habitat.ParseSupervisorState(f.supState)
	if !ok {
		return habitat.Request{}, fmt.Errorf("%w: sup-state %q", habitat.ErrInvalidDesired, f.supState)
	}
	req := habitat.Request{Supervisor: sup}
	if f.name == "" {
		return req, nil
	}

	svc := desired.Service{
		Origin: f.origin,
		Name:   f.name,
		Group:  f.group,
		State:  f.state,
		Style:  f.style,
	}
	d, err := svc.Desired()
	if err != nil {
		return habitat.Request{}, err
	}
	if f.configPath != "" {
		tree, err := desired.LoadConfig(f.configPath)
		if err != nil {
			return habitat.Request{}, err
		}
		d.Config = tree
	}
	req.Service = &d
	return req, nil
}

func newConvergeCmd(opts *globalOptions) *cobra.Command {
	sf := &serviceFlags{}

	cmd := &cobra.Command{
		Use:   "converge",
		Short: "Converge the supervisor and one service once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := sf.request()
			if err != nil {
				return err
			}
			logger, err := opts.logger()
			if err != nil {
				return err
			}
			r, err := opts.reconciler(logger)
			if err != nil {
				return err
			}

			out, err := r.Converge(cmd.Context(), req)
			if err != nil {
				var cerr *habitat.CommandError
				if errors.As(err, &cerr) {
					logger.Error().
						Strs("args", cerr.Args).
						Int("rc", cerr.ExitCode).
						Str("stdout", cerr.Stdout).
						Str("stderr", cerr.Stderr).
						Msg("supervisor command failed")
				}
				return err
			}
			return writeOutcome(cmd, out)
		},
	}
	sf.register(cmd)
	return cmd
}

func writeOutcome(cmd *cobra.Command, out habitat.Outcome) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	return enc.Encode(out)
}
