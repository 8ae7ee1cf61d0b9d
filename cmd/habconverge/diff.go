package main

import (
	"encoding/json"
	"errors"

	habitat "github.com/axondata/go-habitat"
	"github.com/axondata/go-habitat/internal/desired"
	"github.com/spf13/cobra"
)

func newDiffCmd(opts *globalOptions) *cobra.Command {
	var origin, name, group, configPath string

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show which desired configuration keys differ from the running service",
		Long: `diff fetches the service's current configuration from the gateway and
prints the part of the desired configuration that is not already in
effect. It issues no supervisor commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" || configPath == "" {
				return errors.New("--name and --config are required")
			}
			want, err := desired.LoadConfig(configPath)
			if err != nil {
				return err
			}
			logger, err := opts.logger()
			if err != nil {
				return err
			}

			probe := habitat.NewProbe(habitat.WithAPIURL(opts.gateway), habitat.WithProbeLogger(logger))
			id := habitat.NewServiceIdentity(origin, name, group)
			observed, err := probe.Config(cmd.Context(), id)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(habitat.Diff(want, observed))
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&origin, "origin", habitat.DefaultOrigin, "package origin")
	fl.StringVar(&name, "name", "", "service name")
	fl.StringVar(&group, "group", habitat.DefaultGroup, "service group")
	fl.StringVarP(&configPath, "config", "c", "", "desired configuration file (toml, yaml or json)")
	return cmd
}
