package main

import (
	"encoding/json"
	"errors"

	habitat "github.com/axondata/go-habitat"
	"github.com/spf13/cobra"
)

type statusReport struct {
	Service         string `json:"service"`
	State           string `json:"state"`
	Style           string `json:"style"`
	NextIncarnation uint64 `json:"next_incarnation,omitempty"`
	ProbeError      string `json:"probe_error,omitempty"`
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	var origin, name, group string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the state and start style the supervisor reports for a service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			logger, err := opts.logger()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			probe := habitat.NewProbe(habitat.WithAPIURL(opts.gateway), habitat.WithProbeLogger(logger))
			id := habitat.NewServiceIdentity(origin, name, group)

			report := statusReport{Service: id.String()}
			state, stateErr := probe.State(ctx, id)
			style, _ := probe.Style(ctx, id)
			report.State = state.String()
			report.Style = style.String()
			if stateErr != nil {
				report.ProbeError = stateErr.Error()
			}
			if inc, err := probe.NextIncarnation(ctx, id); err == nil {
				report.NextIncarnation = inc
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&origin, "origin", habitat.DefaultOrigin, "package origin")
	fl.StringVar(&name, "name", "", "service name")
	fl.StringVar(&group, "group", habitat.DefaultGroup, "service group")
	return cmd
}
