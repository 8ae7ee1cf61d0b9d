package main

import (
	"fmt"

	habitat "github.com/axondata/go-habitat"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			info := habitat.GetVersion()
			fmt.Fprintf(cmd.OutOrStdout(), "habconverge %s (gateway api %s)\n", info.Version, info.API)
		},
	}
}
