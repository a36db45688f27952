package main

import (
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/rowimport/internal/core"
)

func newProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the registered import profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defs := core.All()
			infos := make([]core.ProfileInfo, len(defs))
			for i, def := range defs {
				infos[i] = def.Info
			}
			return writeJSON(cmd.OutOrStdout(), output{Command: "profiles", Result: infos})
		},
	}
}
