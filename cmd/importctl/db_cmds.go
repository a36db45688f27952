package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"
)

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the import tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			start := time.Now()
			if err := e.store.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), output{
				Command:    "schema",
				DurationMS: time.Since(start).Milliseconds(),
				Result:     map[string]bool{"ok": true},
			})
		},
	}
}

func newRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List finished import runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			runs, err := e.service.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), output{Command: "runs", Result: runs})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	return cmd
}

func newResetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Truncate every imported table and the run history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset deletes all imported data; pass --yes to confirm")
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			start := time.Now()
			if err := e.store.Reset(cmd.Context()); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), output{
				Command:    "reset",
				DurationMS: time.Since(start).Milliseconds(),
				Result:     map[string]bool{"ok": true},
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")
	return cmd
}
