package main

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/rowimport/internal/core"
	"github.com/JonMunkholm/rowimport/internal/logging"
)

func newRunCmd() *cobra.Command {
	var (
		profile   string
		options   map[string]string
		noUpdate  bool
		dryRun    bool
		progress  bool
		requestID string
	)

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Import a CSV, TSV or XLSX file through a profile and print a JSON summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if requestID == "" {
				requestID = uuid.NewString()
			}

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			opts := maps.Clone(options)
			if opts == nil {
				opts = make(map[string]string)
			}
			if noUpdate {
				opts["update_existing"] = "false"
			}
			req := core.ImportRequest{
				Profile:  profile,
				FileName: filepath.Base(args[0]),
				Data:     data,
				Options:  opts,
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), e.cfg.Import.Timeout)
			defer cancel()
			logger := logging.WithRun(ctx, requestID, profile)
			start := time.Now()

			if dryRun {
				preview, err := e.service.Preview(ctx, req)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), output{
					Command:    "run --dry-run",
					RequestID:  requestID,
					DurationMS: time.Since(start).Milliseconds(),
					Result:     preview,
				})
			}

			var onProgress core.ProgressCallback
			if progress {
				stderr := cmd.ErrOrStderr()
				onProgress = func(p core.RunProgress) {
					fmt.Fprintf(stderr, "%-9s %3d%% %s\n", p.Phase, p.Percent(), p.Step)
				}
			}

			logger.Info("run started", "file", req.FileName, "bytes", len(data))
			result, err := e.service.RunSync(ctx, req, onProgress)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), output{
				Command:    "run",
				RequestID:  requestID,
				DurationMS: time.Since(start).Milliseconds(),
				Result:     result,
			}); err != nil {
				return err
			}
			if result.Failed() {
				return fmt.Errorf("run %s failed: %s", result.RunID, result.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&profile, "profile", "p", "", "Import profile key (required)")
	cmd.Flags().StringToStringVarP(&options, "option", "o", nil, "Profile option as key=value (repeatable)")
	cmd.Flags().BoolVar(&noUpdate, "no-update", false, "Skip rows matching existing records instead of updating them")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Prepare the file and report what would be created, without writing")
	cmd.Flags().BoolVar(&progress, "progress", false, "Print progress lines to stderr")
	cmd.Flags().StringVar(&requestID, "request-id", "", "Request id for log correlation (default: random)")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}
