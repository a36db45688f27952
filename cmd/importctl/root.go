package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/rowimport/internal/config"
	"github.com/JonMunkholm/rowimport/internal/core"
	"github.com/JonMunkholm/rowimport/internal/logging"
	"github.com/JonMunkholm/rowimport/internal/store"
)

func newRootCmd() *cobra.Command {
	var (
		envFile   string
		logLevel  string
		logFormat string
	)

	cmd := &cobra.Command{
		Use:           "importctl",
		Short:         "Import tabular files and inspect import runs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil && cmd.Flags().Changed("env-file") {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			slog.SetDefault(logging.New(cmd.ErrOrStderr(), logLevel, logFormat))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before reading configuration")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newProfilesCmd())
	cmd.AddCommand(newSchemaCmd())
	cmd.AddCommand(newRunsCmd())
	cmd.AddCommand(newResetCmd())
	return cmd
}

// env is what the database-backed commands share.
type env struct {
	cfg     *config.Config
	pool    *pgxpool.Pool
	store   *store.Store
	service *core.Service
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	st := store.New(pool, slog.Default())

	service := core.NewService(st, core.Options{
		ChunkSize:   cfg.Import.ChunkSize,
		Delimiter:   cfg.Import.Delimiter,
		MaxFileSize: cfg.Import.MaxFileSize,
		MaxRows:     cfg.Import.MaxRows,
		RunTimeout:  cfg.Import.Timeout,
	}, slog.Default())

	return &env{cfg: cfg, pool: pool, store: st, service: service}, nil
}

func (e *env) Close() {
	e.pool.Close()
}

// reportError prints err, followed by its user-facing explanation when
// there is one.
func reportError(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	if core.IsUserFacing(err) {
		fmt.Fprintln(os.Stderr, core.FormatUserError(err))
	}
}
