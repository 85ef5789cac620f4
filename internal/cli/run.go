package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/tg2fibery/internal/config"
	"github.com/roach88/tg2fibery/internal/engine"
	"github.com/roach88/tg2fibery/internal/fibery"
	"github.com/roach88/tg2fibery/internal/telegram"
)

// SyncOptions holds flags for a sync pass.
type SyncOptions struct {
	*RootOptions
	SecretPath string
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(opts.SecretPath, config.WithFlag(cmd.Flags(), "limit", config.KeySyncLimit))
	if err != nil {
		_ = out.Fatal(err)
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	logLevel := cfg.LogLevel
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		"path", cfg.Path,
		"telegram", cfg.SourceNetloc,
		"fibery", cfg.DestNetloc,
		"type", cfg.Schema.Type,
		"limit", cfg.FetchLimit,
	)

	source := telegram.NewClient(telegram.ClientOptions{
		BaseURL: cfg.SourceNetloc,
		Token:   cfg.SourceToken,
		Logger:  logger,
	})
	workspace := fibery.NewClient(fibery.ClientOptions{
		BaseURL: cfg.DestNetloc,
		Token:   cfg.DestToken,
		Schema:  cfg.Schema,
		Logger:  logger,
	})
	eng := engine.New(source, workspace, engine.UUIDGenerator{}, engine.WithLogger(logger))

	report, err := eng.Run(context.Background(), cfg.FetchLimit)
	if err != nil {
		_ = out.Fatal(err)
		return WrapExitError(ExitFailure, "sync failed", err)
	}

	return out.Report(report)
}
