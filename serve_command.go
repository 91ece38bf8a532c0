package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aouyang1/framectl/api"
	"github.com/aouyang1/framectl/api/client"
	"github.com/aouyang1/framectl/config"
	"github.com/aouyang1/framectl/controller"
	"github.com/aouyang1/framectl/store"
	"github.com/spf13/cobra"
)

func controllerOptions(cfg *config.Config, db *store.Database) controller.Options {
	return controller.Options{
		Store:             db,
		PollInterval:      cfg.Controller.PollInterval(),
		TransformDebounce: cfg.Controller.TransformDebounce(),
		TransformRetry:    cfg.Controller.TransformRetry(),
		SettingsDebounce:  cfg.Controller.SettingsDebounce(),
	}
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control page, importers and power schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			db, err := store.NewDatabase(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer db.Close()

			// the config file seeds the schedule on every start; edits made
			// from the page last until the next restart
			if err := db.UpsertSchedule(&store.Schedule{
				Enabled: cfg.Schedule.Enabled,
				Start:   cfg.Schedule.Start,
				End:     cfg.Schedule.End,
			}); err != nil {
				return err
			}

			fc := client.NewFrameClient(cfg.Frame.APIURL, cfg.Frame.Timeout())

			ctrl := controller.New(runCtx, fc, controllerOptions(cfg, db))
			ctrl.Start()
			defer ctrl.Close()

			ws, err := api.NewWebServer(ctrl, fc, db, api.ServerOptionsFromConfig(cfg.UI))
			if err != nil {
				return err
			}

			localManager, err := api.NewLocalManager(cfg.Import, fc, db)
			if err != nil && !errors.Is(err, api.ErrImporterDisabled) {
				return fmt.Errorf("failed to initialize local manager: %w", err)
			}
			remoteManager, err := api.NewRemoteManager(runCtx, cfg.Import, fc, db)
			if err != nil && !errors.Is(err, api.ErrImporterDisabled) {
				return fmt.Errorf("failed to initialize remote manager: %w", err)
			}
			scheduleManager, err := api.NewScheduleManager(db, ctrl)
			if err != nil {
				return fmt.Errorf("failed to initialize schedule manager: %w", err)
			}
			ws.AttachManagers(localManager, remoteManager, scheduleManager)

			for _, source := range []string{store.SourceLocal, store.SourceS3} {
				count, err := db.GetUploadCount(source)
				if err != nil {
					slog.Warn("error while counting imported files", "source", source, "error", err)
					continue
				}
				slog.Info("imported files on record", "source", source, "count", count)
			}

			slog.Info("framectl serving",
				"frame", fc.BaseURL(),
				"listen", cfg.UI.Listen,
				"local_import", cfg.Import.LocalEnabled(),
				"s3_import", cfg.Import.S3Enabled(),
				"schedule", cfg.Schedule.Enabled,
			)
			return ws.Start(runCtx, cfg.UI.Listen)
		},
	}
}
