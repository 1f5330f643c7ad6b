package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"tft-tracker/internal/config"
	"tft-tracker/internal/constants"
	fxmodules "tft-tracker/internal/fx"
	"tft-tracker/internal/notify"
	"tft-tracker/internal/server"
	"tft-tracker/internal/service"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(runTracker),
	).Run()
}

func runTracker(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	tracker *service.Tracker,
	session *discordgo.Session,
	commands *notify.CommandHandler,
	ops *server.OpsServer,
	cfg *config.Config,
	db *sql.DB,
	logger zerolog.Logger,
) {
	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("ops_port", cfg.OpsPort).
		Str("log_level", cfg.LogLevel).
		Dur("poll_interval", cfg.PollInterval).
		Msg("configuration loaded")

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.OpsPort),
		Handler: ops.Handler(),
	}

	trackerCtx, cancelTracker := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := session.Open(); err != nil {
				return fmt.Errorf("failed to open discord session: %w", err)
			}
			logger.Info().Str("user", session.State.User.Username).Msg("discord session open")

			if err := commands.Register(session); err != nil {
				return err
			}

			go func() {
				logger.Info().Str("addr", srv.Addr).Msg("ops server starting")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal().Err(err).Msg("ops server failed")
				}
			}()

			go func() {
				err := tracker.Run(trackerCtx)
				if errors.Is(err, service.ErrHalted) {
					logger.Error().Msg("tracker halted on rejected credential, shutting down")
					_ = shutdowner.Shutdown()
					return
				}
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Error().Err(err).Msg("tracker exited")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down")
			cancelTracker()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			commands.Unregister(session)
			if err := session.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing discord session")
			}

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("ops server shutdown failed")
			}

			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}

			logger.Info().Msg("stopped gracefully")
			return nil
		},
	})
}
