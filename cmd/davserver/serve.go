package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/calstack/davcore/internal/config"
	"github.com/calstack/davcore/internal/httpserver"
	"github.com/calstack/davcore/internal/logging"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the DAV server until SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel)

			srv, cleanup, err := httpserver.NewServer(cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			ch := make(chan os.Signal, 1)
			signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				if err != nil {
					logger.Error().Err(err).Msg("server stopped with error")
					return err
				}
			case <-ch:
				logger.Info().Msg("shutting down")
			}

			if err := srv.Shutdown(context.Background()); err != nil {
				logger.Error().Err(err).Msg("shutdown error")
				return err
			}
			logger.Info().Msg("bye")
			return nil
		},
	}
}
