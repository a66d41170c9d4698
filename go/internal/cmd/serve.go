package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/pokerclock/go/internal/config"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 10 * time.Second

var (
	serveRole string
	serveAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a primary or standby node",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveRole != "" {
			cfg.Server.Role = serveRole
		}
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runNode(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveRole, "role", "", "starting role: primary or standby")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address")
}

func runNode(ctx context.Context, cfg *config.Config) error {
	handle, err := setupDatabase(cfg)
	if err != nil {
		return err
	}
	services, err := setupServices(ctx, handle, cfg)
	if err != nil {
		handle.Close()
		return err
	}
	defer services.Close()

	server := setupServer(cfg, services)

	log.Info().
		Str("node_id", cfg.Server.NodeID).
		Str("role", cfg.Server.Role).
		Str("addr", cfg.Server.Addr).
		Str("primary_url", cfg.Replication.PrimaryURL).
		Msg("starting pokerclock node")

	// The poller follows the primary only while this node is a standby.
	services.Coordinator.OnPromote(func(context.Context) error {
		services.Poller.Stop()
		return nil
	})
	services.Coordinator.OnDemote(func(context.Context) error {
		services.Poller.Start(ctx)
		return nil
	})

	if cfg.Role() == models.RolePrimary {
		services.recoverTracked(ctx)
	} else {
		services.Poller.Start(ctx)
	}
	services.Coordinator.Start(ctx)

	if err := services.Relay.Start(ctx); err != nil {
		return fmt.Errorf("failed to start outbox relay: %w", err)
	}
	if services.ScheduleFile != nil {
		if err := services.ScheduleFile.Watch(ctx); err != nil {
			log.Warn().Err(err).Msg("schedule file will not be reloaded on change")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return services.Maintainer.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		services.Connections.CloseAll()
		services.Coordinator.Stop()
		services.Poller.Stop()
		if err := services.Relay.Stop(); err != nil {
			log.Warn().Err(err).Msg("outbox relay stop")
		}
		// persists the final state of every running clock
		services.Timers.StopAll(shutdownCtx)
		return nil
	})

	err = g.Wait()
	log.Info().Msg("pokerclock node shutdown complete")
	return err
}
