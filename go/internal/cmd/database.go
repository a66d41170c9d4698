package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mcdev12/pokerclock/go/internal/config"
	"github.com/mcdev12/pokerclock/go/internal/database"
	"github.com/rs/zerolog/log"
)

func setupDatabase(cfg *config.Config) (*database.Handle, error) {
	handle, err := database.NewHandle(cfg.Database())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := handle.Ping(ctx); err != nil {
		handle.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Str("path", cfg.DB.Path).Str("role", cfg.Server.Role).Msg("connected to database")
	return handle, nil
}
