package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"quantumgrid-backend/bootstrap"
	"quantumgrid-backend/internal/config"
	"quantumgrid-backend/internal/interfaces/router"
	"quantumgrid-backend/internal/pkg/logger"

	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	logger.Setup(cfg.LogLevel, cfg.Env)

	rt, err := bootstrap.New(cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Warn().Err(err).Msg("shutdown: closing connections")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rt.Serve(ctx, router.CreateApp(cfg, rt.Deps()), ":"+cfg.Port)
}
