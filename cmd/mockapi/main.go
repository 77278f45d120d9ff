package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"modelgen/internal/infra"
	"modelgen/internal/mockgen"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim := mockgen.NewSimulator(mockgen.Options{
		StepInterval: cfg.MockStepInterval,
		FailureRate:  cfg.MockFailureRate,
		Logger:       &logger,
	})
	go sim.Run(ctx)

	server := infra.NewHTTPServer(cfg, cfg.MockPort, mockgen.NewServer(sim, &logger).Routes())
	go func() {
		logger.Info().Float64("failure_rate", cfg.MockFailureRate).Msgf("mock generation api listening on %s", server.Addr())
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("mockapi: http server failed")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("mockapi: shutdown failed")
	}
	logger.Info().Msg("mockapi stopped")
}
