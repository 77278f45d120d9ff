package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"modelgen/internal/domain"
	"modelgen/internal/genapi"
	"modelgen/internal/http/handlers"
	httpapi "modelgen/internal/http/httpapi"
	"modelgen/internal/infra"
	"modelgen/internal/jobs"
	"modelgen/internal/notify"
	"modelgen/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	history, closeHistory := openHistory(ctx, cfg, &logger)
	defer closeHistory()

	settingsFile, err := storage.NewSettingsFile(cfg.SettingsFile, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("studio: settings file init failed")
	}
	settings, err := settingsFile.Load(ctx, domain.Settings{
		APIURL:       cfg.APIURL,
		AutoDownload: cfg.AutoDownload,
		MaxHistory:   cfg.MaxHistory,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("studio: stored settings unreadable, using defaults")
	}

	assets, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("studio: storage init failed")
	}
	outputs, err := storage.NewFileStore(cfg.OutputDirectory)
	if err != nil {
		logger.Fatal().Err(err).Msg("studio: output directory init failed")
	}

	client := genapi.NewClient(genapi.Options{
		BaseURL:         settings.APIURL,
		Logger:          &logger,
		SubmitTimeout:   cfg.SubmitTimeout,
		StatusTimeout:   cfg.StatusTimeout,
		DownloadTimeout: cfg.DownloadTimeout,
	})

	hub := notify.NewHub(0)
	notifier := notify.Multi{notify.NewLog(&logger), hub}

	registry := jobs.NewRegistry(jobs.RegistryOptions{Logger: &logger})
	scheduler := jobs.NewScheduler(ctx, registry, client, jobs.SchedulerOptions{
		Interval:      cfg.PollInterval,
		MaxConcurrent: cfg.MaxConcurrentPolls,
		Notifier:      notifier,
		Logger:        &logger,
	})
	saver := jobs.NewSaver(registry, history, jobs.SaverOptions{
		Debounce:   cfg.SaveDebounce,
		MaxHistory: settings.MaxHistory,
		Notifier:   notifier,
		Logger:     &logger,
	})
	manager := jobs.NewManager(ctx, registry, client, assets, outputs, jobs.ManagerOptions{
		AutoDownload: settings.AutoDownload,
		Notifier:     notifier,
		Logger:       &logger,
	})

	restored := saver.Restore(ctx)
	logger.Info().Int("jobs", restored).Msg("studio: history restored")

	app := handlers.NewApp(handlers.Deps{
		Registry:       registry,
		Manager:        manager,
		Scheduler:      scheduler,
		Saver:          saver,
		Hub:            hub,
		Endpoint:       client,
		Settings:       settingsFile,
		Logger:         &logger,
		OriginPatterns: httpapi.OriginPatterns(cfg.CORSAllowedOrigins),
	})
	router := httpapi.NewRouter(ctx, app, httpapi.Options{
		Logger:          logger,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})
	server := infra.NewHTTPServer(cfg, cfg.Port, router)

	go func() {
		logger.Info().Str("api_url", client.BaseURL()).Msgf("studio listening on %s", server.Addr())
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("studio: http server failed")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("studio: http shutdown failed")
	}
	scheduler.Stop()
	manager.Close()
	app.Close()
	if err := saver.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("studio: final history save failed")
	}
	logger.Info().Msg("studio stopped")
}

// openHistory selects the durable job history backend.
func openHistory(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (jobs.Store, func()) {
	if cfg.HistoryBackend == infra.HistoryBackendPostgres {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("studio: db connection failed")
		}
		pg := storage.NewPGHistory(infra.NewSQLRunner(pool, *logger), cfg.HistoryProfile)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			logger.Fatal().Err(err).Msg("studio: history schema failed")
		}
		logger.Info().Str("profile", cfg.HistoryProfile).Msg("studio: using postgres history")
		return pg, pool.Close
	}

	file, err := storage.NewHistoryFile(cfg.HistoryFile, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("studio: history file init failed")
	}
	logger.Info().Str("path", file.Path()).Msg("studio: using file history")
	return file, func() {}
}
