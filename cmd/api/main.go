package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/fetch"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/infra/credentials"
	"server/internal/providers/genai"
	providerimage "server/internal/providers/image"
	"server/internal/regen"
	"server/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	sqlRunner := infra.NewSQLRunner(dbpool, logger)

	store, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize file store")
	}

	// The environment key wins; the integration_tokens table is the
	// fallback so keys rotated via the geminikey command take effect
	// without a redeploy.
	apiKey := cfg.GeminiAPIKey
	if apiKey == "" {
		if stored, err := credentials.NewStore(sqlRunner).GeminiAPIKey(ctx); err == nil && stored != "" {
			apiKey = stored
		}
	}

	genaiClient, err := genai.NewClient(genai.Options{
		APIKey:  apiKey,
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.GeminiImageModel,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize gemini client")
	}
	editor := providerimage.NewGeminiEditor(genaiClient, cfg.GeminiImageModel, cfg.GeminiUpscaleModel)

	fetcher := fetch.New(fetch.Options{
		Timeout:   cfg.FetchTimeout,
		Allowlist: cfg.ImageSourceAllowlist,
	})

	sections := repo.NewSectionRepository(dbpool)
	orchestrator := regen.NewOrchestrator(regen.Options{
		Fetcher:           fetcher,
		Editor:            editor,
		Store:             store,
		Committer:         sections,
		Entitlements:      repo.NewEntitlements(sqlRunner),
		Usage:             repo.NewUsageRecorder(sqlRunner, nil),
		Logger:            logger,
		StorageBaseURL:    cfg.StorageBaseURL,
		MaxUpscaleWidth:   cfg.MaxUpscaleWidth,
		GenerationTimeout: cfg.GenerationTimeout,
	})

	app := &handlers.App{
		SQL:      sqlRunner,
		Config:   cfg,
		Logger:   logger,
		Runner:   orchestrator,
		Versions: sections,
		Store:    store,
	}

	router := httpapi.NewRouter(app, cfg)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
