package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/nguyen2715-hue/web/internal/batch"
	"github.com/nguyen2715-hue/web/internal/domain"
	"github.com/nguyen2715-hue/web/internal/http/handlers"
	httpapi "github.com/nguyen2715-hue/web/internal/http/httpapi"
	"github.com/nguyen2715-hue/web/internal/imagegen"
	"github.com/nguyen2715-hue/web/internal/infra"
	"github.com/nguyen2715-hue/web/internal/infra/credentials"
	"github.com/nguyen2715-hue/web/internal/metrics"
	"github.com/nguyen2715-hue/web/internal/middleware"
	"github.com/nguyen2715-hue/web/internal/overlay"
	"github.com/nguyen2715-hue/web/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store credentials.Source
	if cfg.HasDatabase() {
		dbpool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer dbpool.Close()
		sqlStore := credentials.NewStore(infra.NewSQLRunner(dbpool, logger))
		if err := sqlStore.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare credential table")
		}
		store = sqlStore
	}
	pool := credentials.NewPoolFromConfig(&logger, cfg, store)
	if err := pool.Refresh(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial credential refresh failed")
	}

	files, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare storage")
	}
	collector := metrics.NewCollector("imagegen")

	// Provider progress is republished on the runner's event bus, which only
	// exists once the runner is built.
	var runner *batch.Runner
	progress := domain.ProgressSink(func(msg string) {
		if runner != nil {
			runner.Progress()(msg)
		}
	})

	stack, err := imagegen.BuildStack(cfg, pool, imagegen.StackOptions{
		Mode:       imagegen.ModeWhisk,
		HTTPClient: &http.Client{},
		Logger:     &logger,
		Progress:   progress,
		Metrics:    collector,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build provider stack")
	}

	runner, err = batch.NewRunner(ctx, batch.RunnerOptions{
		Generator: stack.Generator,
		Pacer:     stack.Gate,
		Overlay:   overlay.NewBanner(),
		Store:     files,
		Logger:    &logger,
		Metrics:   collector,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build batch runner")
	}

	app := handlers.NewApp(runner, files, pool, &logger)
	app.DefaultTimeout = cfg.WhiskTimeout
	app.ReferenceDir = cfg.ReferenceDir
	if err := os.MkdirAll(cfg.ReferenceDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare reference image directory")
	}
	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		Logger:         &logger,
		Metrics:        collector.Handler(),
		AllowedOrigins: cfg.CORSAllowedOrigins,
		SubmitLimiter:  middleware.NewSubmitLimiter(cfg.SubmitRateLimit, cfg.SubmitRateWindow),
	})
	server := infra.NewHTTPServer(cfg, router, &logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, cfg.HTTPIdleTimeout)
	})
	g.Go(func() error {
		<-gctx.Done()
		if runner.Active() {
			_ = runner.Cancel()
			waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := runner.Wait(waitCtx); err != nil {
				logger.Warn().Err(err).Msg("batch run still in flight at shutdown")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}
