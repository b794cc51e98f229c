package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/wastetrack/wastetrack/internal/app"
	"github.com/wastetrack/wastetrack/internal/bsda"
	"github.com/wastetrack/wastetrack/internal/bsdasri"
	"github.com/wastetrack/wastetrack/internal/bsdd"
	"github.com/wastetrack/wastetrack/internal/bsff"
	"github.com/wastetrack/wastetrack/internal/bsvhu"
	"github.com/wastetrack/wastetrack/internal/index"
	"github.com/wastetrack/wastetrack/internal/membership"
	"github.com/wastetrack/wastetrack/internal/observability"
	"github.com/wastetrack/wastetrack/internal/platform/cache"
	"github.com/wastetrack/wastetrack/internal/platform/db"
	"github.com/wastetrack/wastetrack/internal/revision"
	"github.com/wastetrack/wastetrack/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	members := membership.NewCache(redisClient, membership.NewPGLoader(pool), cfg.MembershipTTL)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	reindex := jobs.NewClient(redisOpts)
	defer func() {
		if err := reindex.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	bsddService := bsdd.NewService(bsdd.NewRepository(pool, logger), members, reindex, logger)
	bsdaService := bsda.NewService(bsda.NewRepository(pool, logger), members, reindex, logger)
	bsdasriService := bsdasri.NewService(bsdasri.NewRepository(pool, logger), members, reindex, logger)
	bsffService := bsff.NewService(bsff.NewRepository(pool, logger), members, reindex, logger)
	bsvhuService := bsvhu.NewService(bsvhu.NewRepository(pool, logger), members, reindex, logger)

	adapters := revision.DefaultAdapters()
	revisionService := revision.NewService(
		revision.NewRepository(pool, adapters, logger), members, reindex, adapters, logger)

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		BsddHandler:     bsdd.NewHandler(bsddService),
		BsdaHandler:     bsda.NewHandler(bsdaService),
		BsdasriHandler:  bsdasri.NewHandler(bsdasriService),
		BsffHandler:     bsff.NewHandler(bsffService),
		BsvhuHandler:    bsvhu.NewHandler(bsvhuService),
		RevisionHandler: revision.NewHandler(revisionService),
		SearchHandler:   app.NewSearchHandler(index.NewPGStore(pool), members),
		JobHandler:      jobs.NewHandler(asynq.NewInspector(redisOpts), logger),
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server run", slog.Any("error", err))
		os.Exit(1)
	}
}
