package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/wastetrack/wastetrack/internal/app"
	"github.com/wastetrack/wastetrack/internal/bsd"
	"github.com/wastetrack/wastetrack/internal/bsda"
	"github.com/wastetrack/wastetrack/internal/bsdasri"
	"github.com/wastetrack/wastetrack/internal/bsdd"
	"github.com/wastetrack/wastetrack/internal/bsff"
	"github.com/wastetrack/wastetrack/internal/bsvhu"
	"github.com/wastetrack/wastetrack/internal/index"
	"github.com/wastetrack/wastetrack/internal/observability"
	"github.com/wastetrack/wastetrack/internal/platform/db"
	"github.com/wastetrack/wastetrack/internal/projection"
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

	bsddRepo := bsdd.NewRepository(pool, logger)
	bsdaRepo := bsda.NewRepository(pool, logger)
	bsdasriRepo := bsdasri.NewRepository(pool, logger)
	bsffRepo := bsff.NewRepository(pool, logger)
	bsvhuRepo := bsvhu.NewRepository(pool, logger)

	sources := map[bsd.Type]projection.Source{
		bsd.TypeBSDD: func(ctx context.Context, id string) (index.Document, error) {
			f, err := bsddRepo.FindForm(ctx, id)
			if err != nil {
				return index.Document{}, err
			}
			return bsdd.ToIndexDocument(&f), nil
		},
		bsd.TypeBSDA: func(ctx context.Context, id string) (index.Document, error) {
			b, err := bsdaRepo.Find(ctx, id)
			if err != nil {
				return index.Document{}, err
			}
			return bsda.ToIndexDocument(&b), nil
		},
		bsd.TypeBSDASRI: func(ctx context.Context, id string) (index.Document, error) {
			b, err := bsdasriRepo.Find(ctx, id)
			if err != nil {
				return index.Document{}, err
			}
			return bsdasri.ToIndexDocument(&b), nil
		},
		bsd.TypeBSFF: func(ctx context.Context, id string) (index.Document, error) {
			b, err := bsffRepo.Find(ctx, id)
			if err != nil {
				return index.Document{}, err
			}
			return bsff.ToIndexDocument(&b), nil
		},
		bsd.TypeBSVHU: func(ctx context.Context, id string) (index.Document, error) {
			b, err := bsvhuRepo.Find(ctx, id)
			if err != nil {
				return index.Document{}, err
			}
			return bsvhu.ToIndexDocument(&b), nil
		},
	}

	metrics := observability.NewMetrics()
	projector := projection.NewProjector(sources, index.NewPGStore(pool), logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskBsdReindex, Handler: jobs.NewReindexHandler(projector, metrics, logger)},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
