package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"charactercam/server/internal/adapter/repo"
	"charactercam/server/internal/domain"
	"charactercam/server/internal/infra"
	"charactercam/server/internal/notify"
	"charactercam/server/internal/providers/swap"
	"charactercam/server/internal/runner"
	"charactercam/server/internal/sqlinline"
	"charactercam/server/internal/storage"
)

const watchdogInterval = time.Minute

var errNoGenerationAvailable = errors.New("no generation available")

type generationWorker struct {
	runner       *runner.Runner
	sql          *infra.SQLRunner
	logger       infra.Logger
	pollInterval time.Duration
	jobBudget    time.Duration
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	fileStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	generator, err := swap.NewClient(swap.Options{
		APIKey:       cfg.SwapAPIKey,
		BaseURL:      cfg.SwapBaseURL,
		Model:        cfg.SwapModel,
		HTTPClient:   swap.NewHTTPClient(cfg.SwapCallTimeout),
		PollInterval: cfg.SwapPollInterval,
		PollDeadline: cfg.SwapPollDeadline,
		Logger:       &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure swap client")
	}

	store := repo.NewGenerationRepository(pool)
	jobRunner := runner.New(runner.Options{
		Store:     store,
		Generator: generator,
		Blobs:     fileStore,
		Notifier:  notify.NewEmailNotifier(cfg.SMTPAddr, cfg.SMTPFrom, cfg.StorageBaseURL),
		Provider:  "motionswap",
		Model:     generator.Model(),
		Logger:    logger,
	})

	worker := &generationWorker{
		runner:       jobRunner,
		sql:          infra.NewSQLRunner(pool, logger),
		logger:       logger,
		pollInterval: cfg.WorkerPollInterval,
		jobBudget:    cfg.WorkerJobBudget,
	}

	go worker.watchdog(ctx)

	if err := worker.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func (w *generationWorker) run(ctx context.Context) error {
	w.logger.Info().Msg("worker: started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		task, err := w.claim(ctx)
		if err != nil {
			if !errors.Is(err, errNoGenerationAvailable) {
				w.logger.Error().Err(err).Msg("worker: failed to claim generation")
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.pollInterval):
			}
			continue
		}

		w.handle(ctx, task)
	}
}

func (w *generationWorker) claim(ctx context.Context) (runner.Task, error) {
	row := w.sql.QueryRow(ctx, sqlinline.QClaimGeneration)
	var task runner.Task
	if err := row.Scan(&task.ID, &task.UserID, &task.Email, &task.VideoURL, &task.CharacterImageURL, &task.CharacterName, &task.SendEmail); err != nil {
		if infra.IsNoRows(err) {
			return runner.Task{}, errNoGenerationAvailable
		}
		return runner.Task{}, err
	}
	return task, nil
}

// handle runs one claimed generation under the wall-clock budget. The
// deadline bounds total work; a budget overrun fails the row through the
// runner's own error path rather than leaving it processing.
func (w *generationWorker) handle(ctx context.Context, task runner.Task) {
	w.logger.Info().Str("generation_id", task.ID).Msg("worker: picked generation")
	jobCtx, cancel := context.WithTimeout(ctx, w.jobBudget)
	defer cancel()

	if err := w.runner.Run(jobCtx, task); err != nil {
		w.logger.Error().Err(err).Str("generation_id", task.ID).Msg("worker: generation run failed")
	}
}

// watchdog sweeps for rows a crashed worker left processing past the
// budget, and for uploads abandoned before submission.
func (w *generationWorker) watchdog(ctx context.Context) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	stuckEnvelope, _ := json.Marshal(domain.NewEnvelope(domain.KindInfrastructure, "generation timed out", nil))
	abandonedEnvelope, _ := json.Marshal(domain.NewEnvelope(domain.KindValidation, "upload never completed", nil))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		tag, err := w.sql.Exec(ctx, sqlinline.QExpireStuck, int64(w.jobBudget.Seconds()), stuckEnvelope)
		if err != nil {
			w.logger.Error().Err(err).Msg("worker: watchdog sweep failed")
		} else if tag.RowsAffected() > 0 {
			w.logger.Warn().Int64("expired", tag.RowsAffected()).Msg("worker: failed stuck generations")
		}

		if tag, err := w.sql.Exec(ctx, sqlinline.QRequeueUnstarted, abandonedEnvelope); err == nil && tag.RowsAffected() > 0 {
			w.logger.Info().Int64("abandoned", tag.RowsAffected()).Msg("worker: failed abandoned uploads")
		}
	}
}
