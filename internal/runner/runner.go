package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"charactercam/server/internal/domain"
	"charactercam/server/internal/providers/swap"
)

// Task is one claimed generation handed to the runner.
type Task struct {
	ID                string
	UserID            string
	Email             string
	VideoURL          string
	CharacterImageURL string
	CharacterName     string
	SendEmail         bool
}

// BlobStore persists result artifacts and returns their stable storage key.
type BlobStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// Notification is the completion side-effect payload.
type Notification struct {
	To            string
	GenerationID  string
	CharacterName string
	ResultKey     string
}

// Notifier delivers the completion side-effect. Failures are logged and
// swallowed; they never roll a completed generation back.
type Notifier interface {
	GenerationCompleted(ctx context.Context, n Notification) error
}

// Runner orchestrates one generation end-to-end: validate, advance, record
// the run token, call the provider under the retry policy, persist the
// artifact, mark terminal state, fire the notification.
type Runner struct {
	store     domain.GenerationStore
	generator swap.Generator
	blobs     BlobStore
	notifier  Notifier
	retry     *RetryPolicy
	provider  string
	model     string
	logger    zerolog.Logger
}

// Options wires the runner's collaborators.
type Options struct {
	Store     domain.GenerationStore
	Generator swap.Generator
	Blobs     BlobStore
	Notifier  Notifier
	Retry     *RetryPolicy
	Provider  string
	Model     string
	Logger    zerolog.Logger
}

func New(opts Options) *Runner {
	retry := opts.Retry
	if retry == nil {
		retry = NewRetryPolicy()
	}
	provider := opts.Provider
	if provider == "" {
		provider = "motionswap"
	}
	return &Runner{
		store:     opts.Store,
		generator: opts.Generator,
		blobs:     opts.Blobs,
		notifier:  opts.Notifier,
		retry:     retry,
		provider:  provider,
		model:     opts.Model,
		logger:    opts.Logger,
	}
}

// Run executes one task. All failures inside the pipeline are caught here,
// converted to a structured envelope and written through Fail; Run itself
// only returns an error when even that write was impossible, so a task can
// never be left processing by the runner.
func (r *Runner) Run(ctx context.Context, task Task) error {
	logger := r.logger.With().Str("generation_id", task.ID).Logger()

	if err := validateTask(task); err != nil {
		logger.Error().Err(err).Msg("runner: rejecting task with missing inputs")
		return r.fail(ctx, logger, task.ID, domain.NewEnvelope(domain.KindValidation, "submission was missing required inputs", err))
	}

	if err := r.ensureProcessing(ctx, task); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Info().Msg("runner: generation deleted before start, treating as cancelled")
			return nil
		}
		logger.Error().Err(err).Msg("runner: failed to advance generation")
		return r.fail(ctx, logger, task.ID, domain.NewEnvelope(domain.KindInfrastructure, "could not start generation", err))
	}

	token := uuid.NewString()
	if err := r.store.SetRunToken(ctx, task.ID, token); err != nil {
		if errors.Is(err, domain.ErrRunTokenSet) {
			// A second run for the same row is a bug, not a retry path.
			logger.Error().Msg("runner: run token already set, refusing duplicate run")
			return domain.ErrRunTokenSet
		}
		if errors.Is(err, domain.ErrNotFound) {
			logger.Info().Msg("runner: generation deleted before start, treating as cancelled")
			return nil
		}
		return r.fail(ctx, logger, task.ID, domain.NewEnvelope(domain.KindInfrastructure, "could not record run token", err))
	}
	logger = logger.With().Str("run_token", token).Logger()

	var result *swap.Result
	attempts := 0
	err := r.retry.Do(ctx, logger, func(ctx context.Context) error {
		attempts++
		var genErr error
		result, genErr = r.generator.Generate(ctx, swap.Request{
			VideoURL:          task.VideoURL,
			CharacterImageURL: task.CharacterImageURL,
			RequestID:         task.ID,
		})
		return genErr
	})
	if err != nil {
		logger.Error().Err(err).Int("attempts", attempts).Msg("runner: provider call failed")
		return r.fail(ctx, logger, task.ID, r.providerEnvelope(err))
	}
	logger.Info().Int("attempts", attempts).Int("bytes", len(result.Data)).Msg("runner: provider call succeeded")

	// The provider call is the only step the job budget may abandon. The
	// call is billable, so once it returned, the artifact and terminal
	// writes must land even when the budget expired mid-call.
	persistCtx := context.WithoutCancel(ctx)

	key := resultKey(task.ID, result.Format)
	storedKey, err := r.blobs.Write(persistCtx, key, result.Data)
	if err != nil {
		logger.Error().Err(err).Msg("runner: failed to persist artifact")
		return r.fail(ctx, logger, task.ID, domain.NewEnvelope(domain.KindInfrastructure, "could not store generated video", err))
	}

	if err := r.store.Complete(persistCtx, task.ID, storedKey); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Info().Msg("runner: generation deleted mid-run, dropping result")
			return nil
		}
		if errors.Is(err, domain.ErrTerminalState) {
			logger.Error().Msg("runner: generation already terminal, refusing second terminal transition")
			return domain.ErrTerminalState
		}
		logger.Error().Err(err).Msg("runner: failed to mark generation completed")
		return r.fail(ctx, logger, task.ID, domain.NewEnvelope(domain.KindInfrastructure, "could not record result", err))
	}

	r.notify(persistCtx, logger, task, storedKey)
	return nil
}

// ensureProcessing makes the row processing when the claim path has not
// already done so. Claimed rows arrive processing; direct invocations (and
// tests) may hand the runner a pending or uploading row.
func (r *Runner) ensureProcessing(ctx context.Context, task Task) error {
	g, err := r.store.Get(ctx, task.ID)
	if err != nil {
		return err
	}
	if g.Status == domain.StatusProcessing {
		return nil
	}
	if g.Status.Terminal() {
		return domain.ErrTerminalState
	}
	return r.store.AdvanceToProcessing(ctx, task.ID, task.VideoURL, task.CharacterImageURL)
}

func (r *Runner) providerEnvelope(err error) *domain.ErrorEnvelope {
	env := domain.NewEnvelope(domain.KindProvider, "video generation failed", err)
	env.Provider = r.provider
	env.Model = r.model
	var swapErr *swap.Error
	if errors.As(err, &swapErr) {
		env.Code = swapErr.StatusCode
		env.Details = swapErr.Details
		if swapErr.Message != "" {
			env.Summary = swapErr.Message
		}
	}
	return env
}

// fail writes the terminal failure. The write runs detached from the job
// context: when the budget expires mid-provider-call the real provider
// envelope must still land instead of the row sitting in processing until
// the watchdog overwrites it with a generic timeout. A missing row means
// the owner deleted it (cancelled); an already-terminal row is a logic
// error worth shouting about but not worth crashing the worker.
func (r *Runner) fail(ctx context.Context, logger zerolog.Logger, id string, env *domain.ErrorEnvelope) error {
	err := r.store.Fail(context.WithoutCancel(ctx), id, env)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound):
		logger.Info().Msg("runner: generation deleted before failure could be recorded")
		return nil
	case errors.Is(err, domain.ErrTerminalState):
		logger.Error().Str("kind", string(env.Kind)).Msg("runner: fail on terminal generation, invariant bug")
		return domain.ErrTerminalState
	default:
		logger.Error().Err(err).Msg("runner: could not record failure")
		return fmt.Errorf("record failure: %w", err)
	}
}

func (r *Runner) notify(ctx context.Context, logger zerolog.Logger, task Task, storedKey string) {
	if r.notifier == nil || !task.SendEmail || task.Email == "" {
		return
	}
	err := r.notifier.GenerationCompleted(ctx, Notification{
		To:            task.Email,
		GenerationID:  task.ID,
		CharacterName: task.CharacterName,
		ResultKey:     storedKey,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("runner: completion notification failed")
	}
}

func validateTask(task Task) error {
	var missing []string
	if task.UserID == "" {
		missing = append(missing, "user")
	}
	if task.VideoURL == "" {
		missing = append(missing, "video_url")
	}
	if task.CharacterImageURL == "" {
		missing = append(missing, "character_image_url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s: %w", strings.Join(missing, ", "), domain.ErrInvalidInput)
	}
	return nil
}

func resultKey(id, format string) string {
	ext := ".mp4"
	if strings.Contains(format, "webm") {
		ext = ".webm"
	}
	return "generations/" + id + "/result" + ext
}
