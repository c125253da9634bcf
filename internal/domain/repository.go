package domain

import "context"

// GenerationStore defines persistence for generation rows. All mutations
// are single-row, keyed by id; terminal rows reject further mutation with
// ErrTerminalState.
type GenerationStore interface {
	// Create inserts a new row in StatusUploading or StatusPending.
	Create(ctx context.Context, g *Generation) error
	// MarkReady moves an uploading row to StatusPending once its asset
	// uploads finished, recording the submission details.
	MarkReady(ctx context.Context, id, videoURL, characterImageURL, characterName string, sendEmail bool) error
	// AdvanceToProcessing moves a non-terminal row into StatusProcessing,
	// recording the input asset references.
	AdvanceToProcessing(ctx context.Context, id, videoURL, characterImageURL string) error
	// SetRunToken records the worker run handle. A row carries at most one
	// token for its lifetime; a second call returns ErrRunTokenSet.
	SetRunToken(ctx context.Context, id, token string) error
	// Complete marks the row completed with its result key. Exactly one of
	// Complete/Fail succeeds per row.
	Complete(ctx context.Context, id, resultKey string) error
	// Fail marks the row failed with a structured envelope.
	Fail(ctx context.Context, id string, env *ErrorEnvelope) error
	// Delete removes the row when owned by owner. Deleting a non-terminal
	// row is the cancellation path. Returns false when nothing matched.
	Delete(ctx context.Context, id, owner string) (bool, error)
	// ListForOwner returns the owner's rows, most recent first, bounded.
	ListForOwner(ctx context.Context, owner string, limit int) ([]Generation, error)
	// Get fetches a row regardless of owner; ErrNotFound when absent.
	Get(ctx context.Context, id string) (*Generation, error)
}
