package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"charactercam/server/internal/domain"
)

// GenerationRepositoryPG implements domain.GenerationStore.
type GenerationRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewGenerationRepository creates a generation store backed by PostgreSQL.
func NewGenerationRepository(pool *pgxpool.Pool) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{pool: pool}
}

// Create inserts a new generation row.
func (r *GenerationRepositoryPG) Create(ctx context.Context, g *domain.Generation) error {
	if g.Status != domain.StatusUploading && g.Status != domain.StatusPending {
		return fmt.Errorf("create generation in status %q: %w", g.Status, domain.ErrInvalidInput)
	}
	query := `
INSERT INTO generations (id, user_id, email, video_url, character_image_url, character_name, status, send_email)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	_, err := r.pool.Exec(ctx, query,
		g.ID,
		g.UserID,
		g.Email,
		g.VideoURL,
		g.CharacterImageURL,
		g.CharacterName,
		g.Status,
		g.SendEmail,
	)
	return err
}

// MarkReady promotes an uploading row to pending once the client reports
// its uploads finished.
func (r *GenerationRepositoryPG) MarkReady(ctx context.Context, id, videoURL, characterImageURL, characterName string, sendEmail bool) error {
	query := `
UPDATE generations
SET status = $2, video_url = $3, character_image_url = $4, character_name = $5, send_email = $6
WHERE id = $1 AND status = $7;
`
	tag, err := r.pool.Exec(ctx, query, id, domain.StatusPending, videoURL, characterImageURL, characterName, sendEmail, domain.StatusUploading)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.classifyMiss(ctx, id)
	}
	return nil
}

// AdvanceToProcessing moves an uploading/pending row into processing and
// records the final input references. The status guard in the WHERE clause
// is what makes a late advance on a terminal row a detectable logic error
// instead of a silent overwrite.
func (r *GenerationRepositoryPG) AdvanceToProcessing(ctx context.Context, id, videoURL, characterImageURL string) error {
	query := `
UPDATE generations
SET status = $2, video_url = $3, character_image_url = $4
WHERE id = $1 AND status IN ($5, $6);
`
	tag, err := r.pool.Exec(ctx, query, id, domain.StatusProcessing, videoURL, characterImageURL, domain.StatusUploading, domain.StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.classifyMiss(ctx, id)
	}
	return nil
}

// SetRunToken records the worker run handle, at most once per row.
func (r *GenerationRepositoryPG) SetRunToken(ctx context.Context, id, token string) error {
	query := `
UPDATE generations
SET run_token = $2
WHERE id = $1 AND run_token IS NULL;
`
	tag, err := r.pool.Exec(ctx, query, id, token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		g, getErr := r.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		if g.RunToken != "" {
			return domain.ErrRunTokenSet
		}
		return domain.ErrNotFound
	}
	return nil
}

// Complete marks a processing row completed. completed_at is written here
// and only here for the success path, so it is set exactly once.
func (r *GenerationRepositoryPG) Complete(ctx context.Context, id, resultKey string) error {
	query := `
UPDATE generations
SET status = $2, result_key = $3, completed_at = NOW()
WHERE id = $1 AND status = $4;
`
	tag, err := r.pool.Exec(ctx, query, id, domain.StatusCompleted, resultKey, domain.StatusProcessing)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.classifyMiss(ctx, id)
	}
	return nil
}

// Fail marks a non-terminal row failed with its structured envelope.
func (r *GenerationRepositoryPG) Fail(ctx context.Context, id string, env *domain.ErrorEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal error envelope: %w", err)
	}
	query := `
UPDATE generations
SET status = $2, error_message = $3, error = $4, completed_at = NOW()
WHERE id = $1 AND status IN ($5, $6, $7);
`
	tag, err := r.pool.Exec(ctx, query, id, domain.StatusFailed, env.Summary, payload,
		domain.StatusUploading, domain.StatusPending, domain.StatusProcessing)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.classifyMiss(ctx, id)
	}
	return nil
}

// Delete removes a row scoped to its owner.
func (r *GenerationRepositoryPG) Delete(ctx context.Context, id, owner string) (bool, error) {
	query := `
DELETE FROM generations
WHERE id = $1 AND user_id = $2;
`
	tag, err := r.pool.Exec(ctx, query, id, owner)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListForOwner returns the owner's rows, most recent first.
func (r *GenerationRepositoryPG) ListForOwner(ctx context.Context, owner string, limit int) ([]domain.Generation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
SELECT id, user_id, email, video_url, character_image_url, character_name,
       COALESCE(result_key, ''), status, COALESCE(run_token::text, ''), error, send_email, created_at, completed_at
FROM generations
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, query, owner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// Get fetches a row by id.
func (r *GenerationRepositoryPG) Get(ctx context.Context, id string) (*domain.Generation, error) {
	query := `
SELECT id, user_id, email, video_url, character_image_url, character_name,
       COALESCE(result_key, ''), status, COALESCE(run_token::text, ''), error, send_email, created_at, completed_at
FROM generations
WHERE id = $1;
`
	g, err := scanGeneration(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return g, nil
}

// classifyMiss distinguishes a mutation that matched no rows: the row is
// either gone (owner deleted it, i.e. cancelled) or already terminal.
func (r *GenerationRepositoryPG) classifyMiss(ctx context.Context, id string) error {
	g, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if g.Status.Terminal() {
		return domain.ErrTerminalState
	}
	return fmt.Errorf("generation %s in status %q: %w", id, g.Status, domain.ErrInvalidInput)
}

func scanGeneration(row pgx.Row) (*domain.Generation, error) {
	var g domain.Generation
	var errPayload []byte
	if err := row.Scan(
		&g.ID,
		&g.UserID,
		&g.Email,
		&g.VideoURL,
		&g.CharacterImageURL,
		&g.CharacterName,
		&g.ResultKey,
		&g.Status,
		&g.RunToken,
		&errPayload,
		&g.SendEmail,
		&g.CreatedAt,
		&g.CompletedAt,
	); err != nil {
		return nil, err
	}
	if len(errPayload) > 0 {
		var env domain.ErrorEnvelope
		if err := json.Unmarshal(errPayload, &env); err == nil {
			g.Error = &env
		}
	}
	return &g, nil
}

var _ domain.GenerationStore = (*GenerationRepositoryPG)(nil)
