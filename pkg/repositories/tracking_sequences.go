package repositories

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/signportal/pkg/database"
	"github.com/ekaya-inc/signportal/pkg/tracking"
)

// trackingSequenceRepository is the PostgreSQL tracking.Sequence backend.
// The counter row stays locked until the caller's transaction ends, so concurrent
// document creation in one (year, category) serialises on it.
type trackingSequenceRepository struct{}

// NewTrackingSequenceRepository creates a PostgreSQL-backed tracking sequence.
func NewTrackingSequenceRepository() tracking.Sequence {
	return &trackingSequenceRepository{}
}

func (r *trackingSequenceRepository) Next(ctx context.Context, year int, categoryCode string) (int, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO tracking_sequences (year, category_code, last_value, updated_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (year, category_code) DO UPDATE
		SET last_value = tracking_sequences.last_value + 1,
		    updated_at = now()
		RETURNING last_value`

	var next int
	if err := q.QueryRow(ctx, query, year, categoryCode).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to advance tracking sequence: %w", err)
	}
	return next, nil
}

func (r *trackingSequenceRepository) Advance(ctx context.Context, year int, categoryCode string, floor int) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tracking_sequences (year, category_code, last_value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (year, category_code) DO UPDATE
		SET last_value = GREATEST(tracking_sequences.last_value, EXCLUDED.last_value),
		    updated_at = now()`

	if _, err := q.Exec(ctx, query, year, categoryCode, floor); err != nil {
		return fmt.Errorf("failed to advance tracking sequence: %w", err)
	}
	return nil
}
