package primary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"fabula/internal/models"
	"fabula/internal/store"
)

// --- Recommendations ---

// ReplaceForStory swaps the story's recommendation rows in a transaction
// so readers never observe a half-written set.
func (s *StoreImpl) ReplaceForStory(ctx context.Context, storyID int64, recs []models.Recommendation) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for story %d recommendations: %w", storyID, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM story_recommendations WHERE story_id = $1`, storyID); err != nil {
		return fmt.Errorf("failed to clear recommendations for story %d: %w", storyID, err)
	}

	sql := `
		INSERT INTO story_recommendations (story_id, similar_story_id, score, rank, metric, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	now := time.Now()
	for _, rec := range recs {
		if _, err := tx.Exec(ctx, sql, storyID, rec.SimilarStoryID, rec.Score, rec.Rank, rec.Metric, now); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23503" { // foreign_key_violation
				return fmt.Errorf("story %d or %d does not exist: %w", storyID, rec.SimilarStoryID, store.ErrForeignKeyViolation)
			}
			return fmt.Errorf("failed to insert recommendation %d -> %d: %w", storyID, rec.SimilarStoryID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit recommendations for story %d: %w", storyID, err)
	}
	return nil
}

// GetForStory returns the story's persisted recommendations ordered by
// rank. A limit of 0 returns all of them.
func (s *StoreImpl) GetForStory(ctx context.Context, storyID int64, limit int) ([]models.Recommendation, error) {
	query := `
		SELECT id, story_id, similar_story_id, score, rank, metric, computed_at
		FROM story_recommendations
		WHERE story_id = $1
		ORDER BY rank ASC`
	args := []interface{}{storyID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recommendations for story %d: %w", storyID, err)
	}
	defer rows.Close()

	var recs []models.Recommendation
	for rows.Next() {
		var rec models.Recommendation
		if err := rows.Scan(&rec.ID, &rec.StoryID, &rec.SimilarStoryID, &rec.Score, &rec.Rank, &rec.Metric, &rec.ComputedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recommendation row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recommendation rows: %w", err)
	}
	return recs, nil
}

// --- Batch Runs ---

func (s *StoreImpl) CreateRun(ctx context.Context, run *models.BatchRun) error {
	query := `
		INSERT INTO recommendation_runs
			(id, metric, status, stories_processed, recommendations_written, orphan_genre_refs, orphan_tag_refs, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.db.Exec(ctx, query,
		run.ID, run.Metric, run.Status,
		run.StoriesProcessed, run.RecommendationsWritten,
		run.OrphanGenreRefs, run.OrphanTagRefs, run.StartedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return fmt.Errorf("run %s already exists: %w", run.ID, store.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert recommendation run: %w", err)
	}
	return nil
}

func (s *StoreImpl) FinishRun(ctx context.Context, run *models.BatchRun) error {
	query := `
		UPDATE recommendation_runs
		SET status = $2, stories_processed = $3, recommendations_written = $4,
		    orphan_genre_refs = $5, orphan_tag_refs = $6, finished_at = $7, error = $8
		WHERE id = $1`
	tag, err := s.db.Exec(ctx, query,
		run.ID, run.Status,
		run.StoriesProcessed, run.RecommendationsWritten,
		run.OrphanGenreRefs, run.OrphanTagRefs,
		run.FinishedAt, run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to update recommendation run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found to finish: %w", run.ID, store.ErrNotFound)
	}
	return nil
}

func (s *StoreImpl) GetRun(ctx context.Context, id uuid.UUID) (*models.BatchRun, error) {
	query := `
		SELECT id, metric, status, stories_processed, recommendations_written,
		       orphan_genre_refs, orphan_tag_refs, started_at, finished_at, error
		FROM recommendation_runs
		WHERE id = $1`
	run := &models.BatchRun{}
	err := s.db.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.Metric, &run.Status,
		&run.StoriesProcessed, &run.RecommendationsWritten,
		&run.OrphanGenreRefs, &run.OrphanTagRefs,
		&run.StartedAt, &run.FinishedAt, &run.Error,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

func (s *StoreImpl) ListRuns(ctx context.Context, limit int) ([]*models.BatchRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, metric, status, stories_processed, recommendations_written,
		       orphan_genre_refs, orphan_tag_refs, started_at, finished_at, error
		FROM recommendation_runs
		ORDER BY started_at DESC
		LIMIT $1`
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recommendation runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.BatchRun
	for rows.Next() {
		run := &models.BatchRun{}
		if err := rows.Scan(
			&run.ID, &run.Metric, &run.Status,
			&run.StoriesProcessed, &run.RecommendationsWritten,
			&run.OrphanGenreRefs, &run.OrphanTagRefs,
			&run.StartedAt, &run.FinishedAt, &run.Error,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return runs, nil
}

// Ensure StoreImpl satisfies the recommendation interfaces
var _ store.RecommendationStore = (*StoreImpl)(nil)
var _ store.RunStore = (*StoreImpl)(nil)
