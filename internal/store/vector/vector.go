package vector

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"fabula/internal/store"
	"fabula/pkg/similarity"
)

// StoreImpl keeps one feature vector per story in PostgreSQL. Every
// catalog refresh rewrites the whole snapshot, which keeps all stored
// vectors on one vocabulary dimension.
type StoreImpl struct {
	db *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (store.VectorStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("vector store DSN cannot be empty")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse vector store DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping vector store: %w", err)
	}
	return &StoreImpl{db: pool}, nil
}

func (vs *StoreImpl) Close() error {
	if vs.db != nil {
		vs.db.Close()
	}
	return nil
}

func (vs *StoreImpl) Ping(ctx context.Context) error {
	if vs.db == nil {
		return fmt.Errorf("vector store connection is not initialized")
	}
	return vs.db.Ping(ctx)
}

// SaveVector upserts the story's feature vector for the given run.
func (vs *StoreImpl) SaveVector(ctx context.Context, storyID int64, runID uuid.UUID, vec similarity.FeatureVector) error {
	query := `
		INSERT INTO story_vectors (story_id, run_id, vec, dim, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (story_id)
		DO UPDATE SET run_id = $2, vec = $3, dim = $4, updated_at = NOW()`
	_, err := vs.db.Exec(ctx, query, storyID, runID, toPgVector(vec), len(vec))
	if err != nil {
		return fmt.Errorf("save vector for story %d: %w", storyID, err)
	}
	return nil
}

func (vs *StoreImpl) GetVector(ctx context.Context, storyID int64) (similarity.FeatureVector, error) {
	query := `SELECT vec FROM story_vectors WHERE story_id = $1`
	var v pgvector.Vector
	err := vs.db.QueryRow(ctx, query, storyID).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get vector for story %d: %w", storyID, err)
	}
	return fromPgVector(v), nil
}

// NearestStories ranks stored vectors by cosine distance to vec. The
// returned score is 1 - distance, matching the engine's cosine scale.
func (vs *StoreImpl) NearestStories(ctx context.Context, vec similarity.FeatureVector, excludeStoryID int64, limit int) ([]store.VectorNeighbor, error) {
	query := `
		SELECT story_id, 1 - (vec <=> $1) AS score
		FROM story_vectors
		WHERE story_id <> $2
		ORDER BY vec <=> $1
		LIMIT $3`
	rows, err := vs.db.Query(ctx, query, toPgVector(vec), excludeStoryID, limit)
	if err != nil {
		return nil, fmt.Errorf("nearest stories query: %w", err)
	}
	defer rows.Close()

	var neighbors []store.VectorNeighbor
	for rows.Next() {
		var n store.VectorNeighbor
		if err := rows.Scan(&n.StoryID, &n.Score); err != nil {
			return nil, fmt.Errorf("scan nearest story row: %w", err)
		}
		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nearest story rows: %w", err)
	}
	return neighbors, nil
}

// DeleteAll clears the snapshot. Called before a refresh writes vectors
// whose dimension may differ from the previous run's.
func (vs *StoreImpl) DeleteAll(ctx context.Context) error {
	if _, err := vs.db.Exec(ctx, `DELETE FROM story_vectors`); err != nil {
		return fmt.Errorf("delete story vectors: %w", err)
	}
	return nil
}

func toPgVector(vec similarity.FeatureVector) pgvector.Vector {
	out := make([]float32, len(vec))
	for i, x := range vec {
		out[i] = float32(x)
	}
	return pgvector.NewVector(out)
}

func fromPgVector(v pgvector.Vector) similarity.FeatureVector {
	in := v.Slice()
	out := make(similarity.FeatureVector, len(in))
	for i, x := range in {
		out[i] = float64(x)
	}
	return out
}
