package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"fabula/internal/models"
	"fabula/pkg/similarity"
)

// --- Job Client ---

type JobClient interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	EnqueueCatalogRefresh(ctx context.Context, metric string) (*asynq.TaskInfo, error)
	EnqueueStoryRefresh(ctx context.Context, storyID int64, metric string) (*asynq.TaskInfo, error)
	Close() error
}

// --- Catalog Store ---

// CatalogStore serves the story/genre/tag catalog. The snapshot methods
// (GetAllGenres, GetAllTags, GetStoriesForSimilarity) return value slices
// ordered by id: the engine requires one consistent vocabulary ordering
// per run, and callers must not share mutable rows across goroutines.
type CatalogStore interface {
	GetAllGenres(ctx context.Context) ([]models.Genre, error)
	GetAllTags(ctx context.Context) ([]models.Tag, error)
	// GetStoriesForSimilarity returns every story with the fields the
	// engine filters and vectorizes on. Drafts are included; exclusion is
	// the engine's job, not the query's.
	GetStoriesForSimilarity(ctx context.Context) ([]models.Story, error)

	GetStory(ctx context.Context, id int64) (*models.Story, error)
	GetStoriesByIDs(ctx context.Context, ids []int64) ([]*models.Story, error)
	ListStories(ctx context.Context, limit, offset int) ([]*models.Story, error)

	Ping(ctx context.Context) error
}

// --- Recommendation Store ---

type RecommendationStore interface {
	// ReplaceForStory swaps the story's persisted recommendation set in
	// one transaction.
	ReplaceForStory(ctx context.Context, storyID int64, recs []models.Recommendation) error
	// GetForStory returns recommendations ordered by rank; limit 0 means
	// all.
	GetForStory(ctx context.Context, storyID int64, limit int) ([]models.Recommendation, error)
}

// --- Run Store ---

type RunStore interface {
	CreateRun(ctx context.Context, run *models.BatchRun) error
	// FinishRun writes the run's terminal status, counters and timing.
	FinishRun(ctx context.Context, run *models.BatchRun) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.BatchRun, error)
	ListRuns(ctx context.Context, limit int) ([]*models.BatchRun, error)
}

// --- Vector Store ---

// VectorNeighbor is one hit from a vector-space nearest query.
type VectorNeighbor struct {
	StoryID int64
	Score   float64
}

// VectorStore keeps per-story feature-vector snapshots from the latest
// refresh for offline inspection and the vector-space read path.
type VectorStore interface {
	SaveVector(ctx context.Context, storyID int64, runID uuid.UUID, vec similarity.FeatureVector) error
	GetVector(ctx context.Context, storyID int64) (similarity.FeatureVector, error)
	// NearestStories ranks stored vectors by cosine distance to vec,
	// excluding excludeStoryID.
	NearestStories(ctx context.Context, vec similarity.FeatureVector, excludeStoryID int64, limit int) ([]VectorNeighbor, error)
	// DeleteAll clears the snapshot before a new run writes vectors of a
	// possibly different dimension.
	DeleteAll(ctx context.Context) error

	Ping(ctx context.Context) error
	Close() error
}
