// Package worker holds the asynq task handlers for recommendation
// refreshes. Handlers classify failures: malformed payloads, unknown
// metrics, missing stories and vocabulary bugs are permanent and skip
// retry; everything else (databases, Redis) is left to asynq's backoff.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"fabula/internal/models"
	"fabula/internal/services"
	"fabula/internal/store"
	"fabula/internal/tasks"
	"fabula/pkg/similarity"
)

// Recommender is the slice of the recommendation service the handlers
// need.
type Recommender interface {
	RefreshCatalog(ctx context.Context, params services.RefreshCatalogParams) (*models.BatchRun, error)
	RefreshStory(ctx context.Context, storyID int64, params services.RefreshStoryParams) (int, error)
}

type Deps struct {
	Recommender Recommender
	Log         *logrus.Logger
}

// CatalogRefreshPayload is the tasks.TypeCatalogRefresh payload. An empty
// Metric means the configured default.
type CatalogRefreshPayload struct {
	Metric string `json:"metric"`
}

// StoryRefreshPayload is the tasks.TypeStoryRefresh payload.
type StoryRefreshPayload struct {
	StoryID int64  `json:"story_id"`
	Metric  string `json:"metric"`
}

// RegisterHandlers wires every task type this worker serves onto mux.
func RegisterHandlers(mux *asynq.ServeMux, deps Deps) {
	mux.HandleFunc(tasks.TypeCatalogRefresh, HandleCatalogRefresh(deps))
	mux.HandleFunc(tasks.TypeStoryRefresh, HandleStoryRefresh(deps))
}

// HandleCatalogRefresh runs a full-catalog recommendation refresh.
func HandleCatalogRefresh(deps Deps) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p CatalogRefreshPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("unmarshal %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
		}
		deps.Log.WithField("metric", p.Metric).Info("catalog refresh task started")

		run, err := deps.Recommender.RefreshCatalog(ctx, services.RefreshCatalogParams{Metric: p.Metric})
		if err != nil {
			return classify(fmt.Errorf("refresh catalog: %w", err))
		}
		deps.Log.WithFields(logrus.Fields{
			"run_id":                  run.ID,
			"stories_processed":       run.StoriesProcessed,
			"recommendations_written": run.RecommendationsWritten,
		}).Info("catalog refresh task completed")
		return nil
	}
}

// HandleStoryRefresh refreshes the recommendations of a single story.
func HandleStoryRefresh(deps Deps) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p StoryRefreshPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("unmarshal %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
		}
		if p.StoryID <= 0 {
			return fmt.Errorf("story refresh: invalid story id %d: %w", p.StoryID, asynq.SkipRetry)
		}
		deps.Log.WithFields(logrus.Fields{"story_id": p.StoryID, "metric": p.Metric}).Info("story refresh task started")

		written, err := deps.Recommender.RefreshStory(ctx, p.StoryID, services.RefreshStoryParams{Metric: p.Metric})
		if err != nil {
			return classify(fmt.Errorf("refresh story %d: %w", p.StoryID, err))
		}
		deps.Log.WithFields(logrus.Fields{"story_id": p.StoryID, "written": written}).Info("story refresh task completed")
		return nil
	}
}

// classify marks errors that retrying can never fix with asynq.SkipRetry.
func classify(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, similarity.ErrUnknownMetric),
		errors.Is(err, similarity.ErrDimensionMismatch):
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	default:
		return err
	}
}
