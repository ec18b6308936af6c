package tests

import (
	"context"
	"io"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabula/internal/app"
	"fabula/internal/models"
	"fabula/internal/tasks"
	"fabula/internal/worker"
)

// TestWorkerProcessesCatalogRefresh drives a refresh task through the real
// mux, worker and service into sqlite, the same path the asynq server takes.
func TestWorkerProcessesCatalogRefresh(t *testing.T) {
	cfg := testAppConfig(t)
	require.NoError(t, cfg.Validate())

	a, err := app.NewApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	seedCatalog(t, cfg.Database.SQLite.Path)

	mux := asynq.NewServeMux()
	worker.RegisterHandlers(mux, worker.Deps{
		Recommender: a.RecommendationService,
		Log:         a.Log,
	})

	task := asynq.NewTask(tasks.TypeCatalogRefresh, []byte(`{"metric":"jaccard"}`))
	require.NoError(t, mux.ProcessTask(context.Background(), task))

	runs, err := a.RunStore.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, "jaccard", runs[0].Metric)
	assert.Equal(t, 3, runs[0].StoriesProcessed)
}

func TestWorkerProcessesStoryRefresh(t *testing.T) {
	cfg := testAppConfig(t)
	require.NoError(t, cfg.Validate())

	a, err := app.NewApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	seedCatalog(t, cfg.Database.SQLite.Path)

	mux := asynq.NewServeMux()
	worker.RegisterHandlers(mux, worker.Deps{
		Recommender: a.RecommendationService,
		Log:         a.Log,
	})

	task := asynq.NewTask(tasks.TypeStoryRefresh, []byte(`{"story_id":1}`))
	require.NoError(t, mux.ProcessTask(context.Background(), task))

	recs, err := a.RecommendationStore.GetForStory(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	// A single-story refresh records no batch run.
	runs, err := a.RunStore.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestWorkerRejectsUnknownTaskType(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	mux := asynq.NewServeMux()
	worker.RegisterHandlers(mux, worker.Deps{Log: log})

	task := asynq.NewTask("recommendation:unknown", nil)
	assert.Error(t, mux.ProcessTask(context.Background(), task))
}
