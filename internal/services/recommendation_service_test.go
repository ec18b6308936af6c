package services_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"fabula/internal/config"
	"fabula/internal/models"
	"fabula/internal/services"
	"fabula/internal/store"
	mock_store "fabula/internal/tests/mocks/store"
	"fabula/pkg/similarity"
)

func genrePtr(id int64) *int64 { return &id }

// Catalog fixture: two genres, two tags, vector dimension 4.
// story1 [1,0,1,1], story2 [1,0,1,0], story3 [0,1,0,1], story4 = draft
// copy of story1. Cosine story1/story2 = 2/sqrt(6) ~ 0.8165, story1/story3
// = 1/sqrt(6) ~ 0.4082.
var (
	testGenres = []models.Genre{{ID: 1, Name: "Fantasy"}, {ID: 2, Name: "Sci-Fi"}}
	testTags   = []models.Tag{{ID: 10, Name: "magic"}, {ID: 11, Name: "dragons"}}

	story1 = models.Story{ID: 1, AuthorID: 100, GenreID: genrePtr(1), Status: similarity.StatusPublished, Title: "The Ember Gate", TagIDs: []int64{10, 11}}
	story2 = models.Story{ID: 2, AuthorID: 200, GenreID: genrePtr(1), Status: similarity.StatusPublished, Title: "Cinder and Salt", TagIDs: []int64{10}}
	story3 = models.Story{ID: 3, AuthorID: 300, GenreID: genrePtr(2), Status: similarity.StatusCompleted, Title: "Orbital Drift", TagIDs: []int64{11}}
	story4 = models.Story{ID: 4, AuthorID: 100, GenreID: genrePtr(1), Status: similarity.StatusDraft, Title: "Unfinished Gate", TagIDs: []int64{10, 11}}
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Engine.Metric = "cosine"
	cfg.Engine.MaxPerStory = 10
	cfg.Engine.BatchSize = 2
	cfg.Engine.Parallelism = 2
	return cfg
}

func catalogMock(stories ...models.Story) *mock_store.CatalogStore {
	catalog := new(mock_store.CatalogStore)
	catalog.On("GetAllGenres", mock.Anything).Return(testGenres, nil)
	catalog.On("GetAllTags", mock.Anything).Return(testTags, nil)
	catalog.On("GetStoriesForSimilarity", mock.Anything).Return(stories, nil)
	return catalog
}

// recRecorder stubs ReplaceForStory and records the rows per story id.
// RefreshCatalog calls it from several goroutines.
func recRecorder(recs *mock_store.RecommendationStore) func(int64) []models.Recommendation {
	var mu sync.Mutex
	written := make(map[int64][]models.Recommendation)
	recs.On("ReplaceForStory", mock.Anything, mock.AnythingOfType("int64"), mock.Anything).
		Run(func(args mock.Arguments) {
			mu.Lock()
			defer mu.Unlock()
			written[args.Get(1).(int64)] = args.Get(2).([]models.Recommendation)
		}).
		Return(nil)
	return func(storyID int64) []models.Recommendation {
		mu.Lock()
		defer mu.Unlock()
		return written[storyID]
	}
}

func runsMock() *mock_store.RunStore {
	runs := new(mock_store.RunStore)
	runs.On("CreateRun", mock.Anything, mock.AnythingOfType("*models.BatchRun")).Return(nil)
	runs.On("FinishRun", mock.Anything, mock.AnythingOfType("*models.BatchRun")).Return(nil)
	return runs
}

func newService(catalog *mock_store.CatalogStore, recs *mock_store.RecommendationStore, runs *mock_store.RunStore, vectors store.VectorStore, cfg *config.Config) *services.RecommendationService {
	return services.NewRecommendationService(services.RecommendationServiceDeps{
		Catalog:         catalog,
		Recommendations: recs,
		Runs:            runs,
		Vectors:         vectors,
		Config:          cfg,
		Log:             testLogger(),
	})
}

func TestRefreshCatalog_WritesRankedRecommendations(t *testing.T) {
	catalog := catalogMock(story1, story2, story3)
	recs := new(mock_store.RecommendationStore)
	writtenFor := recRecorder(recs)
	runs := runsMock()

	svc := newService(catalog, recs, runs, nil, testConfig())
	run, err := svc.RefreshCatalog(context.Background(), services.RefreshCatalogParams{})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, "cosine", run.Metric)
	assert.Equal(t, 3, run.StoriesProcessed)
	assert.Equal(t, 6, run.RecommendationsWritten) // two candidates per story
	assert.NotNil(t, run.FinishedAt)

	got := writtenFor(1)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].SimilarStoryID)
	assert.InDelta(t, 0.8165, got[0].Score, 1e-3)
	assert.Equal(t, 1, got[0].Rank)
	assert.Equal(t, "cosine", got[0].Metric)
	assert.Equal(t, int64(3), got[1].SimilarStoryID)
	assert.InDelta(t, 0.4082, got[1].Score, 1e-3)
	assert.Equal(t, 2, got[1].Rank)

	runs.AssertExpectations(t)
	recs.AssertExpectations(t)
}

func TestRefreshCatalog_DraftIsTargetButNeverCandidate(t *testing.T) {
	catalog := catalogMock(story1, story2, story3, story4)
	recs := new(mock_store.RecommendationStore)
	writtenFor := recRecorder(recs)

	svc := newService(catalog, recs, runsMock(), nil, testConfig())
	run, err := svc.RefreshCatalog(context.Background(), services.RefreshCatalogParams{})
	require.NoError(t, err)

	assert.Equal(t, 4, run.StoriesProcessed)

	// The draft still gets its own recommendation list...
	draftRecs := writtenFor(4)
	require.Len(t, draftRecs, 3)
	assert.Equal(t, int64(1), draftRecs[0].SimilarStoryID) // identical vector, score 1.0
	assert.InDelta(t, 1.0, draftRecs[0].Score, 1e-9)

	// ...but never appears in anyone else's.
	for _, rec := range writtenFor(1) {
		assert.NotEqual(t, int64(4), rec.SimilarStoryID)
	}
}

func TestRefreshCatalog_AppliesThresholdAfterRanking(t *testing.T) {
	catalog := catalogMock(story1, story2, story3)
	recs := new(mock_store.RecommendationStore)
	writtenFor := recRecorder(recs)

	cfg := testConfig()
	cfg.Engine.SimilarityThreshold = 0.5

	svc := newService(catalog, recs, runsMock(), nil, cfg)
	run, err := svc.RefreshCatalog(context.Background(), services.RefreshCatalogParams{})
	require.NoError(t, err)

	// story1 keeps story2 (0.8165), loses story3 (0.4082); story3 keeps
	// nothing because its best candidate scores under the cutoff.
	assert.Len(t, writtenFor(1), 1)
	assert.Empty(t, writtenFor(3))
	assert.Equal(t, 2, run.RecommendationsWritten)
}

func TestRefreshCatalog_MetricOverride(t *testing.T) {
	catalog := catalogMock(story1, story2)
	recs := new(mock_store.RecommendationStore)
	writtenFor := recRecorder(recs)

	svc := newService(catalog, recs, runsMock(), nil, testConfig())
	run, err := svc.RefreshCatalog(context.Background(), services.RefreshCatalogParams{Metric: "jaccard"})
	require.NoError(t, err)

	assert.Equal(t, "jaccard", run.Metric)
	got := writtenFor(1)
	require.Len(t, got, 1)
	assert.Equal(t, "jaccard", got[0].Metric)
	assert.InDelta(t, 2.0/3.0, got[0].Score, 1e-9) // |{genre,magic}| / |{genre,magic,dragons}|
}

func TestRefreshCatalog_UnknownMetric(t *testing.T) {
	runs := new(mock_store.RunStore)
	svc := newService(catalogMock(story1), new(mock_store.RecommendationStore), runs, nil, testConfig())

	_, err := svc.RefreshCatalog(context.Background(), services.RefreshCatalogParams{Metric: "pearson"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown metric")
	runs.AssertNotCalled(t, "CreateRun", mock.Anything, mock.Anything)
}

func TestRefreshCatalog_CountsOrphanRefs(t *testing.T) {
	stray := models.Story{ID: 5, AuthorID: 500, GenreID: genrePtr(7), Status: similarity.StatusPublished, Title: "Stray", TagIDs: []int64{10, 99}}
	catalog := catalogMock(story1, stray)
	recs := new(mock_store.RecommendationStore)
	recRecorder(recs)

	svc := newService(catalog, recs, runsMock(), nil, testConfig())
	run, err := svc.RefreshCatalog(context.Background(), services.RefreshCatalogParams{})
	require.NoError(t, err)

	assert.Equal(t, 1, run.OrphanGenreRefs)
	assert.Equal(t, 1, run.OrphanTagRefs)
}

func TestRefreshCatalog_StoreErrorFailsRun(t *testing.T) {
	catalog := catalogMock(story1, story2)
	recs := new(mock_store.RecommendationStore)
	recs.On("ReplaceForStory", mock.Anything, mock.AnythingOfType("int64"), mock.Anything).
		Return(errors.New("replace blew up"))

	svc := newService(catalog, recs, runsMock(), nil, testConfig())
	run, err := svc.RefreshCatalog(context.Background(), services.RefreshCatalogParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replace blew up")

	assert.Equal(t, models.RunStatusFailed, run.Status)
	require.NotNil(t, run.Error)
	assert.Contains(t, *run.Error, "replace blew up")
	assert.NotNil(t, run.FinishedAt)
}

func TestRefreshCatalog_SnapshotsVectorsForNonDrafts(t *testing.T) {
	catalog := catalogMock(story1, story2, story4)
	recs := new(mock_store.RecommendationStore)
	recRecorder(recs)

	vectors := new(mock_store.VectorStore)
	vectors.On("DeleteAll", mock.Anything).Return(nil).Once()
	var mu sync.Mutex
	saved := make(map[int64]similarity.FeatureVector)
	vectors.On("SaveVector", mock.Anything, mock.AnythingOfType("int64"), mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			mu.Lock()
			defer mu.Unlock()
			saved[args.Get(1).(int64)] = args.Get(3).(similarity.FeatureVector)
		}).
		Return(nil)

	svc := newService(catalog, recs, runsMock(), vectors, testConfig())
	_, err := svc.RefreshCatalog(context.Background(), services.RefreshCatalogParams{})
	require.NoError(t, err)

	vectors.AssertExpectations(t)
	assert.Len(t, saved, 2) // the draft writes no vector
	assert.Equal(t, similarity.FeatureVector{1, 0, 1, 1}, saved[1])
	assert.Equal(t, similarity.FeatureVector{1, 0, 1, 0}, saved[2])
	assert.NotContains(t, saved, int64(4))
}

func TestRefreshStory(t *testing.T) {
	catalog := catalogMock(story1, story2, story3)
	recs := new(mock_store.RecommendationStore)
	writtenFor := recRecorder(recs)
	runs := new(mock_store.RunStore)

	svc := newService(catalog, recs, runs, nil, testConfig())
	written, err := svc.RefreshStory(context.Background(), 1, services.RefreshStoryParams{})
	require.NoError(t, err)

	assert.Equal(t, 2, written)
	assert.Len(t, writtenFor(1), 2)
	// Single-story refreshes are not batch runs.
	runs.AssertNotCalled(t, "CreateRun", mock.Anything, mock.Anything)
}

func TestRefreshStory_NotFound(t *testing.T) {
	svc := newService(catalogMock(story1), new(mock_store.RecommendationStore), new(mock_store.RunStore), nil, testConfig())

	_, err := svc.RefreshStory(context.Background(), 99, services.RefreshStoryParams{})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSimilarStories_HydratesInRankOrder(t *testing.T) {
	catalog := new(mock_store.CatalogStore)
	recs := new(mock_store.RecommendationStore)
	recs.On("GetForStory", mock.Anything, int64(1), 5).Return([]models.Recommendation{
		{StoryID: 1, SimilarStoryID: 2, Score: 0.9, Rank: 1, Metric: "cosine"},
		{StoryID: 1, SimilarStoryID: 3, Score: 0.4, Rank: 2, Metric: "cosine"},
	}, nil)
	// The store returns rows in whatever order; rank order must win.
	catalog.On("GetStoriesByIDs", mock.Anything, []int64{2, 3}).Return([]*models.Story{&story3, &story2}, nil)

	svc := newService(catalog, recs, new(mock_store.RunStore), nil, testConfig())
	got, err := svc.SimilarStories(context.Background(), 1, 5)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].Story.ID)
	assert.Equal(t, "Cinder and Salt", got[0].Story.Title)
	assert.Equal(t, 1, got[0].Rank)
	assert.Equal(t, int64(3), got[1].Story.ID)
	assert.Equal(t, 2, got[1].Rank)
}

func TestSimilarStories_SkipsDeletedStories(t *testing.T) {
	catalog := new(mock_store.CatalogStore)
	recs := new(mock_store.RecommendationStore)
	recs.On("GetForStory", mock.Anything, int64(1), 0).Return([]models.Recommendation{
		{StoryID: 1, SimilarStoryID: 2, Score: 0.9, Rank: 1},
		{StoryID: 1, SimilarStoryID: 42, Score: 0.5, Rank: 2}, // gone from the catalog
	}, nil)
	catalog.On("GetStoriesByIDs", mock.Anything, []int64{2, 42}).Return([]*models.Story{&story2}, nil)

	svc := newService(catalog, recs, new(mock_store.RunStore), nil, testConfig())
	got, err := svc.SimilarStories(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].Story.ID)
}

func TestSimilarStories_NoneComputed(t *testing.T) {
	recs := new(mock_store.RecommendationStore)
	recs.On("GetForStory", mock.Anything, int64(1), 0).Return([]models.Recommendation{}, nil)

	svc := newService(new(mock_store.CatalogStore), recs, new(mock_store.RunStore), nil, testConfig())
	got, err := svc.SimilarStories(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestComputeSimilar_DoesNotPersist(t *testing.T) {
	catalog := catalogMock(story1, story2, story3)
	recs := new(mock_store.RecommendationStore)

	svc := newService(catalog, recs, new(mock_store.RunStore), nil, testConfig())
	got, err := svc.ComputeSimilar(context.Background(), 1, services.ComputeParams{})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].Story.ID)
	assert.InDelta(t, 0.8165, got[0].Score, 1e-3)
	assert.Equal(t, 1, got[0].Rank)
	recs.AssertNotCalled(t, "ReplaceForStory", mock.Anything, mock.Anything, mock.Anything)
}

func TestComputeSimilar_LimitOverride(t *testing.T) {
	catalog := catalogMock(story1, story2, story3)

	svc := newService(catalog, new(mock_store.RecommendationStore), new(mock_store.RunStore), nil, testConfig())
	got, err := svc.ComputeSimilar(context.Background(), 1, services.ComputeParams{Limit: 1})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].Story.ID)
}

func TestNearestByVector_Disabled(t *testing.T) {
	svc := newService(new(mock_store.CatalogStore), new(mock_store.RecommendationStore), new(mock_store.RunStore), nil, testConfig())

	_, err := svc.NearestByVector(context.Background(), 1, 5)
	assert.ErrorIs(t, err, services.ErrVectorSnapshotsDisabled)
}

func TestNearestByVector(t *testing.T) {
	catalog := new(mock_store.CatalogStore)
	catalog.On("GetStoriesByIDs", mock.Anything, []int64{2, 3}).Return([]*models.Story{&story2, &story3}, nil)

	vec := similarity.FeatureVector{1, 0, 1, 1}
	vectors := new(mock_store.VectorStore)
	vectors.On("GetVector", mock.Anything, int64(1)).Return(vec, nil)
	vectors.On("NearestStories", mock.Anything, vec, int64(1), 5).Return([]store.VectorNeighbor{
		{StoryID: 2, Score: 0.81},
		{StoryID: 3, Score: 0.40},
	}, nil)

	svc := newService(catalog, new(mock_store.RecommendationStore), new(mock_store.RunStore), vectors, testConfig())
	got, err := svc.NearestByVector(context.Background(), 1, 5)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].Story.ID)
	assert.Equal(t, 1, got[0].Rank)
	assert.InDelta(t, 0.81, got[0].Score, 1e-9)
	assert.Equal(t, 2, got[1].Rank)
	vectors.AssertExpectations(t)
}
