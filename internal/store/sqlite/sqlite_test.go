package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabula/internal/models"
	"fabula/internal/store"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.EnsureSchema(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func mustExec(t *testing.T, s *Store, query string, args ...interface{}) {
	t.Helper()
	_, err := s.db.ExecContext(context.Background(), query, args...)
	require.NoError(t, err)
}

// seedCatalog loads a small fixture: two genres, three tags, four stories.
// Story 4 is a draft and story 3 has no genre.
func seedCatalog(t *testing.T, s *Store) {
	t.Helper()
	mustExec(t, s, `INSERT INTO genres (id, name) VALUES (2, 'Science Fiction'), (1, 'Fantasy')`)
	mustExec(t, s, `INSERT INTO tags (id, name) VALUES (12, 'space'), (10, 'magic'), (11, 'dragons')`)
	mustExec(t, s, `
		INSERT INTO stories (id, author_id, genre_id, status, title, synopsis) VALUES
		(1, 100, 1, 'published', 'The Ember Gate', 'A gatekeeper learns the gate keeps her.'),
		(2, 100, 1, 'published', 'Ash and Scale', 'Dragon riders against a fading empire.'),
		(3, 200, NULL, 'published', 'Signal Lost', 'A salvage crew hears a voice between stations.'),
		(4, 300, 2, 'draft', 'Untitled Colony Draft', '')`)
	mustExec(t, s, `
		INSERT INTO story_tags (story_id, tag_id) VALUES
		(1, 10), (1, 11),
		(2, 11),
		(3, 12)`)
}

func TestVocabulary_OrderedByID(t *testing.T) {
	s := setupTestStore(t)
	seedCatalog(t, s)
	ctx := context.Background()

	genres, err := s.GetAllGenres(ctx)
	require.NoError(t, err)
	require.Len(t, genres, 2)
	assert.Equal(t, int64(1), genres[0].ID)
	assert.Equal(t, "Fantasy", genres[0].Name)
	assert.Equal(t, int64(2), genres[1].ID)

	tags, err := s.GetAllTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 3)
	assert.Equal(t, []int64{10, 11, 12}, []int64{tags[0].ID, tags[1].ID, tags[2].ID})
	assert.Equal(t, "magic", tags[0].Name)
}

func TestGetStory(t *testing.T) {
	s := setupTestStore(t)
	seedCatalog(t, s)
	ctx := context.Background()

	t.Run("found with tags", func(t *testing.T) {
		st, err := s.GetStory(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(100), st.AuthorID)
		require.NotNil(t, st.GenreID)
		assert.Equal(t, int64(1), *st.GenreID)
		assert.Equal(t, []int64{10, 11}, st.TagIDs)
		assert.Equal(t, "The Ember Gate", st.Title)
	})

	t.Run("nil genre and no tags", func(t *testing.T) {
		st, err := s.GetStory(ctx, 4)
		require.NoError(t, err)
		assert.Nil(t, st.GenreID)
		assert.Empty(t, st.TagIDs)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := s.GetStory(ctx, 999)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestGetStoriesForSimilarity(t *testing.T) {
	s := setupTestStore(t)
	seedCatalog(t, s)

	stories, err := s.GetStoriesForSimilarity(context.Background())
	require.NoError(t, err)
	require.Len(t, stories, 4, "drafts are loaded too, the engine filters them")

	assert.Equal(t, int64(1), stories[0].ID)
	assert.Equal(t, []int64{10, 11}, stories[0].TagIDs)
	assert.Equal(t, []int64{11}, stories[1].TagIDs)
	assert.Equal(t, []int64{12}, stories[2].TagIDs)
	assert.Empty(t, stories[3].TagIDs)
}

func TestGetStoriesByIDs(t *testing.T) {
	s := setupTestStore(t)
	seedCatalog(t, s)
	ctx := context.Background()

	t.Run("subset with tags", func(t *testing.T) {
		stories, err := s.GetStoriesByIDs(ctx, []int64{3, 1})
		require.NoError(t, err)
		require.Len(t, stories, 2)
		byID := map[int64]*models.Story{}
		for _, st := range stories {
			byID[st.ID] = st
		}
		require.Contains(t, byID, int64(1))
		require.Contains(t, byID, int64(3))
		assert.Equal(t, []int64{10, 11}, byID[1].TagIDs)
		assert.Equal(t, []int64{12}, byID[3].TagIDs)
	})

	t.Run("empty input", func(t *testing.T) {
		stories, err := s.GetStoriesByIDs(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, stories)
	})

	t.Run("unknown ids skipped", func(t *testing.T) {
		stories, err := s.GetStoriesByIDs(ctx, []int64{2, 999})
		require.NoError(t, err)
		require.Len(t, stories, 1)
		assert.Equal(t, int64(2), stories[0].ID)
	})
}

func TestListStories(t *testing.T) {
	s := setupTestStore(t)
	seedCatalog(t, s)
	ctx := context.Background()

	page, err := s.ListStories(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(1), page[0].ID)
	assert.Equal(t, int64(2), page[1].ID)

	page, err = s.ListStories(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].ID)
	assert.Equal(t, int64(4), page[1].ID)

	// limit <= 0 falls back to the default page size
	page, err = s.ListStories(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, page, 4)
}

func TestReplaceForStory(t *testing.T) {
	s := setupTestStore(t)
	seedCatalog(t, s)
	ctx := context.Background()

	first := []models.Recommendation{
		{SimilarStoryID: 2, Score: 0.91, Rank: 1, Metric: "cosine"},
		{SimilarStoryID: 3, Score: 0.42, Rank: 2, Metric: "cosine"},
	}
	require.NoError(t, s.ReplaceForStory(ctx, 1, first))

	recs, err := s.GetForStory(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(2), recs[0].SimilarStoryID)
	assert.Equal(t, 1, recs[0].Rank)
	assert.InDelta(t, 0.91, recs[0].Score, 1e-9)
	assert.Equal(t, int64(3), recs[1].SimilarStoryID)

	// replacing swaps the whole set
	second := []models.Recommendation{
		{SimilarStoryID: 3, Score: 0.77, Rank: 1, Metric: "jaccard"},
	}
	require.NoError(t, s.ReplaceForStory(ctx, 1, second))

	recs, err = s.GetForStory(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(3), recs[0].SimilarStoryID)
	assert.Equal(t, "jaccard", recs[0].Metric)

	// replacing with nothing clears the story's edges
	require.NoError(t, s.ReplaceForStory(ctx, 1, nil))
	recs, err = s.GetForStory(ctx, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestGetForStory_Limit(t *testing.T) {
	s := setupTestStore(t)
	seedCatalog(t, s)
	ctx := context.Background()

	recs := []models.Recommendation{
		{SimilarStoryID: 2, Score: 0.9, Rank: 1, Metric: "cosine"},
		{SimilarStoryID: 3, Score: 0.5, Rank: 2, Metric: "cosine"},
		{SimilarStoryID: 4, Score: 0.1, Rank: 3, Metric: "cosine"},
	}
	require.NoError(t, s.ReplaceForStory(ctx, 1, recs))

	limited, err := s.GetForStory(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, 1, limited[0].Rank)
	assert.Equal(t, 2, limited[1].Rank)
}

func TestReplaceForStory_ForeignKey(t *testing.T) {
	s := setupTestStore(t)
	seedCatalog(t, s)

	err := s.ReplaceForStory(context.Background(), 1, []models.Recommendation{
		{SimilarStoryID: 999, Score: 0.5, Rank: 1, Metric: "cosine"},
	})
	assert.ErrorIs(t, err, store.ErrForeignKeyViolation)
}

func TestRunLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Second)
	run := &models.BatchRun{
		ID:        uuid.New(),
		Metric:    "cosine",
		Status:    models.RunStatusRunning,
		StartedAt: started,
	}
	require.NoError(t, s.CreateRun(ctx, run))

	t.Run("duplicate id", func(t *testing.T) {
		err := s.CreateRun(ctx, run)
		assert.ErrorIs(t, err, store.ErrDuplicate)
	})

	t.Run("get running run", func(t *testing.T) {
		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, models.RunStatusRunning, got.Status)
		assert.Nil(t, got.FinishedAt)
		assert.Nil(t, got.Error)
		assert.WithinDuration(t, started, got.StartedAt, time.Second)
	})

	t.Run("finish and reread", func(t *testing.T) {
		finished := time.Now().UTC().Truncate(time.Second)
		run.Status = models.RunStatusCompleted
		run.StoriesProcessed = 42
		run.RecommendationsWritten = 180
		run.OrphanGenreRefs = 1
		run.OrphanTagRefs = 3
		run.FinishedAt = &finished
		require.NoError(t, s.FinishRun(ctx, run))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusCompleted, got.Status)
		assert.Equal(t, 42, got.StoriesProcessed)
		assert.Equal(t, 180, got.RecommendationsWritten)
		assert.Equal(t, 1, got.OrphanGenreRefs)
		assert.Equal(t, 3, got.OrphanTagRefs)
		require.NotNil(t, got.FinishedAt)
		assert.WithinDuration(t, finished, *got.FinishedAt, time.Second)
	})

	t.Run("finish unknown run", func(t *testing.T) {
		missing := &models.BatchRun{ID: uuid.New(), Status: models.RunStatusFailed}
		err := s.FinishRun(ctx, missing)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("get unknown run", func(t *testing.T) {
		_, err := s.GetRun(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	older := &models.BatchRun{
		ID:        uuid.New(),
		Metric:    "cosine",
		Status:    models.RunStatusCompleted,
		StartedAt: time.Now().UTC().Add(-time.Hour),
	}
	newer := &models.BatchRun{
		ID:        uuid.New(),
		Metric:    "jaccard",
		Status:    models.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateRun(ctx, older))
	require.NoError(t, s.CreateRun(ctx, newer))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer.ID, runs[0].ID)
	assert.Equal(t, older.ID, runs[1].ID)

	limited, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, newer.ID, limited[0].ID)
}
