package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fabula/internal/config"
	"fabula/internal/models"
	"fabula/internal/store"
	"fabula/pkg/similarity"
)

// ErrVectorSnapshotsDisabled is returned by NearestByVector when the
// deployment runs without a vector snapshot store
// (engine.snapshot_vectors = false).
var ErrVectorSnapshotsDisabled = errors.New("vector snapshots are disabled (engine.snapshot_vectors)")

// SimilarStory is one recommendation hydrated with its story row.
type SimilarStory struct {
	Story models.Story
	Score float64
	Rank  int
}

// RecommendationService drives the similarity engine over the catalog:
// it snapshots the vocabulary once per run, computes ranked similar-story
// lists per target, applies the configured threshold, and persists the
// results.
type RecommendationService struct {
	catalog store.CatalogStore
	recs    store.RecommendationStore
	runs    store.RunStore
	vectors store.VectorStore // nil when snapshots are disabled
	cfg     *config.Config
	log     *logrus.Logger
}

type RecommendationServiceDeps struct {
	Catalog         store.CatalogStore
	Recommendations store.RecommendationStore
	Runs            store.RunStore
	Vectors         store.VectorStore
	Config          *config.Config
	Log             *logrus.Logger
}

func NewRecommendationService(deps RecommendationServiceDeps) *RecommendationService {
	return &RecommendationService{
		catalog: deps.Catalog,
		recs:    deps.Recommendations,
		runs:    deps.Runs,
		vectors: deps.Vectors,
		cfg:     deps.Config,
		log:     deps.Log,
	}
}

// --- Parameter Structs ---

type RefreshCatalogParams struct {
	// Metric overrides engine.metric for this run; empty uses the default.
	Metric string
}

type RefreshStoryParams struct {
	Metric string
}

type ComputeParams struct {
	Metric string
	// Limit caps the result count; 0 uses engine.max_per_story.
	Limit int
}

// --- Catalog Refresh ---

// RefreshCatalog recomputes the persisted recommendations for every story
// in the catalog under one BatchRun. The vocabulary and story set are
// snapshotted once, so every vector in the run shares one dimension.
// Targets are processed in slices of engine.batch_size, each slice fanned
// out over engine.parallelism goroutines. Any engine or store error marks
// the run failed and aborts: a dimension mismatch means a vocabulary bug
// affecting the whole run, never something to skip past.
func (s *RecommendationService) RefreshCatalog(ctx context.Context, params RefreshCatalogParams) (*models.BatchRun, error) {
	metric, err := s.resolveMetric(params.Metric)
	if err != nil {
		return nil, err
	}

	run := &models.BatchRun{
		ID:        uuid.New(),
		Metric:    string(metric),
		Status:    models.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	log := s.log.WithFields(logrus.Fields{"run_id": run.ID, "metric": metric})
	log.Info("catalog refresh started")

	snap, err := s.snapshotCatalog(ctx)
	if err != nil {
		return run, s.failRun(ctx, run, err)
	}
	log.WithFields(logrus.Fields{
		"stories": len(snap.stories),
		"genres":  len(snap.genres),
		"tags":    len(snap.tags),
	}).Debug("catalog snapshot loaded")

	if s.vectors != nil {
		// The vocabulary, and with it the vector dimension, may have
		// changed since the previous run.
		if err := s.vectors.DeleteAll(ctx); err != nil {
			return run, s.failRun(ctx, run, err)
		}
	}

	score := metric.ScoreFunc()
	batch := s.cfg.Engine.BatchSize
	var stats refreshStats
	for start := 0; start < len(snap.stories); start += batch {
		if err := ctx.Err(); err != nil {
			return run, s.failRun(ctx, run, err)
		}
		end := start + batch
		if end > len(snap.stories) {
			end = len(snap.stories)
		}
		if err := s.refreshSlice(ctx, run.ID, snap, start, end, metric, score, &stats); err != nil {
			return run, s.failRun(ctx, run, err)
		}
		log.WithFields(logrus.Fields{"processed": end, "total": len(snap.stories)}).Debug("slice processed")
	}

	now := time.Now().UTC()
	run.Status = models.RunStatusCompleted
	run.StoriesProcessed = stats.processed
	run.RecommendationsWritten = stats.written
	run.OrphanGenreRefs = stats.orphanGenres
	run.OrphanTagRefs = stats.orphanTags
	run.FinishedAt = &now
	if err := s.runs.FinishRun(ctx, run); err != nil {
		return run, fmt.Errorf("finish run %s: %w", run.ID, err)
	}

	log.WithFields(logrus.Fields{
		"stories_processed":       run.StoriesProcessed,
		"recommendations_written": run.RecommendationsWritten,
		"orphan_genre_refs":       run.OrphanGenreRefs,
		"orphan_tag_refs":         run.OrphanTagRefs,
		"duration":                now.Sub(run.StartedAt).Round(time.Millisecond),
	}).Info("catalog refresh completed")
	return run, nil
}

// RefreshStory recomputes and persists the recommendations for a single
// story against a fresh catalog snapshot. No BatchRun row is written and
// the vector snapshot is left alone; those belong to full-catalog runs.
func (s *RecommendationService) RefreshStory(ctx context.Context, storyID int64, params RefreshStoryParams) (int, error) {
	metric, err := s.resolveMetric(params.Metric)
	if err != nil {
		return 0, err
	}

	snap, err := s.snapshotCatalog(ctx)
	if err != nil {
		return 0, err
	}
	target, ok := snap.byID[storyID]
	if !ok {
		return 0, fmt.Errorf("story %d: %w", storyID, store.ErrNotFound)
	}

	written, diag, err := s.refreshOne(ctx, uuid.Nil, false, *target, snap, metric, metric.ScoreFunc())
	if err != nil {
		return 0, err
	}
	s.logOrphans(storyID, diag)
	s.log.WithFields(logrus.Fields{
		"story_id": storyID,
		"metric":   metric,
		"written":  written,
	}).Info("story recommendations refreshed")
	return written, nil
}

// --- Read Paths ---

// SimilarStories returns the persisted recommendations for a story,
// hydrated with their story rows, in rank order.
func (s *RecommendationService) SimilarStories(ctx context.Context, storyID int64, limit int) ([]SimilarStory, error) {
	recs, err := s.recs.GetForStory(ctx, storyID, limit)
	if err != nil {
		return nil, fmt.Errorf("load recommendations for story %d: %w", storyID, err)
	}
	if len(recs) == 0 {
		return []SimilarStory{}, nil
	}

	ids := make([]int64, len(recs))
	for i, rec := range recs {
		ids[i] = rec.SimilarStoryID
	}
	stories, err := s.catalog.GetStoriesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate recommendations for story %d: %w", storyID, err)
	}
	byID := make(map[int64]*models.Story, len(stories))
	for _, st := range stories {
		byID[st.ID] = st
	}

	out := make([]SimilarStory, 0, len(recs))
	for _, rec := range recs {
		st, ok := byID[rec.SimilarStoryID]
		if !ok {
			// The story was deleted after the last refresh.
			s.log.WithFields(logrus.Fields{"story_id": storyID, "similar_story_id": rec.SimilarStoryID}).
				Warn("recommended story missing from catalog")
			continue
		}
		out = append(out, SimilarStory{Story: *st, Score: rec.Score, Rank: rec.Rank})
	}
	return out, nil
}

// ComputeSimilar ranks similar stories on the fly against the current
// catalog, without touching persisted recommendations. Threshold and
// limit rules match RefreshCatalog's.
func (s *RecommendationService) ComputeSimilar(ctx context.Context, storyID int64, params ComputeParams) ([]SimilarStory, error) {
	metric, err := s.resolveMetric(params.Metric)
	if err != nil {
		return nil, err
	}

	snap, err := s.snapshotCatalog(ctx)
	if err != nil {
		return nil, err
	}
	target, ok := snap.byID[storyID]
	if !ok {
		return nil, fmt.Errorf("story %d: %w", storyID, store.ErrNotFound)
	}

	limit := params.Limit
	if limit <= 0 {
		limit = s.cfg.Engine.MaxPerStory
	}
	results, err := similarity.ComputeSimilarStories(target.Similarity(), snap.engine, snap.genres, snap.tags, metric.ScoreFunc(), similarity.Options{
		ExcludeSameAuthor: s.cfg.Engine.ExcludeSameAuthor,
		Limit:             limit,
	})
	if err != nil {
		return nil, fmt.Errorf("compute similar stories for %d: %w", storyID, err)
	}
	results = s.cutThreshold(results)
	s.logOrphans(storyID, similarity.OrphanRefs(target.Similarity(), snap.genres, snap.tags))

	out := make([]SimilarStory, 0, len(results))
	for i, r := range results {
		st, ok := snap.byID[r.Story.ID]
		if !ok {
			continue
		}
		out = append(out, SimilarStory{Story: *st, Score: r.Score, Rank: i + 1})
	}
	return out, nil
}

// NearestByVector serves the alternative read path over the pgvector
// snapshot: cosine distance ranking in SQL instead of the in-process
// engine. Draft stories never enter the snapshot, so they cannot
// surface here.
func (s *RecommendationService) NearestByVector(ctx context.Context, storyID int64, limit int) ([]SimilarStory, error) {
	if s.vectors == nil {
		return nil, ErrVectorSnapshotsDisabled
	}
	vec, err := s.vectors.GetVector(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("load vector for story %d: %w", storyID, err)
	}
	if limit <= 0 {
		limit = s.cfg.Engine.MaxPerStory
	}

	neighbors, err := s.vectors.NearestStories(ctx, vec, storyID, limit)
	if err != nil {
		return nil, fmt.Errorf("nearest stories for %d: %w", storyID, err)
	}
	if len(neighbors) == 0 {
		return []SimilarStory{}, nil
	}

	ids := make([]int64, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.StoryID
	}
	stories, err := s.catalog.GetStoriesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate nearest stories for %d: %w", storyID, err)
	}
	byID := make(map[int64]*models.Story, len(stories))
	for _, st := range stories {
		byID[st.ID] = st
	}

	out := make([]SimilarStory, 0, len(neighbors))
	for _, n := range neighbors {
		st, ok := byID[n.StoryID]
		if !ok {
			continue
		}
		out = append(out, SimilarStory{Story: *st, Score: n.Score, Rank: len(out) + 1})
	}
	return out, nil
}

// --- Internals ---

// catalogSnapshot holds one consistent view of the vocabulary and story
// set. Every vectorization within a run must use the same snapshot;
// mixing snapshots is exactly the dimension-mismatch bug the engine
// guards against.
type catalogSnapshot struct {
	genres  []similarity.Genre
	tags    []similarity.Tag
	stories []models.Story
	engine  []similarity.Story // projections, index-aligned with stories
	byID    map[int64]*models.Story
}

func (s *RecommendationService) snapshotCatalog(ctx context.Context) (*catalogSnapshot, error) {
	genres, err := s.catalog.GetAllGenres(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot genres: %w", err)
	}
	tags, err := s.catalog.GetAllTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot tags: %w", err)
	}
	stories, err := s.catalog.GetStoriesForSimilarity(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot stories: %w", err)
	}

	snap := &catalogSnapshot{
		genres:  make([]similarity.Genre, len(genres)),
		tags:    make([]similarity.Tag, len(tags)),
		stories: stories,
		engine:  make([]similarity.Story, len(stories)),
		byID:    make(map[int64]*models.Story, len(stories)),
	}
	for i, g := range genres {
		snap.genres[i] = similarity.Genre{ID: g.ID, Name: g.Name}
	}
	for i, t := range tags {
		snap.tags[i] = similarity.Tag{ID: t.ID, Name: t.Name}
	}
	for i := range stories {
		snap.engine[i] = stories[i].Similarity()
		snap.byID[stories[i].ID] = &snap.stories[i]
	}
	return snap, nil
}

// refreshStats aggregates per-target results across the worker pool.
type refreshStats struct {
	mu           sync.Mutex
	processed    int
	written      int
	orphanGenres int
	orphanTags   int
}

func (st *refreshStats) add(written int, diag similarity.Diagnostics) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.processed++
	st.written += written
	if diag.OrphanGenre {
		st.orphanGenres++
	}
	st.orphanTags += diag.OrphanTags
}

// refreshSlice recomputes recommendations for snap.stories[start:end],
// fanning targets out over engine.parallelism goroutines. Every target
// reads the same immutable snapshot, so no locking is needed beyond the
// shared counters.
func (s *RecommendationService) refreshSlice(ctx context.Context, runID uuid.UUID, snap *catalogSnapshot, start, end int, metric similarity.Metric, score similarity.ScoreFunc, stats *refreshStats) error {
	var (
		wg       sync.WaitGroup
		sem      = make(chan struct{}, s.cfg.Engine.Parallelism)
		errMu    sync.Mutex
		firstErr error
	)
	setErr := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}

	for i := start; i < end; i++ {
		target := snap.stories[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			written, diag, err := s.refreshOne(ctx, runID, true, target, snap, metric, score)
			if err != nil {
				setErr(fmt.Errorf("story %d: %w", target.ID, err))
				return
			}
			stats.add(written, diag)
		}()
	}
	wg.Wait()
	return firstErr
}

// refreshOne computes, thresholds and persists the recommendations for a
// single target. With snapshot set it also writes the target's feature
// vector to the vector store; drafts are skipped there so the
// nearest-neighbor read path never surfaces undiscoverable stories.
func (s *RecommendationService) refreshOne(ctx context.Context, runID uuid.UUID, snapshot bool, target models.Story, snap *catalogSnapshot, metric similarity.Metric, score similarity.ScoreFunc) (int, similarity.Diagnostics, error) {
	view := target.Similarity()
	results, err := similarity.ComputeSimilarStories(view, snap.engine, snap.genres, snap.tags, score, similarity.Options{
		ExcludeSameAuthor: s.cfg.Engine.ExcludeSameAuthor,
		Limit:             s.cfg.Engine.MaxPerStory,
	})
	if err != nil {
		return 0, similarity.Diagnostics{}, err
	}
	results = s.cutThreshold(results)

	recs := make([]models.Recommendation, len(results))
	for i, r := range results {
		recs[i] = models.Recommendation{
			StoryID:        target.ID,
			SimilarStoryID: r.Story.ID,
			Score:          r.Score,
			Rank:           i + 1,
			Metric:         string(metric),
		}
	}
	if err := s.recs.ReplaceForStory(ctx, target.ID, recs); err != nil {
		return 0, similarity.Diagnostics{}, err
	}

	if snapshot && s.vectors != nil && view.Status != similarity.StatusDraft {
		if err := s.vectors.SaveVector(ctx, target.ID, runID, similarity.Vectorize(view, snap.genres, snap.tags)); err != nil {
			return 0, similarity.Diagnostics{}, err
		}
	}

	return len(recs), similarity.OrphanRefs(view, snap.genres, snap.tags), nil
}

// cutThreshold drops results scoring under engine.similarity_threshold.
// Results arrive sorted descending, so the cut is a prefix.
func (s *RecommendationService) cutThreshold(results []similarity.Result) []similarity.Result {
	threshold := s.cfg.Engine.SimilarityThreshold
	if threshold <= 0 {
		return results
	}
	for i, r := range results {
		if r.Score < threshold {
			return results[:i]
		}
	}
	return results
}

func (s *RecommendationService) resolveMetric(override string) (similarity.Metric, error) {
	raw := override
	if raw == "" {
		raw = s.cfg.Engine.Metric
	}
	metric, err := similarity.ParseMetric(raw)
	if err != nil {
		return "", fmt.Errorf("resolve metric: %w", err)
	}
	return metric, nil
}

// failRun records the run as failed with the cause's text and returns the
// cause. The bookkeeping write uses a detached context so a cancelled run
// still gets its terminal row.
func (s *RecommendationService) failRun(ctx context.Context, run *models.BatchRun, cause error) error {
	now := time.Now().UTC()
	msg := cause.Error()
	run.Status = models.RunStatusFailed
	run.FinishedAt = &now
	run.Error = &msg
	if err := s.runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		s.log.WithError(err).WithField("run_id", run.ID).Error("failed to record run failure")
	}
	s.log.WithError(cause).WithField("run_id", run.ID).Error("catalog refresh failed")
	return cause
}

func (s *RecommendationService) logOrphans(storyID int64, diag similarity.Diagnostics) {
	if !diag.OrphanGenre && diag.OrphanTags == 0 {
		return
	}
	s.log.WithFields(logrus.Fields{
		"story_id":     storyID,
		"orphan_genre": diag.OrphanGenre,
		"orphan_tags":  diag.OrphanTags,
	}).Warn("story references vocabulary entries that no longer exist")
}
