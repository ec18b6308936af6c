// Package mock_store provides testify mocks for the store interfaces,
// shared by service, handler and worker tests.
package mock_store

import (
	"context"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"

	"fabula/internal/models"
	"fabula/internal/store"
	"fabula/pkg/similarity"
)

// --- CatalogStore ---

type CatalogStore struct {
	mock.Mock
}

var _ store.CatalogStore = (*CatalogStore)(nil)

func (m *CatalogStore) GetAllGenres(ctx context.Context) ([]models.Genre, error) {
	args := m.Called(ctx)
	genres, _ := args.Get(0).([]models.Genre)
	return genres, args.Error(1)
}

func (m *CatalogStore) GetAllTags(ctx context.Context) ([]models.Tag, error) {
	args := m.Called(ctx)
	tags, _ := args.Get(0).([]models.Tag)
	return tags, args.Error(1)
}

func (m *CatalogStore) GetStoriesForSimilarity(ctx context.Context) ([]models.Story, error) {
	args := m.Called(ctx)
	stories, _ := args.Get(0).([]models.Story)
	return stories, args.Error(1)
}

func (m *CatalogStore) GetStory(ctx context.Context, id int64) (*models.Story, error) {
	args := m.Called(ctx, id)
	story, _ := args.Get(0).(*models.Story)
	return story, args.Error(1)
}

func (m *CatalogStore) GetStoriesByIDs(ctx context.Context, ids []int64) ([]*models.Story, error) {
	args := m.Called(ctx, ids)
	stories, _ := args.Get(0).([]*models.Story)
	return stories, args.Error(1)
}

func (m *CatalogStore) ListStories(ctx context.Context, limit, offset int) ([]*models.Story, error) {
	args := m.Called(ctx, limit, offset)
	stories, _ := args.Get(0).([]*models.Story)
	return stories, args.Error(1)
}

func (m *CatalogStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// --- RecommendationStore ---

type RecommendationStore struct {
	mock.Mock
}

var _ store.RecommendationStore = (*RecommendationStore)(nil)

func (m *RecommendationStore) ReplaceForStory(ctx context.Context, storyID int64, recs []models.Recommendation) error {
	return m.Called(ctx, storyID, recs).Error(0)
}

func (m *RecommendationStore) GetForStory(ctx context.Context, storyID int64, limit int) ([]models.Recommendation, error) {
	args := m.Called(ctx, storyID, limit)
	recs, _ := args.Get(0).([]models.Recommendation)
	return recs, args.Error(1)
}

// --- RunStore ---

type RunStore struct {
	mock.Mock
}

var _ store.RunStore = (*RunStore)(nil)

func (m *RunStore) CreateRun(ctx context.Context, run *models.BatchRun) error {
	return m.Called(ctx, run).Error(0)
}

func (m *RunStore) FinishRun(ctx context.Context, run *models.BatchRun) error {
	return m.Called(ctx, run).Error(0)
}

func (m *RunStore) GetRun(ctx context.Context, id uuid.UUID) (*models.BatchRun, error) {
	args := m.Called(ctx, id)
	run, _ := args.Get(0).(*models.BatchRun)
	return run, args.Error(1)
}

func (m *RunStore) ListRuns(ctx context.Context, limit int) ([]*models.BatchRun, error) {
	args := m.Called(ctx, limit)
	runs, _ := args.Get(0).([]*models.BatchRun)
	return runs, args.Error(1)
}

// --- VectorStore ---

type VectorStore struct {
	mock.Mock
}

var _ store.VectorStore = (*VectorStore)(nil)

func (m *VectorStore) SaveVector(ctx context.Context, storyID int64, runID uuid.UUID, vec similarity.FeatureVector) error {
	return m.Called(ctx, storyID, runID, vec).Error(0)
}

func (m *VectorStore) GetVector(ctx context.Context, storyID int64) (similarity.FeatureVector, error) {
	args := m.Called(ctx, storyID)
	vec, _ := args.Get(0).(similarity.FeatureVector)
	return vec, args.Error(1)
}

func (m *VectorStore) NearestStories(ctx context.Context, vec similarity.FeatureVector, excludeStoryID int64, limit int) ([]store.VectorNeighbor, error) {
	args := m.Called(ctx, vec, excludeStoryID, limit)
	neighbors, _ := args.Get(0).([]store.VectorNeighbor)
	return neighbors, args.Error(1)
}

func (m *VectorStore) DeleteAll(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *VectorStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *VectorStore) Close() error {
	return m.Called().Error(0)
}

// --- JobClient ---

type JobClient struct {
	mock.Mock
}

var _ store.JobClient = (*JobClient)(nil)

func (m *JobClient) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	callArgs := make([]interface{}, 0, len(opts)+2)
	callArgs = append(callArgs, ctx, task)
	for _, opt := range opts {
		callArgs = append(callArgs, opt)
	}
	args := m.Called(callArgs...)
	info, _ := args.Get(0).(*asynq.TaskInfo)
	return info, args.Error(1)
}

func (m *JobClient) EnqueueCatalogRefresh(ctx context.Context, metric string) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, metric)
	info, _ := args.Get(0).(*asynq.TaskInfo)
	return info, args.Error(1)
}

func (m *JobClient) EnqueueStoryRefresh(ctx context.Context, storyID int64, metric string) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, storyID, metric)
	info, _ := args.Get(0).(*asynq.TaskInfo)
	return info, args.Error(1)
}

func (m *JobClient) Close() error {
	return m.Called().Error(0)
}
