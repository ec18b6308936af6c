package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"fabula/internal/models"
	"fabula/internal/services"
	"fabula/internal/store"
	mock_store "fabula/internal/tests/mocks/store"
)

func TestCatalogService_GetStory(t *testing.T) {
	catalog := new(mock_store.CatalogStore)
	catalog.On("GetStory", mock.Anything, int64(1)).Return(&story1, nil).Once()
	catalog.On("GetStory", mock.Anything, int64(99)).Return(nil, store.ErrNotFound).Once()

	svc := services.NewCatalogService(catalog)

	got, err := svc.GetStory(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "The Ember Gate", got.Title)

	_, err = svc.GetStory(context.Background(), 99)
	assert.ErrorIs(t, err, store.ErrNotFound)
	catalog.AssertExpectations(t)
}

func TestCatalogService_ListStories(t *testing.T) {
	catalog := new(mock_store.CatalogStore)
	catalog.On("ListStories", mock.Anything, 20, 40).Return([]*models.Story{&story1, &story2}, nil).Once()

	svc := services.NewCatalogService(catalog)
	got, err := svc.ListStories(context.Background(), 20, 40)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	catalog.AssertExpectations(t)
}

func TestCatalogService_Vocabulary(t *testing.T) {
	catalog := new(mock_store.CatalogStore)
	catalog.On("GetAllGenres", mock.Anything).Return(testGenres, nil).Once()
	catalog.On("GetAllTags", mock.Anything).Return(testTags, nil).Once()

	svc := services.NewCatalogService(catalog)

	genres, err := svc.ListGenres(context.Background())
	require.NoError(t, err)
	assert.Len(t, genres, 2)

	tags, err := svc.ListTags(context.Background())
	require.NoError(t, err)
	assert.Len(t, tags, 2)
	catalog.AssertExpectations(t)
}
