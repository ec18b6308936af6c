package services

import (
	"context"
	"fmt"

	"fabula/internal/models"
	"fabula/internal/store"
)

// CatalogService exposes read access to the story/genre/tag catalog for
// the API and CLI.
type CatalogService struct {
	catalog store.CatalogStore
}

func NewCatalogService(catalog store.CatalogStore) *CatalogService {
	return &CatalogService{catalog: catalog}
}

func (s *CatalogService) GetStory(ctx context.Context, id int64) (*models.Story, error) {
	story, err := s.catalog.GetStory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get story %d: %w", id, err)
	}
	return story, nil
}

func (s *CatalogService) ListStories(ctx context.Context, limit, offset int) ([]*models.Story, error) {
	stories, err := s.catalog.ListStories(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	return stories, nil
}

func (s *CatalogService) ListGenres(ctx context.Context) ([]models.Genre, error) {
	genres, err := s.catalog.GetAllGenres(ctx)
	if err != nil {
		return nil, fmt.Errorf("list genres: %w", err)
	}
	return genres, nil
}

func (s *CatalogService) ListTags(ctx context.Context) ([]models.Tag, error) {
	tags, err := s.catalog.GetAllTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return tags, nil
}
