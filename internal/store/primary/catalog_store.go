package primary

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"fabula/internal/models"
	"fabula/internal/store"
)

const storyColumns = `id, author_id, genre_id, status, title, synopsis, created_at, updated_at`

// --- Vocabulary ---

// GetAllGenres returns the full genre vocabulary ordered by id. The order
// defines vector positions, so it must be stable across one run.
func (s *StoreImpl) GetAllGenres(ctx context.Context) ([]models.Genre, error) {
	query := `SELECT id, name, created_at FROM genres ORDER BY id ASC`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list genres: %w", err)
	}
	defer rows.Close()

	var genres []models.Genre
	for rows.Next() {
		var g models.Genre
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan genre row: %w", err)
		}
		genres = append(genres, g)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating genre rows: %w", err)
	}
	return genres, nil
}

// GetAllTags returns the full tag vocabulary ordered by id.
func (s *StoreImpl) GetAllTags(ctx context.Context) ([]models.Tag, error) {
	query := `SELECT id, name, created_at FROM tags ORDER BY id ASC`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	var tags []models.Tag
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tag row: %w", err)
		}
		tags = append(tags, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tag rows: %w", err)
	}
	return tags, nil
}

// --- Stories ---

// GetStoriesForSimilarity returns every story with its tag ids loaded.
// Drafts are included on purpose: the engine applies the exclusion rules.
func (s *StoreImpl) GetStoriesForSimilarity(ctx context.Context) ([]models.Story, error) {
	query := `SELECT ` + storyColumns + ` FROM stories ORDER BY id ASC`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query stories for similarity: %w", err)
	}
	defer rows.Close()

	var stories []models.Story
	var ids []int64
	for rows.Next() {
		var st models.Story
		if err := scanStory(rows, &st); err != nil {
			return nil, fmt.Errorf("failed to scan story row: %w", err)
		}
		stories = append(stories, st)
		ids = append(ids, st.ID)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating story rows: %w", err)
	}

	tagsByStory, err := s.tagIDsForStories(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range stories {
		stories[i].TagIDs = tagsByStory[stories[i].ID]
	}
	return stories, nil
}

func (s *StoreImpl) GetStory(ctx context.Context, id int64) (*models.Story, error) {
	query := `SELECT ` + storyColumns + ` FROM stories WHERE id = $1`
	st := &models.Story{}
	err := s.db.QueryRow(ctx, query, id).Scan(
		&st.ID, &st.AuthorID, &st.GenreID, &st.Status, &st.Title, &st.Synopsis, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get story by id %d: %w", id, err)
	}

	tagsByStory, err := s.tagIDsForStories(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	st.TagIDs = tagsByStory[id]
	return st, nil
}

func (s *StoreImpl) GetStoriesByIDs(ctx context.Context, ids []int64) ([]*models.Story, error) {
	if len(ids) == 0 {
		return []*models.Story{}, nil
	}

	query := `SELECT ` + storyColumns + ` FROM stories WHERE id = ANY($1)`
	rows, err := s.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query stories by ids: %w", err)
	}
	defer rows.Close()

	var stories []*models.Story
	var found []int64
	for rows.Next() {
		st := &models.Story{}
		if err := scanStory(rows, st); err != nil {
			return nil, fmt.Errorf("failed to scan story row: %w", err)
		}
		stories = append(stories, st)
		found = append(found, st.ID)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating story rows: %w", err)
	}

	tagsByStory, err := s.tagIDsForStories(ctx, found)
	if err != nil {
		return nil, err
	}
	for _, st := range stories {
		st.TagIDs = tagsByStory[st.ID]
	}
	return stories, nil
}

func (s *StoreImpl) ListStories(ctx context.Context, limit, offset int) ([]*models.Story, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + storyColumns + ` FROM stories ORDER BY id ASC LIMIT $1 OFFSET $2`
	rows, err := s.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}
	defer rows.Close()

	var stories []*models.Story
	var ids []int64
	for rows.Next() {
		st := &models.Story{}
		if err := scanStory(rows, st); err != nil {
			return nil, fmt.Errorf("failed to scan story row: %w", err)
		}
		stories = append(stories, st)
		ids = append(ids, st.ID)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating story rows: %w", err)
	}

	tagsByStory, err := s.tagIDsForStories(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, st := range stories {
		st.TagIDs = tagsByStory[st.ID]
	}
	return stories, nil
}

// tagIDsForStories batch-loads the tag ids for many stories in one query.
// Every requested story gets an entry, empty when it has no tags.
func (s *StoreImpl) tagIDsForStories(ctx context.Context, storyIDs []int64) (map[int64][]int64, error) {
	byStory := make(map[int64][]int64, len(storyIDs))
	if len(storyIDs) == 0 {
		return byStory, nil
	}

	query := `
		SELECT story_id, tag_id
		FROM story_tags
		WHERE story_id = ANY($1)
		ORDER BY story_id, tag_id ASC`
	rows, err := s.db.Query(ctx, query, storyIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags for multiple stories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var storyID, tagID int64
		if err := rows.Scan(&storyID, &tagID); err != nil {
			return nil, fmt.Errorf("failed to scan story tag row: %w", err)
		}
		byStory[storyID] = append(byStory[storyID], tagID)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating story tag rows: %w", err)
	}
	return byStory, nil
}

// Ensure StoreImpl satisfies the CatalogStore interface
var _ store.CatalogStore = (*StoreImpl)(nil)
