package models

import (
	"time"

	"github.com/google/uuid"

	"fabula/pkg/similarity"
)

// Story mirrors the stories table plus its tag ids from story_tags.
type Story struct {
	ID        int64             `db:"id"`
	AuthorID  int64             `db:"author_id"`
	GenreID   *int64            `db:"genre_id"`
	Status    similarity.Status `db:"status"`
	Title     string            `db:"title"`
	Synopsis  string            `db:"synopsis"`
	TagIDs    []int64           // loaded separately from story_tags
	CreatedAt time.Time         `db:"created_at"`
	UpdatedAt time.Time         `db:"updated_at"`
}

// Similarity projects the story onto the engine's input view.
func (s Story) Similarity() similarity.Story {
	return similarity.Story{
		ID:       s.ID,
		AuthorID: s.AuthorID,
		GenreID:  s.GenreID,
		Status:   s.Status,
		TagIDs:   s.TagIDs,
	}
}

type Genre struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

type Tag struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

// Recommendation is one persisted similar-story edge. The full set for a
// story is replaced wholesale on every refresh.
type Recommendation struct {
	ID             int64     `db:"id"`
	StoryID        int64     `db:"story_id"`
	SimilarStoryID int64     `db:"similar_story_id"`
	Score          float64   `db:"score"`
	Rank           int       `db:"rank"` // 1-based position after ranking and threshold
	Metric         string    `db:"metric"`
	ComputedAt     time.Time `db:"computed_at"`
}

// BatchRun records one catalog-wide recommendation refresh.
type BatchRun struct {
	ID                     uuid.UUID  `db:"id"`
	Metric                 string     `db:"metric"`
	Status                 string     `db:"status"`
	StoriesProcessed       int        `db:"stories_processed"`
	RecommendationsWritten int        `db:"recommendations_written"`
	OrphanGenreRefs        int        `db:"orphan_genre_refs"`
	OrphanTagRefs          int        `db:"orphan_tag_refs"`
	StartedAt              time.Time  `db:"started_at"`
	FinishedAt             *time.Time `db:"finished_at"`
	Error                  *string    `db:"error"`
}
