package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"fabula/internal/models"
	"fabula/internal/store"
)

// Store implements the catalog, recommendation and run stores over
// SQLite. It backs single-node development setups and the store tests;
// production deployments use the postgres store.
type Store struct {
	db *sql.DB
}

func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path cannot be empty")
	}
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the tables this store reads and writes. The story
// platform owns the catalog tables in production; this bootstrap exists
// for development databases and tests.
func (s *Store) EnsureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS genres (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS stories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		author_id INTEGER NOT NULL,
		genre_id INTEGER REFERENCES genres(id),
		status TEXT NOT NULL DEFAULT 'draft',
		title TEXT NOT NULL,
		synopsis TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS story_tags (
		story_id INTEGER NOT NULL REFERENCES stories(id),
		tag_id INTEGER NOT NULL REFERENCES tags(id),
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (story_id, tag_id)
	);
	CREATE TABLE IF NOT EXISTS story_recommendations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		story_id INTEGER NOT NULL REFERENCES stories(id),
		similar_story_id INTEGER NOT NULL REFERENCES stories(id),
		score REAL NOT NULL,
		rank INTEGER NOT NULL,
		metric TEXT NOT NULL,
		computed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_story_recommendations_story
		ON story_recommendations (story_id, rank);
	CREATE TABLE IF NOT EXISTS recommendation_runs (
		id TEXT PRIMARY KEY,
		metric TEXT NOT NULL,
		status TEXT NOT NULL,
		stories_processed INTEGER NOT NULL DEFAULT 0,
		recommendations_written INTEGER NOT NULL DEFAULT 0,
		orphan_genre_refs INTEGER NOT NULL DEFAULT 0,
		orphan_tag_refs INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		error TEXT
	);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure sqlite schema: %w", err)
	}
	return nil
}

const storyColumns = `id, author_id, genre_id, status, title, synopsis, created_at, updated_at`

// --- Vocabulary ---

func (s *Store) GetAllGenres(ctx context.Context) ([]models.Genre, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM genres ORDER BY id ASC`)
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

func (s *Store) GetAllTags(ctx context.Context) ([]models.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM tags ORDER BY id ASC`)
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

func (s *Store) GetStoriesForSimilarity(ctx context.Context) ([]models.Story, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+storyColumns+` FROM stories ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stories for similarity: %w", err)
	}
	defer rows.Close()

	var stories []models.Story
	var ids []int64
	for rows.Next() {
		var st models.Story
		if err := scanStory(rows, &st); err != nil {
			return nil, err
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

func (s *Store) GetStory(ctx context.Context, id int64) (*models.Story, error) {
	st := &models.Story{}
	err := s.db.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE id = ?`, id).Scan(
		&st.ID, &st.AuthorID, &st.GenreID, &st.Status, &st.Title, &st.Synopsis, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

func (s *Store) GetStoriesByIDs(ctx context.Context, ids []int64) ([]*models.Story, error) {
	if len(ids) == 0 {
		return []*models.Story{}, nil
	}

	query := `SELECT ` + storyColumns + ` FROM stories WHERE id IN (` + placeholders(len(ids)) + `)`
	rows, err := s.db.QueryContext(ctx, query, int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stories by ids: %w", err)
	}
	defer rows.Close()

	var stories []*models.Story
	var found []int64
	for rows.Next() {
		st := &models.Story{}
		if err := scanStory(rows, st); err != nil {
			return nil, err
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

func (s *Store) ListStories(ctx context.Context, limit, offset int) ([]*models.Story, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + storyColumns + ` FROM stories ORDER BY id ASC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}
	defer rows.Close()

	var stories []*models.Story
	var ids []int64
	for rows.Next() {
		st := &models.Story{}
		if err := scanStory(rows, st); err != nil {
			return nil, err
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

func (s *Store) tagIDsForStories(ctx context.Context, storyIDs []int64) (map[int64][]int64, error) {
	byStory := make(map[int64][]int64, len(storyIDs))
	if len(storyIDs) == 0 {
		return byStory, nil
	}

	query := `
		SELECT story_id, tag_id
		FROM story_tags
		WHERE story_id IN (` + placeholders(len(storyIDs)) + `)
		ORDER BY story_id, tag_id ASC`
	rows, err := s.db.QueryContext(ctx, query, int64Args(storyIDs)...)
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

// --- Recommendations ---

func (s *Store) ReplaceForStory(ctx context.Context, storyID int64, recs []models.Recommendation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for story %d recommendations: %w", storyID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM story_recommendations WHERE story_id = ?`, storyID); err != nil {
		return fmt.Errorf("failed to clear recommendations for story %d: %w", storyID, err)
	}

	insert := `
		INSERT INTO story_recommendations (story_id, similar_story_id, score, rank, metric, computed_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	now := time.Now()
	for _, rec := range recs {
		if _, err := tx.ExecContext(ctx, insert, storyID, rec.SimilarStoryID, rec.Score, rec.Rank, rec.Metric, now); err != nil {
			var sqliteErr sqlite3.Error
			if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
				return fmt.Errorf("story %d or %d does not exist: %w", storyID, rec.SimilarStoryID, store.ErrForeignKeyViolation)
			}
			return fmt.Errorf("failed to insert recommendation %d -> %d: %w", storyID, rec.SimilarStoryID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit recommendations for story %d: %w", storyID, err)
	}
	return nil
}

func (s *Store) GetForStory(ctx context.Context, storyID int64, limit int) ([]models.Recommendation, error) {
	query := `
		SELECT id, story_id, similar_story_id, score, rank, metric, computed_at
		FROM story_recommendations
		WHERE story_id = ?
		ORDER BY rank ASC`
	args := []interface{}{storyID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recommendations for story %d: %w", storyID, err)
	}
	defer rows.Close()

	var recs []models.Recommendation
	for rows.Next() {
		var rec models.Recommendation
		if err := rows.Scan(&rec.ID, &rec.StoryID, &rec.SimilarStoryID, &rec.Score, &rec.Rank, &rec.Metric, &rec.ComputedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recommendation row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recommendation rows: %w", err)
	}
	return recs, nil
}

// --- Batch Runs ---

func (s *Store) CreateRun(ctx context.Context, run *models.BatchRun) error {
	query := `
		INSERT INTO recommendation_runs
			(id, metric, status, stories_processed, recommendations_written, orphan_genre_refs, orphan_tag_refs, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.Metric, run.Status,
		run.StoriesProcessed, run.RecommendationsWritten,
		run.OrphanGenreRefs, run.OrphanTagRefs, run.StartedAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("run %s already exists: %w", run.ID, store.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert recommendation run: %w", err)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, run *models.BatchRun) error {
	query := `
		UPDATE recommendation_runs
		SET status = ?, stories_processed = ?, recommendations_written = ?,
		    orphan_genre_refs = ?, orphan_tag_refs = ?, finished_at = ?, error = ?
		WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query,
		run.Status,
		run.StoriesProcessed, run.RecommendationsWritten,
		run.OrphanGenreRefs, run.OrphanTagRefs,
		run.FinishedAt, run.Error,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update recommendation run %s: %w", run.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for run %s: %w", run.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("run %s not found to finish: %w", run.ID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*models.BatchRun, error) {
	query := `
		SELECT id, metric, status, stories_processed, recommendations_written,
		       orphan_genre_refs, orphan_tag_refs, started_at, finished_at, error
		FROM recommendation_runs
		WHERE id = ?`
	run := &models.BatchRun{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.Metric, &run.Status,
		&run.StoriesProcessed, &run.RecommendationsWritten,
		&run.OrphanGenreRefs, &run.OrphanTagRefs,
		&run.StartedAt, &run.FinishedAt, &run.Error,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]*models.BatchRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, metric, status, stories_processed, recommendations_written,
		       orphan_genre_refs, orphan_tag_refs, started_at, finished_at, error
		FROM recommendation_runs
		ORDER BY started_at DESC
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recommendation runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.BatchRun
	for rows.Next() {
		run := &models.BatchRun{}
		if err := rows.Scan(
			&run.ID, &run.Metric, &run.Status,
			&run.StoriesProcessed, &run.RecommendationsWritten,
			&run.OrphanGenreRefs, &run.OrphanTagRefs,
			&run.StartedAt, &run.FinishedAt, &run.Error,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return runs, nil
}

// --- Helpers ---

func scanStory(rows *sql.Rows, dest *models.Story) error {
	if err := rows.Scan(
		&dest.ID, &dest.AuthorID, &dest.GenreID, &dest.Status,
		&dest.Title, &dest.Synopsis, &dest.CreatedAt, &dest.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to scan story row: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// Ensure Store satisfies the store interfaces
var _ store.CatalogStore = (*Store)(nil)
var _ store.RecommendationStore = (*Store)(nil)
var _ store.RunStore = (*Store)(nil)
