package apihandlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"fabula/internal/models"
	"fabula/internal/services"
	"fabula/internal/store"
	"fabula/internal/util"
	"fabula/pkg/similarity"
)

// synopsisSnippetLen caps synopsis text in list and similar responses.
const synopsisSnippetLen = 200

// Recommender is the slice of the recommendation service the API needs.
type Recommender interface {
	SimilarStories(ctx context.Context, storyID int64, limit int) ([]services.SimilarStory, error)
	ComputeSimilar(ctx context.Context, storyID int64, params services.ComputeParams) ([]services.SimilarStory, error)
	NearestByVector(ctx context.Context, storyID int64, limit int) ([]services.SimilarStory, error)
}

// Catalog serves story/genre/tag browsing.
type Catalog interface {
	GetStory(ctx context.Context, id int64) (*models.Story, error)
	ListStories(ctx context.Context, limit, offset int) ([]*models.Story, error)
	ListGenres(ctx context.Context) ([]models.Genre, error)
	ListTags(ctx context.Context) ([]models.Tag, error)
}

// RunReader serves batch run bookkeeping.
type RunReader interface {
	GetRun(ctx context.Context, id uuid.UUID) (*models.BatchRun, error)
	ListRuns(ctx context.Context, limit int) ([]*models.BatchRun, error)
}

// Pinger reports backend connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Recommender Recommender
	Catalog     Catalog
	Runs        RunReader
	Jobs        store.JobClient
	DB          Pinger
	Log         *logrus.Logger
}

type APIHandler struct {
	deps Deps
}

func NewAPIHandler(deps Deps) *APIHandler {
	return &APIHandler{deps: deps}
}

// RegisterRoutes mounts every API route on the router.
func RegisterRoutes(router *gin.Engine, h *APIHandler) {
	v1 := router.Group("/api/v1")
	{
		stories := v1.Group("/stories")
		{
			stories.GET("", h.ListStoriesHandler)
			stories.GET("/:id", h.GetStoryHandler)
			stories.GET("/:id/similar", h.SimilarStoriesHandler)
			stories.POST("/:id/refresh", h.RefreshStoryHandler)
		}

		v1.GET("/genres", h.ListGenresHandler)
		v1.GET("/tags", h.ListTagsHandler)

		runs := v1.Group("/runs")
		{
			runs.GET("", h.ListRunsHandler)
			runs.GET("/:id", h.GetRunHandler)
		}

		v1.POST("/refresh", h.RefreshCatalogHandler)
	}

	router.GET("/health", h.HealthHandler)
}

// --- Similar Stories ---

// SimilarStoriesHandler serves GET /stories/:id/similar. By default it
// returns the persisted recommendations; ?live=1 computes them on the fly
// and ?source=vectors uses the vector snapshot read path.
func (h *APIHandler) SimilarStoriesHandler(c *gin.Context) {
	storyID, err := parseStoryIDFromRequest(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	params, err := parseSimilarParams(c)
	if err != nil {
		BadRequest(c, "Invalid query parameters: "+err.Error())
		return
	}

	// A missing story is a 404 on every read path, including the
	// persisted one where it would otherwise look like an empty list.
	if _, err := h.deps.Catalog.GetStory(c.Request.Context(), storyID); err != nil {
		h.respondStoryError(c, storyID, err)
		return
	}

	var results []services.SimilarStory
	switch {
	case params.source == "vectors":
		results, err = h.deps.Recommender.NearestByVector(c.Request.Context(), storyID, params.limit)
	case params.live:
		results, err = h.deps.Recommender.ComputeSimilar(c.Request.Context(), storyID, services.ComputeParams{
			Metric: params.metric,
			Limit:  params.limit,
		})
	default:
		results, err = h.deps.Recommender.SimilarStories(c.Request.Context(), storyID, params.limit)
	}
	if err != nil {
		if errors.Is(err, services.ErrVectorSnapshotsDisabled) {
			BadRequest(c, "Vector snapshots are disabled on this deployment")
			return
		}
		h.respondStoryError(c, storyID, err)
		return
	}

	resp := make([]similarStoryJSON, len(results))
	for i, r := range results {
		resp[i] = toSimilarStoryJSON(r)
	}
	c.JSON(http.StatusOK, gin.H{"results": resp})
}

type similarParams struct {
	limit  int
	live   bool
	source string
	metric string
}

// parseSimilarParams parses and validates query parameters for the
// similar-stories endpoint.
func parseSimilarParams(c *gin.Context) (similarParams, error) {
	params := similarParams{limit: 10}

	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			return params, fmt.Errorf("invalid limit: %s", l)
		}
		params.limit = parsed
	}

	live := c.Query("live")
	params.live = live == "1" || live == "true"

	params.source = c.Query("source")
	if params.source != "" && params.source != "vectors" {
		return params, fmt.Errorf("invalid source: %s (expected 'vectors')", params.source)
	}

	params.metric = c.Query("metric")
	if params.metric != "" {
		if _, err := similarity.ParseMetric(params.metric); err != nil {
			return params, err
		}
		if !params.live {
			return params, fmt.Errorf("metric is only valid with live=1; persisted recommendations keep their run's metric")
		}
	}

	return params, nil
}

// --- Refresh ---

// RefreshCatalogHandler serves POST /refresh: it enqueues a full-catalog
// refresh and answers 202 with the task id. The optional JSON body may
// carry {"metric": "cosine"|"jaccard"}.
func (h *APIHandler) RefreshCatalogHandler(c *gin.Context) {
	var req struct {
		Metric string `json:"metric"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, "Invalid request body: "+err.Error())
			return
		}
	}
	if req.Metric != "" {
		if _, err := similarity.ParseMetric(req.Metric); err != nil {
			BadRequest(c, err.Error())
			return
		}
	}

	info, err := h.deps.Jobs.EnqueueCatalogRefresh(c.Request.Context(), req.Metric)
	if err != nil {
		h.deps.Log.WithError(err).Error("failed to enqueue catalog refresh")
		Internal(c, "Failed to enqueue catalog refresh")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": taskJSON(info)})
}

// RefreshStoryHandler serves POST /stories/:id/refresh: it enqueues a
// single-story refresh and answers 202. An optional ?metric= overrides the
// configured default for this task.
func (h *APIHandler) RefreshStoryHandler(c *gin.Context) {
	storyID, err := parseStoryIDFromRequest(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	metric := c.Query("metric")
	if metric != "" {
		if _, err := similarity.ParseMetric(metric); err != nil {
			BadRequest(c, err.Error())
			return
		}
	}

	if _, err := h.deps.Catalog.GetStory(c.Request.Context(), storyID); err != nil {
		h.respondStoryError(c, storyID, err)
		return
	}

	info, err := h.deps.Jobs.EnqueueStoryRefresh(c.Request.Context(), storyID, metric)
	if err != nil {
		h.deps.Log.WithError(err).WithField("story_id", storyID).Error("failed to enqueue story refresh")
		Internal(c, "Failed to enqueue story refresh")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": taskJSON(info)})
}

// --- Catalog Browsing ---

func (h *APIHandler) ListStoriesHandler(c *gin.Context) {
	limit, offset, err := parseListParams(c)
	if err != nil {
		BadRequest(c, "Invalid query parameters: "+err.Error())
		return
	}

	stories, err := h.deps.Catalog.ListStories(c.Request.Context(), limit, offset)
	if err != nil {
		h.deps.Log.WithError(err).Error("failed to list stories")
		Internal(c, "Failed to list stories")
		return
	}

	items := make([]storyJSON, len(stories))
	for i, st := range stories {
		items[i] = toStoryJSON(st, true)
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *APIHandler) GetStoryHandler(c *gin.Context) {
	storyID, err := parseStoryIDFromRequest(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	story, err := h.deps.Catalog.GetStory(c.Request.Context(), storyID)
	if err != nil {
		h.respondStoryError(c, storyID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toStoryJSON(story, false)})
}

func (h *APIHandler) ListGenresHandler(c *gin.Context) {
	genres, err := h.deps.Catalog.ListGenres(c.Request.Context())
	if err != nil {
		h.deps.Log.WithError(err).Error("failed to list genres")
		Internal(c, "Failed to list genres")
		return
	}

	items := make([]vocabJSON, len(genres))
	for i, g := range genres {
		items[i] = vocabJSON{ID: g.ID, Name: g.Name}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *APIHandler) ListTagsHandler(c *gin.Context) {
	tags, err := h.deps.Catalog.ListTags(c.Request.Context())
	if err != nil {
		h.deps.Log.WithError(err).Error("failed to list tags")
		Internal(c, "Failed to list tags")
		return
	}

	items := make([]vocabJSON, len(tags))
	for i, t := range tags {
		items[i] = vocabJSON{ID: t.ID, Name: t.Name}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// --- Batch Runs ---

func (h *APIHandler) ListRunsHandler(c *gin.Context) {
	limit := 20
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			BadRequest(c, "Invalid limit: "+l)
			return
		}
		limit = parsed
	}

	runs, err := h.deps.Runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		h.deps.Log.WithError(err).Error("failed to list runs")
		Internal(c, "Failed to list runs")
		return
	}

	items := make([]runJSON, len(runs))
	for i, run := range runs {
		items[i] = toRunJSON(run)
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *APIHandler) GetRunHandler(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequest(c, "Invalid run ID format: "+c.Param("id"))
		return
	}

	run, err := h.deps.Runs.GetRun(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			NotFound(c, "Run not found with ID: "+runID.String())
			return
		}
		h.deps.Log.WithError(err).WithField("run_id", runID).Error("failed to load run")
		Internal(c, "Failed to load run")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toRunJSON(run)})
}

// --- Health ---

// HealthHandler reports liveness plus primary database connectivity.
func (h *APIHandler) HealthHandler(c *gin.Context) {
	if h.deps.DB != nil {
		if err := h.deps.DB.Ping(c.Request.Context()); err != nil {
			h.deps.Log.WithError(err).Warn("health check: database unreachable")
			Unavailable(c, "database unreachable")
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Shared Helpers ---

// parseStoryIDFromRequest parses the story ID from path or query.
func parseStoryIDFromRequest(c *gin.Context) (int64, error) {
	idStr := c.Param("id")
	if idStr == "" {
		idStr = c.Query("id")
	}
	if idStr == "" {
		return 0, fmt.Errorf("Missing story ID parameter (expected in path /:id or query ?id=)")
	}
	storyID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || storyID <= 0 {
		return 0, fmt.Errorf("Invalid story ID format: %s", idStr)
	}
	return storyID, nil
}

func parseListParams(c *gin.Context) (limit, offset int, err error) {
	limit, offset = 20, 0
	if l := c.Query("limit"); l != "" {
		parsed, perr := strconv.Atoi(l)
		if perr != nil || parsed <= 0 {
			return 0, 0, fmt.Errorf("invalid limit: %s", l)
		}
		limit = parsed
	}
	if o := c.Query("offset"); o != "" {
		parsed, perr := strconv.Atoi(o)
		if perr != nil || parsed < 0 {
			return 0, 0, fmt.Errorf("invalid offset: %s", o)
		}
		offset = parsed
	}
	return limit, offset, nil
}

func (h *APIHandler) respondStoryError(c *gin.Context, storyID int64, err error) {
	if errors.Is(err, store.ErrNotFound) {
		NotFound(c, fmt.Sprintf("Story not found with ID: %d", storyID))
		return
	}
	h.deps.Log.WithError(err).WithField("story_id", storyID).Error("story request failed")
	Internal(c, fmt.Sprintf("Failed to process story %d", storyID))
}

// --- Response Shapes ---

type storyJSON struct {
	ID       int64   `json:"id"`
	AuthorID int64   `json:"author_id"`
	GenreID  *int64  `json:"genre_id,omitempty"`
	Status   string  `json:"status"`
	Title    string  `json:"title"`
	Synopsis string  `json:"synopsis"`
	TagIDs   []int64 `json:"tag_ids"`
}

func toStoryJSON(st *models.Story, snippet bool) storyJSON {
	synopsis := st.Synopsis
	if snippet {
		synopsis = util.Snippet(synopsis, synopsisSnippetLen)
	}
	return storyJSON{
		ID:       st.ID,
		AuthorID: st.AuthorID,
		GenreID:  st.GenreID,
		Status:   string(st.Status),
		Title:    st.Title,
		Synopsis: synopsis,
		TagIDs:   st.TagIDs,
	}
}

type similarStoryJSON struct {
	storyJSON
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

func toSimilarStoryJSON(r services.SimilarStory) similarStoryJSON {
	return similarStoryJSON{
		storyJSON: toStoryJSON(&r.Story, true),
		Score:     r.Score,
		Rank:      r.Rank,
	}
}

type vocabJSON struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type runJSON struct {
	ID                     string  `json:"id"`
	Metric                 string  `json:"metric"`
	Status                 string  `json:"status"`
	StoriesProcessed       int     `json:"stories_processed"`
	RecommendationsWritten int     `json:"recommendations_written"`
	OrphanGenreRefs        int     `json:"orphan_genre_refs"`
	OrphanTagRefs          int     `json:"orphan_tag_refs"`
	StartedAt              string  `json:"started_at"`
	FinishedAt             *string `json:"finished_at,omitempty"`
	Error                  *string `json:"error,omitempty"`
}

func toRunJSON(run *models.BatchRun) runJSON {
	out := runJSON{
		ID:                     run.ID.String(),
		Metric:                 run.Metric,
		Status:                 run.Status,
		StoriesProcessed:       run.StoriesProcessed,
		RecommendationsWritten: run.RecommendationsWritten,
		OrphanGenreRefs:        run.OrphanGenreRefs,
		OrphanTagRefs:          run.OrphanTagRefs,
		StartedAt:              run.StartedAt.Format(time.RFC3339),
		Error:                  run.Error,
	}
	if run.FinishedAt != nil {
		finished := run.FinishedAt.Format(time.RFC3339)
		out.FinishedAt = &finished
	}
	return out
}

func taskJSON(info *asynq.TaskInfo) gin.H {
	return gin.H{"task_id": info.ID, "queue": info.Queue, "type": info.Type}
}
