package tasks

// Defines constants for task types used in Asynq.

const (
	// TypeCatalogRefresh recomputes recommendations for the whole catalog.
	TypeCatalogRefresh = "recommendation:refresh_catalog"
	// TypeStoryRefresh recomputes recommendations for a single story.
	TypeStoryRefresh = "recommendation:refresh_story"
)

// QueueRecommendations is the asynq queue refresh tasks are routed to.
const QueueRecommendations = "recommendations"
