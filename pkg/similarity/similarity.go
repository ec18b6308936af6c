// Package similarity computes ranked similar-story lists over a story
// catalog. Stories are projected onto binary feature vectors spanning the
// catalog's genre/tag vocabulary, scored pairwise with cosine or Jaccard
// similarity, filtered, and stable-sorted by score.
//
// All functions are pure: the vocabulary is an explicit parameter on every
// call, inputs are never mutated, and no state is kept between calls.
// Scores are only comparable between vectors built against the same
// vocabulary ordering, so callers must snapshot the vocabulary once per
// run and pass the identical ordered lists to every call.
package similarity

// Status is the publication state of a story. Only drafts matter to this
// package: they are never eligible candidates.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusCompleted Status = "completed"
)

// Story is the read-only view of a story this package operates on.
type Story struct {
	ID       int64
	AuthorID int64
	GenreID  *int64
	Status   Status
	TagIDs   []int64
}

// Genre is a vocabulary entry. The ordered genre list defines the leading
// index range of every feature vector.
type Genre struct {
	ID   int64
	Name string
}

// Tag is a vocabulary entry. The ordered tag list defines the trailing
// index range of every feature vector.
type Tag struct {
	ID   int64
	Name string
}
