package similarity

import (
	"fmt"
	"sort"
)

// Result pairs a candidate story with its similarity to the target.
type Result struct {
	Story Story
	Score float64
}

// Options control candidate filtering and ranking.
type Options struct {
	// ExcludeSameAuthor drops candidates sharing the target's author.
	ExcludeSameAuthor bool
	// Limit truncates the ranked list; 0 keeps every candidate.
	Limit int
}

// ComputeSimilarStories ranks every eligible candidate in catalog by its
// similarity to target. The target is vectorized once, the catalog is
// filtered, each survivor is vectorized against the same vocabulary and
// scored with score, and the results are sorted descending. The sort is
// stable: equal scores keep the catalog's relative order. With
// opts.Limit > 0 the list is truncated to the top Limit entries.
//
// The computation is a stateless single pass over values; concurrent calls
// for different targets over the same snapshot are safe. The only failure
// mode is an error from score, which aborts the whole call.
func ComputeSimilarStories(target Story, catalog []Story, genres []Genre, tags []Tag, score ScoreFunc, opts Options) ([]Result, error) {
	targetVec := Vectorize(target, genres, tags)

	candidates := FilterCandidates(target, catalog, opts.ExcludeSameAuthor)
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		s, err := score(targetVec, Vectorize(c, genres, tags))
		if err != nil {
			return nil, fmt.Errorf("scoring story %d against %d: %w", c.ID, target.ID, err)
		}
		results = append(results, Result{Story: c, Score: s})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}
