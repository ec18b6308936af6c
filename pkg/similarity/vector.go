package similarity

import (
	"errors"
	"fmt"
)

// ErrNonBinaryVector reports a vector element other than 0 or 1.
var ErrNonBinaryVector = errors.New("similarity: vector contains non-binary values")

// FeatureVector is a fixed-length binary vector over one vocabulary
// snapshot: one position per genre followed by one position per tag.
type FeatureVector []float64

// Vectorize builds the feature vector for story against the given
// vocabulary. The result has length len(genres)+len(tags): the story's
// genre sets at most one bit in the genre range, and every story tag found
// in tags sets one bit in the tag range. Genre or tag ids missing from the
// vocabulary set no bit and raise no error; see OrphanRefs for the
// diagnostic. Identical inputs always produce identical vectors.
func Vectorize(story Story, genres []Genre, tags []Tag) FeatureVector {
	vec := make(FeatureVector, len(genres)+len(tags))

	if story.GenreID != nil {
		for i, g := range genres {
			if g.ID == *story.GenreID {
				vec[i] = 1
				break
			}
		}
	}

	tagIndex := make(map[int64]int, len(tags))
	for i, t := range tags {
		tagIndex[t.ID] = len(genres) + i
	}
	for _, id := range story.TagIDs {
		if pos, ok := tagIndex[id]; ok {
			vec[pos] = 1
		}
	}

	return vec
}

// Diagnostics counts vocabulary references on a story that resolve to no
// vector position. Orphans never fail vectorization; they usually point at
// stale or inconsistent catalog data.
type Diagnostics struct {
	OrphanGenre bool
	OrphanTags  int
}

// OrphanRefs reports the story's genre/tag references missing from the
// vocabulary. A nil GenreID is absent, not orphaned.
func OrphanRefs(story Story, genres []Genre, tags []Tag) Diagnostics {
	var d Diagnostics

	if story.GenreID != nil {
		found := false
		for _, g := range genres {
			if g.ID == *story.GenreID {
				found = true
				break
			}
		}
		d.OrphanGenre = !found
	}

	known := make(map[int64]struct{}, len(tags))
	for _, t := range tags {
		known[t.ID] = struct{}{}
	}
	for _, id := range story.TagIDs {
		if _, ok := known[id]; !ok {
			d.OrphanTags++
		}
	}

	return d
}

// Validate reports whether the vector holds only 0/1 values. The scorers
// accept arbitrary values and compute over them as given, so callers
// feeding vectors built outside Vectorize can use this to keep the [0,1]
// score guarantee.
func (v FeatureVector) Validate() error {
	for i, x := range v {
		if x != 0 && x != 1 {
			return fmt.Errorf("%w: value %v at index %d", ErrNonBinaryVector, x, i)
		}
	}
	return nil
}
