package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genreRef(id int64) *int64 { return &id }

// Fixture vocabulary shared across the package tests: two genres followed
// by two tags, vector positions [Fantasy, SciFi, magic, dragons].
var (
	testGenres = []Genre{{ID: 1, Name: "Fantasy"}, {ID: 2, Name: "SciFi"}}
	testTags   = []Tag{{ID: 10, Name: "magic"}, {ID: 11, Name: "dragons"}}

	storyA = Story{ID: 100, AuthorID: 1, GenreID: genreRef(1), Status: StatusPublished, TagIDs: []int64{10, 11}}
	storyB = Story{ID: 101, AuthorID: 2, GenreID: genreRef(1), Status: StatusPublished, TagIDs: []int64{10}}
	storyC = Story{ID: 102, AuthorID: 3, GenreID: genreRef(2), Status: StatusPublished, TagIDs: nil}
)

func TestVectorize_Concrete(t *testing.T) {
	assert.Equal(t, FeatureVector{1, 0, 1, 1}, Vectorize(storyA, testGenres, testTags))
	assert.Equal(t, FeatureVector{1, 0, 1, 0}, Vectorize(storyB, testGenres, testTags))
	assert.Equal(t, FeatureVector{0, 1, 0, 0}, Vectorize(storyC, testGenres, testTags))
}

func TestVectorize_Deterministic(t *testing.T) {
	first := Vectorize(storyA, testGenres, testTags)
	second := Vectorize(storyA, testGenres, testTags)
	assert.Equal(t, first, second, "same story and vocabulary must vectorize identically")
}

func TestVectorize_Length(t *testing.T) {
	tests := []struct {
		name   string
		story  Story
		genres []Genre
		tags   []Tag
	}{
		{"full story", storyA, testGenres, testTags},
		{"empty story", Story{ID: 1}, testGenres, testTags},
		{"no tags in vocabulary", storyA, testGenres, nil},
		{"no genres in vocabulary", storyA, nil, testTags},
		{"empty vocabulary", storyA, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vec := Vectorize(tt.story, tt.genres, tt.tags)
			assert.Len(t, vec, len(tt.genres)+len(tt.tags))
		})
	}
}

func TestVectorize_GenreBits(t *testing.T) {
	tests := []struct {
		name     string
		genreID  *int64
		wantBits FeatureVector // genre sub-range only
	}{
		{"nil genre sets nothing", nil, FeatureVector{0, 0}},
		{"matching genre sets its index", genreRef(2), FeatureVector{0, 1}},
		{"unknown genre sets nothing", genreRef(42), FeatureVector{0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			story := Story{ID: 1, GenreID: tt.genreID}
			vec := Vectorize(story, testGenres, testTags)
			assert.Equal(t, tt.wantBits, vec[:len(testGenres)])

			var set int
			for _, x := range vec[:len(testGenres)] {
				if x != 0 {
					set++
				}
			}
			assert.LessOrEqual(t, set, 1, "at most one genre bit may be set")
		})
	}
}

func TestVectorize_UnknownTagsIgnored(t *testing.T) {
	story := Story{ID: 1, TagIDs: []int64{10, 999, 1000}}
	vec := Vectorize(story, testGenres, testTags)
	assert.Equal(t, FeatureVector{0, 0, 1, 0}, vec, "only the known tag sets a bit")
}

func TestOrphanRefs(t *testing.T) {
	tests := []struct {
		name  string
		story Story
		want  Diagnostics
	}{
		{"clean story", storyA, Diagnostics{}},
		{"nil genre is absent, not orphaned", Story{ID: 1, TagIDs: []int64{10}}, Diagnostics{}},
		{"orphaned genre", Story{ID: 1, GenreID: genreRef(42)}, Diagnostics{OrphanGenre: true}},
		{"orphaned tags", Story{ID: 1, GenreID: genreRef(1), TagIDs: []int64{10, 998, 999}}, Diagnostics{OrphanTags: 2}},
		{"both", Story{ID: 1, GenreID: genreRef(42), TagIDs: []int64{999}}, Diagnostics{OrphanGenre: true, OrphanTags: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OrphanRefs(tt.story, testGenres, testTags))
		})
	}
}

func TestFeatureVector_Validate(t *testing.T) {
	require.NoError(t, FeatureVector{0, 1, 1, 0}.Validate())
	require.NoError(t, FeatureVector{}.Validate())

	err := FeatureVector{0, 0.5, 1}.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNonBinaryVector)
}
