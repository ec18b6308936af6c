package clix

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paginationFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("limit", 20, "")
	flags.Int("offset", 0, "")
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want PaginationParams
	}{
		{"defaults", nil, PaginationParams{Limit: 20, Offset: 0}},
		{"explicit", []string{"--limit", "5", "--offset", "40"}, PaginationParams{Limit: 5, Offset: 40}},
		{"zero limit clamps to default", []string{"--limit", "0"}, PaginationParams{Limit: 20}},
		{"negative offset clamps to zero", []string{"--offset", "-3"}, PaginationParams{Limit: 20, Offset: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePagination(paginationFlags(t, tt.args...))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseStoryID(t *testing.T) {
	id, err := ParseStoryID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	id, err = ParseStoryID(" 7 ")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	for _, bad := range []string{"", "abc", "-1", "0", "1.5"} {
		_, err := ParseStoryID(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestParseMetric(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("metric", "", "")

	got, err := ParseMetric(flags)
	require.NoError(t, err)
	assert.Equal(t, "", got, "empty means configured default")

	require.NoError(t, flags.Set("metric", "JACCARD"))
	got, err = ParseMetric(flags)
	require.NoError(t, err)
	assert.Equal(t, "jaccard", got)

	require.NoError(t, flags.Set("metric", "pearson"))
	_, err = ParseMetric(flags)
	assert.Error(t, err)
}
