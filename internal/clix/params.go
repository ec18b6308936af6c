package clix

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"fabula/pkg/similarity"
)

type PaginationParams struct {
	Limit  int
	Offset int
}

// ParsePagination reads the shared --limit/--offset flags, clamping
// nonsense values to usable defaults.
func ParsePagination(flags *pflag.FlagSet) (PaginationParams, error) {
	limit, _ := flags.GetInt("limit")
	offset, _ := flags.GetInt("offset")
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return PaginationParams{Limit: limit, Offset: offset}, nil
}

// ParseStoryID parses a positional story-id argument.
func ParseStoryID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid story id %q: expected a positive number", arg)
	}
	return id, nil
}

// ParseMetric reads the --metric flag. An empty value means "use the
// configured default" and is passed through as such.
func ParseMetric(flags *pflag.FlagSet) (string, error) {
	raw, _ := flags.GetString("metric")
	if raw == "" {
		return "", nil
	}
	m, err := similarity.ParseMetric(raw)
	if err != nil {
		return "", err
	}
	return string(m), nil
}
