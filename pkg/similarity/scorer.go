package similarity

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrDimensionMismatch reports two vectors of different lengths. Vectors
// are only comparable when built from one vocabulary snapshot, so a
// mismatch means the caller mixed snapshots within a run. It is a
// programming error: fix the caller, never retry.
var ErrDimensionMismatch = errors.New("similarity: vector dimensions do not match")

// ScoreFunc computes a similarity score in [0,1] between two equal-length
// binary vectors.
type ScoreFunc func(a, b FeatureVector) (float64, error)

// Cosine returns dot(a,b) / (norm(a) * norm(b)). A zero-norm vector scores
// 0 against everything, never NaN.
func Cosine(a, b FeatureVector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Jaccard returns the size of the bit intersection over the size of the
// bit union. An empty union scores 0. Nonzero values count as set bits.
func Jaccard(a, b FeatureVector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	var inter, union int
	for i := range a {
		as, bs := a[i] != 0, b[i] != 0
		switch {
		case as && bs:
			inter++
			union++
		case as || bs:
			union++
		}
	}
	if union == 0 {
		return 0, nil
	}
	return float64(inter) / float64(union), nil
}

// Metric names a similarity measure for config and flag dispatch.
type Metric string

const (
	MetricCosine  Metric = "cosine"
	MetricJaccard Metric = "jaccard"
)

// ErrUnknownMetric reports a metric name outside the supported set.
var ErrUnknownMetric = errors.New("similarity: unknown metric")

// ParseMetric maps a config or flag value onto a Metric.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case MetricCosine:
		return MetricCosine, nil
	case MetricJaccard:
		return MetricJaccard, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownMetric, s)
	}
}

// ScoreFunc returns the scoring strategy for the metric. Unrecognized
// metrics fall back to cosine; validate with ParseMetric first.
func (m Metric) ScoreFunc() ScoreFunc {
	if m == MetricJaccard {
		return Jaccard
	}
	return Cosine
}
