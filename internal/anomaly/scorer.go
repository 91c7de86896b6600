package anomaly

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"portaria/internal/config"
	"portaria/internal/model"
)

var (
	ErrInsufficientData     = errors.New("insufficient data for anomaly scoring")
	ErrInvalidContamination = errors.New("contamination must be in (0, 0.5]")
)

type Options struct {
	// Contamination is the expected share of anomalous rows. The accepted
	// range is the half-open (0, 0.5]; 0.5 is allowed, matching sklearn's
	// IsolationForest upper bound.
	Contamination float64
	Trees         int
	SampleSize    int
	Seed          int64
}

// OptionsFrom builds scorer options, drawing a fresh seed when none is pinned.
func OptionsFrom(cfg config.AnomalyConfig) Options {
	seed := time.Now().UnixNano()
	if cfg.Seed != nil {
		seed = *cfg.Seed
	}
	return Options{
		Contamination: cfg.Contamination,
		Trees:         cfg.Trees,
		SampleSize:    cfg.SampleSize,
		Seed:          seed,
	}
}

// Score fits a forest on ResponseTimeSeconds and labels every row.
func Score(table model.Table, opts Options) (model.Table, error) {
	if table.Len() == 0 {
		return model.Table{}, ErrInsufficientData
	}
	if opts.Contamination <= 0 || opts.Contamination > 0.5 || math.IsNaN(opts.Contamination) {
		return model.Table{}, fmt.Errorf("%w: %v", ErrInvalidContamination, opts.Contamination)
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = 256
	}

	values := make([]float64, table.Len())
	for i, ev := range table.Rows {
		values[i] = float64(ev.ResponseTimeSeconds)
	}
	rng := rand.New(rand.NewPCG(uint64(opts.Seed), uint64(opts.Seed)^0x9e3779b97f4a7c15))
	forest := Fit(values, opts.Trees, opts.SampleSize, rng)

	scores := make([]float64, len(values))
	neg := make([]float64, len(values))
	for i, v := range values {
		scores[i] = forest.Score(v)
		neg[i] = -scores[i]
	}
	offset := percentile(neg, 100*opts.Contamination)

	out := table.Clone()
	for i := range out.Rows {
		out.Rows[i].AnomalyScore = scores[i]
		if neg[i] < offset {
			out.Rows[i].AnomalyFlag = model.Outlier
		} else {
			out.Rows[i].AnomalyFlag = model.Inlier
		}
	}
	return out, nil
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, q float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := q / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if hi >= len(sorted) {
		hi = len(sorted) - 1
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

// CountOutliers returns the number of rows flagged Outlier.
func CountOutliers(table model.Table) int {
	n := 0
	for _, ev := range table.Rows {
		if ev.AnomalyFlag == model.Outlier {
			n++
		}
	}
	return n
}
