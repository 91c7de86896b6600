package anomaly

import (
	"math"
	"math/rand/v2"
)

const eulerGamma = 0.5772156649015329

// Forest is an isolation forest over a single numeric feature. Points that
// random splits separate quickly get short average path lengths and high scores.
type Forest struct {
	trees      []*node
	sampleSize int
	norm       float64
}

type node struct {
	split       float64
	left, right *node
	size        int
}

func (n *node) leaf() bool {
	return n.left == nil
}

// Fit grows trees on subsamples of values drawn without replacement.
func Fit(values []float64, trees, sampleSize int, rng *rand.Rand) *Forest {
	if trees <= 0 {
		trees = 100
	}
	if sampleSize <= 0 || sampleSize > len(values) {
		sampleSize = len(values)
	}
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(sampleSize), 1))))
	f := &Forest{
		trees:      make([]*node, 0, trees),
		sampleSize: sampleSize,
		norm:       averagePathLength(sampleSize),
	}
	pool := make([]float64, len(values))
	for i := 0; i < trees; i++ {
		copy(pool, values)
		sample := subsample(pool, sampleSize, rng)
		f.trees = append(f.trees, grow(sample, 0, maxDepth, rng))
	}
	return f
}

// subsample moves a random selection of k values to the front of pool.
func subsample(pool []float64, k int, rng *rand.Rand) []float64 {
	for i := 0; i < k; i++ {
		j := i + rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k]
}

func grow(values []float64, depth, maxDepth int, rng *rand.Rand) *node {
	if depth >= maxDepth || len(values) <= 1 {
		return &node{size: len(values)}
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		return &node{size: len(values)}
	}
	split := lo + rng.Float64()*(hi-lo)
	// partition in place: values <= split first
	i := 0
	for j := range values {
		if values[j] <= split {
			values[i], values[j] = values[j], values[i]
			i++
		}
	}
	return &node{
		split: split,
		left:  grow(values[:i], depth+1, maxDepth, rng),
		right: grow(values[i:], depth+1, maxDepth, rng),
		size:  len(values),
	}
}

// PathLength is the mean isolation depth of x across all trees.
func (f *Forest) PathLength(x float64) float64 {
	if len(f.trees) == 0 {
		return 0
	}
	var total float64
	for _, t := range f.trees {
		total += pathLength(t, x, 0)
	}
	return total / float64(len(f.trees))
}

// Score maps x into (0, 1]; values near 1 are anomalous and values well
// below 0.5 are ordinary.
func (f *Forest) Score(x float64) float64 {
	if f.norm == 0 {
		return 0.5
	}
	return math.Pow(2, -f.PathLength(x)/f.norm)
}

func pathLength(n *node, x float64, depth int) float64 {
	for !n.leaf() {
		if x <= n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return float64(depth) + averagePathLength(n.size)
}

// averagePathLength is the expected depth of an unsuccessful search in a
// binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}
