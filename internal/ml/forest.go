// Package ml implements the small amount of supervised learning the
// productivity predictor needs: a standard scaler and a random forest
// regressor built from CART trees with variance-reduction splits.
//
// Training is deterministic for a given seed, and every model type keeps
// its fitted state in exported fields so it can be gob-encoded and
// restored with identical predictions.
package ml

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

var (
	ErrNotFitted    = errors.New("model is not fitted")
	ErrInvalidInput = errors.New("invalid training input")
)

// ForestConfig controls forest construction. Zero values take defaults.
type ForestConfig struct {
	Trees           int
	MaxDepth        int // 0 grows trees until leaves are pure or too small
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     float64 // fraction of columns tried per split
	Bootstrap       bool
	Seed            int64
}

func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:           100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     1.0,
		Bootstrap:       true,
		Seed:            42,
	}
}

func (c ForestConfig) withDefaults() ForestConfig {
	if c.Trees <= 0 {
		c.Trees = 100
	}
	if c.MaxDepth < 0 {
		c.MaxDepth = 0
	}
	if c.MinSamplesSplit < 2 {
		c.MinSamplesSplit = 2
	}
	if c.MinSamplesLeaf < 1 {
		c.MinSamplesLeaf = 1
	}
	if c.MaxFeatures <= 0 || c.MaxFeatures > 1 {
		c.MaxFeatures = 1.0
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	return c
}

// Tree is a regression tree stored as parallel node arrays. Feature is -1
// for leaves.
type Tree struct {
	Feature   []int
	Threshold []float64
	Left      []int
	Right     []int
	Value     []float64
}

func (t *Tree) predict(row []float64) float64 {
	node := 0
	for t.Feature[node] >= 0 {
		if row[t.Feature[node]] <= t.Threshold[node] {
			node = t.Left[node]
		} else {
			node = t.Right[node]
		}
	}
	return t.Value[node]
}

// depth returns the number of edges on the longest root-to-leaf path.
func (t *Tree) depth() int {
	var walk func(node int) int
	walk = func(node int) int {
		if t.Feature[node] < 0 {
			return 0
		}
		l, r := walk(t.Left[node]), walk(t.Right[node])
		if l > r {
			return l + 1
		}
		return r + 1
	}
	if len(t.Feature) == 0 {
		return 0
	}
	return walk(0)
}

// RandomForest averages the predictions of bootstrap-trained trees.
type RandomForest struct {
	Config    ForestConfig
	Trees     []Tree
	NFeatures int
}

func NewRandomForest(cfg ForestConfig) *RandomForest {
	return &RandomForest{Config: cfg.withDefaults()}
}

func (f *RandomForest) IsFitted() bool {
	return f != nil && len(f.Trees) > 0 && f.NFeatures > 0
}

// Fit replaces any previous trees with a forest trained on (x, y).
func (f *RandomForest) Fit(x [][]float64, y []float64) error {
	width, err := checkMatrix(x)
	if err != nil {
		return err
	}
	if len(y) != len(x) {
		return fmt.Errorf("%w: %d rows but %d targets", ErrInvalidInput, len(x), len(y))
	}

	cfg := f.Config.withDefaults()
	rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // deterministic model training

	trees := make([]Tree, cfg.Trees)
	for i := range trees {
		idx := make([]int, len(x))
		for j := range idx {
			if cfg.Bootstrap {
				idx[j] = rng.Intn(len(x))
			} else {
				idx[j] = j
			}
		}
		b := builder{x: x, y: y, cfg: cfg, width: width, rng: rng}
		b.grow(idx, 0)
		trees[i] = b.tree
	}

	f.Config = cfg
	f.Trees = trees
	f.NFeatures = width
	return nil
}

func (f *RandomForest) Predict(x [][]float64) ([]float64, error) {
	if !f.IsFitted() {
		return nil, ErrNotFitted
	}
	width, err := checkMatrix(x)
	if err != nil {
		return nil, err
	}
	if width != f.NFeatures {
		return nil, fmt.Errorf("%w: model fitted on %d columns, got %d", ErrInvalidInput, f.NFeatures, width)
	}

	out := make([]float64, len(x))
	for i, row := range x {
		var sum float64
		for t := range f.Trees {
			sum += f.Trees[t].predict(row)
		}
		out[i] = sum / float64(len(f.Trees))
	}
	return out, nil
}

type builder struct {
	x     [][]float64
	y     []float64
	cfg   ForestConfig
	width int
	rng   *rand.Rand
	tree  Tree
}

func (b *builder) addNode(feature int, threshold, value float64) int {
	b.tree.Feature = append(b.tree.Feature, feature)
	b.tree.Threshold = append(b.tree.Threshold, threshold)
	b.tree.Left = append(b.tree.Left, -1)
	b.tree.Right = append(b.tree.Right, -1)
	b.tree.Value = append(b.tree.Value, value)
	return len(b.tree.Feature) - 1
}

func (b *builder) grow(idx []int, depth int) int {
	mean, pure := b.stats(idx)

	if pure || len(idx) < b.cfg.MinSamplesSplit || (b.cfg.MaxDepth > 0 && depth >= b.cfg.MaxDepth) {
		return b.addNode(-1, 0, mean)
	}

	feature, threshold, ok := b.bestSplit(idx)
	if !ok {
		return b.addNode(-1, 0, mean)
	}

	var left, right []int
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	node := b.addNode(feature, threshold, mean)
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.tree.Left[node] = l
	b.tree.Right[node] = r
	return node
}

func (b *builder) stats(idx []int) (mean float64, pure bool) {
	first := b.y[idx[0]]
	pure = true
	var sum float64
	for _, i := range idx {
		sum += b.y[i]
		if b.y[i] != first {
			pure = false
		}
	}
	return sum / float64(len(idx)), pure
}

// bestSplit maximises sumL²/nL + sumR²/nR, which is equivalent to
// minimising the summed squared error of both children.
func (b *builder) bestSplit(idx []int) (feature int, threshold float64, ok bool) {
	n := len(idx)
	var total float64
	for _, i := range idx {
		total += b.y[i]
	}
	bestScore := total * total / float64(n)

	candidates := b.rng.Perm(b.width)
	tries := int(b.cfg.MaxFeatures * float64(b.width))
	if tries < 1 {
		tries = 1
	}

	sorted := make([]int, n)
	for _, f := range candidates[:tries] {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, c int) bool {
			return b.x[sorted[a]][f] < b.x[sorted[c]][f]
		})

		var leftSum float64
		for k := 0; k < n-1; k++ {
			leftSum += b.y[sorted[k]]
			nl := k + 1
			nr := n - nl
			if nl < b.cfg.MinSamplesLeaf || nr < b.cfg.MinSamplesLeaf {
				continue
			}
			lo, hi := b.x[sorted[k]][f], b.x[sorted[k+1]][f]
			if lo == hi {
				continue
			}
			rightSum := total - leftSum
			score := leftSum*leftSum/float64(nl) + rightSum*rightSum/float64(nr)
			if score > bestScore+1e-12 {
				bestScore = score
				feature = f
				threshold = lo + (hi-lo)/2
				ok = true
			}
		}
	}
	return feature, threshold, ok
}

func checkMatrix(x [][]float64) (int, error) {
	if len(x) == 0 {
		return 0, fmt.Errorf("%w: no rows", ErrInvalidInput)
	}
	width := len(x[0])
	if width == 0 {
		return 0, fmt.Errorf("%w: no columns", ErrInvalidInput)
	}
	for i, row := range x {
		if len(row) != width {
			return 0, fmt.Errorf("%w: row %d has %d columns, want %d", ErrInvalidInput, i, len(row), width)
		}
	}
	return width, nil
}
