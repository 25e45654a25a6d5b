// Package forest implements a random forest of CART trees for binary classification.
package forest

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/hed1ad/phishguard/pkg/classifiers"
)

// RandomForest is a bagged ensemble of Gini-split decision trees. The
// positive class probability is the mean leaf probability across trees.
type RandomForest struct {
	mu sync.RWMutex

	// Configuration
	nTrees          int
	maxDepth        int
	minSamplesSplit int
	maxFeatures     int
	rng             *rand.Rand

	// Trained model
	trees       []*node
	nFeatures   int
	importances []float64
	trained     bool
}

// node is a node of a decision tree. Fields are exported for gob.
type node struct {
	// Split parameters (for internal nodes)
	Feature   int
	Threshold float64

	// Children
	Left  *node
	Right *node

	// Leaf information: fraction of positive samples that reached this node
	Prob float64
	Leaf bool
}

// Option configures a RandomForest.
type Option func(*RandomForest)

// WithTrees sets the number of trees.
func WithTrees(n int) Option {
	return func(f *RandomForest) {
		if n > 0 {
			f.nTrees = n
		}
	}
}

// WithMaxDepth limits tree depth. 0 grows trees until leaves are pure.
func WithMaxDepth(d int) Option {
	return func(f *RandomForest) {
		if d >= 0 {
			f.maxDepth = d
		}
	}
}

// WithMinSamplesSplit sets the minimum node size eligible for splitting.
func WithMinSamplesSplit(n int) Option {
	return func(f *RandomForest) {
		if n >= 2 {
			f.minSamplesSplit = n
		}
	}
}

// WithMaxFeatures sets how many features are examined per split.
// 0 uses ceil(sqrt(n_features)).
func WithMaxFeatures(n int) Option {
	return func(f *RandomForest) {
		if n >= 0 {
			f.maxFeatures = n
		}
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(f *RandomForest) {
		f.rng = rand.New(rand.NewSource(seed))
	}
}

// New creates a new RandomForest with the given options.
func New(opts ...Option) *RandomForest {
	f := &RandomForest{
		nTrees:          100,
		minSamplesSplit: 2,
		rng:             rand.New(rand.NewSource(42)),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fit trains the forest on bootstrap samples of X.
func (f *RandomForest) Fit(X [][]float64, y []int) error {
	if err := classifiers.Validate(X, y); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	nSamples := len(X)
	nFeatures := len(X[0])

	maxFeatures := f.maxFeatures
	if maxFeatures == 0 || maxFeatures > nFeatures {
		maxFeatures = int(math.Ceil(math.Sqrt(float64(nFeatures))))
	}

	f.trees = make([]*node, f.nTrees)
	f.importances = make([]float64, nFeatures)

	for i := 0; i < f.nTrees; i++ {
		// Each tree gets its own generator so the draw order of one tree never
		// shifts another.
		b := &builder{
			X:           X,
			y:           y,
			rng:         rand.New(rand.NewSource(f.rng.Int63())),
			maxDepth:    f.maxDepth,
			minSplit:    f.minSamplesSplit,
			maxFeatures: maxFeatures,
			importances: make([]float64, nFeatures),
		}

		// Bootstrap sample with replacement
		sample := make([]int, nSamples)
		for j := range sample {
			sample[j] = b.rng.Intn(nSamples)
		}

		f.trees[i] = b.build(sample, 0)
		addNormalized(f.importances, b.importances)
	}

	var total float64
	for _, v := range f.importances {
		total += v
	}
	if total > 0 {
		for i := range f.importances {
			f.importances[i] /= total
		}
	}

	f.nFeatures = nFeatures
	f.trained = true
	return nil
}

// builder grows a single tree.
type builder struct {
	X           [][]float64
	y           []int
	rng         *rand.Rand
	maxDepth    int
	minSplit    int
	maxFeatures int
	importances []float64
}

func (b *builder) build(rows []int, depth int) *node {
	n := len(rows)
	pos := 0
	for _, r := range rows {
		pos += b.y[r]
	}
	prob := float64(pos) / float64(n)

	// Terminal conditions
	if pos == 0 || pos == n || n < b.minSplit || (b.maxDepth > 0 && depth >= b.maxDepth) {
		return &node{Prob: prob, Leaf: true}
	}

	s, ok := b.bestSplit(rows, pos)
	if !ok {
		return &node{Prob: prob, Leaf: true}
	}

	// Partition rows
	var left, right []int
	for _, r := range rows {
		if b.X[r][s.feature] <= s.threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	if len(left) == 0 || len(right) == 0 {
		return &node{Prob: prob, Leaf: true}
	}
	b.importances[s.feature] += s.decrease

	return &node{
		Feature:   s.feature,
		Threshold: s.threshold,
		Prob:      prob,
		Left:      b.build(left, depth+1),
		Right:     b.build(right, depth+1),
	}
}

type split struct {
	feature   int
	threshold float64
	decrease  float64
}

// bestSplit examines random features until at least maxFeatures have been
// tried and a valid split exists.
func (b *builder) bestSplit(rows []int, pos int) (split, bool) {
	n := float64(len(rows))
	parent := n * gini(float64(pos), n)

	var best split
	found := false

	order := b.rng.Perm(len(b.importances))
	sorted := make([]int, len(rows))

	for tried, feature := range order {
		if tried >= b.maxFeatures && found {
			break
		}

		copy(sorted, rows)
		sort.SliceStable(sorted, func(i, j int) bool {
			return b.X[sorted[i]][feature] < b.X[sorted[j]][feature]
		})

		leftPos := 0.0
		for i := 0; i < len(sorted)-1; i++ {
			leftPos += float64(b.y[sorted[i]])
			cur, next := b.X[sorted[i]][feature], b.X[sorted[i+1]][feature]
			if cur == next {
				continue
			}

			nl := float64(i + 1)
			nr := n - nl
			child := nl*gini(leftPos, nl) + nr*gini(float64(pos)-leftPos, nr)
			decrease := parent - child

			if !found || decrease > best.decrease {
				// Adjacent floats can round the midpoint up to next.
				threshold := cur + (next-cur)/2
				if threshold >= next {
					threshold = cur
				}
				best = split{
					feature:   feature,
					threshold: threshold,
					decrease:  decrease,
				}
				found = true
			}
		}
	}

	return best, found
}

// gini is the Gini impurity of a node with pos positives out of n.
func gini(pos, n float64) float64 {
	if n == 0 {
		return 0
	}
	p := pos / n
	return 2 * p * (1 - p)
}

func addNormalized(dst, src []float64) {
	var total float64
	for _, v := range src {
		total += v
	}
	if total == 0 {
		return
	}
	for i, v := range src {
		dst[i] += v / total
	}
}

// PredictProba returns the positive class probability for each row.
func (f *RandomForest) PredictProba(X [][]float64) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, classifiers.ErrNotTrained
	}

	probs := make([]float64, len(X))
	for i, x := range X {
		p, err := f.predictOne(x)
		if err != nil {
			return nil, err
		}
		probs[i] = p
	}
	return probs, nil
}

// PredictProbaOne returns the positive class probability for a single row.
func (f *RandomForest) PredictProbaOne(x []float64) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return 0, classifiers.ErrNotTrained
	}
	return f.predictOne(x)
}

func (f *RandomForest) predictOne(x []float64) (float64, error) {
	if len(x) != f.nFeatures {
		return 0, fmt.Errorf("sample has %d features, want %d", len(x), f.nFeatures)
	}

	var total float64
	for _, t := range f.trees {
		total += leafProb(t, x)
	}
	return total / float64(len(f.trees)), nil
}

func leafProb(n *node, x []float64) float64 {
	for !n.Leaf {
		if x[n.Feature] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Prob
}

// FeatureImportances returns the mean decrease in impurity per feature,
// normalized to sum to 1.
func (f *RandomForest) FeatureImportances() ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, classifiers.ErrNotTrained
	}
	return append([]float64(nil), f.importances...), nil
}

// snapshot is the persisted form of a trained forest.
type snapshot struct {
	NTrees          int
	MaxDepth        int
	MinSamplesSplit int
	MaxFeatures     int
	NFeatures       int
	Trees           []*node
	Importances     []float64
}

// Save serializes the trained model.
func (f *RandomForest) Save() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, classifiers.ErrNotTrained
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(snapshot{
		NTrees:          f.nTrees,
		MaxDepth:        f.maxDepth,
		MinSamplesSplit: f.minSamplesSplit,
		MaxFeatures:     f.maxFeatures,
		NFeatures:       f.nFeatures,
		Trees:           f.trees,
		Importances:     f.importances,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained model.
func (f *RandomForest) Load(data []byte) error {
	var s snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}
	if len(s.Trees) == 0 {
		return fmt.Errorf("forest has no trees")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nTrees = s.NTrees
	f.maxDepth = s.MaxDepth
	f.minSamplesSplit = s.MinSamplesSplit
	f.maxFeatures = s.MaxFeatures
	f.nFeatures = s.NFeatures
	f.trees = s.Trees
	f.importances = s.Importances
	f.trained = true

	return nil
}
