// Package cv implements stratified k-fold splitting and out-of-fold
// probability collection.
package cv

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/phishguard/pkg/classifiers"
	"github.com/hed1ad/phishguard/pkg/dataset"
)

// ErrCannotStratify is matched by StratifyError.
var ErrCannotStratify = errors.New("cannot stratify")

// StratifyError reports a fold count that a class is too small for.
type StratifyError struct {
	K     int
	Class int
	Count int
}

func (e *StratifyError) Error() string {
	if e.K < 2 {
		return fmt.Sprintf("cannot stratify: k=%d, need at least 2 folds", e.K)
	}
	return fmt.Sprintf("cannot stratify: k=%d but class %d has %d members", e.K, e.Class, e.Count)
}

// Is makes errors.Is(err, ErrCannotStratify) succeed.
func (e *StratifyError) Is(target error) bool {
	return target == ErrCannotStratify
}

// Fold is one train/validation partition of row indices.
type Fold struct {
	Train      []int
	Validation []int
}

// StratifiedKFold splits rows into k folds that preserve class proportions.
// Each class is shuffled with seed and dealt round-robin across folds, so the
// assignment is deterministic.
func StratifiedKFold(labels []int, k int, seed int64) ([]Fold, error) {
	if k < 2 {
		return nil, &StratifyError{K: k}
	}

	classes := dataset.Classes(labels)
	for _, c := range classes {
		if n := len(dataset.RowsOf(labels, c)); n < k {
			return nil, &StratifyError{K: k, Class: c, Count: n}
		}
	}

	rng := rand.New(rand.NewSource(seed))
	assign := make([]int, len(labels))
	offset := 0
	for _, c := range classes {
		rows := dataset.RowsOf(labels, c)
		rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		// Continue dealing where the previous class stopped so fold sizes
		// stay balanced overall.
		for i, r := range rows {
			assign[r] = (offset + i) % k
		}
		offset = (offset + len(rows)) % k
	}

	folds := make([]Fold, k)
	for r, f := range assign {
		for j := range folds {
			if j == f {
				folds[j].Validation = append(folds[j].Validation, r)
			} else {
				folds[j].Train = append(folds[j].Train, r)
			}
		}
	}
	return folds, nil
}

// FoldResult holds the out-of-fold predictions of one fold.
type FoldResult struct {
	Fold       int
	Train      []int
	Validation []int
	// Probabilities are positive-class probabilities for Validation rows.
	Probabilities []float64
	// Labels are the true labels of Validation rows.
	Labels []int
	// Degenerate marks a fold whose training split held a single class.
	// Its probabilities are all 0.
	Degenerate bool
}

// Pooled is the concatenation of out-of-fold predictions across folds.
type Pooled struct {
	Probabilities []float64
	Labels        []int
}

// Options controls OutOfFold.
type Options struct {
	K    int
	Seed int64
	// Workers bounds parallel folds. 0 uses GOMAXPROCS.
	Workers int
}

// OutOfFold trains one classifier per stratified fold on that fold's training
// rows and predicts its validation rows. Folds run in parallel, each on its
// own copy of the rows and its own estimator seeded with Seed+fold.
func OutOfFold(ctx context.Context, ds *dataset.Dataset, factory classifiers.Factory, hp classifiers.Hyperparams, opts Options) ([]FoldResult, error) {
	folds, err := StratifiedKFold(ds.Y, opts.K, opts.Seed)
	if err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]FoldResult, len(folds))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, fold := range folds {
		i, fold := i, fold
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := runFold(ds, factory, hp, opts.Seed+int64(i), fold)
			if err != nil {
				return fmt.Errorf("fold %d: %w", i, err)
			}
			res.Fold = i
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func runFold(ds *dataset.Dataset, factory classifiers.Factory, hp classifiers.Hyperparams, seed int64, fold Fold) (FoldResult, error) {
	train := ds.Subset(fold.Train)
	val := ds.Subset(fold.Validation)

	res := FoldResult{
		Train:      fold.Train,
		Validation: fold.Validation,
		Labels:     val.Y,
	}

	clf := factory(hp, seed)
	if err := clf.Fit(train.X, train.Y); err != nil {
		if errors.Is(err, classifiers.ErrSingleClass) {
			res.Probabilities = make([]float64, len(fold.Validation))
			res.Degenerate = true
			return res, nil
		}
		return res, err
	}

	probs, err := clf.PredictProba(val.X)
	if err != nil {
		return res, err
	}
	res.Probabilities = probs
	return res, nil
}

// Pool concatenates fold predictions in fold order.
func Pool(results []FoldResult) Pooled {
	var p Pooled
	for _, r := range results {
		p.Probabilities = append(p.Probabilities, r.Probabilities...)
		p.Labels = append(p.Labels, r.Labels...)
	}
	return p
}

// Degenerate counts folds that fell back to degenerate probabilities.
func Degenerate(results []FoldResult) int {
	n := 0
	for _, r := range results {
		if r.Degenerate {
			n++
		}
	}
	return n
}
