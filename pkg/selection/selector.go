// Package selection picks fold counts, estimator parameters and feature
// subsets by stratified cross-validation.
package selection

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/hed1ad/phishguard/pkg/classifiers"
	"github.com/hed1ad/phishguard/pkg/cv"
	"github.com/hed1ad/phishguard/pkg/dataset"
	"github.com/hed1ad/phishguard/pkg/metrics"
)

// ErrNoCandidates is returned when every candidate was skipped.
var ErrNoCandidates = errors.New("no candidate could be evaluated")

// Candidate is one configuration evaluated by cross-validation.
type Candidate struct {
	Folds       int
	Hyperparams classifiers.Hyperparams
	// Features are column indices into the dataset, in model order.
	Features []int
}

func (c Candidate) String() string {
	return fmt.Sprintf("k=%d %s features=%d", c.Folds, c.Hyperparams, len(c.Features))
}

// Score is the outcome of evaluating one candidate.
type Score struct {
	Candidate Candidate
	// FoldScores holds the per-fold metric. For accuracy searches higher is
	// better; for error searches lower is better.
	FoldScores []float64
	Mean       float64
	// Skipped is set when the candidate could not be stratified.
	Skipped bool
	Reason  string
}

// Result lists every evaluated candidate in search order and the winner.
type Result struct {
	Scores []Score
	Best   Score
}

// FeatureResult is the outcome of a nested-prefix feature search.
type FeatureResult struct {
	Result
	// Ranking lists column indices by descending importance.
	Ranking     []int
	Importances []float64
}

// Selector evaluates candidates with stratified k-fold cross-validation.
type Selector struct {
	Factory classifiers.Factory
	Seed    int64
	Workers int
	Logger  *log.Logger
}

// New creates a Selector.
func New(factory classifiers.Factory, seed int64, logger *log.Logger) *Selector {
	if logger == nil {
		logger = log.Default()
	}
	return &Selector{
		Factory: factory,
		Seed:    seed,
		Logger:  logger,
	}
}

// SelectFolds scores each fold count by mean accuracy at a 0.5 cutoff.
// The highest mean wins; the first candidate wins ties.
func (s *Selector) SelectFolds(ctx context.Context, ds *dataset.Dataset, hp classifiers.Hyperparams, ks []int) (Result, error) {
	cands := make([]Candidate, len(ks))
	for i, k := range ks {
		cands[i] = Candidate{Folds: k, Hyperparams: hp, Features: dataset.AllColumns(len(ds.FeatureNames))}
	}
	return s.search(ctx, ds, cands, accuracy, true)
}

// SelectHyperparams scores each parameter set at a fixed fold count by mean
// accuracy. The first candidate wins ties.
func (s *Selector) SelectHyperparams(ctx context.Context, ds *dataset.Dataset, k int, grid []classifiers.Hyperparams) (Result, error) {
	cands := make([]Candidate, len(grid))
	for i, hp := range grid {
		cands[i] = Candidate{Folds: k, Hyperparams: hp, Features: dataset.AllColumns(len(ds.FeatureNames))}
	}
	return s.search(ctx, ds, cands, accuracy, true)
}

// SelectFeatureCount ranks features once by the importances of an estimator
// fit on the whole dataset, then scores nested prefixes of the ranking by
// mean absolute error of hard predictions. The smallest error wins; the
// shortest prefix wins ties.
func (s *Selector) SelectFeatureCount(ctx context.Context, ds *dataset.Dataset, k int, hp classifiers.Hyperparams) (FeatureResult, error) {
	ref := s.Factory(hp, s.Seed)
	imp, ok := ref.(classifiers.Importancer)
	if !ok {
		return FeatureResult{}, fmt.Errorf("estimator %T does not report feature importances", ref)
	}
	if err := ref.Fit(ds.X, ds.Y); err != nil {
		return FeatureResult{}, fmt.Errorf("fit reference estimator: %w", err)
	}
	importances, err := imp.FeatureImportances()
	if err != nil {
		return FeatureResult{}, err
	}

	ranking := Rank(importances)
	for i, col := range ranking {
		s.Logger.Debug("feature rank", "rank", i+1, "feature", ds.FeatureNames[col], "importance", importances[col])
	}

	cands := make([]Candidate, len(ranking))
	for n := 1; n <= len(ranking); n++ {
		cands[n-1] = Candidate{
			Folds:       k,
			Hyperparams: hp,
			Features:    append([]int(nil), ranking[:n]...),
		}
	}

	res, err := s.search(ctx, ds, cands, meanAbsoluteError, false)
	if err != nil {
		return FeatureResult{}, err
	}
	return FeatureResult{Result: res, Ranking: ranking, Importances: importances}, nil
}

// Rank returns column indices ordered by descending importance; equal
// importances keep column order.
func Rank(importances []float64) []int {
	cols := dataset.AllColumns(len(importances))
	sort.SliceStable(cols, func(i, j int) bool {
		return importances[cols[i]] > importances[cols[j]]
	})
	return cols
}

// foldMetric scores one fold's out-of-fold predictions.
type foldMetric func(r cv.FoldResult) float64

func accuracy(r cv.FoldResult) float64 {
	return metrics.AtThreshold(r.Probabilities, r.Labels, 0.5).Accuracy()
}

func meanAbsoluteError(r cv.FoldResult) float64 {
	return metrics.MeanAbsoluteError(r.Labels, classifiers.Predict(r.Probabilities, 0.5))
}

func (s *Selector) search(ctx context.Context, ds *dataset.Dataset, cands []Candidate, metric foldMetric, higherIsBetter bool) (Result, error) {
	var res Result
	found := false

	for _, c := range cands {
		sc, err := s.evaluate(ctx, ds, c, metric)
		if err != nil {
			if errors.Is(err, cv.ErrCannotStratify) {
				s.Logger.Warn("candidate skipped", "candidate", c.String(), "reason", err)
				res.Scores = append(res.Scores, Score{Candidate: c, Skipped: true, Reason: err.Error()})
				continue
			}
			return Result{}, fmt.Errorf("evaluate %s: %w", c, err)
		}

		s.Logger.Info("candidate scored", "candidate", c.String(), "mean", sc.Mean)
		res.Scores = append(res.Scores, sc)

		if !found || better(sc.Mean, res.Best.Mean, higherIsBetter) {
			res.Best = sc
			found = true
		}
	}

	if !found {
		return res, ErrNoCandidates
	}
	return res, nil
}

func better(score, best float64, higherIsBetter bool) bool {
	if higherIsBetter {
		return score > best
	}
	return score < best
}

func (s *Selector) evaluate(ctx context.Context, ds *dataset.Dataset, c Candidate, metric foldMetric) (Score, error) {
	view := ds
	if len(c.Features) != len(ds.FeatureNames) || !isIdentity(c.Features) {
		view = ds.Project(c.Features)
	}

	results, err := cv.OutOfFold(ctx, view, s.Factory, c.Hyperparams, cv.Options{K: c.Folds, Seed: s.Seed, Workers: s.Workers})
	if err != nil {
		return Score{}, err
	}
	if n := cv.Degenerate(results); n > 0 {
		s.Logger.Warn("degenerate folds scored with zero probabilities", "candidate", c.String(), "folds", n)
	}

	sc := Score{Candidate: c, FoldScores: make([]float64, len(results))}
	for i, r := range results {
		sc.FoldScores[i] = metric(r)
	}
	sc.Mean = metrics.Mean(sc.FoldScores)
	return sc, nil
}

func isIdentity(cols []int) bool {
	for i, c := range cols {
		if i != c {
			return false
		}
	}
	return true
}
