// Package pipeline runs selection, calibration, final training and holdout
// evaluation, producing a calibrated model and its report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/hed1ad/phishguard/pkg/calibration"
	"github.com/hed1ad/phishguard/pkg/classifiers"
	"github.com/hed1ad/phishguard/pkg/cv"
	"github.com/hed1ad/phishguard/pkg/dataset"
	"github.com/hed1ad/phishguard/pkg/features"
	"github.com/hed1ad/phishguard/pkg/metrics"
	"github.com/hed1ad/phishguard/pkg/model"
	"github.com/hed1ad/phishguard/pkg/selection"
)

// FatalConfigError aborts a run whose data or configuration cannot produce a
// model, such as a single-class test partition.
type FatalConfigError struct {
	Stage string
	Err   error
}

func (e *FatalConfigError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *FatalConfigError) Unwrap() error {
	return e.Err
}

// Result is the artifact and report of a run.
type Result struct {
	Model  *model.CalibratedModel
	Report Report
}

// Pipeline trains one calibrated model per Run.
type Pipeline struct {
	opts    Options
	factory classifiers.Factory
	logger  *log.Logger
}

// New validates options and creates a pipeline.
func New(opts Options, logger *log.Logger) (*Pipeline, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	factory, err := model.Factory(opts.Estimator)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{opts: opts, factory: factory, logger: logger}, nil
}

// Options returns the run configuration.
func (p *Pipeline) Options() Options {
	return p.opts
}

// Run splits ds into train and test partitions, selects k, estimator
// parameters and features on train, calibrates the threshold on train,
// fits the final estimator and evaluates it on test.
func (p *Pipeline) Run(ctx context.Context, ds *dataset.Dataset) (*Result, error) {
	o := p.opts
	if want := features.New(features.WithExtended(o.Extended)).FeatureNames(); !slices.Equal(want, ds.FeatureNames) {
		return nil, &FatalConfigError{Stage: "dataset", Err: fmt.Errorf("dataset features %v do not match extractor %v", ds.FeatureNames, want)}
	}

	trainRows, testRows, err := dataset.StratifiedSplit(ds.Y, o.TestSize, o.Seed)
	if err != nil {
		return nil, &FatalConfigError{Stage: "split", Err: err}
	}
	train := ds.Subset(trainRows)
	test := ds.Subset(testRows)
	if err := requireBothClasses(test); err != nil {
		return nil, &FatalConfigError{Stage: "split", Err: fmt.Errorf("test partition: %w", err)}
	}
	if err := requireBothClasses(train); err != nil {
		return nil, &FatalConfigError{Stage: "split", Err: fmt.Errorf("train partition: %w", err)}
	}

	logger := p.logger.With("estimator", string(o.Estimator))
	logger.Info("split", "train", train.Len(), "test", test.Len())

	report := Report{
		Preset:    o.Preset,
		Estimator: o.Estimator,
		Mode:      o.Mode,
		Rows:      ds.Len(),
		TrainRows: train.Len(),
		TestRows:  test.Len(),

		AllFeatures: ds.FeatureNames,
	}

	sel := selection.New(p.factory, o.Seed, logger.With("ml.phase", "select"))
	sel.Workers = o.Workers

	// Fold count.
	folds, err := sel.SelectFolds(ctx, train, o.Hyperparams, o.Folds)
	if err != nil {
		return nil, p.selectionErr("select folds", err)
	}
	report.Folds = folds
	k := folds.Best.Candidate.Folds
	logger.Info("fold count selected", "k", k, "accuracy", folds.Best.Mean)

	// Estimator parameters.
	hp := o.Hyperparams
	if len(o.Grid) > 0 {
		grid, err := sel.SelectHyperparams(ctx, train, k, o.Grid)
		if err != nil {
			return nil, p.selectionErr("select hyperparameters", err)
		}
		report.Grid = &grid
		hp = grid.Best.Candidate.Hyperparams
		logger.Info("hyperparameters selected", "params", hp.String(), "accuracy", grid.Best.Mean)
	}

	// Feature subset.
	cols := dataset.AllColumns(len(ds.FeatureNames))
	if o.FeatureSearch {
		fr, err := sel.SelectFeatureCount(ctx, train, k, hp)
		if err != nil {
			return nil, p.selectionErr("select features", err)
		}
		report.FeatureSearch = &fr
		cols = fr.Best.Candidate.Features
		logger.Info("features selected", "count", len(cols), "mae", fr.Best.Mean)
	}
	report.Chosen = selection.Candidate{Folds: k, Hyperparams: hp, Features: cols}
	report.FeatureNames = project(ds.FeatureNames, cols)

	// Threshold.
	trainView := train.Project(cols)
	calK := p.calibrationFolds(trainView, k, logger)
	cal := calibration.Calibrator{
		Factory:    p.factory,
		Objective:  o.Objective,
		SweepSteps: o.SweepSteps,
		Seed:       o.Seed,
		Workers:    o.Workers,
		Logger:     logger.With("ml.phase", "calibrate"),
	}
	calRes, err := cal.Calibrate(ctx, trainView, hp, calK)
	if err != nil {
		return nil, fmt.Errorf("calibrate threshold: %w", err)
	}
	report.Calibration = calRes
	threshold := calRes.Best.Threshold

	// Final fit and holdout evaluation.
	est, err := model.NewEstimator(o.Estimator, hp, o.Seed)
	if err != nil {
		return nil, err
	}
	if err := est.Fit(trainView.X, trainView.Y); err != nil {
		return nil, &FatalConfigError{Stage: "final fit", Err: err}
	}

	testView := test.Project(cols)
	probs, err := est.PredictProba(testView.X)
	if err != nil {
		return nil, fmt.Errorf("predict test partition: %w", err)
	}
	report.Test = metrics.AtThreshold(probs, testView.Y, threshold)
	report.Threshold = threshold
	logger.Info("holdout evaluated",
		"threshold", threshold, "f1", report.Test.F1(), "precision", report.Test.Precision(),
		"recall", report.Test.Recall(), "fpr", report.Test.FPR())

	if o.Mode == ModeFull {
		all := ds.Project(cols)
		est, err = model.NewEstimator(o.Estimator, hp, o.Seed)
		if err != nil {
			return nil, err
		}
		if err := est.Fit(all.X, all.Y); err != nil {
			return nil, &FatalConfigError{Stage: "full fit", Err: err}
		}
		logger.Info("artifact re-fit on all rows", "rows", all.Len())
	}

	m, err := model.New(model.Spec{
		Kind:        o.Estimator,
		Hyperparams: hp,
		Extended:    o.Extended,
		Features:    cols,
		Threshold:   threshold,
		Objective:   string(o.Objective),
	}, est)
	if err != nil {
		return nil, err
	}
	report.ModelID = m.ID()

	if lin, ok := est.(linear); ok {
		coef, bias, err := lin.Coefficients()
		if err != nil {
			return nil, fmt.Errorf("read coefficients: %w", err)
		}
		report.Weights = &Weights{Coefficients: coef, Bias: bias}
	}

	return &Result{Model: m, Report: report}, nil
}

// linear is implemented by estimators with per-feature weights.
type linear interface {
	Coefficients() ([]float64, float64, error)
}

// calibrationFolds falls back to the selected k when the configured count
// cannot stratify the training partition.
func (p *Pipeline) calibrationFolds(train *dataset.Dataset, k int, logger *log.Logger) int {
	want := p.opts.CalibrationFolds
	if want == 0 || want == k {
		return k
	}
	if _, err := cv.StratifiedKFold(train.Y, want, p.opts.Seed); err != nil {
		logger.Warn("calibration folds infeasible, using selected k", "requested", want, "k", k, "reason", err)
		return k
	}
	return want
}

func (p *Pipeline) selectionErr(stage string, err error) error {
	if errors.Is(err, selection.ErrNoCandidates) {
		return &FatalConfigError{Stage: stage, Err: err}
	}
	return fmt.Errorf("%s: %w", stage, err)
}

func requireBothClasses(ds *dataset.Dataset) error {
	c := ds.Counts()
	if c.Phishing == 0 || c.Benign == 0 {
		return fmt.Errorf("%w (phishing=%d benign=%d)", classifiers.ErrSingleClass, c.Phishing, c.Benign)
	}
	return nil
}

func project(names []string, cols []int) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = names[c]
	}
	return out
}
