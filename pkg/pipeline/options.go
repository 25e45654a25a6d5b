package pipeline

import (
	"fmt"

	"github.com/hed1ad/phishguard/pkg/calibration"
	"github.com/hed1ad/phishguard/pkg/classifiers"
	"github.com/hed1ad/phishguard/pkg/config"
	"github.com/hed1ad/phishguard/pkg/model"
)

// Mode controls what data the saved artifact is fit on.
type Mode string

const (
	// ModeHoldout fits the artifact on the training partition only.
	ModeHoldout Mode = "holdout"
	// ModeFull evaluates like ModeHoldout, then re-fits the artifact on every row.
	ModeFull Mode = "full"
)

// DefaultFoldCandidates are the fold counts searched by every preset.
var DefaultFoldCandidates = []int{3, 5, 7, 10, 15}

// Options fully describe one training run.
type Options struct {
	Preset    string
	Estimator model.Kind
	Seed      int64

	// Folds are the fold-count candidates. A single entry fixes k.
	Folds       []int
	Hyperparams classifiers.Hyperparams
	// Grid, when non-empty, is searched at the selected k.
	Grid []classifiers.Hyperparams
	// FeatureSearch ranks features and searches nested prefixes.
	FeatureSearch bool

	// CalibrationFolds is k for threshold calibration. 0 reuses the selected k.
	CalibrationFolds int
	Objective        calibration.Objective
	SweepSteps       int

	TestSize float64
	Mode     Mode
	// Extended must match the extractor that built the dataset.
	Extended bool
	Workers  int
}

// Preset returns the options of a named training variant.
func Preset(name string) (Options, error) {
	base := Options{
		Preset:      name,
		Seed:        42,
		Folds:       append([]int(nil), DefaultFoldCandidates...),
		Hyperparams: classifiers.DefaultHyperparams(),
		Objective:   calibration.ObjectiveNone,
		SweepSteps:  calibration.DefaultSweepSteps,
		TestSize:    0.2,
		Mode:        ModeHoldout,
	}

	switch name {
	case "logistic":
		base.Estimator = model.KindLogistic
	case "logistic-tuned":
		base.Estimator = model.KindLogistic
		base.Objective = calibration.ObjectiveF1
	case "forest-select":
		base.Estimator = model.KindForest
		base.FeatureSearch = true
		base.Objective = calibration.ObjectiveYouden
		base.CalibrationFolds = 10
	case "forest-tuned":
		base.Estimator = model.KindForest
		base.Grid = []classifiers.Hyperparams{
			{Trees: 50, MaxDepth: 5},
			{Trees: 50, MaxDepth: 10},
			{Trees: 100, MaxDepth: 0},
			{Trees: 100, MaxDepth: 10},
			{Trees: 200, MaxDepth: 0},
		}
		base.Objective = calibration.ObjectiveF1
		base.CalibrationFolds = 10
	default:
		return Options{}, fmt.Errorf("unknown preset %q", name)
	}
	return base, nil
}

// FromConfig starts from the configured preset and applies every explicit
// override.
func FromConfig(c config.PipelineConfig) (Options, error) {
	opts, err := Preset(c.Preset)
	if err != nil {
		return Options{}, err
	}

	if c.Estimator != "" {
		opts.Estimator = model.Kind(c.Estimator)
	}
	if c.Seed != 0 {
		opts.Seed = c.Seed
	}
	if len(c.Folds) > 0 {
		opts.Folds = append([]int(nil), c.Folds...)
	}
	if c.Hyperparams != nil {
		opts.Hyperparams = *c.Hyperparams
	}
	if len(c.Grid) > 0 {
		opts.Grid = append([]classifiers.Hyperparams(nil), c.Grid...)
	}
	if c.FeatureSearch != nil {
		opts.FeatureSearch = *c.FeatureSearch
	}
	if c.CalibrationFolds != 0 {
		opts.CalibrationFolds = c.CalibrationFolds
	}
	if c.Objective != "" {
		obj, err := calibration.ParseObjective(c.Objective)
		if err != nil {
			return Options{}, err
		}
		opts.Objective = obj
	}
	if c.SweepSteps != 0 {
		opts.SweepSteps = c.SweepSteps
	}
	if c.TestSize != 0 {
		opts.TestSize = c.TestSize
	}
	if c.Mode != "" {
		opts.Mode = Mode(c.Mode)
	}
	opts.Extended = c.Extended
	opts.Workers = c.Workers

	return opts, opts.validate()
}

func (o Options) validate() error {
	if _, err := model.Factory(o.Estimator); err != nil {
		return err
	}
	if len(o.Folds) == 0 {
		return fmt.Errorf("no fold candidates")
	}
	for _, k := range o.Folds {
		if k < 2 {
			return fmt.Errorf("fold count %d below 2", k)
		}
	}
	if o.CalibrationFolds != 0 && o.CalibrationFolds < 2 {
		return fmt.Errorf("calibration folds %d below 2", o.CalibrationFolds)
	}
	if o.TestSize <= 0 || o.TestSize >= 1 {
		return fmt.Errorf("test size %.3f outside (0, 1)", o.TestSize)
	}
	switch o.Mode {
	case ModeHoldout, ModeFull:
	default:
		return fmt.Errorf("unknown mode %q", o.Mode)
	}
	if _, err := calibration.ParseObjective(string(o.Objective)); err != nil {
		return err
	}
	return nil
}
