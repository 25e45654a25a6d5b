// Package calibration selects a decision threshold from pooled out-of-fold
// probabilities.
package calibration

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

// Objective names a threshold selection rule.
type Objective string

const (
	// ObjectiveNone keeps the default 0.5 cutoff.
	ObjectiveNone Objective = "none"
	// ObjectiveF1 sweeps evenly spaced thresholds in [0.1, 0.9] for max F1.
	ObjectiveF1 Objective = "f1"
	// ObjectiveYouden maximizes TPR - FPR over the ROC thresholds.
	ObjectiveYouden Objective = "youden"
)

// DefaultThreshold is the uncalibrated cutoff.
const DefaultThreshold = 0.5

// Sweep bounds for ObjectiveF1.
const (
	SweepMin = 0.1
	SweepMax = 0.9
)

// DefaultSweepSteps gives a 0.01 grid over [0.1, 0.9].
const DefaultSweepSteps = 81

// ErrOneClass is returned when the pooled labels lack a class.
var ErrOneClass = errors.New("pooled labels contain a single class")

// ParseObjective validates an objective name.
func ParseObjective(s string) (Objective, error) {
	switch o := Objective(s); o {
	case ObjectiveNone, ObjectiveF1, ObjectiveYouden:
		return o, nil
	case "":
		return ObjectiveNone, nil
	default:
		return "", fmt.Errorf("unknown threshold objective %q", s)
	}
}

// Point is one evaluated threshold.
type Point struct {
	Threshold float64
	Score     float64
	Confusion metrics.Confusion
}

// Linspace returns n evenly spaced values from lo to hi inclusive.
func Linspace(lo, hi float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}

// MaxF1 evaluates F1 at each threshold in order and returns the best point.
// The first threshold wins ties.
func MaxF1(probs []float64, labels []int, thresholds []float64) (Point, []Point, error) {
	if len(probs) != len(labels) {
		return Point{}, nil, fmt.Errorf("probabilities and labels differ: %d != %d", len(probs), len(labels))
	}
	if len(thresholds) == 0 {
		return Point{}, nil, errors.New("no thresholds to evaluate")
	}

	curve := make([]Point, len(thresholds))
	best := 0
	for i, th := range thresholds {
		c := metrics.AtThreshold(probs, labels, th)
		curve[i] = Point{Threshold: th, Score: c.F1(), Confusion: c}
		if curve[i].Score > curve[best].Score {
			best = i
		}
	}
	return curve[best], curve, nil
}

// ROC returns the ROC curve using every distinct probability as a threshold,
// in descending order.
func ROC(probs []float64, labels []int) ([]Point, error) {
	if len(probs) != len(labels) {
		return nil, fmt.Errorf("probabilities and labels differ: %d != %d", len(probs), len(labels))
	}

	var pos, neg int
	for _, y := range labels {
		if y == 1 {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return nil, ErrOneClass
	}

	idx := dataset.AllColumns(len(probs))
	sort.SliceStable(idx, func(i, j int) bool { return probs[idx[i]] > probs[idx[j]] })

	var curve []Point
	var c metrics.Confusion
	c.FN, c.TN = pos, neg
	for i := 0; i < len(idx); {
		th := probs[idx[i]]
		// Admit every sample tied at this probability.
		for i < len(idx) && probs[idx[i]] == th {
			if labels[idx[i]] == 1 {
				c.TP++
				c.FN--
			} else {
				c.FP++
				c.TN--
			}
			i++
		}
		curve = append(curve, Point{Threshold: th, Score: c.YoudenJ(), Confusion: c})
	}
	return curve, nil
}

// Youden returns the ROC point maximizing TPR - FPR. The highest threshold
// wins ties.
func Youden(probs []float64, labels []int) (Point, []Point, error) {
	curve, err := ROC(probs, labels)
	if err != nil {
		return Point{}, nil, err
	}
	best := 0
	for i, p := range curve {
		if p.Score > curve[best].Score {
			best = i
		}
	}
	return curve[best], curve, nil
}

// Select applies objective to a pooled probability/label set.
func Select(objective Objective, pooled cv.Pooled, sweepSteps int) (Point, []Point, error) {
	switch objective {
	case ObjectiveNone:
		c := metrics.AtThreshold(pooled.Probabilities, pooled.Labels, DefaultThreshold)
		return Point{Threshold: DefaultThreshold, Score: c.F1(), Confusion: c}, nil, nil
	case ObjectiveF1:
		if sweepSteps <= 0 {
			sweepSteps = DefaultSweepSteps
		}
		return MaxF1(pooled.Probabilities, pooled.Labels, Linspace(SweepMin, SweepMax, sweepSteps))
	case ObjectiveYouden:
		return Youden(pooled.Probabilities, pooled.Labels)
	default:
		return Point{}, nil, fmt.Errorf("unknown threshold objective %q", objective)
	}
}

// Result is the outcome of a calibration run.
type Result struct {
	Objective Objective
	Folds     int
	Best      Point
	Curve     []Point
	Pooled    cv.Pooled
	// DegenerateFolds counts folds whose training split held one class. Their
	// validation rows were pooled with probability 0.
	DegenerateFolds int
}

// Calibrator re-runs cross-validation for a fixed configuration and picks a
// threshold on the pooled out-of-fold probabilities.
type Calibrator struct {
	Factory    classifiers.Factory
	Objective  Objective
	SweepSteps int
	Seed       int64
	Workers    int
	Logger     *log.Logger
}

// Calibrate collects out-of-fold probabilities with k stratified folds and
// selects the threshold. The pooled set is only used for the threshold.
func (c *Calibrator) Calibrate(ctx context.Context, ds *dataset.Dataset, hp classifiers.Hyperparams, k int) (Result, error) {
	logger := c.Logger
	if logger == nil {
		logger = log.Default()
	}

	results, err := cv.OutOfFold(ctx, ds, c.Factory, hp, cv.Options{K: k, Seed: c.Seed, Workers: c.Workers})
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Objective:       c.Objective,
		Folds:           k,
		Pooled:          cv.Pool(results),
		DegenerateFolds: cv.Degenerate(results),
	}
	if res.DegenerateFolds > 0 {
		logger.Warn("single-class training folds contributed zero probabilities",
			"folds", res.DegenerateFolds, "of", len(results))
	}

	res.Best, res.Curve, err = Select(c.Objective, res.Pooled, c.SweepSteps)
	if err != nil {
		return Result{}, err
	}

	logger.Info("threshold calibrated",
		"objective", string(c.Objective), "threshold", res.Best.Threshold, "score", res.Best.Score, "folds", k)
	return res, nil
}
