package calibration

import (
	"context"
	"io"
	"math/rand"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/phishguard/pkg/classifiers"
	"github.com/hed1ad/phishguard/pkg/classifiers/forest"
	"github.com/hed1ad/phishguard/pkg/cv"
	"github.com/hed1ad/phishguard/pkg/dataset"
	"github.com/hed1ad/phishguard/pkg/metrics"
)

func TestMaxF1PicksPerfectSeparation(t *testing.T) {
	probs := []float64{0.2, 0.4, 0.6, 0.8}
	labels := []int{0, 0, 1, 1}

	best, curve, err := MaxF1(probs, labels, []float64{0.3, 0.5, 0.7})
	require.NoError(t, err)
	require.Len(t, curve, 3)

	assert.Equal(t, 0.5, best.Threshold)
	assert.Equal(t, 1.0, best.Score)
	assert.Less(t, curve[0].Score, 1.0)
	assert.Less(t, curve[2].Score, 1.0)
}

func TestMaxF1FirstWinsTies(t *testing.T) {
	probs := []float64{0.1, 0.2, 0.8, 0.9}
	labels := []int{0, 0, 1, 1}

	best, _, err := MaxF1(probs, labels, []float64{0.3, 0.5, 0.7})
	require.NoError(t, err)
	assert.Equal(t, 0.3, best.Threshold)
}

func TestMaxF1Errors(t *testing.T) {
	_, _, err := MaxF1([]float64{0.1}, []int{0, 1}, []float64{0.5})
	assert.Error(t, err)
	_, _, err = MaxF1([]float64{0.1}, []int{0}, nil)
	assert.Error(t, err)
}

func TestLinspace(t *testing.T) {
	got := Linspace(0.1, 0.9, 9)
	require.Len(t, got, 9)
	assert.Equal(t, 0.1, got[0])
	assert.Equal(t, 0.9, got[8])
	assert.InDelta(t, 0.5, got[4], 1e-12)

	assert.Nil(t, Linspace(0, 1, 0))
	assert.Equal(t, []float64{0.3}, Linspace(0.3, 0.9, 1))
	assert.Len(t, Linspace(SweepMin, SweepMax, DefaultSweepSteps), 81)
}

func TestROC(t *testing.T) {
	probs := []float64{0.9, 0.8, 0.8, 0.3, 0.1}
	labels := []int{1, 1, 0, 0, 0}

	curve, err := ROC(probs, labels)
	require.NoError(t, err)
	require.Len(t, curve, 4, "one point per distinct probability")

	thresholds := make([]float64, len(curve))
	for i, p := range curve {
		thresholds[i] = p.Threshold
	}
	assert.Equal(t, []float64{0.9, 0.8, 0.3, 0.1}, thresholds)

	last := curve[len(curve)-1].Confusion
	assert.Equal(t, 1.0, last.Recall())
	assert.Equal(t, 1.0, last.FPR())

	_, err = ROC([]float64{0.5}, []int{1})
	assert.ErrorIs(t, err, ErrOneClass)
}

func TestYouden(t *testing.T) {
	probs := []float64{0.1, 0.35, 0.4, 0.8, 0.7, 0.2}
	labels := []int{0, 0, 1, 1, 1, 0}

	best, _, err := Youden(probs, labels)
	require.NoError(t, err)
	assert.Equal(t, 0.4, best.Threshold)
	assert.Equal(t, 1.0, best.Score)
}

func TestSelect(t *testing.T) {
	pooled := cv.Pooled{Probabilities: []float64{0.2, 0.4, 0.6, 0.8}, Labels: []int{0, 0, 1, 1}}

	p, _, err := Select(ObjectiveNone, pooled, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultThreshold, p.Threshold)

	p, curve, err := Select(ObjectiveF1, pooled, 9)
	require.NoError(t, err)
	assert.Len(t, curve, 9)
	assert.Equal(t, 1.0, p.Score)

	p, _, err = Select(ObjectiveYouden, pooled, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.6, p.Threshold)

	_, _, err = Select("bogus", pooled, 0)
	assert.Error(t, err)
}

func TestParseObjective(t *testing.T) {
	for _, s := range []string{"none", "f1", "youden"} {
		o, err := ParseObjective(s)
		require.NoError(t, err)
		assert.Equal(t, Objective(s), o)
	}
	o, err := ParseObjective("")
	require.NoError(t, err)
	assert.Equal(t, ObjectiveNone, o)

	_, err = ParseObjective("auc")
	assert.Error(t, err)
}

func TestRaisingThresholdNeverRaisesRecall(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	probs := make([]float64, 200)
	labels := make([]int, 200)
	for i := range probs {
		labels[i] = rng.Intn(2)
		probs[i] = rng.Float64()*0.6 + float64(labels[i])*0.3
	}

	thresholds := Linspace(0, 1, 101)
	prev := metrics.AtThreshold(probs, labels, thresholds[0])
	for _, th := range thresholds[1:] {
		cur := metrics.AtThreshold(probs, labels, th)
		assert.LessOrEqual(t, cur.Recall(), prev.Recall(), "recall rose at %.2f", th)
		prev = cur
	}
}

func TestRaisingThresholdNeverLowersPrecisionOnRankedSet(t *testing.T) {
	// Every positive outranks every negative, so raising the cutoff drops
	// false positives before any true positive.
	probs := []float64{0.05, 0.15, 0.3, 0.45, 0.55, 0.7, 0.85, 0.95}
	labels := []int{0, 0, 0, 0, 1, 1, 1, 1}

	thresholds := Linspace(0, 1, 101)
	prev := metrics.AtThreshold(probs, labels, thresholds[0])
	for _, th := range thresholds[1:] {
		cur := metrics.AtThreshold(probs, labels, th)
		assert.LessOrEqual(t, cur.Recall(), prev.Recall(), "recall rose at %.2f", th)
		if cur.TP+cur.FP > 0 {
			assert.GreaterOrEqual(t, cur.Precision(), prev.Precision(), "precision fell at %.2f", th)
		}
		prev = cur
	}
}

func TestCalibrate(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	ds := &dataset.Dataset{FeatureNames: []string{"signal", "noise"}}
	for i := 0; i < 60; i++ {
		y := i % 2
		ds.X = append(ds.X, []float64{float64(y)*3 + rng.NormFloat64(), rng.NormFloat64()})
		ds.Y = append(ds.Y, y)
	}

	c := &Calibrator{
		Factory: func(hp classifiers.Hyperparams, seed int64) classifiers.Classifier {
			return forest.New(forest.WithTrees(hp.Trees), forest.WithSeed(seed))
		},
		Objective: ObjectiveF1,
		Seed:      42,
		Logger:    log.New(io.Discard),
	}

	res, err := c.Calibrate(context.Background(), ds, classifiers.Hyperparams{Trees: 10}, 5)
	require.NoError(t, err)
	assert.Len(t, res.Pooled.Probabilities, ds.Len())
	assert.Equal(t, 0, res.DegenerateFolds)
	assert.GreaterOrEqual(t, res.Best.Threshold, SweepMin)
	assert.LessOrEqual(t, res.Best.Threshold, SweepMax)
	assert.Greater(t, res.Best.Score, 0.8)

	again, err := c.Calibrate(context.Background(), ds, classifiers.Hyperparams{Trees: 10}, 5)
	require.NoError(t, err)
	assert.Equal(t, res.Best, again.Best)
}
