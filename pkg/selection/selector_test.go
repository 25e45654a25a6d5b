package selection

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/phishguard/pkg/classifiers"
	"github.com/hed1ad/phishguard/pkg/classifiers/forest"
	"github.com/hed1ad/phishguard/pkg/classifiers/logistic"
	"github.com/hed1ad/phishguard/pkg/dataset"
	"github.com/hed1ad/phishguard/pkg/features"
)

func forestFactory(hp classifiers.Hyperparams, seed int64) classifiers.Classifier {
	return forest.New(forest.WithTrees(hp.Trees), forest.WithMaxDepth(hp.MaxDepth), forest.WithSeed(seed))
}

func logisticFactory(classifiers.Hyperparams, int64) classifiers.Classifier {
	return logistic.New()
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func TestSelectFoldsDeterministic(t *testing.T) {
	ds := noisyDataset(80, 1)
	ks := []int{3, 5, 7, 10}
	hp := classifiers.Hyperparams{Trees: 10}

	first, err := New(forestFactory, 42, quietLogger()).SelectFolds(context.Background(), ds, hp, ks)
	require.NoError(t, err)
	second, err := New(forestFactory, 42, quietLogger()).SelectFolds(context.Background(), ds, hp, ks)
	require.NoError(t, err)

	assert.Equal(t, first.Best.Candidate, second.Best.Candidate)
	require.Len(t, first.Scores, len(ks))
	for i := range first.Scores {
		assert.Equal(t, first.Scores[i].Mean, second.Scores[i].Mean)
		assert.Equal(t, ks[i], first.Scores[i].Candidate.Folds)
	}
}

func TestSelectFoldsSkipsUnstratifiable(t *testing.T) {
	// 6 rows per class: k=7 and k=15 cannot be stratified.
	ds := noisyDataset(12, 2)

	res, err := New(logisticFactory, 42, quietLogger()).SelectFolds(context.Background(), ds, classifiers.Hyperparams{}, []int{3, 7, 15})
	require.NoError(t, err)
	require.Len(t, res.Scores, 3)

	assert.False(t, res.Scores[0].Skipped)
	assert.True(t, res.Scores[1].Skipped)
	assert.True(t, res.Scores[2].Skipped)
	assert.NotEmpty(t, res.Scores[1].Reason)
	assert.Equal(t, 3, res.Best.Candidate.Folds)
}

func TestSelectFoldsAllSkipped(t *testing.T) {
	ds := noisyDataset(6, 3)
	_, err := New(logisticFactory, 42, quietLogger()).SelectFolds(context.Background(), ds, classifiers.Hyperparams{}, []int{5, 10})
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestFirstCandidateWinsTies(t *testing.T) {
	// Perfectly separable: every k scores 1.0.
	ds := &dataset.Dataset{FeatureNames: []string{"x"}}
	for i := 0; i < 40; i++ {
		y := i % 2
		ds.X = append(ds.X, []float64{float64(y*10 + i%5)})
		ds.Y = append(ds.Y, y)
	}

	res, err := New(logisticFactory, 1, quietLogger()).SelectFolds(context.Background(), ds, classifiers.Hyperparams{}, []int{5, 3, 4})
	require.NoError(t, err)
	for _, s := range res.Scores {
		assert.Equal(t, 1.0, s.Mean)
	}
	assert.Equal(t, 5, res.Best.Candidate.Folds)
}

func TestSelectHyperparams(t *testing.T) {
	ds := noisyDataset(60, 4)
	grid := []classifiers.Hyperparams{
		{Trees: 5, MaxDepth: 1},
		{Trees: 10, MaxDepth: 0},
	}

	res, err := New(forestFactory, 42, quietLogger()).SelectHyperparams(context.Background(), ds, 3, grid)
	require.NoError(t, err)
	require.Len(t, res.Scores, 2)
	assert.Contains(t, grid, res.Best.Candidate.Hyperparams)
	for _, s := range res.Scores {
		assert.Len(t, s.FoldScores, 3)
	}
}

func TestSelectFeatureCount(t *testing.T) {
	ds := noisyDataset(80, 5)

	res, err := New(forestFactory, 42, quietLogger()).SelectFeatureCount(context.Background(), ds, 4, classifiers.Hyperparams{Trees: 10})
	require.NoError(t, err)

	require.Len(t, res.Ranking, len(ds.FeatureNames))
	assert.Equal(t, 0, res.Ranking[0], "signal column ranks first")
	require.Len(t, res.Scores, len(ds.FeatureNames))
	for i, s := range res.Scores {
		assert.Len(t, s.Candidate.Features, i+1)
		assert.Equal(t, res.Ranking[:i+1], s.Candidate.Features)
	}
	for _, s := range res.Scores {
		assert.GreaterOrEqual(t, s.Mean, res.Best.Mean)
	}
}

func TestRank(t *testing.T) {
	assert.Equal(t, []int{2, 0, 3, 1}, Rank([]float64{0.3, 0.1, 0.5, 0.3}))
}

// noisyDataset has a strong signal column followed by two noise columns.
func noisyDataset(n int, seed int64) *dataset.Dataset {
	rng := rand.New(rand.NewSource(seed))
	ds := &dataset.Dataset{FeatureNames: []string{"signal", "noise_a", "noise_b"}}
	for i := 0; i < n; i++ {
		y := i % 2
		ds.X = append(ds.X, []float64{float64(y)*2 + rng.NormFloat64()*0.6, rng.NormFloat64(), rng.NormFloat64()})
		ds.Y = append(ds.Y, y)
	}
	return ds
}

func TestSelectFoldsStableAcrossAssemblies(t *testing.T) {
	var phishing, benign []string
	for i := 0; i < 40; i++ {
		// Few distinct hostnames so many rows share an entropy value.
		phishing = append(phishing, fmt.Sprintf("http://login.bad%d.com/verify/%d", i%4, i))
		benign = append(benign, fmt.Sprintf("https://www.good%d.org/docs/%d", i%4, i))
	}

	assemble := func() *dataset.Dataset {
		ds, _, err := dataset.Assemble(phishing, benign, dataset.AssembleOptions{Seed: 42})
		require.NoError(t, err)
		col := -1
		for i, name := range ds.FeatureNames {
			if name == features.Entropy {
				col = i
			}
		}
		require.GreaterOrEqual(t, col, 0)
		return ds.Project([]int{col})
	}

	ks := []int{3, 5}
	hp := classifiers.Hyperparams{Trees: 10}

	first, err := New(forestFactory, 42, quietLogger()).SelectFolds(context.Background(), assemble(), hp, ks)
	require.NoError(t, err)
	second, err := New(forestFactory, 42, quietLogger()).SelectFolds(context.Background(), assemble(), hp, ks)
	require.NoError(t, err)

	assert.Equal(t, first.Best.Candidate, second.Best.Candidate)
	require.Len(t, second.Scores, len(first.Scores))
	for i := range first.Scores {
		assert.Equal(t, first.Scores[i].FoldScores, second.Scores[i].FoldScores)
	}
}
