// Package classifiers provides supervised binary classifiers for URL feature vectors.
package classifiers

import (
	"errors"
	"fmt"
)

var (
	// ErrNotTrained is returned when predicting with an unfitted model.
	ErrNotTrained = errors.New("model not trained")
	// ErrEmptyData is returned when fitting on zero rows.
	ErrEmptyData = errors.New("empty training data")
	// ErrSingleClass is returned when training labels contain only one class.
	// A discriminative model cannot be fitted on such data.
	ErrSingleClass = errors.New("training data contains a single class")
)

// Classifier is the common interface for binary classifiers.
type Classifier interface {
	// Fit trains the classifier. X is row-major, y holds 0/1 labels.
	Fit(X [][]float64, y []int) error

	// PredictProba returns the probability of the positive class (label 1)
	// for each row.
	PredictProba(X [][]float64) ([]float64, error)

	// PredictProbaOne returns the positive class probability for one row.
	PredictProbaOne(x []float64) (float64, error)

	// Save serializes the trained model to bytes.
	Save() ([]byte, error)

	// Load deserializes a trained model from bytes.
	Load(data []byte) error
}

// Importancer is implemented by classifiers that can rank their input
// features. Importances are non-negative and aligned with the columns of X.
type Importancer interface {
	FeatureImportances() ([]float64, error)
}

// Hyperparams are the tunable estimator parameters. Estimators ignore the
// fields that do not apply to them.
type Hyperparams struct {
	// Trees is the ensemble size.
	Trees int `yaml:"trees"`
	// MaxDepth limits tree depth. 0 means unlimited.
	MaxDepth int `yaml:"max_depth"`
}

func (h Hyperparams) String() string {
	return fmt.Sprintf("trees=%d max_depth=%d", h.Trees, h.MaxDepth)
}

// DefaultHyperparams returns the parameters used when no search is run.
func DefaultHyperparams() Hyperparams {
	return Hyperparams{
		Trees:    100,
		MaxDepth: 0,
	}
}

// Factory builds a fresh, unfitted classifier with the given parameters and
// seed. Each call must return an independent instance.
type Factory func(hp Hyperparams, seed int64) Classifier

// Validate checks that X and y are non-empty, row-aligned and rectangular,
// and that y holds both classes.
func Validate(X [][]float64, y []int) error {
	if len(X) == 0 {
		return ErrEmptyData
	}
	if len(X) != len(y) {
		return fmt.Errorf("rows and labels differ: %d != %d", len(X), len(y))
	}
	width := len(X[0])
	if width == 0 {
		return errors.New("rows have no features")
	}

	var pos, neg int
	for i, row := range X {
		if len(row) != width {
			return fmt.Errorf("row %d has %d features, want %d", i, len(row), width)
		}
		switch y[i] {
		case 0:
			neg++
		case 1:
			pos++
		default:
			return fmt.Errorf("row %d has label %d, want 0 or 1", i, y[i])
		}
	}
	if pos == 0 || neg == 0 {
		return ErrSingleClass
	}
	return nil
}

// Predict applies threshold to probabilities: p >= threshold is class 1.
func Predict(probs []float64, threshold float64) []int {
	out := make([]int, len(probs))
	for i, p := range probs {
		if p >= threshold {
			out[i] = 1
		}
	}
	return out
}
