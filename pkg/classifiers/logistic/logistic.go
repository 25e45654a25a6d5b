// Package logistic implements L2-regularized logistic regression on
// standardized features.
package logistic

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"sync"

	"github.com/hed1ad/phishguard/pkg/classifiers"
)

// Regression is a binary logistic regression classifier. Inputs are
// standardized with the mean and deviation observed at fit time.
type Regression struct {
	mu sync.RWMutex

	// Configuration
	c            float64
	learningRate float64
	maxIter      int
	tol          float64

	// Trained model
	weights []float64
	bias    float64
	mean    []float64
	scale   []float64
	trained bool
}

// Option configures a Regression.
type Option func(*Regression)

// WithC sets the inverse regularization strength.
func WithC(c float64) Option {
	return func(r *Regression) {
		if c > 0 {
			r.c = c
		}
	}
}

// WithLearningRate sets the gradient descent step size.
func WithLearningRate(lr float64) Option {
	return func(r *Regression) {
		if lr > 0 {
			r.learningRate = lr
		}
	}
}

// WithMaxIter caps gradient descent iterations.
func WithMaxIter(n int) Option {
	return func(r *Regression) {
		if n > 0 {
			r.maxIter = n
		}
	}
}

// New creates a new Regression with the given options.
func New(opts ...Option) *Regression {
	r := &Regression{
		c:            1.0,
		learningRate: 0.5,
		maxIter:      2000,
		tol:          1e-7,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Fit trains the model with full-batch gradient descent.
func (r *Regression) Fit(X [][]float64, y []int) error {
	if err := classifiers.Validate(X, y); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(X)
	d := len(X[0])

	r.mean, r.scale = standardize(X)
	Z := make([][]float64, n)
	for i, row := range X {
		Z[i] = r.transform(row)
	}

	w := make([]float64, d)
	var b float64
	grad := make([]float64, d)
	lambda := 1 / (r.c * float64(n))

	for iter := 0; iter < r.maxIter; iter++ {
		for j := range grad {
			grad[j] = lambda * w[j]
		}
		var gradB float64

		for i, z := range Z {
			diff := sigmoid(dot(w, z)+b) - float64(y[i])
			for j, v := range z {
				grad[j] += diff * v / float64(n)
			}
			gradB += diff / float64(n)
		}

		var norm float64
		for j := range w {
			w[j] -= r.learningRate * grad[j]
			norm += grad[j] * grad[j]
		}
		b -= r.learningRate * gradB
		norm += gradB * gradB

		if math.Sqrt(norm) < r.tol {
			break
		}
	}

	r.weights = w
	r.bias = b
	r.trained = true
	return nil
}

func standardize(X [][]float64) (mean, scale []float64) {
	d := len(X[0])
	n := float64(len(X))
	mean = make([]float64, d)
	scale = make([]float64, d)

	for _, row := range X {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= n
	}
	for _, row := range X {
		for j, v := range row {
			scale[j] += (v - mean[j]) * (v - mean[j])
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		// Constant columns carry no signal; keep them centered at zero.
		if scale[j] == 0 {
			scale[j] = 1
		}
	}
	return mean, scale
}

func (r *Regression) transform(x []float64) []float64 {
	z := make([]float64, len(x))
	for j, v := range x {
		z[j] = (v - r.mean[j]) / r.scale[j]
	}
	return z
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// PredictProba returns the positive class probability for each row.
func (r *Regression) PredictProba(X [][]float64) ([]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.trained {
		return nil, classifiers.ErrNotTrained
	}

	probs := make([]float64, len(X))
	for i, x := range X {
		p, err := r.predictOne(x)
		if err != nil {
			return nil, err
		}
		probs[i] = p
	}
	return probs, nil
}

// PredictProbaOne returns the positive class probability for a single row.
func (r *Regression) PredictProbaOne(x []float64) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.trained {
		return 0, classifiers.ErrNotTrained
	}
	return r.predictOne(x)
}

func (r *Regression) predictOne(x []float64) (float64, error) {
	if len(x) != len(r.weights) {
		return 0, fmt.Errorf("sample has %d features, want %d", len(x), len(r.weights))
	}
	return sigmoid(dot(r.weights, r.transform(x)) + r.bias), nil
}

// Coefficients returns the weights in standardized feature space and the bias.
func (r *Regression) Coefficients() ([]float64, float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.trained {
		return nil, 0, classifiers.ErrNotTrained
	}
	return append([]float64(nil), r.weights...), r.bias, nil
}

// FeatureImportances returns the absolute standardized coefficients.
func (r *Regression) FeatureImportances() ([]float64, error) {
	w, _, err := r.Coefficients()
	if err != nil {
		return nil, err
	}
	for i := range w {
		w[i] = math.Abs(w[i])
	}
	return w, nil
}

type snapshot struct {
	C       float64
	Weights []float64
	Bias    float64
	Mean    []float64
	Scale   []float64
}

// Save serializes the trained model.
func (r *Regression) Save() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.trained {
		return nil, classifiers.ErrNotTrained
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(snapshot{
		C:       r.c,
		Weights: r.weights,
		Bias:    r.bias,
		Mean:    r.mean,
		Scale:   r.scale,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained model.
func (r *Regression) Load(data []byte) error {
	var s snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}
	if len(s.Weights) == 0 || len(s.Weights) != len(s.Mean) || len(s.Weights) != len(s.Scale) {
		return fmt.Errorf("inconsistent logistic snapshot")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.c = s.C
	r.weights = s.Weights
	r.bias = s.Bias
	r.mean = s.Mean
	r.scale = s.Scale
	r.trained = true

	return nil
}
