// Package model holds the calibrated model artifact and the estimator registry.
package model

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/hed1ad/phishguard/pkg/classifiers"
	"github.com/hed1ad/phishguard/pkg/classifiers/forest"
	"github.com/hed1ad/phishguard/pkg/classifiers/logistic"
	"github.com/hed1ad/phishguard/pkg/dataset"
	"github.com/hed1ad/phishguard/pkg/features"
)

// Kind names an estimator family.
type Kind string

const (
	KindForest   Kind = "forest"
	KindLogistic Kind = "logistic"
)

// formatVersion is bumped whenever the artifact layout changes.
const formatVersion = 1

// NewEstimator returns an unfitted estimator of the given kind.
func NewEstimator(kind Kind, hp classifiers.Hyperparams, seed int64) (classifiers.Classifier, error) {
	switch kind {
	case KindForest:
		return forest.New(
			forest.WithTrees(hp.Trees),
			forest.WithMaxDepth(hp.MaxDepth),
			forest.WithSeed(seed),
		), nil
	case KindLogistic:
		return logistic.New(), nil
	default:
		return nil, fmt.Errorf("unknown estimator %q", kind)
	}
}

// Factory returns a classifiers.Factory for kind. The kind must be valid.
func Factory(kind Kind) (classifiers.Factory, error) {
	if _, err := NewEstimator(kind, classifiers.DefaultHyperparams(), 0); err != nil {
		return nil, err
	}
	return func(hp classifiers.Hyperparams, seed int64) classifiers.Classifier {
		clf, _ := NewEstimator(kind, hp, seed)
		return clf
	}, nil
}

// CalibratedModel is the terminal artifact of a training run: a fitted
// estimator, the feature columns it consumes and its decision threshold.
// It is never modified after creation.
type CalibratedModel struct {
	id          string
	createdAt   time.Time
	kind        Kind
	hyperparams classifiers.Hyperparams
	extended    bool
	allFeatures []string
	features    []int
	threshold   float64
	objective   string

	estimator classifiers.Classifier
	extractor *features.Extractor
}

// Spec describes a model to wrap.
type Spec struct {
	Kind        Kind
	Hyperparams classifiers.Hyperparams
	// Extended must match the extractor the training features came from.
	Extended bool
	// Features are column indices into the extractor's feature names.
	Features  []int
	Threshold float64
	Objective string
}

// New wraps a fitted estimator into an artifact.
func New(spec Spec, estimator classifiers.Classifier) (*CalibratedModel, error) {
	if estimator == nil {
		return nil, errors.New("nil estimator")
	}
	ext := features.New(features.WithExtended(spec.Extended))
	names := ext.FeatureNames()
	for _, c := range spec.Features {
		if c < 0 || c >= len(names) {
			return nil, fmt.Errorf("feature column %d out of range", c)
		}
	}
	if len(spec.Features) == 0 {
		return nil, errors.New("model needs at least one feature")
	}

	return &CalibratedModel{
		id:          uuid.NewString(),
		createdAt:   time.Now().UTC(),
		kind:        spec.Kind,
		hyperparams: spec.Hyperparams,
		extended:    spec.Extended,
		allFeatures: names,
		features:    append([]int(nil), spec.Features...),
		threshold:   spec.Threshold,
		objective:   spec.Objective,
		estimator:   estimator,
		extractor:   ext,
	}, nil
}

// ID returns the artifact's unique identifier.
func (m *CalibratedModel) ID() string { return m.id }

// CreatedAt returns the creation time.
func (m *CalibratedModel) CreatedAt() time.Time { return m.createdAt }

// Kind returns the estimator family.
func (m *CalibratedModel) Kind() Kind { return m.kind }

// Hyperparams returns the estimator parameters.
func (m *CalibratedModel) Hyperparams() classifiers.Hyperparams { return m.hyperparams }

// Threshold returns the decision threshold.
func (m *CalibratedModel) Threshold() float64 { return m.threshold }

// Objective returns the threshold objective used at calibration.
func (m *CalibratedModel) Objective() string { return m.objective }

// Features returns the selected column indices in model order.
func (m *CalibratedModel) Features() []int {
	return append([]int(nil), m.features...)
}

// FeatureNames returns the selected feature names in model order.
func (m *CalibratedModel) FeatureNames() []string {
	out := make([]string, len(m.features))
	for i, c := range m.features {
		out[i] = m.allFeatures[c]
	}
	return out
}

// Verdict is the classification of one URL.
type Verdict struct {
	URL         string
	Probability float64
	Phishing    bool
}

// Score extracts the URL's features and classifies it at the model threshold.
func (m *CalibratedModel) Score(rawURL string) (Verdict, error) {
	row := dataset.ProjectRow(m.extractor.Extract(rawURL), m.features)
	p, err := m.estimator.PredictProbaOne(row)
	if err != nil {
		return Verdict{}, err
	}
	return Verdict{URL: rawURL, Probability: p, Phishing: p >= m.threshold}, nil
}

// ScoreStream scores URLs from input until it is closed or ctx is done.
// output is closed on return. URLs that fail to score are dropped and logged
// at warn level on the default logger.
func (m *CalibratedModel) ScoreStream(ctx context.Context, input <-chan string, output chan<- Verdict) error {
	defer close(output)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-input:
			if !ok {
				return nil
			}

			v, err := m.Score(u)
			if err != nil {
				log.Warn("url dropped", "url", u, "model.id", m.id, "err", err)
				continue
			}

			select {
			case output <- v:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// header is the persisted form of an artifact.
type header struct {
	Version     int
	ID          string
	CreatedAt   time.Time
	Kind        Kind
	Hyperparams classifiers.Hyperparams
	Extended    bool
	Features    []int
	Names       []string
	Threshold   float64
	Objective   string
	Estimator   []byte
}

// Marshal serializes the artifact.
func (m *CalibratedModel) Marshal() ([]byte, error) {
	est, err := m.estimator.Save()
	if err != nil {
		return nil, fmt.Errorf("save estimator: %w", err)
	}

	var buf bytes.Buffer
	err = gob.NewEncoder(&buf).Encode(header{
		Version:     formatVersion,
		ID:          m.id,
		CreatedAt:   m.createdAt,
		Kind:        m.kind,
		Hyperparams: m.hyperparams,
		Extended:    m.extended,
		Features:    m.features,
		Names:       m.FeatureNames(),
		Threshold:   m.threshold,
		Objective:   m.objective,
		Estimator:   est,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal restores an artifact written by Marshal.
func Unmarshal(data []byte) (*CalibratedModel, error) {
	var h header
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&h); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if h.Version != formatVersion {
		return nil, fmt.Errorf("artifact version %d, want %d", h.Version, formatVersion)
	}

	est, err := NewEstimator(h.Kind, h.Hyperparams, 0)
	if err != nil {
		return nil, err
	}
	if err := est.Load(h.Estimator); err != nil {
		return nil, fmt.Errorf("load estimator: %w", err)
	}

	m, err := New(Spec{
		Kind:        h.Kind,
		Hyperparams: h.Hyperparams,
		Extended:    h.Extended,
		Features:    h.Features,
		Threshold:   h.Threshold,
		Objective:   h.Objective,
	}, est)
	if err != nil {
		return nil, err
	}

	// Inference code must agree with the training-time feature contract.
	names := m.FeatureNames()
	if len(names) != len(h.Names) {
		return nil, fmt.Errorf("artifact lists %d features, extractor selects %d", len(h.Names), len(names))
	}
	for i, name := range names {
		if h.Names[i] != name {
			return nil, fmt.Errorf("feature %d is %q in artifact but %q in extractor", i, h.Names[i], name)
		}
	}
	m.id = h.ID
	m.createdAt = h.CreatedAt
	return m, nil
}

// Save writes the artifact to path.
func (m *CalibratedModel) Save(path string) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Load reads an artifact from path.
func Load(path string) (*CalibratedModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}
