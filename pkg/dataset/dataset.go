// Package dataset assembles labeled URLs into feature matrices and splits them.
package dataset

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/hed1ad/phishguard/pkg/features"
)

// Class labels.
const (
	Benign   = 0
	Phishing = 1
)

// LabeledURL is a raw URL with its ground-truth label.
type LabeledURL struct {
	URL   string
	Label int
}

// Dataset is a row-aligned feature matrix and label vector. It is read-only
// after assembly; Subset and Project return new datasets.
type Dataset struct {
	FeatureNames []string
	X            [][]float64
	Y            []int
	URLs         []string
}

// ClassCounts holds per-class row counts.
type ClassCounts struct {
	Phishing int
	Benign   int
}

// Summary reports class counts before and after size-limiting sampling.
type Summary struct {
	Before ClassCounts
	After  ClassCounts
}

// AssembleOptions controls sampling and the shuffle.
type AssembleOptions struct {
	// MaxPhishing and MaxBenign cap each class by seeded sampling. 0 keeps all.
	MaxPhishing int
	MaxBenign   int
	// Seed drives sampling and the single row shuffle.
	Seed int64
	// Extractor produces the feature vectors. Defaults to features.New().
	Extractor *features.Extractor
}

// Assemble labels phishing URLs 1 and benign URLs 0, extracts features and
// shuffles the rows once with the configured seed.
func Assemble(phishing, benign []string, opts AssembleOptions) (*Dataset, Summary, error) {
	rng := rand.New(rand.NewSource(opts.Seed))

	summary := Summary{
		Before: ClassCounts{Phishing: len(phishing), Benign: len(benign)},
	}

	phishing = sample(rng, phishing, opts.MaxPhishing)
	benign = sample(rng, benign, opts.MaxBenign)
	summary.After = ClassCounts{Phishing: len(phishing), Benign: len(benign)}

	entries := make([]LabeledURL, 0, len(phishing)+len(benign))
	for _, u := range phishing {
		entries = append(entries, LabeledURL{URL: u, Label: Phishing})
	}
	for _, u := range benign {
		entries = append(entries, LabeledURL{URL: u, Label: Benign})
	}

	ds, err := build(entries, opts.Extractor, rng)
	if err != nil {
		return nil, summary, err
	}
	return ds, summary, nil
}

// AssembleLabeled builds a dataset from pre-labeled entries.
func AssembleLabeled(entries []LabeledURL, opts AssembleOptions) (*Dataset, Summary, error) {
	rng := rand.New(rand.NewSource(opts.Seed))

	var phishing, benign []LabeledURL
	for _, e := range entries {
		switch e.Label {
		case Phishing:
			phishing = append(phishing, e)
		case Benign:
			benign = append(benign, e)
		default:
			return nil, Summary{}, fmt.Errorf("invalid label %d for %q", e.Label, e.URL)
		}
	}

	summary := Summary{
		Before: ClassCounts{Phishing: len(phishing), Benign: len(benign)},
	}
	phishing = sample(rng, phishing, opts.MaxPhishing)
	benign = sample(rng, benign, opts.MaxBenign)
	summary.After = ClassCounts{Phishing: len(phishing), Benign: len(benign)}

	ds, err := build(append(phishing, benign...), opts.Extractor, rng)
	if err != nil {
		return nil, summary, err
	}
	return ds, summary, nil
}

func build(entries []LabeledURL, ext *features.Extractor, rng *rand.Rand) (*Dataset, error) {
	if len(entries) == 0 {
		return nil, errors.New("no labeled URLs to assemble")
	}
	if ext == nil {
		ext = features.New()
	}

	// Classes arrive in contiguous blocks; shuffle whole rows exactly once.
	rng.Shuffle(len(entries), func(i, j int) {
		entries[i], entries[j] = entries[j], entries[i]
	})

	ds := &Dataset{
		FeatureNames: ext.FeatureNames(),
		Y:            make([]int, len(entries)),
		URLs:         make([]string, len(entries)),
	}
	for i, e := range entries {
		ds.Y[i] = e.Label
		ds.URLs[i] = e.URL
	}
	ds.X = ext.ExtractAll(ds.URLs)
	return ds, nil
}

// sample returns n items chosen without replacement by rng. n <= 0 keeps
// everything.
func sample[T any](rng *rand.Rand, items []T, n int) []T {
	if n <= 0 || n >= len(items) {
		return items
	}
	idx := rng.Perm(len(items))[:n]
	out := make([]T, n)
	for i, j := range idx {
		out[i] = items[j]
	}
	return out
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.Y)
}

// Counts returns per-class row counts.
func (d *Dataset) Counts() ClassCounts {
	var c ClassCounts
	for _, y := range d.Y {
		if y == Phishing {
			c.Phishing++
		} else {
			c.Benign++
		}
	}
	return c
}

// Subset returns a new dataset containing rows in the given order. Feature
// rows are copied so callers may not alias the parent.
func (d *Dataset) Subset(rows []int) *Dataset {
	out := &Dataset{
		FeatureNames: d.FeatureNames,
		X:            make([][]float64, len(rows)),
		Y:            make([]int, len(rows)),
	}
	if d.URLs != nil {
		out.URLs = make([]string, len(rows))
	}
	for i, r := range rows {
		out.X[i] = append([]float64(nil), d.X[r]...)
		out.Y[i] = d.Y[r]
		if d.URLs != nil {
			out.URLs[i] = d.URLs[r]
		}
	}
	return out
}

// Project returns a new dataset restricted to the given feature columns, in
// the given order.
func (d *Dataset) Project(cols []int) *Dataset {
	out := &Dataset{
		FeatureNames: make([]string, len(cols)),
		X:            make([][]float64, len(d.X)),
		Y:            append([]int(nil), d.Y...),
		URLs:         d.URLs,
	}
	for j, c := range cols {
		out.FeatureNames[j] = d.FeatureNames[c]
	}
	for i, row := range d.X {
		out.X[i] = ProjectRow(row, cols)
	}
	return out
}

// ProjectRow picks the given columns out of a single feature row.
func ProjectRow(row []float64, cols []int) []float64 {
	out := make([]float64, len(cols))
	for j, c := range cols {
		out[j] = row[c]
	}
	return out
}

// AllColumns returns 0..n-1.
func AllColumns(n int) []int {
	cols := make([]int, n)
	for i := range cols {
		cols[i] = i
	}
	return cols
}
