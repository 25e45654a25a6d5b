package pipeline

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/hed1ad/phishguard/pkg/calibration"
	"github.com/hed1ad/phishguard/pkg/dataset"
	"github.com/hed1ad/phishguard/pkg/metrics"
	"github.com/hed1ad/phishguard/pkg/model"
	"github.com/hed1ad/phishguard/pkg/selection"
)

// Report summarizes a run.
type Report struct {
	ModelID   string
	Preset    string
	Estimator model.Kind
	Mode      Mode

	// Summary is filled by the caller that assembled the dataset.
	Summary *dataset.Summary

	Rows      int
	TrainRows int
	TestRows  int

	Folds         selection.Result
	Grid          *selection.Result
	FeatureSearch *selection.FeatureResult

	// AllFeatures are the dataset columns; Chosen.Features index into them.
	AllFeatures  []string
	Chosen       selection.Candidate
	FeatureNames []string

	Calibration calibration.Result
	Threshold   float64
	Test        metrics.Confusion

	// Weights is set for linear estimators.
	Weights *Weights
}

// Weights are the artifact estimator's coefficients in FeatureNames order,
// in standardized feature space.
type Weights struct {
	Coefficients []float64
	Bias         float64
}

// Print writes a human-readable report.
func (r Report) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	p := func(format string, args ...any) {
		fmt.Fprintf(tw, format, args...)
	}

	p("model\t%s\n", r.ModelID)
	p("preset\t%s (%s, %s)\n", r.Preset, r.Estimator, r.Mode)
	if r.Summary != nil {
		p("dataset\tphishing %d -> %d, benign %d -> %d\n",
			r.Summary.Before.Phishing, r.Summary.After.Phishing,
			r.Summary.Before.Benign, r.Summary.After.Benign)
	}
	p("rows\t%d (train %d, test %d)\n", r.Rows, r.TrainRows, r.TestRows)

	p("\nfold search\tmean accuracy\n")
	printScores(p, r.Folds, func(s selection.Score) string { return fmt.Sprintf("k=%d", s.Candidate.Folds) })

	if r.Grid != nil {
		p("\nparameter search\tmean accuracy\n")
		printScores(p, *r.Grid, func(s selection.Score) string { return s.Candidate.Hyperparams.String() })
	}

	if r.FeatureSearch != nil {
		p("\nfeature ranking\timportance\n")
		for i, col := range r.FeatureSearch.Ranking {
			p("  %d. %s\t%.4f\n", i+1, featureName(r.AllFeatures, col), r.FeatureSearch.Importances[col])
		}
		p("\nfeature search\tmean abs error\n")
		printScores(p, r.FeatureSearch.Result, func(s selection.Score) string {
			return fmt.Sprintf("top %d", len(s.Candidate.Features))
		})
	}

	p("\nchosen\tk=%d %s\n", r.Chosen.Folds, r.Chosen.Hyperparams)
	p("features\t%s\n", strings.Join(r.FeatureNames, ", "))
	p("threshold\t%.4f (%s over %d folds, score %.4f)\n",
		r.Threshold, r.Calibration.Objective, r.Calibration.Folds, r.Calibration.Best.Score)
	if r.Calibration.DegenerateFolds > 0 {
		p("degenerate folds\t%d\n", r.Calibration.DegenerateFolds)
	}

	c := r.Test
	p("\nholdout\t\n")
	p("  confusion\tTP=%d FP=%d TN=%d FN=%d\n", c.TP, c.FP, c.TN, c.FN)
	p("  precision\t%.4f\n", c.Precision())
	p("  recall (TPR)\t%.4f\n", c.Recall())
	p("  FPR\t%.4f\n", c.FPR())
	p("  F1\t%.4f\n", c.F1())
	p("  accuracy\t%.4f\n", c.Accuracy())

	if r.Weights != nil {
		p("\nweights\t\n")
		for i, w := range r.Weights.Coefficients {
			p("  %s\t%+.4f\n", featureName(r.FeatureNames, i), w)
		}
		p("  bias\t%+.4f\n", r.Weights.Bias)
	}

	return tw.Flush()
}

func printScores(p func(string, ...any), res selection.Result, label func(selection.Score) string) {
	for _, s := range res.Scores {
		mark := " "
		if !s.Skipped && sameCandidate(s.Candidate, res.Best.Candidate) {
			mark = "*"
		}
		if s.Skipped {
			p("%s %s\tskipped: %s\n", mark, label(s), s.Reason)
			continue
		}
		p("%s %s\t%.4f\n", mark, label(s), s.Mean)
	}
}

func sameCandidate(a, b selection.Candidate) bool {
	if a.Folds != b.Folds || a.Hyperparams != b.Hyperparams || len(a.Features) != len(b.Features) {
		return false
	}
	for i := range a.Features {
		if a.Features[i] != b.Features[i] {
			return false
		}
	}
	return true
}

func featureName(names []string, col int) string {
	if col < len(names) {
		return names[col]
	}
	return fmt.Sprintf("col %d", col)
}
