// Package metrics computes confusion-matrix derived classification metrics.
package metrics

import (
	"fmt"
)

// Confusion is a binary confusion matrix with label 1 as the positive class.
type Confusion struct {
	TP int
	FP int
	TN int
	FN int
}

// NewConfusion tallies predictions against labels. Both slices must have
// equal length.
func NewConfusion(labels, preds []int) (Confusion, error) {
	if len(labels) != len(preds) {
		return Confusion{}, fmt.Errorf("labels and predictions differ: %d != %d", len(labels), len(preds))
	}

	var c Confusion
	for i, y := range labels {
		switch {
		case y == 1 && preds[i] == 1:
			c.TP++
		case y == 0 && preds[i] == 1:
			c.FP++
		case y == 0:
			c.TN++
		default:
			c.FN++
		}
	}
	return c, nil
}

// AtThreshold builds the confusion matrix of probs >= threshold.
func AtThreshold(probs []float64, labels []int, threshold float64) Confusion {
	var c Confusion
	for i, p := range probs {
		pos := p >= threshold
		switch {
		case pos && labels[i] == 1:
			c.TP++
		case pos:
			c.FP++
		case labels[i] == 1:
			c.FN++
		default:
			c.TN++
		}
	}
	return c
}

// Total returns the number of tallied samples.
func (c Confusion) Total() int {
	return c.TP + c.FP + c.TN + c.FN
}

// Precision is TP/(TP+FP), 0 when nothing was predicted positive.
func (c Confusion) Precision() float64 {
	return ratio(c.TP, c.TP+c.FP)
}

// Recall is TP/(TP+FN), also the true positive rate.
func (c Confusion) Recall() float64 {
	return ratio(c.TP, c.TP+c.FN)
}

// FPR is FP/(FP+TN).
func (c Confusion) FPR() float64 {
	return ratio(c.FP, c.FP+c.TN)
}

// F1 is the harmonic mean of precision and recall, 0 when both are 0.
func (c Confusion) F1() float64 {
	return ratio(2*c.TP, 2*c.TP+c.FP+c.FN)
}

// Accuracy is the fraction of correct predictions.
func (c Confusion) Accuracy() float64 {
	return ratio(c.TP+c.TN, c.Total())
}

// YoudenJ is TPR - FPR.
func (c Confusion) YoudenJ() float64 {
	return c.Recall() - c.FPR()
}

func (c Confusion) String() string {
	return fmt.Sprintf("TP=%d FP=%d TN=%d FN=%d", c.TP, c.FP, c.TN, c.FN)
}

// MeanAbsoluteError returns the mean absolute difference between labels and
// predictions.
func MeanAbsoluteError(labels, preds []int) float64 {
	if len(labels) == 0 {
		return 0
	}
	var sum int
	for i, y := range labels {
		d := y - preds[i]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return float64(sum) / float64(len(labels))
}

// Mean returns the arithmetic mean of xs, 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
