// Package io provides labeled URL sources for dataset assembly.
package io

import (
	"context"
	"errors"
	"fmt"

	"github.com/hed1ad/phishguard/pkg/dataset"
)

var (
	// ErrFileMissing is returned when a source file does not exist.
	ErrFileMissing = errors.New("source file missing")
	// ErrColumnMissing is returned when a required column is absent.
	ErrColumnMissing = errors.New("required column missing")
)

// Source is the interface for reading labeled URLs.
type Source interface {
	// Load reads every entry of the source.
	Load(ctx context.Context) (Outcome, error)

	// Name identifies the source in logs and errors.
	Name() string
}

// Status distinguishes a populated load from one that matched no rows.
type Status int

const (
	// StatusLoaded means at least one entry was read.
	StatusLoaded Status = iota
	// StatusEmpty means the source exists and is well-formed but yielded
	// zero entries.
	StatusEmpty
)

func (s Status) String() string {
	switch s {
	case StatusLoaded:
		return "loaded"
	case StatusEmpty:
		return "empty"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the result of a successful load.
type Outcome struct {
	Source  string
	Entries []dataset.LabeledURL
	Status  Status
	// Skipped counts rows dropped for blank URLs or unparseable labels.
	Skipped int
}

// NewOutcome sets Status from the number of entries.
func NewOutcome(source string, entries []dataset.LabeledURL, skipped int) Outcome {
	status := StatusLoaded
	if len(entries) == 0 {
		status = StatusEmpty
	}
	return Outcome{Source: source, Entries: entries, Status: status, Skipped: skipped}
}

// URLs returns the raw URLs of the outcome.
func (o Outcome) URLs() []string {
	out := make([]string, len(o.Entries))
	for i, e := range o.Entries {
		out[i] = e.URL
	}
	return out
}

// LoadError describes a source that could not be read.
type LoadError struct {
	Source string
	Path   string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s (%s): %v", e.Source, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
