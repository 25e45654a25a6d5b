// Package csv provides CSV file reading for labeled URL lists.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/hed1ad/phishguard/pkg/dataset"
	sourceio "github.com/hed1ad/phishguard/pkg/io"
)

// Format is the layout of a CSV source.
type Format string

const (
	// FormatURLs is a headed file with one URL column; every row gets the
	// reader's fixed label.
	FormatURLs Format = "urls"
	// FormatTranco is a headerless rank,domain list; domains become
	// https:// URLs with the reader's fixed label.
	FormatTranco Format = "tranco"
	// FormatLabeled is a headed file with url and label columns.
	FormatLabeled Format = "labeled"
)

// Reader reads labeled URLs from a CSV file.
type Reader struct {
	path        string
	format      Format
	column      string
	labelColumn string
	label       int
	offset      int
	limit       int
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithColumn sets the URL column name for headed formats.
func WithColumn(name string) Option {
	return func(r *Reader) {
		if name != "" {
			r.column = name
		}
	}
}

// WithLabelColumn sets the label column name for FormatLabeled.
func WithLabelColumn(name string) Option {
	return func(r *Reader) {
		if name != "" {
			r.labelColumn = name
		}
	}
}

// WithLabel sets the label assigned to every row of unlabeled formats.
func WithLabel(label int) Option {
	return func(r *Reader) {
		r.label = label
	}
}

// WithOffset skips the first n data rows.
func WithOffset(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.offset = n
		}
	}
}

// WithLimit stops after n entries. 0 reads everything.
func WithLimit(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.limit = n
		}
	}
}

// NewReader creates a new CSV reader. The file is opened by Load.
func NewReader(path string, format Format, opts ...Option) (*Reader, error) {
	switch format {
	case FormatURLs, FormatTranco, FormatLabeled:
	default:
		return nil, fmt.Errorf("unknown csv format %q", format)
	}

	r := &Reader{
		path:        path,
		format:      format,
		column:      "url",
		labelColumn: "label",
		label:       dataset.Phishing,
	}
	if format == FormatTranco {
		r.label = dataset.Benign
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Name identifies the reader.
func (r *Reader) Name() string {
	return fmt.Sprintf("csv:%s", r.format)
}

// Load reads every entry. A missing file yields ErrFileMissing and a missing
// column ErrColumnMissing, both wrapped in *io.LoadError.
func (r *Reader) Load(ctx context.Context) (sourceio.Outcome, error) {
	file, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%w: %v", sourceio.ErrFileMissing, err)
		}
		return sourceio.Outcome{}, r.loadErr(err)
	}
	defer file.Close()

	cr := csv.NewReader(file)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var parse func([]string) (dataset.LabeledURL, bool)
	switch r.format {
	case FormatTranco:
		parse = r.parseTranco
	default:
		headers, err := cr.Read()
		if err == io.EOF {
			return sourceio.Outcome{}, r.loadErr(fmt.Errorf("%w: %q (file has no header)", sourceio.ErrColumnMissing, r.column))
		}
		if err != nil {
			return sourceio.Outcome{}, r.loadErr(err)
		}
		parse, err = r.headedParser(headers)
		if err != nil {
			return sourceio.Outcome{}, r.loadErr(err)
		}
	}

	var entries []dataset.LabeledURL
	skipped := 0
	row := 0

	for {
		if row%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return sourceio.Outcome{}, err
			}
		}

		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return sourceio.Outcome{}, r.loadErr(err)
		}

		row++
		if row <= r.offset {
			continue
		}

		entry, ok := parse(record)
		if !ok {
			skipped++
			continue
		}
		entries = append(entries, entry)

		if r.limit > 0 && len(entries) >= r.limit {
			break
		}
	}

	return sourceio.NewOutcome(r.Name(), entries, skipped), nil
}

func (r *Reader) loadErr(err error) error {
	return &sourceio.LoadError{Source: r.Name(), Path: r.path, Err: err}
}

func (r *Reader) headedParser(headers []string) (func([]string) (dataset.LabeledURL, bool), error) {
	urlIdx := columnIndex(headers, r.column)
	if urlIdx < 0 {
		return nil, fmt.Errorf("%w: %q", sourceio.ErrColumnMissing, r.column)
	}

	if r.format == FormatURLs {
		return func(rec []string) (dataset.LabeledURL, bool) {
			u := field(rec, urlIdx)
			if u == "" {
				return dataset.LabeledURL{}, false
			}
			return dataset.LabeledURL{URL: u, Label: r.label}, true
		}, nil
	}

	labelIdx := columnIndex(headers, r.labelColumn)
	if labelIdx < 0 {
		return nil, fmt.Errorf("%w: %q", sourceio.ErrColumnMissing, r.labelColumn)
	}
	return func(rec []string) (dataset.LabeledURL, bool) {
		u := field(rec, urlIdx)
		label, err := ParseLabel(field(rec, labelIdx))
		if u == "" || err != nil {
			return dataset.LabeledURL{}, false
		}
		return dataset.LabeledURL{URL: u, Label: label}, true
	}, nil
}

func (r *Reader) parseTranco(rec []string) (dataset.LabeledURL, bool) {
	if len(rec) < 2 {
		return dataset.LabeledURL{}, false
	}
	domain := StripScheme(strings.Trim(field(rec, 1), `"'`))
	if domain == "" {
		return dataset.LabeledURL{}, false
	}
	return dataset.LabeledURL{URL: "https://" + domain, Label: r.label}, true
}

// StripScheme reduces a ranked-list entry to its bare host.
func StripScheme(entry string) string {
	entry = strings.TrimSpace(entry)
	if !strings.Contains(entry, "://") {
		return strings.TrimSuffix(entry, "/")
	}
	u, err := url.Parse(entry)
	if err != nil {
		return ""
	}
	if u.Host != "" {
		return u.Host
	}
	return strings.TrimSuffix(u.Path, "/")
}

// ParseLabel accepts 0/1 and the class names.
func ParseLabel(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "phishing", "bad", "malicious":
		return dataset.Phishing, nil
	case "benign", "good", "legitimate":
		return dataset.Benign, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if v != dataset.Phishing && v != dataset.Benign {
		return 0, fmt.Errorf("label %d out of range", v)
	}
	return v, nil
}

func columnIndex(headers []string, name string) int {
	for i, h := range headers {
		// Strip a UTF-8 BOM from the first header.
		h = strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")
		if h == name {
			return i
		}
	}
	return -1
}

func field(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
