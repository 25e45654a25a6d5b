// Package sqlite reads labeled URLs from an SQLite table.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"github.com/hed1ad/phishguard/pkg/dataset"
	sourceio "github.com/hed1ad/phishguard/pkg/io"

	_ "modernc.org/sqlite"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Reader selects url and label columns from a table.
type Reader struct {
	path        string
	table       string
	urlColumn   string
	labelColumn string
}

// Option configures a Reader.
type Option func(*Reader)

// WithTable sets the table name. Defaults to "urls".
func WithTable(name string) Option {
	return func(r *Reader) {
		if name != "" {
			r.table = name
		}
	}
}

// WithColumns sets the url and label column names.
func WithColumns(urlColumn, labelColumn string) Option {
	return func(r *Reader) {
		if urlColumn != "" {
			r.urlColumn = urlColumn
		}
		if labelColumn != "" {
			r.labelColumn = labelColumn
		}
	}
}

// NewReader creates a Reader. Table and column names must be plain
// identifiers since they are interpolated into the query.
func NewReader(path string, opts ...Option) (*Reader, error) {
	r := &Reader{
		path:        path,
		table:       "urls",
		urlColumn:   "url",
		labelColumn: "label",
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, name := range []string{r.table, r.urlColumn, r.labelColumn} {
		if !identifier.MatchString(name) {
			return nil, fmt.Errorf("invalid identifier %q", name)
		}
	}
	return r, nil
}

// Name identifies the reader.
func (r *Reader) Name() string {
	return "sqlite:" + r.table
}

// Load reads every row with a non-empty URL and a 0/1 label.
func (r *Reader) Load(ctx context.Context) (sourceio.Outcome, error) {
	// database/sql would silently create a new empty file.
	if _, err := os.Stat(r.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%w: %v", sourceio.ErrFileMissing, err)
		}
		return sourceio.Outcome{}, r.loadErr(err)
	}

	db, err := sql.Open("sqlite", r.path)
	if err != nil {
		return sourceio.Outcome{}, r.loadErr(err)
	}
	defer db.Close()

	if err := r.checkColumns(ctx, db); err != nil {
		return sourceio.Outcome{}, r.loadErr(err)
	}

	query := fmt.Sprintf(`SELECT %s, %s FROM %s ORDER BY rowid`, r.urlColumn, r.labelColumn, r.table)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return sourceio.Outcome{}, r.loadErr(err)
	}
	defer rows.Close()

	var entries []dataset.LabeledURL
	skipped := 0
	for rows.Next() {
		var u sql.NullString
		var label sql.NullInt64
		if err := rows.Scan(&u, &label); err != nil {
			skipped++
			continue
		}
		url := strings.TrimSpace(u.String)
		if !u.Valid || url == "" || !label.Valid || (label.Int64 != dataset.Phishing && label.Int64 != dataset.Benign) {
			skipped++
			continue
		}
		entries = append(entries, dataset.LabeledURL{URL: url, Label: int(label.Int64)})
	}
	if err := rows.Err(); err != nil {
		return sourceio.Outcome{}, r.loadErr(err)
	}

	return sourceio.NewOutcome(r.Name(), entries, skipped), nil
}

func (r *Reader) checkColumns(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, r.table))
	if err != nil {
		return err
	}
	defer rows.Close()

	have := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		have[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if len(have) == 0 {
		return fmt.Errorf("%w: table %q not found", sourceio.ErrColumnMissing, r.table)
	}
	for _, c := range []string{r.urlColumn, r.labelColumn} {
		if !have[c] {
			return fmt.Errorf("%w: %q", sourceio.ErrColumnMissing, c)
		}
	}
	return nil
}

func (r *Reader) loadErr(err error) error {
	return &sourceio.LoadError{Source: r.Name(), Path: r.path, Err: err}
}
