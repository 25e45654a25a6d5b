package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/phishguard/pkg/dataset"
	sourceio "github.com/hed1ad/phishguard/pkg/io"
)

func createDB(t *testing.T, stmts ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "urls.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err, s)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := createDB(t,
		`CREATE TABLE urls (url TEXT, label INTEGER)`,
		`INSERT INTO urls VALUES ('http://login.bad.test/', 1)`,
		`INSERT INTO urls VALUES ('https://good.test', 0)`,
		`INSERT INTO urls VALUES ('', 1)`,
		`INSERT INTO urls VALUES ('https://weird.test', 5)`,
		`INSERT INTO urls VALUES ('https://null.test', NULL)`,
	)

	r, err := NewReader(path)
	require.NoError(t, err)

	out, err := r.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sourceio.StatusLoaded, out.Status)
	assert.Equal(t, 3, out.Skipped)
	assert.Equal(t, []dataset.LabeledURL{
		{URL: "http://login.bad.test/", Label: dataset.Phishing},
		{URL: "https://good.test", Label: dataset.Benign},
	}, out.Entries)
}

func TestLoadCustomTable(t *testing.T) {
	path := createDB(t,
		`CREATE TABLE feed (link TEXT, is_phish INTEGER)`,
		`INSERT INTO feed VALUES ('http://a.test', 1)`,
	)

	r, err := NewReader(path, WithTable("feed"), WithColumns("link", "is_phish"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite:feed", r.Name())

	out, err := r.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a.test"}, out.URLs())
}

func TestLoadEmptyTable(t *testing.T) {
	path := createDB(t, `CREATE TABLE urls (url TEXT, label INTEGER)`)

	r, err := NewReader(path)
	require.NoError(t, err)

	out, err := r.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sourceio.StatusEmpty, out.Status)
}

func TestLoadMissingColumnAndTable(t *testing.T) {
	path := createDB(t, `CREATE TABLE urls (url TEXT)`)

	r, err := NewReader(path)
	require.NoError(t, err)
	_, err = r.Load(context.Background())
	assert.ErrorIs(t, err, sourceio.ErrColumnMissing)

	r, err = NewReader(path, WithTable("other"))
	require.NoError(t, err)
	_, err = r.Load(context.Background())
	assert.ErrorIs(t, err, sourceio.ErrColumnMissing)
}

func TestLoadMissingFile(t *testing.T) {
	r, err := NewReader(filepath.Join(t.TempDir(), "missing.db"))
	require.NoError(t, err)

	_, err = r.Load(context.Background())
	assert.ErrorIs(t, err, sourceio.ErrFileMissing)

	var le *sourceio.LoadError
	assert.ErrorAs(t, err, &le)
}

func TestNewReaderRejectsInjection(t *testing.T) {
	_, err := NewReader("x.db", WithTable("urls; DROP TABLE urls"))
	assert.Error(t, err)
	_, err = NewReader("x.db", WithColumns("url", "label--"))
	assert.Error(t, err)
}
