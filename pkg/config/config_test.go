package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/phishguard/pkg/classifiers"
)

const sample = `
output: out/model.gob
data:
  phishing:
    - path: verified_online.csv
  benign:
    - path: top-1m.csv
      format: tranco
      offset: 1000
      limit: 1000
  max_phishing: 900
  max_benign: 1000
pipeline:
  preset: forest-tuned
  seed: 7
  folds: [3, 5]
  grid:
    - {trees: 50, max_depth: 5}
    - {trees: 100}
  feature_search: false
  objective: youden
  extended: true
log:
  format: json
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "out/model.gob", cfg.Output)
	require.Len(t, cfg.Data.Phishing, 1)
	assert.Equal(t, "urls", cfg.Data.Phishing[0].Format)
	assert.Equal(t, "tranco", cfg.Data.Benign[0].Format)
	assert.Equal(t, 1000, cfg.Data.Benign[0].Offset)
	assert.Equal(t, 900, cfg.Data.MaxPhishing)

	p := cfg.Pipeline
	assert.Equal(t, "forest-tuned", p.Preset)
	assert.Equal(t, int64(7), p.Seed)
	assert.Equal(t, []int{3, 5}, p.Folds)
	assert.Equal(t, []classifiers.Hyperparams{{Trees: 50, MaxDepth: 5}, {Trees: 100}}, p.Grid)
	require.NotNil(t, p.FeatureSearch)
	assert.False(t, *p.FeatureSearch)
	assert.Equal(t, "youden", p.Objective)
	assert.True(t, p.Extended)
	assert.Equal(t, 0.2, p.TestSize)
	assert.Equal(t, "holdout", p.Mode)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 5000, cfg.Crawl.MaxURLs)
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("data:\n  labeled:\n    - path: urls.db\n      format: sqlite\n"))
	require.NoError(t, err)

	assert.Equal(t, "model.gob", cfg.Output)
	assert.Equal(t, "logistic", cfg.Pipeline.Preset)
	assert.Equal(t, int64(42), cfg.Pipeline.Seed)
	assert.Nil(t, cfg.Pipeline.FeatureSearch)
	assert.Equal(t, 0.3, cfg.Crawl.DelaySeconds)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no sources", "pipeline:\n  preset: logistic\n"},
		{"unknown preset", "data:\n  phishing: [{path: a.csv}]\npipeline:\n  preset: svm\n"},
		{"fold below two", "data:\n  phishing: [{path: a.csv}]\npipeline:\n  folds: [1, 5]\n"},
		{"bad objective", "data:\n  phishing: [{path: a.csv}]\npipeline:\n  objective: auc\n"},
		{"test size", "data:\n  phishing: [{path: a.csv}]\npipeline:\n  test_size: 1.5\n"},
		{"missing path", "data:\n  phishing: [{format: urls}]\n"},
		{"unknown format", "data:\n  phishing: [{path: a.csv, format: parquet}]\n"},
		{"labeled format in class list", "data:\n  benign: [{path: a.db, format: sqlite}]\n"},
		{"class format in labeled list", "data:\n  labeled: [{path: a.csv, format: tranco}]\n"},
		{"bad log level", "data:\n  phishing: [{path: a.csv}]\nlog:\n  level: loud\n"},
		{"negative grid", "data:\n  phishing: [{path: a.csv}]\npipeline:\n  grid: [{trees: -1}]\n"},
		{"not yaml", "data: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	t.Setenv(EnvConfig, path)
	t.Setenv(EnvLogLevel, "DEBUG")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "forest-tuned", cfg.Pipeline.Preset)
}

func TestLoadMissing(t *testing.T) {
	t.Setenv(EnvConfig, "")

	_, err := Load("")
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "holdout", cfg.Pipeline.Mode)
	assert.Equal(t, "text", cfg.Log.Format)
}
