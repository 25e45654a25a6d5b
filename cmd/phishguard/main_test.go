package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeWithInput(t, "", args...)
}

func executeWithInput(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTrainThenScore(t *testing.T) {
	dir := t.TempDir()

	var phish, benign strings.Builder
	phish.WriteString("url\n")
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&phish, "http://login-secure.example%d.com/login\n", i)
		fmt.Fprintf(&benign, "%d,example%d.com\n", i, i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "phishing.csv"), []byte(phish.String()), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tranco.csv"), []byte(benign.String()), 0o644))

	modelPath := filepath.Join(dir, "out", "model.gob")
	cfg := fmt.Sprintf(`
output: %s
data:
  phishing:
    - path: %s
  benign:
    - path: %s
      format: tranco
pipeline:
  preset: logistic
  folds: [3, 5]
  extended: true
log:
  level: error
`, modelPath, filepath.Join(dir, "phishing.csv"), filepath.Join(dir, "tranco.csv"))
	cfgPath := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	out, err := execute(t, "train", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "holdout")
	assert.Contains(t, out, "dataset")
	assert.FileExists(t, modelPath)

	out, err = execute(t, "score", "--log-level", "error", "--model", modelPath,
		"http://login-secure.example77.com/login", "https://example77.com")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "phishing")
	assert.Contains(t, lines[2], "benign")

	out, err = executeWithInput(t, "https://example5.com\n\nhttp://login-secure.example5.com/login\n",
		"score", "--log-level", "error", "--model", modelPath, "--stdin", "https://example6.com")
	require.NoError(t, err)
	lines = strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[1], "https://example6.com"))
	assert.Contains(t, lines[2], "benign")
	assert.Contains(t, lines[3], "phishing")
}

func TestScoreRequiresURL(t *testing.T) {
	_, err := execute(t, "score", "--model", "model.gob")
	assert.Error(t, err)
}

func TestScoreMissingModel(t *testing.T) {
	_, err := execute(t, "score", "--log-level", "error", "--model", filepath.Join(t.TempDir(), "none.gob"), "https://a.com")
	assert.Error(t, err)
}

func TestCrawlRequiresFlags(t *testing.T) {
	_, err := execute(t, "crawl")
	assert.Error(t, err)
}
