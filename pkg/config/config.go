// Package config loads the YAML training configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/hed1ad/phishguard/pkg/classifiers"
)

// Environment overrides.
const (
	EnvConfig   = "PHISHGUARD_CONFIG"
	EnvLogLevel = "PHISHGUARD_LOG_LEVEL"
)

// Config is the root of pipeline.yaml.
type Config struct {
	Data     DataConfig     `yaml:"data"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Crawl    CrawlConfig    `yaml:"crawl"`
	Log      LogConfig      `yaml:"log"`
	// Output is where the trained artifact is written.
	Output string `yaml:"output" validate:"required"`
}

// SourceConfig names one URL source.
type SourceConfig struct {
	Path string `yaml:"path" validate:"required"`
	// Format is urls, tranco, labeled or sqlite.
	Format      string `yaml:"format" validate:"oneof=urls tranco labeled sqlite"`
	Column      string `yaml:"column"`
	LabelColumn string `yaml:"label_column"`
	Table       string `yaml:"table"`
	Offset      int    `yaml:"offset" validate:"gte=0"`
	Limit       int    `yaml:"limit" validate:"gte=0"`
}

// DataConfig lists the sources for each class.
type DataConfig struct {
	Phishing []SourceConfig `yaml:"phishing" validate:"dive"`
	Benign   []SourceConfig `yaml:"benign" validate:"dive"`
	// Labeled sources carry their own url,label pairs.
	Labeled []SourceConfig `yaml:"labeled" validate:"dive"`

	MaxPhishing int `yaml:"max_phishing" validate:"gte=0"`
	MaxBenign   int `yaml:"max_benign" validate:"gte=0"`
}

// PipelineConfig selects a preset and overrides its fields. Zero values keep
// the preset's choice.
type PipelineConfig struct {
	Preset    string `yaml:"preset" validate:"oneof=logistic logistic-tuned forest-select forest-tuned"`
	Estimator string `yaml:"estimator" validate:"omitempty,oneof=forest logistic"`
	Seed      int64  `yaml:"seed"`

	Folds       []int                     `yaml:"folds" validate:"omitempty,dive,gte=2"`
	Hyperparams *classifiers.Hyperparams  `yaml:"hyperparams"`
	Grid        []classifiers.Hyperparams `yaml:"grid"`
	// FeatureSearch is a pointer so an explicit false overrides the preset.
	FeatureSearch *bool `yaml:"feature_search"`

	CalibrationFolds int     `yaml:"calibration_folds" validate:"omitempty,gte=2"`
	Objective        string  `yaml:"objective" validate:"omitempty,oneof=none f1 youden"`
	SweepSteps       int     `yaml:"sweep_steps" validate:"gte=0"`
	TestSize         float64 `yaml:"test_size" validate:"gt=0,lt=1"`
	Mode             string  `yaml:"mode" validate:"oneof=holdout full"`
	Extended         bool    `yaml:"extended"`
	Workers          int     `yaml:"workers" validate:"gte=0"`
}

// CrawlConfig tunes the benign crawler.
type CrawlConfig struct {
	MaxURLs           int     `yaml:"max_urls" validate:"gte=0"`
	MaxLinksPerDomain int     `yaml:"max_links_per_domain" validate:"gte=0"`
	DelaySeconds      float64 `yaml:"delay_seconds" validate:"gte=0"`
	TimeoutSeconds    float64 `yaml:"timeout_seconds" validate:"gte=0"`
	Offset            int     `yaml:"offset" validate:"gte=0"`
	Limit             int     `yaml:"limit" validate:"gte=0"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json logfmt"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads, defaults and validates a configuration file. An empty path
// falls back to $PHISHGUARD_CONFIG.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		return nil, fmt.Errorf("no config file given and %s is unset", EnvConfig)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and environment overrides and
// validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		cfg.Log.Level = strings.ToLower(lvl)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Output == "" {
		c.Output = "model.gob"
	}
	if c.Pipeline.Preset == "" {
		c.Pipeline.Preset = "logistic"
	}
	if c.Pipeline.Seed == 0 {
		c.Pipeline.Seed = 42
	}
	if c.Pipeline.TestSize == 0 {
		c.Pipeline.TestSize = 0.2
	}
	if c.Pipeline.Mode == "" {
		c.Pipeline.Mode = "holdout"
	}

	for _, list := range [][]SourceConfig{c.Data.Phishing, c.Data.Benign} {
		for i := range list {
			if list[i].Format == "" {
				list[i].Format = "urls"
			}
		}
	}
	for i := range c.Data.Labeled {
		if c.Data.Labeled[i].Format == "" {
			c.Data.Labeled[i].Format = "labeled"
		}
	}

	if c.Crawl.MaxURLs == 0 {
		c.Crawl.MaxURLs = 5000
	}
	if c.Crawl.MaxLinksPerDomain == 0 {
		c.Crawl.MaxLinksPerDomain = 5
	}
	if c.Crawl.DelaySeconds == 0 {
		c.Crawl.DelaySeconds = 0.3
	}
	if c.Crawl.TimeoutSeconds == 0 {
		c.Crawl.TimeoutSeconds = 5
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if len(c.Data.Phishing)+len(c.Data.Benign)+len(c.Data.Labeled) == 0 {
		return errors.New("invalid config: no data sources")
	}
	for _, s := range append(append([]SourceConfig(nil), c.Data.Phishing...), c.Data.Benign...) {
		if s.Format != "urls" && s.Format != "tranco" {
			return fmt.Errorf("invalid config: class source %s must use format urls or tranco", s.Path)
		}
	}
	for _, s := range c.Data.Labeled {
		if s.Format != "labeled" && s.Format != "sqlite" {
			return fmt.Errorf("invalid config: labeled source %s must use format labeled or sqlite", s.Path)
		}
	}
	for _, hp := range c.Pipeline.Grid {
		if hp.Trees < 0 || hp.MaxDepth < 0 {
			return fmt.Errorf("invalid config: negative grid entry %s", hp)
		}
	}
	return nil
}
