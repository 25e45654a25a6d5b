package pipeline

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/hed1ad/phishguard/pkg/config"
	"github.com/hed1ad/phishguard/pkg/dataset"
	"github.com/hed1ad/phishguard/pkg/features"
	sourceio "github.com/hed1ad/phishguard/pkg/io"
	"github.com/hed1ad/phishguard/pkg/io/csv"
	"github.com/hed1ad/phishguard/pkg/io/sqlite"
)

// NewSource builds the reader for one configured source. label is applied to
// every row of the urls and tranco formats.
func NewSource(sc config.SourceConfig, label int) (sourceio.Source, error) {
	switch sc.Format {
	case "sqlite":
		return sqlite.NewReader(sc.Path,
			sqlite.WithTable(sc.Table),
			sqlite.WithColumns(sc.Column, sc.LabelColumn),
		)
	case "", "urls", "tranco", "labeled":
		format := csv.Format(sc.Format)
		if format == "" {
			format = csv.FormatURLs
		}
		return csv.NewReader(sc.Path, format,
			csv.WithColumn(sc.Column),
			csv.WithLabelColumn(sc.LabelColumn),
			csv.WithLabel(label),
			csv.WithOffset(sc.Offset),
			csv.WithLimit(sc.Limit),
		)
	default:
		return nil, fmt.Errorf("unknown source format %q", sc.Format)
	}
}

// LoadDataset reads every configured source and assembles the dataset. A
// missing file or column aborts; an empty source only warns. A dataset
// lacking either class is a *FatalConfigError.
func LoadDataset(ctx context.Context, data config.DataConfig, extended bool, seed int64, logger *log.Logger) (*dataset.Dataset, dataset.Summary, error) {
	if logger == nil {
		logger = log.Default()
	}

	var entries []dataset.LabeledURL
	load := func(list []config.SourceConfig, label int) error {
		for _, sc := range list {
			src, err := NewSource(sc, label)
			if err != nil {
				return err
			}
			out, err := src.Load(ctx)
			if err != nil {
				return err
			}
			if out.Status == sourceio.StatusEmpty {
				logger.Warn("source yielded no rows", "source", out.Source, "path", sc.Path)
			}
			if out.Skipped > 0 {
				logger.Debug("rows skipped", "source", out.Source, "path", sc.Path, "skipped", out.Skipped)
			}
			logger.Info("source loaded", "source", out.Source, "path", sc.Path, "rows", len(out.Entries))
			entries = append(entries, out.Entries...)
		}
		return nil
	}

	if err := load(data.Phishing, dataset.Phishing); err != nil {
		return nil, dataset.Summary{}, err
	}
	if err := load(data.Benign, dataset.Benign); err != nil {
		return nil, dataset.Summary{}, err
	}
	if err := load(data.Labeled, dataset.Phishing); err != nil {
		return nil, dataset.Summary{}, err
	}

	ds, summary, err := dataset.AssembleLabeled(entries, dataset.AssembleOptions{
		MaxPhishing: data.MaxPhishing,
		MaxBenign:   data.MaxBenign,
		Seed:        seed,
		Extractor:   features.New(features.WithExtended(extended)),
	})
	if err != nil {
		return nil, summary, &FatalConfigError{Stage: "dataset", Err: err}
	}
	logger.Info("dataset assembled",
		"phishing", summary.After.Phishing, "benign", summary.After.Benign,
		"phishing_before", summary.Before.Phishing, "benign_before", summary.Before.Benign)

	if summary.After.Phishing == 0 || summary.After.Benign == 0 {
		return nil, summary, &FatalConfigError{
			Stage: "dataset",
			Err:   fmt.Errorf("need both classes, got phishing=%d benign=%d", summary.After.Phishing, summary.After.Benign),
		}
	}
	return ds, summary, nil
}
