package main

import (
	encsv "encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hed1ad/phishguard/pkg/config"
	"github.com/hed1ad/phishguard/pkg/crawl"
	"github.com/hed1ad/phishguard/pkg/io/csv"
)

func newCrawlCmd() *cobra.Command {
	var (
		configPath string
		tranco     string
		out        string
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Harvest benign URLs from the home pages of ranked domains",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tranco == "" || out == "" {
				return errors.New("--tranco and --out are required")
			}

			cc := config.Default().Crawl
			lc := config.LogConfig{}
			if configPath != "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cc, lc = cfg.Crawl, cfg.Log
			}

			logger, err := newLogger(cmd, lc)
			if err != nil {
				return err
			}

			r, err := csv.NewReader(tranco, csv.FormatTranco, csv.WithOffset(cc.Offset), csv.WithLimit(cc.Limit))
			if err != nil {
				return err
			}
			list, err := r.Load(cmd.Context())
			if err != nil {
				return err
			}
			domains := make([]string, len(list.Entries))
			for i, e := range list.Entries {
				domains[i] = csv.StripScheme(e.URL)
			}
			logger.Info("crawling", "domains", len(domains), "max_urls", cc.MaxURLs)

			c := crawl.New(
				crawl.WithHTTPClient(&http.Client{Timeout: seconds(cc.TimeoutSeconds)}),
				crawl.WithDelay(seconds(cc.DelaySeconds)),
				crawl.WithMaxURLs(cc.MaxURLs),
				crawl.WithMaxLinksPerDomain(cc.MaxLinksPerDomain),
				crawl.WithLogger(logger),
			)
			urls, err := c.Crawl(cmd.Context(), domains)
			if err != nil && len(urls) == 0 {
				return err
			}
			if err != nil {
				logger.Warn("crawl interrupted, writing partial results", "err", err)
			}

			if err := writeURLs(out, urls); err != nil {
				return err
			}
			logger.Info("saved", "path", out, "urls", len(urls))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "pipeline config file for crawl settings")
	cmd.Flags().StringVar(&tranco, "tranco", "", "ranked rank,domain CSV")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output CSV with a url column")
	return cmd
}

func writeURLs(path string, urls []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := encsv.NewWriter(f)
	if err := w.Write([]string{"url"}); err != nil {
		return err
	}
	for _, u := range urls {
		if err := w.Write([]string{u}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
