package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hed1ad/phishguard/pkg/config"
	"github.com/hed1ad/phishguard/pkg/pipeline"
)

func newTrainCmd() *cobra.Command {
	var (
		configPath string
		output     string
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Select, calibrate and train a model from pipeline.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if output != "" {
				cfg.Output = output
			}

			logger, err := newLogger(cmd, cfg.Log)
			if err != nil {
				return err
			}

			opts, err := pipeline.FromConfig(cfg.Pipeline)
			if err != nil {
				return err
			}
			p, err := pipeline.New(opts, logger)
			if err != nil {
				return err
			}

			ds, summary, err := pipeline.LoadDataset(cmd.Context(), cfg.Data, opts.Extended, opts.Seed, logger)
			if err != nil {
				return err
			}

			res, err := p.Run(cmd.Context(), ds)
			if err != nil {
				return err
			}
			res.Report.Summary = &summary

			if dir := filepath.Dir(cfg.Output); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			if err := res.Model.Save(cfg.Output); err != nil {
				return fmt.Errorf("save model: %w", err)
			}
			logger.Info("model saved", "path", cfg.Output, "model.id", res.Model.ID())

			return res.Report.Print(cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "pipeline config file (default $"+config.EnvConfig+")")
	cmd.Flags().StringVarP(&output, "out", "o", "", "artifact path, overrides config output")
	return cmd
}
