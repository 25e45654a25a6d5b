package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/phishguard/pkg/config"
	"github.com/hed1ad/phishguard/pkg/model"
)

func newScoreCmd() *cobra.Command {
	var (
		modelPath string
		fromStdin bool
	)

	cmd := &cobra.Command{
		Use:   "score [URL...]",
		Short: "Classify URLs with a saved model",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !fromStdin {
				return errors.New("no URLs given; pass them as arguments or use --stdin")
			}

			logger, err := newLogger(cmd, config.LogConfig{})
			if err != nil {
				return err
			}

			m, err := model.Load(modelPath)
			if err != nil {
				return fmt.Errorf("load model: %w", err)
			}
			logger.Debug("model loaded", "model.id", m.ID(), "model.name", string(m.Kind()), "threshold", m.Threshold())

			input := make(chan string, 64)
			output := make(chan model.Verdict, 64)

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				defer close(input)
				for _, u := range args {
					select {
					case input <- u:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				if !fromStdin {
					return nil
				}
				sc := bufio.NewScanner(cmd.InOrStdin())
				for sc.Scan() {
					u := strings.TrimSpace(sc.Text())
					if u == "" {
						continue
					}
					select {
					case input <- u:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				return sc.Err()
			})
			g.Go(func() error {
				return m.ScoreStream(ctx, input, output)
			})

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "URL\tPROBABILITY\tVERDICT\n")
			for v := range output {
				verdict := "benign"
				if v.Phishing {
					verdict = "phishing"
				}
				fmt.Fprintf(tw, "%s\t%.4f\t%s\n", v.URL, v.Probability, verdict)
			}

			if err := g.Wait(); err != nil {
				return err
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&modelPath, "model", "m", "model.gob", "saved model artifact")
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "also read URLs from stdin, one per line")
	return cmd
}
