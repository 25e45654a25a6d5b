// Command phishguard trains, crawls for and applies calibrated phishing URL
// classifiers.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hed1ad/phishguard/pkg/config"
	"github.com/hed1ad/phishguard/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error("phishguard failed", "err", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "phishguard",
		Short:         "Lexical phishing URL classifier",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); overrides config and "+config.EnvLogLevel)
	root.PersistentFlags().String("log-format", "", "log format (text, json, logfmt)")

	root.AddCommand(newTrainCmd(), newCrawlCmd(), newScoreCmd())
	return root
}

// newLogger resolves flags over config over defaults.
func newLogger(cmd *cobra.Command, lc config.LogConfig) (*log.Logger, error) {
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		lc.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		lc.Format = v
	}
	if lc.Level == "" {
		lc.Level = os.Getenv(config.EnvLogLevel)
	}

	logger, err := logging.New(logging.Options{Level: lc.Level, Format: lc.Format, Writer: cmd.ErrOrStderr()})
	if err != nil {
		return nil, err
	}
	log.SetDefault(logger)
	return logger, nil
}
