package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vibegnews/tgrelay/internal/config"
	"github.com/vibegnews/tgrelay/internal/logx"
)

var rootCmd = &cobra.Command{
	Use:   "tgrelay",
	Short: "Telegram webhook bot relaying questions to a GPTBots agent",
	Long: `tgrelay answers Telegram messages: /start and menu buttons get canned
texts, everything else is forwarded to the configured GPTBots endpoints.

Configuration is read from the environment (and an optional .env file).
Run without a subcommand to start the webhook server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(webhookCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger shared by all commands.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	log, err := logx.NewLogger(cfg.LogLevel, cfg.LogPretty, cfg.LogFile)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, log, nil
}
