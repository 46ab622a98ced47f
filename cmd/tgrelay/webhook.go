package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vibegnews/tgrelay/internal/config"
	"github.com/vibegnews/tgrelay/internal/telegram"
)

const webhookCallTimeout = 15 * time.Second

var dropPending bool

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Manage the Telegram webhook registration",
}

var webhookSetCmd = &cobra.Command{
	Use:   "set [url]",
	Short: "Point the bot's webhook at url (default: WEBHOOK_URL)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, client, err := webhookClient()
		if err != nil {
			return err
		}
		url := cfg.WebhookURL
		if len(args) == 1 {
			url = args[0]
		}
		if url == "" {
			return errors.New("no webhook URL: pass one or set WEBHOOK_URL")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), webhookCallTimeout)
		defer cancel()
		if err := client.SetWebhook(ctx, url, cfg.WebhookSecret); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "webhook set to %s\n", url)
		return nil
	},
}

var webhookInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the current webhook registration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, client, err := webhookClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), webhookCallTimeout)
		defer cancel()
		info, err := client.GetWebhookInfo(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if !info.IsSet() {
			fmt.Fprintln(out, "no webhook set")
			return nil
		}
		fmt.Fprintf(out, "url:              %s\n", info.URL)
		fmt.Fprintf(out, "pending updates:  %d\n", info.PendingUpdateCount)
		if info.LastErrorMessage != "" {
			at := time.Unix(int64(info.LastErrorDate), 0).UTC().Format(time.RFC3339)
			fmt.Fprintf(out, "last error:       %s (%s)\n", info.LastErrorMessage, at)
		}
		return nil
	},
}

var webhookDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the webhook registration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, client, err := webhookClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), webhookCallTimeout)
		defer cancel()
		if err := client.DeleteWebhook(ctx, dropPending); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "webhook deleted")
		return nil
	},
}

func init() {
	webhookDeleteCmd.Flags().BoolVar(&dropPending, "drop-pending", false, "Discard updates Telegram has queued")
	webhookCmd.AddCommand(webhookSetCmd, webhookInfoCmd, webhookDeleteCmd)
}

func webhookClient() (*config.Config, *telegram.Client, error) {
	cfg, log, err := setup()
	if err != nil {
		return nil, nil, err
	}
	if cfg.TelegramBotToken == "" {
		return nil, nil, errors.New("TELEGRAM_BOT_TOKEN is not set")
	}
	return cfg, telegram.NewClient(cfg.TelegramAPIURL, cfg.TelegramBotToken, log), nil
}
