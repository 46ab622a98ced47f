package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vibegnews/tgrelay/internal/bot"
	"github.com/vibegnews/tgrelay/internal/relay"
	"github.com/vibegnews/tgrelay/internal/server"
	"github.com/vibegnews/tgrelay/internal/session"
	"github.com/vibegnews/tgrelay/internal/store"
	"github.com/vibegnews/tgrelay/internal/telegram"
)

const (
	housekeepingInterval = 30 * time.Minute
	ledgerRetention      = 24 * time.Hour
	writeTimeoutSlack    = 5 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	for _, name := range cfg.MissingCredentials() {
		log.Warn("tgrelay: credential not set, related features are disabled", zap.String("env", name))
	}

	sender := telegram.NewClient(cfg.TelegramAPIURL, cfg.TelegramBotToken, log,
		telegram.WithTimeouts(cfg.SendTimeout, cfg.TypingTimeout))
	relayClient := relay.NewClient(cfg, log)
	if !cfg.RelayConfigured() {
		log.Warn("tgrelay: AI backend credentials missing, free-text questions get a configuration notice")
	}
	if worst := relayClient.MaxDuration(); worst > cfg.RelayBudget {
		log.Warn("tgrelay: per-attempt floor stretches the relay past its budget",
			zap.Duration("budget", cfg.RelayBudget),
			zap.Duration("worst_case", worst),
			zap.Int("endpoints", len(cfg.Endpoints)))
	}
	sessionMgr := session.NewManager()

	var opts []bot.Option
	var ledger store.Ledger
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("creating data dir: %w", err)
		}
		ledger, err = store.NewBoltStore(filepath.Join(cfg.DataDir, "tgrelay.db"))
		if err != nil {
			return err
		}
		defer ledger.Close()
		opts = append(opts, bot.WithLedger(ledger))
	}

	dispatcher := bot.NewHandler(cfg, sender, relayClient, sessionMgr, log, opts...)
	webhookHandler := telegram.NewWebhookHandler(cfg.WebhookSecret, dispatcher.HandleEvent, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Periodic cleanup of idle chat locks and old ledger entries.
	go func() {
		ticker := time.NewTicker(housekeepingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := sessionMgr.Cleanup(time.Hour); n > 0 {
					log.Debug("tgrelay: idle chat locks dropped", zap.Int("removed", n), zap.Int("remaining", sessionMgr.Len()))
				}
				if ledger != nil {
					if n, err := ledger.Prune(ledgerRetention); err != nil {
						log.Warn("tgrelay: ledger prune failed", zap.Error(err))
					} else if n > 0 {
						log.Debug("tgrelay: ledger pruned", zap.Int("removed", n))
					}
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.NewRouter(webhookHandler.HandleIncoming, log),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      writeTimeout(relayClient.MaxDuration(), cfg.SendTimeout, cfg.ProcessingNotice),
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("tgrelay: listening",
			zap.String("addr", srv.Addr),
			zap.Int("endpoints", len(cfg.Endpoints)),
			zap.Bool("ledger", ledger != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	log.Info("tgrelay: shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("tgrelay: stopped")
	return nil
}

// writeTimeout covers the slowest webhook request: every relay candidate
// timing out, then the reply send, plus the processing notice when enabled.
// Dispatch is synchronous, so a shorter timeout would cut off the 200 and
// make Telegram redeliver the update.
func writeTimeout(relayMax, send time.Duration, notice bool) time.Duration {
	sends := time.Duration(1)
	if notice {
		sends++
	}
	return relayMax + sends*send + writeTimeoutSlack
}
