package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	secretHeader    = "X-Telegram-Bot-Api-Secret-Token"
	maxWebhookBytes = 1 << 20
)

// EventHandler is called once for every update that carries a text message.
type EventHandler func(ctx context.Context, ev Event)

type WebhookHandler struct {
	secret  string
	onEvent EventHandler
	log     *zap.Logger
}

func NewWebhookHandler(secret string, onEvent EventHandler, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret:  secret,
		onEvent: onEvent,
		log:     log,
	}
}

// HandleIncoming processes one webhook POST from Telegram.
// Telegram redelivers any update that is not answered with 2xx, so every
// outcome except an unparseable body is acknowledged with 200.
func (h *WebhookHandler) HandleIncoming(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(secretHeader)), []byte(h.secret)) != 1 {
		h.log.Warn("webhook: secret token mismatch, update dropped", zap.String("remote", r.RemoteAddr))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		h.log.Error("webhook: failed to read body", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if !json.Valid(body) {
		h.log.Error("webhook: invalid JSON", zap.Int("bytes", len(body)))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "invalid JSON"})
		return
	}

	// Well-formed JSON that is not an Update is acknowledged like any other
	// update without a text message.
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		h.log.Info("webhook: body is not a Telegram update", zap.Error(err), zap.Int("bytes", len(body)))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	h.log.Debug("webhook: update received", zap.Int("update_id", update.UpdateID), zap.ByteString("body", body))

	ev, ok := EventFromUpdate(update)
	if !ok {
		h.log.Info("webhook: update has no actionable text message", zap.Int("update_id", update.UpdateID))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	// Replies must still go out if Telegram drops the connection while we
	// wait on the AI backend.
	h.dispatch(context.WithoutCancel(r.Context()), ev)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *WebhookHandler) dispatch(ctx context.Context, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error("webhook: panic while handling update",
				zap.Any("panic", rec),
				zap.Int64("update_id", ev.UpdateID),
				zap.Int64("chat_id", ev.ChatID),
				zap.Stack("stack"))
		}
	}()
	h.onEvent(ctx, ev)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
