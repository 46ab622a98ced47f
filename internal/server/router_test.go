package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vibegnews/tgrelay/internal/bot"
	"github.com/vibegnews/tgrelay/internal/config"
	"github.com/vibegnews/tgrelay/internal/relay"
	"github.com/vibegnews/tgrelay/internal/session"
	"github.com/vibegnews/tgrelay/internal/telegram"
)

func TestHealth(t *testing.T) {
	h := NewRouter(func(w http.ResponseWriter, r *http.Request) {}, zap.NewNop())

	for _, path := range []string{"/", "/health"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		assert.Equal(t, http.StatusOK, rec.Code, path)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, healthMessage, body["message"])
	}
}

func TestWebhookRouteIsPostOnly(t *testing.T) {
	called := false
	h := NewRouter(func(w http.ResponseWriter, r *http.Request) { called = true }, zap.NewNop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.False(t, called)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{}")))
	assert.True(t, called)
}

// telegramRecorder stands in for the Bot API and keeps every sendMessage text.
type telegramRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (s *telegramRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/sendMessage") {
		var req struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.mu.Lock()
		s.texts = append(s.texts, req.Text)
		s.mu.Unlock()
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
}

func (s *telegramRecorder) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

// echoBackend is an AI backend that answers with the query it received.
func echoBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query string `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"reply": req.Query}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newStack(t *testing.T, backendURL string) (http.Handler, *telegramRecorder) {
	t.Helper()
	tg := &telegramRecorder{}
	tgSrv := httptest.NewServer(tg)
	t.Cleanup(tgSrv.Close)

	cfg := &config.Config{
		TelegramBotToken: "TOKEN",
		TelegramAPIURL:   tgSrv.URL,
		GPTBotsAPIKey:    "key",
		GPTBotsAgentID:   "agent",
		Endpoints:        []config.Endpoint{{URL: backendURL, Auth: config.AuthAPIKey}},
		RelayBudget:      2 * time.Second,
		RelayMinAttempt:  time.Second,
		Menu:             config.DefaultMenu(30),
	}
	log := zap.NewNop()
	sender := telegram.NewClient(cfg.TelegramAPIURL, cfg.TelegramBotToken, log, telegram.WithHTTPClient(tgSrv.Client()))
	relayClient := relay.NewClient(cfg, log)
	dispatcher := bot.NewHandler(cfg, sender, relayClient, session.NewManager(), log)
	webhook := telegram.NewWebhookHandler("", dispatcher.HandleEvent, log)

	return NewRouter(webhook.HandleIncoming, log), tg
}

func postJSON(t *testing.T, h http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(raw))))
	return rec
}

func update(text string) map[string]any {
	return map[string]any{
		"update_id": 1,
		"message": map[string]any{
			"message_id": 10,
			"chat":       map[string]any{"id": 100, "type": "private"},
			"from":       map[string]any{"id": 200, "first_name": "Аня"},
			"text":       text,
		},
	}
}

func TestFreeTextRoundTripIsVerbatim(t *testing.T) {
	h, tg := newStack(t, echoBackend(t).URL)

	inputs := []string{
		"Как настроить Wi-Fi на ноутбуке?",
		"emoji 🙂👍 и \"кавычки\" <теги> & амперсанд",
		"多语言 テキスト عربى",
		"line one\nline two\ttab",
	}
	for _, in := range inputs {
		rec := postJSON(t, h, update(in))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, inputs, tg.sent())
}

func TestMissingTextSendsNothing(t *testing.T) {
	h, tg := newStack(t, echoBackend(t).URL)

	rec := postJSON(t, h, map[string]any{"update_id": 2})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = postJSON(t, h, map[string]any{
		"update_id": 3,
		"message":   map[string]any{"chat": map[string]any{"id": 1}, "from": map[string]any{"id": 2}},
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Empty(t, tg.sent())
}

func TestBackendFailureStillAcknowledged(t *testing.T) {
	h, tg := newStack(t, "http://127.0.0.1:1/v1/chat")

	rec := postJSON(t, h, update("вопрос"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	sent := tg.sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "Сервис временно недоступен")
}

func TestMalformedJSONIsTheOnlyError(t *testing.T) {
	h, tg := newStack(t, echoBackend(t).URL)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"message":`)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, tg.sent())
}
