package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	defaultSendTimeout   = 5 * time.Second
	defaultTypingTimeout = 2 * time.Second
	maxResponseBytes     = 1 << 20
)

// APIError is a Bot API call that came back with ok=false or an HTTP error.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: status %d: %s", e.Method, e.StatusCode, e.Description)
}

// isParseEntitiesError reports whether Telegram rejected the Markdown markup.
func isParseEntitiesError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(apiErr.Description), "can't parse entities")
}

// Client talks to the Telegram Bot API over plain JSON POSTs.
type Client struct {
	baseURL       string
	token         string
	http          *http.Client
	log           *zap.Logger
	sendTimeout   time.Duration
	typingTimeout time.Duration
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithTimeouts(send, typing time.Duration) Option {
	return func(c *Client) {
		if send > 0 {
			c.sendTimeout = send
		}
		if typing > 0 {
			c.typingTimeout = typing
		}
	}
}

func NewClient(baseURL, token string, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		token:         token,
		http:          &http.Client{},
		log:           log,
		sendTimeout:   defaultSendTimeout,
		typingTimeout: defaultTypingTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send delivers text to chatID, attaching kb when it is non-nil. It never
// returns an error: failures are logged and reported as false.
func (c *Client) Send(ctx context.Context, chatID int64, text string, kb *tgbotapi.ReplyKeyboardMarkup) bool {
	if c.token == "" {
		c.log.Error("telegram: bot token is not set, cannot send message", zap.Int64("chat_id", chatID))
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	req := sendMessageRequest{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   tgbotapi.ModeMarkdown,
		ReplyMarkup: kb,
	}
	_, err := c.call(ctx, "sendMessage", req)
	if isParseEntitiesError(err) {
		c.log.Debug("telegram: markdown rejected, resending as plain text", zap.Int64("chat_id", chatID))
		req.ParseMode = ""
		_, err = c.call(ctx, "sendMessage", req)
	}
	if err != nil {
		c.log.Error("telegram: failed to send message",
			zap.Int64("chat_id", chatID),
			zap.String("error", c.redact(err)))
		return false
	}
	return true
}

// SendTyping shows the "typing…" indicator. Best effort: every failure is swallowed.
func (c *Client) SendTyping(ctx context.Context, chatID int64) {
	if c.token == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.typingTimeout)
	defer cancel()

	if _, err := c.call(ctx, "sendChatAction", sendChatActionRequest{ChatID: chatID, Action: tgbotapi.ChatTyping}); err != nil {
		c.log.Debug("telegram: typing indicator failed", zap.Int64("chat_id", chatID), zap.String("error", c.redact(err)))
	}
}

// SetWebhook registers url as the update destination. Only message updates
// are requested.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	_, err := c.call(ctx, "setWebhook", setWebhookRequest{
		URL:            url,
		SecretToken:    secret,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return errors.New(c.redact(err))
	}
	return nil
}

func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	if _, err := c.call(ctx, "deleteWebhook", deleteWebhookRequest{DropPendingUpdates: dropPending}); err != nil {
		return errors.New(c.redact(err))
	}
	return nil
}

func (c *Client) GetWebhookInfo(ctx context.Context) (*tgbotapi.WebhookInfo, error) {
	resp, err := c.call(ctx, "getWebhookInfo", struct{}{})
	if err != nil {
		return nil, errors.New(c.redact(err))
	}
	var info tgbotapi.WebhookInfo
	if err := json.Unmarshal(resp.Result, &info); err != nil {
		return nil, fmt.Errorf("decoding webhook info: %w", err)
	}
	return &info, nil
}

func (c *Client) call(ctx context.Context, method string, payload any) (*tgbotapi.APIResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", method, err)
	}

	var apiResp tgbotapi.APIResponse
	if jsonErr := json.Unmarshal(respBody, &apiResp); jsonErr != nil && resp.StatusCode < 400 {
		return nil, fmt.Errorf("decoding %s response: %w", method, jsonErr)
	}
	if resp.StatusCode >= 400 || !apiResp.Ok {
		desc := apiResp.Description
		if desc == "" {
			desc = strings.TrimSpace(string(respBody))
		}
		return nil, &APIError{Method: method, StatusCode: resp.StatusCode, Description: desc}
	}
	return &apiResp, nil
}

// redact strips the bot token from error text; transport errors embed the
// request URL, which carries it.
func (c *Client) redact(err error) string {
	if c.token == "" {
		return err.Error()
	}
	return strings.ReplaceAll(err.Error(), c.token, "<token>")
}
