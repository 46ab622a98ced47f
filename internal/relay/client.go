package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vibegnews/tgrelay/internal/config"
)

const maxResponseBytes = 1 << 20

// chatRequest is the GPTBots chat payload.
type chatRequest struct {
	AgentID      string `json:"agent_id"`
	UserID       string `json:"user_id"`
	Query        string `json:"query"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Stream       bool   `json:"stream"`
}

// Client forwards user queries to the AI backend, trying each configured
// endpoint in order.
type Client struct {
	apiKey       string
	agentID      string
	systemPrompt string
	endpoints    []config.Endpoint
	budget       time.Duration
	minAttempt   time.Duration
	http         *http.Client
	log          *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func NewClient(cfg *config.Config, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:     cfg.GPTBotsAPIKey,
		agentID:    cfg.GPTBotsAgentID,
		endpoints:  cfg.Endpoints,
		budget:     cfg.RelayBudget,
		minAttempt: cfg.RelayMinAttempt,
		// Timeouts are applied per attempt through the request context.
		http: &http.Client{},
		log:  log,
	}
	if cfg.Menu != nil {
		c.systemPrompt = cfg.Menu.SystemPrompt
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Relay returns the text to show the user for query: the backend's reply or
// a human-readable failure message. It never fails.
func (c *Client) Relay(ctx context.Context, query, userID string) string {
	res := c.Do(ctx, query, userID)
	if f := res.Failure(); f != nil {
		c.log.Warn("relay: request failed",
			zap.String("kind", string(f.Kind)),
			zap.String("user_id", userID),
			zap.String("detail", c.redact(f.Detail)))
	}
	return res.Text()
}

// Do performs the relay and returns the structured outcome.
func (c *Client) Do(ctx context.Context, query, userID string) Result {
	if c.apiKey == "" || c.agentID == "" {
		return failureResult(configurationFailure())
	}
	if len(c.endpoints) == 0 {
		return failureResult(transportFailure(nil))
	}

	payload, err := encodeRequest(chatRequest{
		AgentID:      c.agentID,
		UserID:       userID,
		Query:        query,
		SystemPrompt: c.systemPrompt,
	})
	if err != nil {
		return failureResult(transportFailure([]attempt{{endpoint: "-", reason: err.Error()}}))
	}

	timeout := c.attemptTimeout()
	var attempts []attempt
	for _, ep := range c.endpoints {
		status, body, err := c.post(ctx, ep, payload, timeout)
		switch {
		case err != nil:
			attempts = append(attempts, attempt{endpoint: ep.URL, reason: c.redact(describeTransportError(err, timeout))})
			c.log.Info("relay: endpoint unreachable, trying next", zap.String("endpoint", ep.URL), zap.Error(err))
			continue
		case status == http.StatusNotFound:
			attempts = append(attempts, attempt{endpoint: ep.URL, reason: "HTTP 404"})
			c.log.Info("relay: endpoint returned 404, trying next", zap.String("endpoint", ep.URL))
			continue
		case status != http.StatusOK:
			return failureResult(applicationFailure(ep.URL, status, c.redact(string(body))))
		}

		if reply := extractReply(body); reply != "" {
			return replyResult(reply)
		}
		return failureResult(malformedFailure(ep.URL, c.redact(string(body))))
	}

	return failureResult(transportFailure(attempts))
}

// attemptTimeout splits the budget across the candidates, rounding down to
// whole seconds, but never below the per-attempt floor.
func (c *Client) attemptTimeout() time.Duration {
	d := c.budget / time.Duration(len(c.endpoints))
	if d > time.Second {
		d = d.Truncate(time.Second)
	}
	if d < c.minAttempt {
		d = c.minAttempt
	}
	return d
}

// MaxDuration is the longest a relay can take: every candidate hanging for
// its full attempt timeout. It exceeds the budget when the floor kicks in.
func (c *Client) MaxDuration() time.Duration {
	if len(c.endpoints) == 0 {
		return 0
	}
	return time.Duration(len(c.endpoints)) * c.attemptTimeout()
}

// post sends one attempt. A non-nil error means the endpoint could not be
// reached or did not answer in time; any HTTP status is returned as is.
func (c *Client) post(ctx context.Context, ep config.Endpoint, payload []byte, timeout time.Duration) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if ep.Auth.Has(config.AuthAPIKey) {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if ep.Auth.Has(config.AuthBearer) {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) redact(s string) string {
	if c.apiKey == "" {
		return s
	}
	return strings.ReplaceAll(s, c.apiKey, "***")
}

// encodeRequest marshals without HTML escaping so the query reaches the
// backend byte for byte.
func encodeRequest(r chatRequest) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("marshaling relay request: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func describeTransportError(err error, timeout time.Duration) string {
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Sprintf("таймаут (%s)", timeout)
	case errors.As(err, &dnsErr):
		return "DNS: " + dnsErr.Err
	case errors.Is(err, context.Canceled):
		return "запрос отменён"
	default:
		return "ошибка соединения: " + err.Error()
	}
}
