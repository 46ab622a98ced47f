package relay

import (
	"fmt"
	"strings"
)

// ErrorKind categorizes relay failures.
type ErrorKind string

const (
	ErrConfiguration ErrorKind = "configuration"      // credentials missing, no network call made
	ErrTransport     ErrorKind = "transport"          // every candidate timed out, refused, or 404'd
	ErrApplication   ErrorKind = "application"        // non-200, non-404 status; not retried elsewhere
	ErrMalformed     ErrorKind = "malformed_response" // 200 without a recognizable reply field
)

const (
	maxAttemptDetail = 120 // per-endpoint entry in the aggregate failure
	maxRawEcho       = 500 // raw body echoed in the malformed-response diagnostic
)

// Failure is a relay error with the text shown to the user.
type Failure struct {
	Kind       ErrorKind
	Message    string // user-facing, in Russian
	Detail     string // for logs
	StatusCode int    // set for ErrApplication
}

func (f *Failure) Error() string { return string(f.Kind) + ": " + f.Detail }

// attempt records why one candidate endpoint was given up on.
type attempt struct {
	endpoint string
	reason   string
}

func configurationFailure() *Failure {
	return &Failure{
		Kind:    ErrConfiguration,
		Message: "К сожалению, я не могу обработать ваш запрос, так как не настроены ключи для сервиса GPT.",
		Detail:  "GPTBOTS_API_KEY or GPTBOTS_AGENT_ID is not set",
	}
}

func applicationFailure(endpoint string, status int, body string) *Failure {
	return &Failure{
		Kind:       ErrApplication,
		Message:    fmt.Sprintf("❌ Сервис GPTBots отклонил запрос (код %d). Попробуйте позже.", status),
		Detail:     fmt.Sprintf("%s: status %d: %s", endpoint, status, truncate(body, maxAttemptDetail)),
		StatusCode: status,
	}
}

func malformedFailure(endpoint, body string) *Failure {
	echo := truncate(body, maxRawEcho)
	return &Failure{
		Kind:    ErrMalformed,
		Message: "⚠️ Сервис GPTBots вернул ответ в неожиданном формате:\n" + echo,
		Detail:  fmt.Sprintf("%s: no reply field in %s", endpoint, echo),
	}
}

func transportFailure(attempts []attempt) *Failure {
	var lines []string
	for _, a := range attempts {
		lines = append(lines, truncate("• "+a.endpoint+" — "+a.reason, maxAttemptDetail))
	}
	list := strings.Join(lines, "\n")
	return &Failure{
		Kind:    ErrTransport,
		Message: "Сервис временно недоступен. Попробуйте позже.\n\nПопытки:\n" + list,
		Detail:  strings.ReplaceAll(list, "\n", "; "),
	}
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
