package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/vibegnews/tgrelay/internal/config"
	"github.com/vibegnews/tgrelay/internal/session"
	"github.com/vibegnews/tgrelay/internal/telegram"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sentMessage struct {
	chatID   int64
	text     string
	keyboard *tgbotapi.ReplyKeyboardMarkup
}

type fakeSender struct {
	mu          sync.Mutex
	sent        []sentMessage
	typing      []int64
	events      []string
	fail        bool
	typingDelay time.Duration
}

func (f *fakeSender) Send(_ context.Context, chatID int64, text string, kb *tgbotapi.ReplyKeyboardMarkup) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text, keyboard: kb})
	f.events = append(f.events, "send")
	return !f.fail
}

func (f *fakeSender) SendTyping(_ context.Context, chatID int64) {
	time.Sleep(f.typingDelay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, chatID)
	f.events = append(f.events, "typing")
}

func (f *fakeSender) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type fakeRelay struct {
	mu      sync.Mutex
	queries []string
	users   []string
	reply   func(query string) string
	panics  bool
}

func (f *fakeRelay) Relay(_ context.Context, query, userID string) string {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.users = append(f.users, userID)
	f.mu.Unlock()
	if f.panics {
		panic("relay exploded")
	}
	if f.reply != nil {
		return f.reply(query)
	}
	return "answer: " + query
}

func (f *fakeRelay) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type fakeLedger struct {
	seen map[int64]bool
	err  error
}

func (l *fakeLedger) MarkProcessed(updateID, _ int64) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if l.seen[updateID] {
		return false, nil
	}
	l.seen[updateID] = true
	return true, nil
}

func newTestHandler(t *testing.T, mutate func(*config.Config), opts ...Option) (*Handler, *fakeSender, *fakeRelay) {
	t.Helper()
	cfg := &config.Config{Menu: config.DefaultMenu(30)}
	if mutate != nil {
		mutate(cfg)
	}
	sender := &fakeSender{}
	relay := &fakeRelay{}
	h := NewHandler(cfg, sender, relay, session.NewManager(), zap.NewNop(), opts...)
	return h, sender, relay
}

func event(text string) telegram.Event {
	return telegram.Event{UpdateID: 1, ChatID: 100, UserID: 200, Text: text}
}

func TestClassify(t *testing.T) {
	menu := config.DefaultMenu(30)
	tests := map[string]Action{
		"/start":          ActionStart,
		"Компьютер":       ActionMenu,
		"О боте":          ActionMenu,
		"FAQ":             ActionMenu,
		"faq":             ActionQuery,
		"/start please":   ActionQuery,
		"/help":           ActionQuery,
		"Как сбросить ПК": ActionQuery,
	}
	for text, want := range tests {
		assert.Equal(t, want, Classify(text, menu), text)
	}
}

func TestStartSendsWelcomeWithMenu(t *testing.T) {
	h, sender, relay := newTestHandler(t, nil)

	for i := 0; i < 2; i++ {
		ev := event("/start")
		h.HandleEvent(context.Background(), ev)
	}

	msgs := sender.messages()
	require.Len(t, msgs, 2, "one send per /start, regardless of prior state")
	for _, m := range msgs {
		assert.Equal(t, int64(100), m.chatID)
		assert.Equal(t, config.DefaultMenu(30).Welcome, m.text)
		require.NotNil(t, m.keyboard)
		assert.Len(t, m.keyboard.Keyboard, 3)
	}
	assert.Equal(t, 0, relay.calls())
}

func TestMenuOptionsSendStaticText(t *testing.T) {
	menu := config.DefaultMenu(30)
	for _, opt := range menu.Options {
		t.Run(opt.Label, func(t *testing.T) {
			h, sender, relay := newTestHandler(t, nil)

			h.HandleEvent(context.Background(), event(opt.Label))

			msgs := sender.messages()
			require.Len(t, msgs, 1)
			assert.Equal(t, opt.Text, msgs[0].text)
			assert.NotNil(t, msgs[0].keyboard)
			assert.Equal(t, 0, relay.calls(), "menu options never reach the AI backend")
		})
	}
}

func TestFreeTextIsRelayed(t *testing.T) {
	h, sender, relay := newTestHandler(t, nil)

	h.HandleEvent(context.Background(), event("Как включить Bluetooth? 🙂"))

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "answer: Как включить Bluetooth? 🙂", msgs[0].text)
	assert.NotNil(t, msgs[0].keyboard)
	assert.Equal(t, []string{"200"}, relay.users, "user id is passed as a string")
}

func TestProcessingNotice(t *testing.T) {
	h, sender, _ := newTestHandler(t, func(c *config.Config) { c.ProcessingNotice = true })

	h.HandleEvent(context.Background(), event("вопрос"))

	msgs := sender.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, config.DefaultMenu(30).Processing, msgs[0].text)
	assert.Nil(t, msgs[0].keyboard)
	assert.Equal(t, "answer: вопрос", msgs[1].text)
}

func TestTypingLandsBeforeReply(t *testing.T) {
	h, sender, _ := newTestHandler(t, nil)
	sender.typingDelay = 50 * time.Millisecond

	h.HandleEvent(context.Background(), event("вопрос"))

	assert.Equal(t, []string{"typing", "send"}, sender.order())
}

func TestTypingLandsBeforeReplyWithNotice(t *testing.T) {
	h, sender, _ := newTestHandler(t, func(c *config.Config) { c.ProcessingNotice = true })
	sender.typingDelay = 50 * time.Millisecond

	h.HandleEvent(context.Background(), event("вопрос"))

	assert.Equal(t, []string{"send", "typing", "send"}, sender.order())
}

func TestRelayPanicIsContained(t *testing.T) {
	h, sender, relay := newTestHandler(t, nil)
	relay.panics = true

	assert.NotPanics(t, func() { h.HandleEvent(context.Background(), event("вопрос")) })

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, config.DefaultMenu(30).InternalError, msgs[0].text)
}

func TestFailedSendDoesNotStopDispatch(t *testing.T) {
	h, sender, _ := newTestHandler(t, func(c *config.Config) { c.ProcessingNotice = true })
	sender.fail = true

	h.HandleEvent(context.Background(), event("вопрос"))
	assert.Len(t, sender.messages(), 2, "reply is attempted even when the notice failed")
}

func TestLedgerSuppressesRedelivery(t *testing.T) {
	ledger := &fakeLedger{seen: map[int64]bool{}}
	h, sender, relay := newTestHandler(t, nil, WithLedger(ledger))

	h.HandleEvent(context.Background(), event("вопрос"))
	h.HandleEvent(context.Background(), event("вопрос"))

	assert.Len(t, sender.messages(), 1)
	assert.Equal(t, 1, relay.calls())
}

func TestLedgerErrorStillAnswers(t *testing.T) {
	h, sender, _ := newTestHandler(t, nil, WithLedger(&fakeLedger{err: errors.New("disk full")}))

	h.HandleEvent(context.Background(), event("/start"))
	assert.Len(t, sender.messages(), 1)
}
