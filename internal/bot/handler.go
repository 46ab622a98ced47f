package bot

import (
	"context"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/vibegnews/tgrelay/internal/config"
	"github.com/vibegnews/tgrelay/internal/session"
	"github.com/vibegnews/tgrelay/internal/telegram"
)

// Sender delivers messages to a chat. Implemented by *telegram.Client.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string, kb *tgbotapi.ReplyKeyboardMarkup) bool
	SendTyping(ctx context.Context, chatID int64)
}

// Relayer turns a free-text query into the text to answer with.
// Implemented by *relay.Client.
type Relayer interface {
	Relay(ctx context.Context, query, userID string) string
}

// Ledger deduplicates redelivered updates. Implemented by *store.BoltStore.
type Ledger interface {
	MarkProcessed(updateID, chatID int64) (bool, error)
}

// Action is what the bot does with an inbound text.
type Action int

const (
	ActionStart Action = iota // welcome text + menu
	ActionMenu                // static option text + menu
	ActionQuery               // relay to the AI backend
)

func (a Action) String() string {
	switch a {
	case ActionStart:
		return "start"
	case ActionMenu:
		return "menu"
	default:
		return "query"
	}
}

// Classify applies the dispatch priority: /start, then an exact menu label,
// then everything else as a query.
func Classify(text string, menu *config.Menu) Action {
	if text == config.StartCommand {
		return ActionStart
	}
	if _, ok := menu.Lookup(text); ok {
		return ActionMenu
	}
	return ActionQuery
}

type Handler struct {
	menu             *config.Menu
	keyboard         *tgbotapi.ReplyKeyboardMarkup
	processingNotice bool

	sender   Sender
	relay    Relayer
	ledger   Ledger
	sessions *session.Manager
	log      *zap.Logger
}

type Option func(*Handler)

// WithLedger enables redelivery deduplication.
func WithLedger(l Ledger) Option { return func(h *Handler) { h.ledger = l } }

func NewHandler(cfg *config.Config, sender Sender, relay Relayer, sessions *session.Manager, log *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		menu:             cfg.Menu,
		keyboard:         telegram.MenuKeyboard(cfg.Menu.Labels()),
		processingNotice: cfg.ProcessingNotice,
		sender:           sender,
		relay:            relay,
		sessions:         sessions,
		log:              log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleEvent answers one inbound text message. It never panics: any failure
// is logged and, when possible, the user gets an apology.
func (h *Handler) HandleEvent(ctx context.Context, ev telegram.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error("bot: panic while handling event",
				zap.Any("panic", rec),
				zap.Int64("chat_id", ev.ChatID),
				zap.Int64("update_id", ev.UpdateID),
				zap.Stack("stack"))
			if ev.ChatID != 0 {
				h.sender.Send(ctx, ev.ChatID, h.menu.InternalError, h.keyboard)
			}
		}
	}()

	if !h.firstDelivery(ev) {
		h.log.Info("bot: duplicate update ignored", zap.Int64("update_id", ev.UpdateID), zap.Int64("chat_id", ev.ChatID))
		return
	}

	h.sessions.WithLock(ev.ChatID, func() {
		h.dispatch(ctx, ev)
	})
}

func (h *Handler) firstDelivery(ev telegram.Event) bool {
	if h.ledger == nil || ev.UpdateID == 0 {
		return true
	}
	fresh, err := h.ledger.MarkProcessed(ev.UpdateID, ev.ChatID)
	if err != nil {
		// Answering twice is better than not answering.
		h.log.Warn("bot: update ledger unavailable", zap.Int64("update_id", ev.UpdateID), zap.Error(err))
		return true
	}
	return fresh
}

func (h *Handler) dispatch(ctx context.Context, ev telegram.Event) {
	action := Classify(ev.Text, h.menu)
	h.log.Info("bot: dispatching",
		zap.Int64("chat_id", ev.ChatID),
		zap.Int64("user_id", ev.UserID),
		zap.Stringer("action", action))

	switch action {
	case ActionStart:
		h.sender.Send(ctx, ev.ChatID, h.menu.Welcome, h.keyboard)
	case ActionMenu:
		text, _ := h.menu.Lookup(ev.Text)
		h.sender.Send(ctx, ev.ChatID, text, h.keyboard)
	default:
		h.answerQuery(ctx, ev)
	}
}

func (h *Handler) answerQuery(ctx context.Context, ev telegram.Event) {
	// The typing indicator runs alongside the relay but must land before the
	// reply, or Telegram keeps showing "typing…" after the answer.
	typing := make(chan struct{})
	go func() {
		defer close(typing)
		h.sender.SendTyping(ctx, ev.ChatID)
	}()
	defer func() { <-typing }()

	if h.processingNotice {
		h.sender.Send(ctx, ev.ChatID, h.menu.Processing, nil)
	}

	reply := h.relay.Relay(ctx, ev.Text, strconv.FormatInt(ev.UserID, 10))
	<-typing
	if !h.sender.Send(ctx, ev.ChatID, reply, h.keyboard) {
		h.log.Warn("bot: reply was not delivered", zap.Int64("chat_id", ev.ChatID))
	}
}
