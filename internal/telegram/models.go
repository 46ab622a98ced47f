package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// --- Incoming webhook payload ---
// The update itself is decoded into tgbotapi.Update; Event is the part the
// dispatcher acts on.

// Event is one inbound chat action reduced to the fields the bot needs.
type Event struct {
	UpdateID int64
	ChatID   int64
	UserID   int64
	Text     string
}

// EventFromUpdate extracts an Event. ok is false when the update carries no
// message, no chat, no sender, or no text; such updates are acknowledged
// without a reply.
func EventFromUpdate(u tgbotapi.Update) (ev Event, ok bool) {
	msg := u.Message
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return Event{}, false
	}
	if msg.Chat.ID == 0 || msg.From.ID == 0 || msg.Text == "" {
		return Event{}, false
	}
	return Event{
		UpdateID: int64(u.UpdateID),
		ChatID:   msg.Chat.ID,
		UserID:   msg.From.ID,
		Text:     msg.Text,
	}, true
}

// --- Outgoing Bot API calls ---
// Reference: https://core.telegram.org/bots/api#available-methods

type sendMessageRequest struct {
	ChatID      int64                         `json:"chat_id"`
	Text        string                        `json:"text"`
	ParseMode   string                        `json:"parse_mode,omitempty"`
	ReplyMarkup *tgbotapi.ReplyKeyboardMarkup `json:"reply_markup,omitempty"`
}

type sendChatActionRequest struct {
	ChatID int64  `json:"chat_id"`
	Action string `json:"action"`
}

type setWebhookRequest struct {
	URL            string   `json:"url"`
	SecretToken    string   `json:"secret_token,omitempty"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

type deleteWebhookRequest struct {
	DropPendingUpdates bool `json:"drop_pending_updates"`
}

// MenuKeyboard lays the labels out two per row as a resizable reply keyboard.
func MenuKeyboard(labels []string) *tgbotapi.ReplyKeyboardMarkup {
	var rows [][]tgbotapi.KeyboardButton
	for i := 0; i < len(labels); i += 2 {
		row := tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(labels[i]))
		if i+1 < len(labels) {
			row = append(row, tgbotapi.NewKeyboardButton(labels[i+1]))
		}
		rows = append(rows, row)
	}
	kb := tgbotapi.NewReplyKeyboard(rows...)
	kb.ResizeKeyboard = true
	return &kb
}
