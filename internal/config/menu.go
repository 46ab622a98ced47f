package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// StartCommand is the Telegram command that opens the menu.
const StartCommand = "/start"

// limitPlaceholder in any user-facing menu text is replaced with MESSAGE_LIMIT_PER_DAY.
const limitPlaceholder = "{limit}"

const DefaultSystemPrompt = "Вы — экспертный помощник по компьютерной грамотности для начинающих. " +
	"Отвечайте понятно, дружелюбно и по существу. Избегайте сложных терминов, если не попросили. " +
	"Помогайте с вопросами по работе с компьютером, смартфоном, интернетом, программами и настройкам. " +
	"Если вопрос выходит за рамки — вежливо сообщайте об этом."

// Menu holds every static text the bot can send, plus the fixed set of
// quick-reply options. It is immutable once loaded.
type Menu struct {
	Welcome       string       `yaml:"welcome"`
	Processing    string       `yaml:"processing"`
	InternalError string       `yaml:"internal_error"`
	SystemPrompt  string       `yaml:"system_prompt"`
	Options       []MenuOption `yaml:"options"`

	byLabel map[string]string
}

type MenuOption struct {
	Label string `yaml:"label"`
	Text  string `yaml:"text"`
}

// DefaultMenu returns the built-in menu of the computer-literacy helper bot.
func DefaultMenu(limit int) *Menu {
	m := &Menu{
		Welcome:       "Привет! Я помощник по компьютерной грамотности для новичков. Выберите раздел меню:",
		Processing:    "⏳ Обрабатываю ваш вопрос...",
		InternalError: "Произошла внутренняя ошибка. Попробуйте позже.",
		SystemPrompt:  DefaultSystemPrompt,
		Options: []MenuOption{
			{Label: "Компьютер", Text: "В этом разделе вы найдете советы по работе с компьютером..."},
			{Label: "Смартфон", Text: "Здесь вы узнаете, как пользоваться смартфоном..."},
			{Label: "Интернет", Text: "В этом разделе вы найдете информацию о безопасном использовании интернета..."},
			{Label: "Программы", Text: "Здесь вы найдете советы по выбору и использованию программ..."},
			{Label: "FAQ", Text: "В этом разделе собраны ответы на часто задаваемые вопросы."},
			{Label: "О боте", Text: "Бот является помощником сайта [vibegnews.tilda.ws](https://vibegnews.tilda.ws/) и даёт ответы по его темам и другим вопросам.\n\n" +
				"*Основные возможности:*\n- Лимит сообщений: " + limitPlaceholder + " в сутки.\n- Сброс лимита: раз в день.\n- Ведение статистики использования для улучшения сервиса.\n\n" +
				"*Конфиденциальность:*\nВсе ваши данные и сообщения обрабатываются с соблюдением конфиденциальности и не передаются третьим лицам."},
		},
	}
	// The built-in menu is known to be valid.
	_ = m.finalize(limit)
	return m
}

// LoadMenu reads a YAML menu file. Fields left empty fall back to the
// built-in defaults; a non-empty options list replaces the default options.
func LoadMenu(path string, limit int) (*Menu, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading menu file: %w", err)
	}

	var m Menu
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing menu file %s: %w", path, err)
	}

	def := DefaultMenu(limit)
	if m.Welcome == "" {
		m.Welcome = def.Welcome
	}
	if m.Processing == "" {
		m.Processing = def.Processing
	}
	if m.InternalError == "" {
		m.InternalError = def.InternalError
	}
	if m.SystemPrompt == "" {
		m.SystemPrompt = def.SystemPrompt
	}
	if len(m.Options) == 0 {
		m.Options = def.Options
	}

	if err := m.finalize(limit); err != nil {
		return nil, fmt.Errorf("menu file %s: %w", path, err)
	}
	return &m, nil
}

func (m *Menu) finalize(limit int) error {
	n := strconv.Itoa(limit)
	for _, text := range []*string{&m.Welcome, &m.Processing, &m.InternalError} {
		*text = strings.ReplaceAll(*text, limitPlaceholder, n)
	}
	m.byLabel = make(map[string]string, len(m.Options))
	for i, opt := range m.Options {
		label := strings.TrimSpace(opt.Label)
		switch {
		case label == "":
			return fmt.Errorf("option %d has an empty label", i+1)
		case label == StartCommand:
			return fmt.Errorf("option %d shadows %s", i+1, StartCommand)
		case opt.Text == "":
			return fmt.Errorf("option %q has no text", label)
		}
		if _, dup := m.byLabel[label]; dup {
			return fmt.Errorf("option %q listed twice", label)
		}
		m.Options[i].Label = label
		m.Options[i].Text = strings.ReplaceAll(opt.Text, limitPlaceholder, n)
		m.byLabel[label] = m.Options[i].Text
	}
	return nil
}

// Lookup returns the static text of the option whose label equals text exactly.
func (m *Menu) Lookup(text string) (string, bool) {
	t, ok := m.byLabel[text]
	return t, ok
}

func (m *Menu) Labels() []string {
	labels := make([]string, len(m.Options))
	for i, opt := range m.Options {
		labels[i] = opt.Label
	}
	return labels
}
