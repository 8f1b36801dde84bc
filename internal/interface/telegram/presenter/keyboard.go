// Package presenter переводит ответы диалога в сообщения Telegram:
// inline-кнопки, постоянное меню и callback_data.
package presenter

import (
	"fmt"

	"github.com/alem-hub/course-bot/internal/domain/conversation"
	"github.com/alem-hub/course-bot/internal/infrastructure/external/telegram"
)

// ══════════════════════════════════════════════════════════════════════════════
// KEYBOARDS
// ══════════════════════════════════════════════════════════════════════════════

// mainMenuLayout - раскладка постоянного главного меню.
var mainMenuLayout = [][]string{
	{conversation.LabelModules, conversation.LabelHomework},
	{conversation.LabelProgress, conversation.LabelWebApp},
	{conversation.LabelFeedback, conversation.LabelInfo},
	{conversation.LabelTariff},
}

// InlineKeyboard строит inline-клавиатуру из логических выборов.
// Пустой список даёт nil.
func InlineKeyboard(choices [][]conversation.Choice) (*telegram.InlineKeyboardMarkup, error) {
	if len(choices) == 0 {
		return nil, nil
	}

	kb := telegram.NewKeyboard()
	for _, row := range choices {
		buttons := make([]telegram.InlineKeyboardButton, 0, len(row))
		for _, choice := range row {
			if choice.WebAppURL != "" {
				buttons = append(buttons, telegram.WebAppButton(choice.Label, choice.WebAppURL))
				continue
			}
			data, err := EncodeCallback(choice.Event)
			if err != nil {
				return nil, fmt.Errorf("button %q: %w", choice.Label, err)
			}
			buttons = append(buttons, telegram.Button(choice.Label, data))
		}
		if len(buttons) > 0 {
			kb.Row(buttons...)
		}
	}
	return kb.Build(), nil
}

// MainMenuKeyboard - постоянное главное меню.
func MainMenuKeyboard() *telegram.ReplyKeyboardMarkup {
	rows := make([][]telegram.KeyboardButton, 0, len(mainMenuLayout))
	for _, labels := range mainMenuLayout {
		row := make([]telegram.KeyboardButton, 0, len(labels))
		for _, label := range labels {
			row = append(row, telegram.KeyboardButton{Text: label})
		}
		rows = append(rows, row)
	}
	return &telegram.ReplyKeyboardMarkup{Keyboard: rows, ResizeKeyboard: true}
}

// BackKeyboard - одна кнопка возврата в главное меню.
func BackKeyboard() *telegram.ReplyKeyboardMarkup {
	return &telegram.ReplyKeyboardMarkup{
		Keyboard:       [][]telegram.KeyboardButton{{{Text: conversation.LabelBackToMain}}},
		ResizeKeyboard: true,
	}
}

// MenuMarkup возвращает reply_markup для вида меню, nil для MenuKeep.
func MenuMarkup(kind conversation.MenuKind) interface{} {
	switch kind {
	case conversation.MenuMain:
		return MainMenuKeyboard()
	case conversation.MenuBack:
		return BackKeyboard()
	case conversation.MenuRemove:
		return &telegram.ReplyKeyboardRemove{RemoveKeyboard: true}
	default:
		return nil
	}
}

// ReplyMarkup выбирает разметку для ответа. Inline-кнопки важнее меню:
// у сообщения может быть только одна разметка.
func ReplyMarkup(reply conversation.Reply) (interface{}, error) {
	if len(reply.Choices) > 0 {
		kb, err := InlineKeyboard(reply.Choices)
		if err != nil {
			return nil, err
		}
		return kb, nil
	}
	return MenuMarkup(reply.Menu), nil
}
