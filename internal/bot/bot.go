// Package bot is the Telegram front end of the ledger. It parses
// commands and multi-step replies, hands the ledger complete commands
// and renders the results back to the chat.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.opentelemetry.io/otel/trace"

	"bankbot/internal/bot/convo"
	"bankbot/internal/core/ledger"
	"bankbot/internal/web"
)

type Handler struct {
	api    *tgbotapi.BotAPI
	log    *slog.Logger
	tracer trace.Tracer
	ledger *ledger.Core
	convo  *convo.Store
}

func NewHandler(api *tgbotapi.BotAPI, log *slog.Logger, tracer trace.Tracer, core *ledger.Core, states *convo.Store) *Handler {
	return &Handler{
		api:    api,
		log:    log,
		tracer: tracer,
		ledger: core,
		convo:  states,
	}
}

// HandleUpdate dispatches one Telegram update. Every update gets its
// own span and web values, so all rows written while handling it carry
// one timestamp and all log records one trace id.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	ctx, span := h.tracer.Start(ctx, "update")
	defer span.End()

	v := web.Values{
		TraceID: span.SpanContext().TraceID().String(),
		Tracer:  h.tracer,
		Now:     time.Now().UTC(),
	}
	ctx = web.SetValues(ctx, &v)

	switch {
	case upd.CallbackQuery != nil:
		h.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		h.handleMessage(ctx, upd.Message)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !msg.Chat.IsPrivate() || msg.From == nil {
		return
	}

	if msg.IsCommand() {
		h.handleCommand(ctx, msg)
		return
	}

	h.continueConversation(ctx, msg)
}

func (h *Handler) reply(chatID int64, text string) {
	if _, err := h.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		h.log.Error("sending message", "ERROR", err)
	}
}

func (h *Handler) replyHTML(chatID int64, text string) {
	m := tgbotapi.NewMessage(chatID, text)
	m.ParseMode = tgbotapi.ModeHTML
	if _, err := h.api.Send(m); err != nil {
		h.log.Error("sending message", "ERROR", err)
	}
}

func (h *Handler) replyMarkup(chatID int64, text string, markup tgbotapi.InlineKeyboardMarkup) {
	m := tgbotapi.NewMessage(chatID, text)
	m.ReplyMarkup = markup
	if _, err := h.api.Send(m); err != nil {
		h.log.Error("sending message", "ERROR", err)
	}
}

// requireClient resolves the sender to a registered client or tells
// the chat to register first.
func (h *Handler) requireClient(ctx context.Context, chatID, telegramID int64) (ledger.Client, bool) {
	client, err := h.ledger.ClientByTelegramID(ctx, telegramID)
	if err != nil {
		h.reply(chatID, errText(err))
		if !errors.Is(err, ledger.ErrNotRegistered) {
			h.log.Error("resolving client", "ERROR", err)
		}
		return ledger.Client{}, false
	}
	return client, true
}

// errText maps ledger errors to the message shown to the user. Raw
// errors never reach the chat.
func errText(err error) string {
	switch {
	case errors.Is(err, ledger.ErrNotRegistered):
		return "Вы не зарегистрированы! Используйте /register."
	case errors.Is(err, ledger.ErrAlreadyRegistered):
		return "Вы уже зарегистрированы!"
	case errors.Is(err, ledger.ErrAlreadySettled):
		return "Кредит уже погашен."
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "Недостаточно средств."
	case errors.Is(err, ledger.ErrNotFound):
		return "Не найдено. Проверьте данные и попробуйте еще раз."
	case errors.Is(err, ledger.ErrInvalidArgument):
		return "Некорректные данные. Попробуйте еще раз."
	default:
		return "Что-то пошло не так. Попробуйте позже."
	}
}
