package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"bankbot/internal/bot/convo"
	"bankbot/internal/core/ledger"
	"bankbot/internal/money"
)

// continueConversation advances the multi-step flow the chat is in.
// Invalid input re-prompts the same step; the state only moves forward
// on valid input.
func (h *Handler) continueConversation(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	st, err := h.convo.Get(ctx, chatID)
	if err != nil {
		h.log.Error("loading state", "ERROR", err)
		h.reply(chatID, errText(err))
		return
	}

	text := strings.TrimSpace(msg.Text)

	switch st.Step {
	case convo.StepNone:
		h.reply(chatID, "Не понимаю. /help")

	case convo.StepRegisterLastName:
		if text == "" {
			h.reply(chatID, "Фамилия не может быть пустой. Введите вашу фамилию:")
			return
		}
		h.setState(ctx, chatID, convo.State{Step: convo.StepRegisterFirstName}.With("last_name", text))
		h.reply(chatID, "Введите ваше имя (first name):")

	case convo.StepRegisterFirstName:
		if text == "" {
			h.reply(chatID, "Имя не может быть пустым. Введите ваше имя:")
			return
		}
		next := st.With("first_name", text)
		next.Step = convo.StepRegisterPatronymic
		h.setState(ctx, chatID, next)
		h.reply(chatID, "Введите ваше отчество (patronymic, если есть):")

	case convo.StepRegisterPatronymic:
		next := st.With("patronymic", text)
		next.Step = convo.StepRegisterEmail
		h.setState(ctx, chatID, next)
		h.reply(chatID, "Введите ваш email:")

	case convo.StepRegisterEmail:
		h.finishRegistration(ctx, msg, st, text)

	case convo.StepTopUpAmount:
		h.finishTopUp(ctx, chatID, st, text)

	case convo.StepTransferCard:
		next := st.With("to_number", normalizeCardNumber(text))
		next.Step = convo.StepTransferAmount
		h.setState(ctx, chatID, next)
		h.reply(chatID, "Введите сумму перевода:")

	case convo.StepTransferAmount:
		h.finishTransfer(ctx, chatID, st, text)

	default:
		h.log.Error("unknown conversation step", "step", st.Step)
		if err := h.convo.Clear(ctx, chatID); err != nil {
			h.log.Error("clearing state", "ERROR", err)
		}
	}
}

func (h *Handler) setState(ctx context.Context, chatID int64, st convo.State) {
	if err := h.convo.Set(ctx, chatID, st); err != nil {
		h.log.Error("saving state", "ERROR", err)
		h.reply(chatID, errText(err))
	}
}

func (h *Handler) clearState(ctx context.Context, chatID int64) {
	if err := h.convo.Clear(ctx, chatID); err != nil {
		h.log.Error("clearing state", "ERROR", err)
	}
}

func (h *Handler) finishRegistration(ctx context.Context, msg *tgbotapi.Message, st convo.State, email string) {
	chatID := msg.Chat.ID

	_, err := h.ledger.Register(ctx, ledger.NewClient{
		FirstName:  st.Fields["first_name"],
		LastName:   st.Fields["last_name"],
		Patronymic: st.Fields["patronymic"],
		Email:      email,
		TelegramID: msg.From.ID,
	})
	switch {
	case err == nil:
		h.clearState(ctx, chatID)
		h.reply(chatID, "Регистрация завершена! Спасибо!")

	case errors.Is(err, ledger.ErrAlreadyRegistered):
		h.clearState(ctx, chatID)
		h.reply(chatID, errText(err))

	case errors.Is(err, ledger.ErrDuplicateEmail):
		// Same step again: a taken address asks for a different one.
		h.reply(chatID, "Этот email уже используется. Введите другой email:")

	case errors.Is(err, ledger.ErrInvalidArgument):
		// Same step again: a bad email re-asks, it does not abort the flow.
		h.reply(chatID, "Некорректный email. Пожалуйста, попробуйте еще раз.")

	default:
		h.log.Error("registering client", "ERROR", err)
		h.clearState(ctx, chatID)
		h.reply(chatID, errText(err))
	}
}

func (h *Handler) finishTopUp(ctx context.Context, chatID int64, st convo.State, text string) {
	cardID, err := strconv.Atoi(st.Fields["card_id"])
	if err != nil {
		h.log.Error("bad state", "card_id", st.Fields["card_id"])
		h.clearState(ctx, chatID)
		h.reply(chatID, errText(err))
		return
	}

	amount, err := money.ParseWhole(text)
	if err != nil {
		h.reply(chatID, "Укажите корректную сумму (целое число):")
		return
	}

	card, err := h.ledger.TopUp(ctx, cardID, amount)
	if err != nil {
		h.clearState(ctx, chatID)
		h.reply(chatID, errText(err))
		return
	}

	h.clearState(ctx, chatID)
	h.reply(chatID, fmt.Sprintf("Карта пополнена! Баланс: %s", card.Balance))
}

func (h *Handler) finishTransfer(ctx context.Context, chatID int64, st convo.State, text string) {
	fromCardID, err := strconv.Atoi(st.Fields["from_card_id"])
	if err != nil {
		h.log.Error("bad state", "from_card_id", st.Fields["from_card_id"])
		h.clearState(ctx, chatID)
		h.reply(chatID, errText(err))
		return
	}

	amount, err := money.Parse(text)
	if err != nil {
		h.reply(chatID, "Укажите корректную сумму:")
		return
	}

	from, _, err := h.ledger.Transfer(ctx, fromCardID, st.Fields["to_number"], amount)
	if err != nil {
		h.clearState(ctx, chatID)
		h.reply(chatID, errText(err))
		return
	}

	h.clearState(ctx, chatID)
	h.reply(chatID, fmt.Sprintf("Перевод выполнен! Баланс карты: %s", from.Balance))
}

// normalizeCardNumber turns "0000000000000001" into the stored
// space-grouped form. Anything that is not 16 digits passes through
// unchanged and fails the lookup later.
func normalizeCardNumber(s string) string {
	compact := strings.ReplaceAll(s, " ", "")
	if len(compact) != 16 {
		return s
	}
	for _, r := range compact {
		if r < '0' || r > '9' {
			return s
		}
	}
	return strings.Join([]string{compact[0:4], compact[4:8], compact[8:12], compact[12:16]}, " ")
}
