package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"bankbot/internal/bot/convo"
	"bankbot/internal/core/ledger"
)

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	// Stop the spinner on the button regardless of the outcome.
	if _, err := h.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		h.log.Error("answering callback", "ERROR", err)
	}

	if cb.Message == nil || cb.From == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	action, args, _ := strings.Cut(cb.Data, ":")
	switch action {
	case "delcard", "topup", "transfer":
		cardID, err := strconv.Atoi(args)
		if err != nil {
			h.log.Error("bad callback data", "data", cb.Data)
			return
		}
		client, ok := h.requireClient(ctx, chatID, cb.From.ID)
		if !ok {
			return
		}
		h.runCardAction(ctx, chatID, client, action, cardID)

	case "loan":
		loanID, err := strconv.Atoi(args)
		if err != nil {
			h.log.Error("bad callback data", "data", cb.Data)
			return
		}
		h.loanChosen(ctx, chatID, cb.From.ID, loanID)

	case "loancard":
		loanArg, cardArg, ok := strings.Cut(args, ":")
		if !ok {
			h.log.Error("bad callback data", "data", cb.Data)
			return
		}
		loanID, err1 := strconv.Atoi(loanArg)
		cardID, err2 := strconv.Atoi(cardArg)
		if err1 != nil || err2 != nil {
			h.log.Error("bad callback data", "data", cb.Data)
			return
		}
		client, ok := h.requireClient(ctx, chatID, cb.From.ID)
		if !ok {
			return
		}
		h.settleLoan(ctx, chatID, client, loanID, cardID)

	default:
		h.log.Error("unknown callback action", "data", cb.Data)
	}
}

// runCardAction is the single entry for the per-card flows, shared by
// the inline keyboard callbacks and the one-card shortcut. Callback data
// is client input, so the card is always resolved through the caller's
// client before anything happens to it.
func (h *Handler) runCardAction(ctx context.Context, chatID int64, client ledger.Client, action string, cardID int) {
	card, err := h.ledger.CardOfClient(ctx, client.ID, cardID)
	if err != nil {
		h.reply(chatID, errText(err))
		return
	}

	switch action {
	case "delcard":
		if err := h.ledger.RetireCard(ctx, card.ID); err != nil {
			h.reply(chatID, errText(err))
			return
		}
		h.reply(chatID, "Карта удалена.")

	case "topup":
		st := convo.State{Step: convo.StepTopUpAmount}.With("card_id", strconv.Itoa(card.ID))
		if err := h.convo.Set(ctx, chatID, st); err != nil {
			h.log.Error("saving state", "ERROR", err)
			h.reply(chatID, errText(err))
			return
		}
		h.reply(chatID, "Введите сумму пополнения (целое число):")

	case "transfer":
		st := convo.State{Step: convo.StepTransferCard}.With("from_card_id", strconv.Itoa(card.ID))
		if err := h.convo.Set(ctx, chatID, st); err != nil {
			h.log.Error("saving state", "ERROR", err)
			h.reply(chatID, errText(err))
			return
		}
		h.reply(chatID, "Введите номер карты получателя:")
	}
}

func (h *Handler) loanChosen(ctx context.Context, chatID, telegramID int64, loanID int) {
	client, ok := h.requireClient(ctx, chatID, telegramID)
	if !ok {
		return
	}

	loans, err := h.ledger.ActiveLoansByClient(ctx, client.ID)
	if err != nil {
		h.log.Error("querying loans", "ERROR", err)
		h.reply(chatID, errText(err))
		return
	}
	for _, l := range loans {
		if l.ID == loanID {
			h.chooseLoanCard(ctx, chatID, client, l)
			return
		}
	}

	h.reply(chatID, errText(ledger.ErrAlreadySettled))
}

// settleLoan pays the loan off the card. Both ids come from callback data,
// so both are resolved through the caller's client first.
func (h *Handler) settleLoan(ctx context.Context, chatID int64, client ledger.Client, loanID, cardID int) {
	if _, err := h.ledger.LoanOfClient(ctx, client.ID, loanID); err != nil {
		h.reply(chatID, errText(err))
		return
	}
	if _, err := h.ledger.CardOfClient(ctx, client.ID, cardID); err != nil {
		h.reply(chatID, errText(err))
		return
	}

	if _, err := h.ledger.SettleLoan(ctx, loanID, cardID); err != nil {
		h.reply(chatID, errText(err))
		return
	}

	card, err := h.ledger.CardByID(ctx, cardID)
	if err != nil {
		h.reply(chatID, "Кредит погашен!")
		return
	}
	h.reply(chatID, fmt.Sprintf("Кредит погашен! Баланс карты: %s", card.Balance))
}

func cardsKeyboard(action string, cards []ledger.Card) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(cards))
	for _, c := range cards {
		label := fmt.Sprintf("%s (%s)", c.Number, c.Balance)
		data := fmt.Sprintf("%s:%d", action, c.ID)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, data),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func loansKeyboard(loans []ledger.Loan) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(loans))
	for _, l := range loans {
		label := fmt.Sprintf("Сумма: %s, ставка: %.1f%%", l.Amount, l.InterestRate)
		data := fmt.Sprintf("loan:%d", l.ID)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, data),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func loanCardsKeyboard(loanID int, cards []ledger.Card) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(cards))
	for _, c := range cards {
		label := fmt.Sprintf("%s (%s)", c.Number, c.Balance)
		data := fmt.Sprintf("loancard:%d:%d", loanID, c.ID)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, data),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
