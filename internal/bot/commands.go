package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"bankbot/internal/bot/convo"
	"bankbot/internal/core/ledger"
)

const helpText = "/start - Запустить бота\n" +
	"/help - Получить помощь\n" +
	"/register - Зарегистрироваться\n" +
	"/account - Посмотреть свой аккаунт\n" +
	"/create_card - Создать карту\n" +
	"/delete_card - Удалить карту\n" +
	"/top_up - Пополнить карту\n" +
	"/transfer - Перевести на другую карту\n" +
	"/loan_pay - Погасить кредит\n" +
	"/cancel - Отменить текущее действие\n"

func (h *Handler) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		h.reply(chatID, "Привет! Я банковский бот.\n\n"+helpText)

	case "help":
		h.reply(chatID, helpText)

	case "register":
		h.startRegistration(ctx, msg)

	case "account":
		h.showAccount(ctx, msg)

	case "create_card":
		h.createCard(ctx, msg)

	case "delete_card":
		h.chooseCard(ctx, msg, "delcard", "Выберите карту для удаления:")

	case "top_up":
		h.chooseCard(ctx, msg, "topup", "Выберите карту для пополнения:")

	case "transfer":
		h.chooseCard(ctx, msg, "transfer", "Выберите карту для перевода:")

	case "loan_pay":
		h.chooseLoan(ctx, msg)

	case "cancel":
		if err := h.convo.Clear(ctx, chatID); err != nil {
			h.log.Error("clearing state", "ERROR", err)
		}
		h.reply(chatID, "Действие отменено.")

	default:
		h.reply(chatID, "Неизвестная команда. /help")
	}
}

func (h *Handler) startRegistration(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	client, err := h.ledger.ClientByTelegramID(ctx, msg.From.ID)
	if err == nil {
		h.reply(chatID, fmt.Sprintf("%s, Вы уже зарегистрированы!", client.FirstName))
		return
	}

	st := convo.State{Step: convo.StepRegisterLastName}
	if err := h.convo.Set(ctx, chatID, st); err != nil {
		h.log.Error("saving state", "ERROR", err)
		h.reply(chatID, errText(err))
		return
	}
	h.reply(chatID, "Пожалуйста, введите вашу фамилию (last name):")
}

func (h *Handler) showAccount(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	client, ok := h.requireClient(ctx, chatID, msg.From.ID)
	if !ok {
		return
	}

	loans, err := h.ledger.LoansByClient(ctx, client.ID)
	if err != nil {
		h.log.Error("querying loans", "ERROR", err)
		h.reply(chatID, errText(err))
		return
	}
	cards, err := h.ledger.CardsByClient(ctx, client.ID)
	if err != nil {
		h.log.Error("querying cards", "ERROR", err)
		h.reply(chatID, errText(err))
		return
	}

	h.replyHTML(chatID, accountText(client, loans, cards))
}

func (h *Handler) createCard(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	client, ok := h.requireClient(ctx, chatID, msg.From.ID)
	if !ok {
		return
	}

	card, err := h.ledger.IssueCard(ctx, client.ID)
	if err != nil {
		h.log.Error("issuing card", "ERROR", err)
		h.reply(chatID, errText(err))
		return
	}

	h.replyHTML(chatID, fmt.Sprintf("Карта с номером <code>%s</code> создана!", card.Number))
}

// chooseCard starts a per-card flow: with a single card it proceeds
// directly, otherwise it renders a selectable list.
func (h *Handler) chooseCard(ctx context.Context, msg *tgbotapi.Message, action, prompt string) {
	chatID := msg.Chat.ID

	client, ok := h.requireClient(ctx, chatID, msg.From.ID)
	if !ok {
		return
	}

	cards, err := h.ledger.CardsByClient(ctx, client.ID)
	if err != nil {
		h.log.Error("querying cards", "ERROR", err)
		h.reply(chatID, errText(err))
		return
	}
	if len(cards) == 0 {
		h.reply(chatID, "У вас нет карт. Создайте карту: /create_card")
		return
	}
	if len(cards) == 1 {
		h.runCardAction(ctx, chatID, client, action, cards[0].ID)
		return
	}

	h.replyMarkup(chatID, prompt, cardsKeyboard(action, cards))
}

func (h *Handler) chooseLoan(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	client, ok := h.requireClient(ctx, chatID, msg.From.ID)
	if !ok {
		return
	}

	loans, err := h.ledger.ActiveLoansByClient(ctx, client.ID)
	if err != nil {
		h.log.Error("querying loans", "ERROR", err)
		h.reply(chatID, errText(err))
		return
	}
	if len(loans) == 0 {
		h.reply(chatID, "У вас нет активных кредитов.")
		return
	}
	if len(loans) == 1 {
		h.chooseLoanCard(ctx, chatID, client, loans[0])
		return
	}

	h.replyMarkup(chatID, "Выберите кредит для погашения:", loansKeyboard(loans))
}

// chooseLoanCard offers the cards able to cover the loan in full.
// Cards with an insufficient balance are not offered at all.
func (h *Handler) chooseLoanCard(ctx context.Context, chatID int64, client ledger.Client, loan ledger.Loan) {
	cards, err := h.ledger.CardsByClient(ctx, client.ID)
	if err != nil {
		h.log.Error("querying cards", "ERROR", err)
		h.reply(chatID, errText(err))
		return
	}

	candidates := cards[:0]
	for _, c := range cards {
		if c.Balance >= loan.Amount {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		h.reply(chatID, "Нет карты с достаточным балансом для погашения кредита.")
		return
	}
	if len(candidates) == 1 {
		h.settleLoan(ctx, chatID, client, loan.ID, candidates[0].ID)
		return
	}

	h.replyMarkup(chatID,
		fmt.Sprintf("Выберите карту для погашения кредита на %s:", loan.Amount),
		loanCardsKeyboard(loan.ID, candidates))
}
