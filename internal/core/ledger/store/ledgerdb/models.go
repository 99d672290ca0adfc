package ledgerdb

import (
	"time"

	"github.com/google/uuid"

	"bankbot/internal/core/ledger"
	"bankbot/internal/money"
)

type dbClient struct {
	ID         int    `db:"id"`
	FirstName  string `db:"first_name"`
	LastName   string `db:"last_name"`
	Patronymic string `db:"patronymic"`
	Email      string `db:"email"`
	TelegramID int64  `db:"telegram_id"`
}

func toClient(c dbClient) ledger.Client {
	return ledger.Client{
		ID:         c.ID,
		FirstName:  c.FirstName,
		LastName:   c.LastName,
		Patronymic: c.Patronymic,
		Email:      c.Email,
		TelegramID: c.TelegramID,
	}
}

type dbCard struct {
	ID             int       `db:"id"`
	ClientID       int       `db:"client_id"`
	CardNumber     string    `db:"card_number"`
	ExpirationDate time.Time `db:"expiration_date"`
	Status         string    `db:"status"`
	Balance        int64     `db:"balance"`
}

func toCard(c dbCard) ledger.Card {
	return ledger.Card{
		ID:         c.ID,
		ClientID:   c.ClientID,
		Number:     c.CardNumber,
		Expiration: c.ExpirationDate,
		Status:     c.Status,
		Balance:    money.Amount(c.Balance),
	}
}

func toCards(cs []dbCard) []ledger.Card {
	slice := make([]ledger.Card, len(cs))
	for i, c := range cs {
		slice[i] = toCard(c)
	}
	return slice
}

type dbLoan struct {
	ID           int       `db:"id"`
	ClientID     int       `db:"client_id"`
	Amount       int64     `db:"amount"`
	InterestRate float64   `db:"interest_rate"`
	Status       string    `db:"status"`
	DueDate      time.Time `db:"due_date"`
}

func toLoan(l dbLoan) ledger.Loan {
	return ledger.Loan{
		ID:           l.ID,
		ClientID:     l.ClientID,
		Amount:       money.Amount(l.Amount),
		InterestRate: l.InterestRate,
		Status:       l.Status,
		DueDate:      l.DueDate,
	}
}

func toLoans(ls []dbLoan) []ledger.Loan {
	slice := make([]ledger.Loan, len(ls))
	for i, l := range ls {
		slice[i] = toLoan(l)
	}
	return slice
}

type dbTransaction struct {
	ID          uuid.UUID `db:"id"`
	ClientID    int       `db:"client_id"`
	RecipientID int       `db:"recipient_id"`
	Amount      int64     `db:"amount"`
	Type        string    `db:"transaction_type"`
	Date        time.Time `db:"date_created"`
}

func toDBTransaction(t ledger.Transaction) dbTransaction {
	return dbTransaction{
		ID:          t.ID,
		ClientID:    t.ClientID,
		RecipientID: t.RecipientID,
		Amount:      int64(t.Amount),
		Type:        t.Type,
		Date:        t.Date,
	}
}

func toTransaction(t dbTransaction) ledger.Transaction {
	return ledger.Transaction{
		ID:          t.ID,
		ClientID:    t.ClientID,
		RecipientID: t.RecipientID,
		Amount:      money.Amount(t.Amount),
		Type:        t.Type,
		Date:        t.Date,
	}
}

func toTransactions(ts []dbTransaction) []ledger.Transaction {
	slice := make([]ledger.Transaction, len(ts))
	for i, t := range ts {
		slice[i] = toTransaction(t)
	}
	return slice
}
