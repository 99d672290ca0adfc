package ledger

import (
	"time"

	"github.com/google/uuid"

	"bankbot/internal/money"
)

// Card statuses.
const (
	CardActive  = "active"
	CardFrozen  = "frozen"
	CardBlocked = "blocked"
)

// Loan statuses.
const (
	LoanActive = "active"
	LoanPaid   = "paid"
)

// Transaction types.
const (
	TypeTopUp    = "top_up"
	TypeTransfer = "transfer"
	TypeLoanPay  = "loan_pay"
)

type Client struct {
	ID         int
	FirstName  string
	LastName   string
	Patronymic string
	Email      string
	TelegramID int64
}

// NewClient is the data needed to register a client.
type NewClient struct {
	FirstName  string
	LastName   string
	Patronymic string
	Email      string
	TelegramID int64
}

type Card struct {
	ID         int
	ClientID   int
	Number     string
	Expiration time.Time
	Status     string
	Balance    money.Amount
}

type Loan struct {
	ID           int
	ClientID     int
	Amount       money.Amount
	InterestRate float64
	Status       string
	DueDate      time.Time
}

// Transaction is the append-only audit record of a ledger mutation.
type Transaction struct {
	ID          uuid.UUID
	ClientID    int
	RecipientID int
	Amount      money.Amount
	Type        string
	Date        time.Time
}
