// Package ledger owns client, card, loan and transaction records and
// every mutation of a card balance. Each operation runs as one unit of
// work: it either commits whole or leaves the database untouched.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"bankbot/internal/money"
	"bankbot/internal/web"
)

// Set of errors for ledger API.
var (
	ErrNotRegistered     = errors.New("client not registered")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyRegistered = errors.New("client already registered")
	ErrAlreadySettled    = errors.New("loan already settled")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateEmail is an ErrInvalidArgument the front end can tell
	// apart from a malformed address.
	ErrDuplicateEmail = fmt.Errorf("%w: duplicate email", ErrInvalidArgument)
)

// Store is used to persist ledger data.
type Store interface {
	// ExecUnderTx executes the fn function under a transaction. If fn returns
	// an error the transaction is rolled back and the error is returned.
	ExecUnderTx(ctx context.Context, fn func(tx Store) error) error

	QueryClientByID(ctx context.Context, clientID int) (Client, error)
	QueryClientByTelegramID(ctx context.Context, telegramID int64) (Client, error)
	InsertClient(ctx context.Context, nc NewClient) (Client, error)

	QueryCardByID(ctx context.Context, cardID int) (Card, error)
	QueryCardByIDForUpdate(ctx context.Context, cardID int) (Card, error)
	QueryCardByNumber(ctx context.Context, number string) (Card, error)
	QueryCardsByClient(ctx context.Context, clientID int) ([]Card, error)
	InsertCard(ctx context.Context, c Card) (Card, error)
	DeleteCard(ctx context.Context, cardID int) error
	UpdateCardBalance(ctx context.Context, cardID int, balance money.Amount) error
	NextCardNumber(ctx context.Context) (int64, error)

	QueryLoanByIDForUpdate(ctx context.Context, loanID int) (Loan, error)
	QueryLoansByClient(ctx context.Context, clientID int) ([]Loan, error)
	UpdateLoanSettled(ctx context.Context, l Loan) error

	InsertTransaction(ctx context.Context, t Transaction) error
	QueryTransactionsByClient(ctx context.Context, clientID int) ([]Transaction, error)
}

// Core deals with the ledger business logic.
type Core struct {
	store Store
}

func NewCore(store Store) *Core {
	return &Core{store: store}
}

var emailRE = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Register inserts a new client. The telegram id and the email must not
// be taken by another client.
func (c *Core) Register(ctx context.Context, nc NewClient) (Client, error) {
	if nc.FirstName == "" || nc.LastName == "" {
		return Client{}, fmt.Errorf("%w: empty name", ErrInvalidArgument)
	}
	if !emailRE.MatchString(nc.Email) {
		return Client{}, fmt.Errorf("%w: invalid email", ErrInvalidArgument)
	}

	var client Client
	fn := func(tx Store) error {
		if _, err := tx.QueryClientByTelegramID(ctx, nc.TelegramID); err == nil {
			return ErrAlreadyRegistered
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		var err error
		client, err = tx.InsertClient(ctx, nc)
		return err
	}

	if err := c.store.ExecUnderTx(ctx, fn); err != nil {
		return Client{}, err
	}

	return client, nil
}

// IssueCard creates a new active card with a zero balance for the client.
// The card number comes from a dedicated sequence so concurrent issuance
// cannot collide.
func (c *Core) IssueCard(ctx context.Context, clientID int) (Card, error) {
	now := web.GetTime(ctx)

	var card Card
	fn := func(tx Store) error {
		if _, err := tx.QueryClientByID(ctx, clientID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrNotRegistered
			}
			return err
		}

		seq, err := tx.NextCardNumber(ctx)
		if err != nil {
			return fmt.Errorf("next card number: %w", err)
		}

		card, err = tx.InsertCard(ctx, Card{
			ClientID:   clientID,
			Number:     FormatCardNumber(seq),
			Expiration: now.AddDate(0, 0, 365),
			Status:     CardActive,
			Balance:    0,
		})
		return err
	}

	if err := c.store.ExecUnderTx(ctx, fn); err != nil {
		return Card{}, err
	}

	return card, nil
}

// RetireCard deletes the card. Transaction history is kept.
func (c *Core) RetireCard(ctx context.Context, cardID int) error {
	return c.store.DeleteCard(ctx, cardID)
}

// TopUp adds a whole-ruble amount to the card balance and records a
// top_up transaction in the same commit.
func (c *Core) TopUp(ctx context.Context, cardID int, amount money.Amount) (Card, error) {
	switch {
	case amount < 0:
		return Card{}, fmt.Errorf("%w: negative amount", ErrInvalidArgument)
	case !amount.Whole():
		return Card{}, fmt.Errorf("%w: fractional amount", ErrInvalidArgument)
	}

	var card Card
	fn := func(tx Store) error {
		var err error
		card, err = tx.QueryCardByIDForUpdate(ctx, cardID)
		if err != nil {
			return err
		}

		card.Balance += amount
		if err := tx.UpdateCardBalance(ctx, card.ID, card.Balance); err != nil {
			return err
		}

		return tx.InsertTransaction(ctx, Transaction{
			ID:          uuid.New(),
			ClientID:    card.ClientID,
			RecipientID: card.ClientID,
			Amount:      amount,
			Type:        TypeTopUp,
			Date:        web.GetTime(ctx).Round(time.Microsecond),
		})
	}

	if err := c.store.ExecUnderTx(ctx, fn); err != nil {
		return Card{}, err
	}

	return card, nil
}

// Transfer moves amount from one card to the card with the given number.
// Both balance updates and the transfer transaction commit together. The
// two card rows are locked in id order so two opposing transfers cannot
// deadlock, and the row locks serialize concurrent spends of the same
// balance.
func (c *Core) Transfer(ctx context.Context, fromCardID int, toCardNumber string, amount money.Amount) (Card, Card, error) {
	if amount <= 0 {
		return Card{}, Card{}, fmt.Errorf("%w: non-positive amount", ErrInvalidArgument)
	}

	var from, to Card
	fn := func(tx Store) error {
		dst, err := tx.QueryCardByNumber(ctx, toCardNumber)
		if err != nil {
			return err
		}
		if dst.ID == fromCardID {
			return fmt.Errorf("%w: transfer to the same card", ErrInvalidArgument)
		}

		first, second := fromCardID, dst.ID
		if first > second {
			first, second = second, first
		}
		a, err := tx.QueryCardByIDForUpdate(ctx, first)
		if err != nil {
			return err
		}
		b, err := tx.QueryCardByIDForUpdate(ctx, second)
		if err != nil {
			return err
		}

		from, to = a, b
		if from.ID != fromCardID {
			from, to = b, a
		}

		if from.Balance < amount {
			return ErrInsufficientFunds
		}

		from.Balance -= amount
		to.Balance += amount
		if err := tx.UpdateCardBalance(ctx, from.ID, from.Balance); err != nil {
			return err
		}
		if err := tx.UpdateCardBalance(ctx, to.ID, to.Balance); err != nil {
			return err
		}

		return tx.InsertTransaction(ctx, Transaction{
			ID:          uuid.New(),
			ClientID:    from.ClientID,
			RecipientID: to.ClientID,
			Amount:      amount,
			Type:        TypeTransfer,
			Date:        web.GetTime(ctx).Round(time.Microsecond),
		})
	}

	if err := c.store.ExecUnderTx(ctx, fn); err != nil {
		return Card{}, Card{}, err
	}

	return from, to, nil
}

// SettleLoan pays the full loan amount from the card. The card must
// belong to the loan's client and cover the whole amount; partial
// payments are not supported.
func (c *Core) SettleLoan(ctx context.Context, loanID, cardID int) (Loan, error) {
	now := web.GetTime(ctx)

	var loan Loan
	fn := func(tx Store) error {
		var err error
		loan, err = tx.QueryLoanByIDForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.Status != LoanActive {
			return ErrAlreadySettled
		}

		card, err := tx.QueryCardByIDForUpdate(ctx, cardID)
		if err != nil {
			return err
		}
		if card.ClientID != loan.ClientID {
			return fmt.Errorf("%w: card belongs to another client", ErrInvalidArgument)
		}
		if card.Balance < loan.Amount {
			return ErrInsufficientFunds
		}

		if err := tx.UpdateCardBalance(ctx, card.ID, card.Balance-loan.Amount); err != nil {
			return err
		}

		paid := loan.Amount
		loan.Amount = 0
		loan.Status = LoanPaid
		loan.DueDate = now
		if err := tx.UpdateLoanSettled(ctx, loan); err != nil {
			return err
		}

		return tx.InsertTransaction(ctx, Transaction{
			ID:          uuid.New(),
			ClientID:    card.ClientID,
			RecipientID: card.ClientID,
			Amount:      paid,
			Type:        TypeLoanPay,
			Date:        now.Round(time.Microsecond),
		})
	}

	if err := c.store.ExecUnderTx(ctx, fn); err != nil {
		return Loan{}, err
	}

	return loan, nil
}

// ClientByTelegramID resolves the client a chat update belongs to.
func (c *Core) ClientByTelegramID(ctx context.Context, telegramID int64) (Client, error) {
	client, err := c.store.QueryClientByTelegramID(ctx, telegramID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Client{}, ErrNotRegistered
		}
		return Client{}, err
	}
	return client, nil
}

func (c *Core) CardByID(ctx context.Context, cardID int) (Card, error) {
	return c.store.QueryCardByID(ctx, cardID)
}

// CardOfClient returns the card only when it belongs to the client. Card ids
// arriving from outside are resolved through here so one client cannot act on
// another client's card; a foreign id reads as ErrNotFound.
func (c *Core) CardOfClient(ctx context.Context, clientID int, cardID int) (Card, error) {
	card, err := c.store.QueryCardByID(ctx, cardID)
	if err != nil {
		return Card{}, fmt.Errorf("query card: %w", err)
	}
	if card.ClientID != clientID {
		return Card{}, ErrNotFound
	}
	return card, nil
}

// LoanOfClient returns the loan only when it belongs to the client.
func (c *Core) LoanOfClient(ctx context.Context, clientID int, loanID int) (Loan, error) {
	loans, err := c.store.QueryLoansByClient(ctx, clientID)
	if err != nil {
		return Loan{}, fmt.Errorf("query loans: %w", err)
	}
	for _, l := range loans {
		if l.ID == loanID {
			return l, nil
		}
	}
	return Loan{}, ErrNotFound
}

func (c *Core) CardsByClient(ctx context.Context, clientID int) ([]Card, error) {
	return c.store.QueryCardsByClient(ctx, clientID)
}

func (c *Core) LoansByClient(ctx context.Context, clientID int) ([]Loan, error) {
	return c.store.QueryLoansByClient(ctx, clientID)
}

// ActiveLoansByClient returns the loans a client can still settle.
func (c *Core) ActiveLoansByClient(ctx context.Context, clientID int) ([]Loan, error) {
	loans, err := c.store.QueryLoansByClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	active := loans[:0]
	for _, l := range loans {
		if l.Status == LoanActive {
			active = append(active, l)
		}
	}
	return active, nil
}

func (c *Core) TransactionsByClient(ctx context.Context, clientID int) ([]Transaction, error) {
	return c.store.QueryTransactionsByClient(ctx, clientID)
}

// FormatCardNumber renders a sequence value as the 16 digit, space
// grouped number shown to users.
func FormatCardNumber(seq int64) string {
	s := fmt.Sprintf("%016d", seq)
	return strings.Join([]string{s[0:4], s[4:8], s[8:12], s[12:16]}, " ")
}
