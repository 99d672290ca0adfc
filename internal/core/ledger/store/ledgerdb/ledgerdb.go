// Package ledgerdb implements the ledger store on top of PostgreSQL.
package ledgerdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"bankbot/internal/core/ledger"
	db "bankbot/internal/data/dbsql/pgx"
	"bankbot/internal/money"
)

type Store struct {
	log *slog.Logger
	db  db.DB
}

func NewStore(log *slog.Logger, database db.DB) *Store {
	return &Store{
		log: log,
		db:  database,
	}
}

func (s *Store) ExecUnderTx(ctx context.Context, fn func(tx ledger.Store) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(NewStore(s.log, tx)); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ----------------------------------------------------------------------
// Clients

func (s *Store) QueryClientByID(ctx context.Context, clientID int) (ledger.Client, error) {
	data := struct {
		ID int `db:"id"`
	}{
		ID: clientID,
	}

	const q = `
	SELECT
		id, first_name, last_name, patronymic, email, telegram_id
	FROM
		clients
	WHERE
		id = @id`

	c, err := db.NamedQueryStruct[dbClient](ctx, s.log, s.db, q, data)
	if err != nil {
		if errors.Is(err, db.ErrDBNotFound) {
			return ledger.Client{}, ledger.ErrNotFound
		}
		return ledger.Client{}, err
	}

	return toClient(c), nil
}

func (s *Store) QueryClientByTelegramID(ctx context.Context, telegramID int64) (ledger.Client, error) {
	data := struct {
		TelegramID int64 `db:"telegram_id"`
	}{
		TelegramID: telegramID,
	}

	const q = `
	SELECT
		id, first_name, last_name, patronymic, email, telegram_id
	FROM
		clients
	WHERE
		telegram_id = @telegram_id`

	c, err := db.NamedQueryStruct[dbClient](ctx, s.log, s.db, q, data)
	if err != nil {
		if errors.Is(err, db.ErrDBNotFound) {
			return ledger.Client{}, ledger.ErrNotFound
		}
		return ledger.Client{}, err
	}

	return toClient(c), nil
}

func (s *Store) InsertClient(ctx context.Context, nc ledger.NewClient) (ledger.Client, error) {
	data := struct {
		FirstName  string `db:"first_name"`
		LastName   string `db:"last_name"`
		Patronymic string `db:"patronymic"`
		Email      string `db:"email"`
		TelegramID int64  `db:"telegram_id"`
	}{
		FirstName:  nc.FirstName,
		LastName:   nc.LastName,
		Patronymic: nc.Patronymic,
		Email:      nc.Email,
		TelegramID: nc.TelegramID,
	}

	const q = `
	INSERT INTO clients
		(first_name, last_name, patronymic, email, telegram_id)
	VALUES
		(@first_name, @last_name, @patronymic, @email, @telegram_id)
	RETURNING
		id, first_name, last_name, patronymic, email, telegram_id`

	c, err := db.NamedQueryStruct[dbClient](ctx, s.log, s.db, q, data)
	if err != nil {
		return ledger.Client{}, translateDuplicate(err)
	}

	return toClient(c), nil
}

// translateDuplicate maps unique violations to the ledger error kinds so
// raw constraint errors never reach the front end.
func translateDuplicate(err error) error {
	var dup *db.DuplicateEntryError
	if !errors.As(err, &dup) {
		return err
	}
	if strings.Contains(dup.Constraint, "telegram_id") {
		return ledger.ErrAlreadyRegistered
	}
	return ledger.ErrDuplicateEmail
}

// ----------------------------------------------------------------------
// Cards

const cardColumns = `id, client_id, card_number, expiration_date, status, balance`

func (s *Store) QueryCardByID(ctx context.Context, cardID int) (ledger.Card, error) {
	return s.queryCard(ctx, cardID, false)
}

// QueryCardByIDForUpdate locks the card row until the surrounding
// transaction ends. Only meaningful inside ExecUnderTx.
func (s *Store) QueryCardByIDForUpdate(ctx context.Context, cardID int) (ledger.Card, error) {
	return s.queryCard(ctx, cardID, true)
}

func (s *Store) queryCard(ctx context.Context, cardID int, forUpdate bool) (ledger.Card, error) {
	data := struct {
		ID int `db:"id"`
	}{
		ID: cardID,
	}

	q := `
	SELECT
		` + cardColumns + `
	FROM
		cards
	WHERE
		id = @id`
	if forUpdate {
		q += `
	FOR UPDATE`
	}

	c, err := db.NamedQueryStruct[dbCard](ctx, s.log, s.db, q, data)
	if err != nil {
		if errors.Is(err, db.ErrDBNotFound) {
			return ledger.Card{}, ledger.ErrNotFound
		}
		return ledger.Card{}, err
	}

	return toCard(c), nil
}

func (s *Store) QueryCardByNumber(ctx context.Context, number string) (ledger.Card, error) {
	data := struct {
		Number string `db:"card_number"`
	}{
		Number: number,
	}

	const q = `
	SELECT
		` + cardColumns + `
	FROM
		cards
	WHERE
		card_number = @card_number`

	c, err := db.NamedQueryStruct[dbCard](ctx, s.log, s.db, q, data)
	if err != nil {
		if errors.Is(err, db.ErrDBNotFound) {
			return ledger.Card{}, ledger.ErrNotFound
		}
		return ledger.Card{}, err
	}

	return toCard(c), nil
}

func (s *Store) QueryCardsByClient(ctx context.Context, clientID int) ([]ledger.Card, error) {
	data := struct {
		ClientID int `db:"client_id"`
	}{
		ClientID: clientID,
	}

	const q = `
	SELECT
		` + cardColumns + `
	FROM
		cards
	WHERE
		client_id = @client_id
	ORDER BY
		id`

	cs, err := db.NamedQuerySlice[dbCard](ctx, s.log, s.db, q, data)
	if err != nil {
		return nil, err
	}

	return toCards(cs), nil
}

func (s *Store) InsertCard(ctx context.Context, c ledger.Card) (ledger.Card, error) {
	data := struct {
		ClientID       int    `db:"client_id"`
		CardNumber     string `db:"card_number"`
		ExpirationDate string `db:"expiration_date"`
		Status         string `db:"status"`
		Balance        int64  `db:"balance"`
	}{
		ClientID:       c.ClientID,
		CardNumber:     c.Number,
		ExpirationDate: c.Expiration.Format("2006-01-02"),
		Status:         c.Status,
		Balance:        int64(c.Balance),
	}

	const q = `
	INSERT INTO cards
		(client_id, card_number, expiration_date, status, balance)
	VALUES
		(@client_id, @card_number, @expiration_date, @status, @balance)
	RETURNING
		` + cardColumns

	inserted, err := db.NamedQueryStruct[dbCard](ctx, s.log, s.db, q, data)
	if err != nil {
		return ledger.Card{}, err
	}

	return toCard(inserted), nil
}

func (s *Store) DeleteCard(ctx context.Context, cardID int) error {
	data := struct {
		ID int `db:"id"`
	}{
		ID: cardID,
	}

	const q = `
	DELETE FROM
		cards
	WHERE
		id = @id`

	rows, err := db.NamedExecRows(ctx, s.log, s.db, q, data)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ledger.ErrNotFound
	}

	return nil
}

func (s *Store) UpdateCardBalance(ctx context.Context, cardID int, balance money.Amount) error {
	data := struct {
		ID      int   `db:"id"`
		Balance int64 `db:"balance"`
	}{
		ID:      cardID,
		Balance: int64(balance),
	}

	const q = `
	UPDATE
		cards
	SET
		balance = @balance
	WHERE
		id = @id`

	return db.NamedExec(ctx, s.log, s.db, q, data)
}

func (s *Store) NextCardNumber(ctx context.Context) (int64, error) {
	type seqRow struct {
		N int64 `db:"n"`
	}

	const q = `
	SELECT nextval('card_number_seq') AS n`

	row, err := db.NamedQueryStruct[seqRow](ctx, s.log, s.db, q, struct{}{})
	if err != nil {
		return 0, err
	}

	return row.N, nil
}

// ----------------------------------------------------------------------
// Loans

const loanColumns = `id, client_id, amount, interest_rate, status, COALESCE(due_date, '0001-01-01'::date) AS due_date`

func (s *Store) QueryLoanByIDForUpdate(ctx context.Context, loanID int) (ledger.Loan, error) {
	data := struct {
		ID int `db:"id"`
	}{
		ID: loanID,
	}

	const q = `
	SELECT
		` + loanColumns + `
	FROM
		loans
	WHERE
		id = @id
	FOR UPDATE`

	l, err := db.NamedQueryStruct[dbLoan](ctx, s.log, s.db, q, data)
	if err != nil {
		if errors.Is(err, db.ErrDBNotFound) {
			return ledger.Loan{}, ledger.ErrNotFound
		}
		return ledger.Loan{}, err
	}

	return toLoan(l), nil
}

func (s *Store) QueryLoansByClient(ctx context.Context, clientID int) ([]ledger.Loan, error) {
	data := struct {
		ClientID int `db:"client_id"`
	}{
		ClientID: clientID,
	}

	const q = `
	SELECT
		` + loanColumns + `
	FROM
		loans
	WHERE
		client_id = @client_id
	ORDER BY
		id`

	ls, err := db.NamedQuerySlice[dbLoan](ctx, s.log, s.db, q, data)
	if err != nil {
		return nil, err
	}

	return toLoans(ls), nil
}

func (s *Store) UpdateLoanSettled(ctx context.Context, l ledger.Loan) error {
	data := struct {
		ID      int    `db:"id"`
		Amount  int64  `db:"amount"`
		Status  string `db:"status"`
		DueDate string `db:"due_date"`
	}{
		ID:      l.ID,
		Amount:  int64(l.Amount),
		Status:  l.Status,
		DueDate: l.DueDate.Format("2006-01-02"),
	}

	const q = `
	UPDATE
		loans
	SET
		amount = @amount,
		status = @status,
		due_date = @due_date
	WHERE
		id = @id`

	return db.NamedExec(ctx, s.log, s.db, q, data)
}

// ----------------------------------------------------------------------
// Transactions

func (s *Store) InsertTransaction(ctx context.Context, t ledger.Transaction) error {
	const q = `
	INSERT INTO transactions
		(id, client_id, recipient_id, amount, transaction_type, date_created)
	VALUES
		(@id, @client_id, @recipient_id, @amount, @transaction_type, @date_created)`

	if err := db.NamedExec(ctx, s.log, s.db, q, toDBTransaction(t)); err != nil {
		return fmt.Errorf("failed to add transaction: %w", err)
	}

	return nil
}

func (s *Store) QueryTransactionsByClient(ctx context.Context, clientID int) ([]ledger.Transaction, error) {
	data := struct {
		ClientID int `db:"client_id"`
	}{
		ClientID: clientID,
	}

	const q = `
	SELECT
		id, client_id, recipient_id, amount, transaction_type, date_created
	FROM
		transactions
	WHERE
		client_id = @client_id
	ORDER BY
		date_created DESC`

	ts, err := db.NamedQuerySlice[dbTransaction](ctx, s.log, s.db, q, data)
	if err != nil {
		return nil, err
	}

	return toTransactions(ts), nil
}
