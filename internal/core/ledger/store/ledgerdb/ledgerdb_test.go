package ledgerdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"bankbot/internal/core/ledger"
	"bankbot/internal/data/dbtest"
	"bankbot/internal/money"
)

func TestInsertAndQueryClient(t *testing.T) {
	ctx := context.Background()
	log, database, teardown := dbtest.NewUnit(t, dbtest.WithMigrations())
	t.Cleanup(teardown)

	store := NewStore(log, database)

	c, err := store.InsertClient(ctx, ledger.NewClient{
		FirstName:  "Anna",
		LastName:   "Smirnova",
		Email:      "anna@example.com",
		TelegramID: 42,
	})
	if err != nil {
		t.Fatalf("inserting client: %v", err)
	}
	if c.ID == 0 {
		t.Fatal("inserted client should have an id")
	}

	got, err := store.QueryClientByTelegramID(ctx, 42)
	if err != nil {
		t.Fatalf("querying by telegram id: %v", err)
	}
	if got.ID != c.ID {
		t.Errorf("wrong id, got %d want %d", got.ID, c.ID)
	}

	if _, err := store.QueryClientByID(ctx, 9999); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("missing client: got %v, want %v", err, ledger.ErrNotFound)
	}
}

func TestInsertClientConstraintTranslation(t *testing.T) {
	ctx := context.Background()
	log, database, teardown := dbtest.NewUnit(t, dbtest.WithMigrations())
	t.Cleanup(teardown)

	store := NewStore(log, database)

	nc := ledger.NewClient{
		FirstName:  "Anna",
		LastName:   "Smirnova",
		Email:      "anna@example.com",
		TelegramID: 42,
	}
	if _, err := store.InsertClient(ctx, nc); err != nil {
		t.Fatalf("inserting client: %v", err)
	}

	dupTelegram := nc
	dupTelegram.Email = "other@example.com"
	if _, err := store.InsertClient(ctx, dupTelegram); !errors.Is(err, ledger.ErrAlreadyRegistered) {
		t.Errorf("duplicate telegram id: got %v, want %v", err, ledger.ErrAlreadyRegistered)
	}

	dupEmail := nc
	dupEmail.TelegramID = 43
	if _, err := store.InsertClient(ctx, dupEmail); !errors.Is(err, ledger.ErrDuplicateEmail) {
		t.Errorf("duplicate email: got %v, want %v", err, ledger.ErrDuplicateEmail)
	}
}

func TestCardRoundTrip(t *testing.T) {
	ctx := context.Background()
	log, database, teardown := dbtest.NewUnit(t, dbtest.WithMigrations())
	t.Cleanup(teardown)

	store := NewStore(log, database)

	c, err := store.InsertClient(ctx, ledger.NewClient{
		FirstName:  "Anna",
		LastName:   "Smirnova",
		Email:      "anna@example.com",
		TelegramID: 42,
	})
	if err != nil {
		t.Fatalf("inserting client: %v", err)
	}

	seq, err := store.NextCardNumber(ctx)
	if err != nil {
		t.Fatalf("next card number: %v", err)
	}
	if seq != 1 {
		t.Errorf("first sequence value, got %d want 1", seq)
	}
	seq2, err := store.NextCardNumber(ctx)
	if err != nil {
		t.Fatalf("next card number: %v", err)
	}
	if seq2 != 2 {
		t.Errorf("second sequence value, got %d want 2", seq2)
	}

	card, err := store.InsertCard(ctx, ledger.Card{
		ClientID:   c.ID,
		Number:     ledger.FormatCardNumber(seq),
		Expiration: time.Now().AddDate(0, 0, 365),
		Status:     ledger.CardActive,
	})
	if err != nil {
		t.Fatalf("inserting card: %v", err)
	}

	byNumber, err := store.QueryCardByNumber(ctx, card.Number)
	if err != nil {
		t.Fatalf("querying by number: %v", err)
	}
	if byNumber.ID != card.ID {
		t.Errorf("wrong id, got %d want %d", byNumber.ID, card.ID)
	}

	if err := store.DeleteCard(ctx, card.ID); err != nil {
		t.Fatalf("deleting card: %v", err)
	}
	if err := store.DeleteCard(ctx, card.ID); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("deleting missing card: got %v, want %v", err, ledger.ErrNotFound)
	}
}

func TestExecUnderTxRollsBack(t *testing.T) {
	ctx := context.Background()
	log, database, teardown := dbtest.NewUnit(t, dbtest.WithMigrations())
	t.Cleanup(teardown)

	store := NewStore(log, database)

	c, err := store.InsertClient(ctx, ledger.NewClient{
		FirstName:  "Anna",
		LastName:   "Smirnova",
		Email:      "anna@example.com",
		TelegramID: 42,
	})
	if err != nil {
		t.Fatalf("inserting client: %v", err)
	}

	card, err := store.InsertCard(ctx, ledger.Card{
		ClientID:   c.ID,
		Number:     ledger.FormatCardNumber(1),
		Expiration: time.Now().AddDate(0, 0, 365),
		Status:     ledger.CardActive,
	})
	if err != nil {
		t.Fatalf("inserting card: %v", err)
	}

	boom := errors.New("boom")
	err = store.ExecUnderTx(ctx, func(tx ledger.Store) error {
		if err := tx.UpdateCardBalance(ctx, card.ID, money.FromRubles(1000)); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, ledger.Transaction{
			ID:          uuid.New(),
			ClientID:    c.ID,
			RecipientID: c.ID,
			Amount:      money.FromRubles(1000),
			Type:        ledger.TypeTopUp,
			Date:        time.Now(),
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}

	got, err := store.QueryCardByID(ctx, card.ID)
	if err != nil {
		t.Fatalf("querying card: %v", err)
	}
	if got.Balance != 0 {
		t.Errorf("balance leaked through rollback, got %d want 0", got.Balance)
	}

	ts, err := store.QueryTransactionsByClient(ctx, c.ID)
	if err != nil {
		t.Fatalf("querying transactions: %v", err)
	}
	if len(ts) != 0 {
		t.Errorf("transaction leaked through rollback, got %d rows", len(ts))
	}
}
