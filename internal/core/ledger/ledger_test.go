package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgxpool"

	"bankbot/internal/core/ledger"
	"bankbot/internal/core/ledger/store/ledgerdb"
	"bankbot/internal/data/dbtest"
	"bankbot/internal/money"
)

func newTestCore(t *testing.T) (*ledger.Core, *pgxpool.Pool) {
	t.Helper()

	log, database, teardown := dbtest.NewUnit(t, dbtest.WithMigrations())
	t.Cleanup(teardown)

	return ledger.NewCore(ledgerdb.NewStore(log, database)), database
}

func registerClient(t *testing.T, core *ledger.Core, telegramID int64) ledger.Client {
	t.Helper()

	c, err := core.Register(context.Background(), ledger.NewClient{
		FirstName:  "Ivan",
		LastName:   "Petrov",
		Patronymic: "Sergeevich",
		Email:      fmt.Sprintf("ivan%d@example.com", telegramID),
		TelegramID: telegramID,
	})
	if err != nil {
		t.Fatalf("registering client: %v", err)
	}
	return c
}

func seedLoan(t *testing.T, database *pgxpool.Pool, clientID int, amount money.Amount) int {
	t.Helper()

	var id int
	const q = `
		INSERT INTO loans (client_id, amount, interest_rate, status, due_date)
		VALUES ($1, $2, 5.0, 'active', CURRENT_DATE + 30)
		RETURNING id`
	if err := database.QueryRow(context.Background(), q, clientID, int64(amount)).Scan(&id); err != nil {
		t.Fatalf("seeding loan: %v", err)
	}
	return id
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	core, _ := newTestCore(t)

	c := registerClient(t, core, 100)
	if c.ID == 0 {
		t.Fatal("registered client should have an id")
	}

	got, err := core.ClientByTelegramID(ctx, 100)
	if err != nil {
		t.Fatalf("querying client by telegram id: %v", err)
	}
	if diff := cmp.Diff(c, got); diff != "" {
		t.Fatalf("got different client: %s", diff)
	}

	// Same telegram id again.
	_, err = core.Register(ctx, ledger.NewClient{
		FirstName:  "Ivan",
		LastName:   "Petrov",
		Email:      "other@example.com",
		TelegramID: 100,
	})
	if !errors.Is(err, ledger.ErrAlreadyRegistered) {
		t.Errorf("duplicate telegram id: got %v, want %v", err, ledger.ErrAlreadyRegistered)
	}

	// Same email, different telegram id.
	_, err = core.Register(ctx, ledger.NewClient{
		FirstName:  "Petr",
		LastName:   "Ivanov",
		Email:      c.Email,
		TelegramID: 101,
	})
	if !errors.Is(err, ledger.ErrDuplicateEmail) {
		t.Errorf("duplicate email: got %v, want %v", err, ledger.ErrDuplicateEmail)
	}
	if !errors.Is(err, ledger.ErrInvalidArgument) {
		t.Errorf("duplicate email should stay a validation error, got %v", err)
	}

	_, err = core.Register(ctx, ledger.NewClient{
		FirstName:  "Petr",
		LastName:   "Ivanov",
		Email:      "not-an-email",
		TelegramID: 102,
	})
	if !errors.Is(err, ledger.ErrInvalidArgument) {
		t.Errorf("bad email: got %v, want %v", err, ledger.ErrInvalidArgument)
	}
}

func TestRegisterUnknownClientIsNotRegistered(t *testing.T) {
	core, _ := newTestCore(t)

	_, err := core.ClientByTelegramID(context.Background(), 999)
	if !errors.Is(err, ledger.ErrNotRegistered) {
		t.Fatalf("got %v, want %v", err, ledger.ErrNotRegistered)
	}
}

func TestIssueCard(t *testing.T) {
	ctx := context.Background()
	core, _ := newTestCore(t)

	c := registerClient(t, core, 200)

	card, err := core.IssueCard(ctx, c.ID)
	if err != nil {
		t.Fatalf("issuing card: %v", err)
	}

	if card.Number != "0000 0000 0000 0001" {
		t.Errorf("wrong number, got %q want %q", card.Number, "0000 0000 0000 0001")
	}
	if card.Status != ledger.CardActive {
		t.Errorf("wrong status, got %q want %q", card.Status, ledger.CardActive)
	}
	if card.Balance != 0 {
		t.Errorf("wrong balance, got %d want 0", card.Balance)
	}

	second, err := core.IssueCard(ctx, c.ID)
	if err != nil {
		t.Fatalf("issuing second card: %v", err)
	}
	if second.Number != "0000 0000 0000 0002" {
		t.Errorf("wrong second number, got %q want %q", second.Number, "0000 0000 0000 0002")
	}

	if _, err := core.IssueCard(ctx, 12345); !errors.Is(err, ledger.ErrNotRegistered) {
		t.Errorf("unknown client: got %v, want %v", err, ledger.ErrNotRegistered)
	}
}

// Ids the front end receives in button data are client input. Resolving
// them through the owner must refuse another client's card or loan as if
// it did not exist.
func TestCardOfClient(t *testing.T) {
	ctx := context.Background()
	core, _ := newTestCore(t)

	owner := registerClient(t, core, 210)
	stranger := registerClient(t, core, 211)

	card, err := core.IssueCard(ctx, owner.ID)
	if err != nil {
		t.Fatalf("issuing card: %v", err)
	}

	got, err := core.CardOfClient(ctx, owner.ID, card.ID)
	if err != nil {
		t.Fatalf("own card: %v", err)
	}
	if diff := cmp.Diff(card, got); diff != "" {
		t.Fatalf("got different card: %s", diff)
	}

	if _, err := core.CardOfClient(ctx, stranger.ID, card.ID); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("foreign card: got %v, want %v", err, ledger.ErrNotFound)
	}
	if _, err := core.CardOfClient(ctx, owner.ID, 98765); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("missing card: got %v, want %v", err, ledger.ErrNotFound)
	}
}

func TestLoanOfClient(t *testing.T) {
	ctx := context.Background()
	core, database := newTestCore(t)

	owner := registerClient(t, core, 220)
	stranger := registerClient(t, core, 221)
	loanID := seedLoan(t, database, owner.ID, money.FromRubles(50))

	loan, err := core.LoanOfClient(ctx, owner.ID, loanID)
	if err != nil {
		t.Fatalf("own loan: %v", err)
	}
	if loan.ID != loanID {
		t.Fatalf("wrong loan, got id %d want %d", loan.ID, loanID)
	}

	if _, err := core.LoanOfClient(ctx, stranger.ID, loanID); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("foreign loan: got %v, want %v", err, ledger.ErrNotFound)
	}
}

func TestRetireCard(t *testing.T) {
	ctx := context.Background()
	core, _ := newTestCore(t)

	c := registerClient(t, core, 300)
	card, err := core.IssueCard(ctx, c.ID)
	if err != nil {
		t.Fatalf("issuing card: %v", err)
	}

	if _, err := core.TopUp(ctx, card.ID, money.FromRubles(10)); err != nil {
		t.Fatalf("topping up: %v", err)
	}

	if err := core.RetireCard(ctx, card.ID); err != nil {
		t.Fatalf("retiring card: %v", err)
	}

	// Retiring again is a reported no-op, not a failure that corrupts state.
	if err := core.RetireCard(ctx, card.ID); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("retire missing card: got %v, want %v", err, ledger.ErrNotFound)
	}

	// History survives the card.
	ts, err := core.TransactionsByClient(ctx, c.ID)
	if err != nil {
		t.Fatalf("querying transactions: %v", err)
	}
	if len(ts) != 1 {
		t.Errorf("got %d transactions, want 1", len(ts))
	}
}

func TestTopUp(t *testing.T) {
	ctx := context.Background()
	core, _ := newTestCore(t)

	c := registerClient(t, core, 400)
	card, err := core.IssueCard(ctx, c.ID)
	if err != nil {
		t.Fatalf("issuing card: %v", err)
	}

	got, err := core.TopUp(ctx, card.ID, money.FromRubles(50))
	if err != nil {
		t.Fatalf("topping up: %v", err)
	}
	if got.Balance != money.FromRubles(50) {
		t.Errorf("wrong balance, got %d want %d", got.Balance, money.FromRubles(50))
	}

	ts, err := core.TransactionsByClient(ctx, c.ID)
	if err != nil {
		t.Fatalf("querying transactions: %v", err)
	}
	if len(ts) != 1 {
		t.Fatalf("got %d transactions, want 1", len(ts))
	}
	if ts[0].Type != ledger.TypeTopUp {
		t.Errorf("wrong type, got %q want %q", ts[0].Type, ledger.TypeTopUp)
	}
	if ts[0].Amount != money.FromRubles(50) {
		t.Errorf("wrong amount, got %d want %d", ts[0].Amount, money.FromRubles(50))
	}

	if _, err := core.TopUp(ctx, card.ID, money.Amount(-100)); !errors.Is(err, ledger.ErrInvalidArgument) {
		t.Errorf("negative amount: got %v, want %v", err, ledger.ErrInvalidArgument)
	}
	if _, err := core.TopUp(ctx, card.ID, money.Amount(55)); !errors.Is(err, ledger.ErrInvalidArgument) {
		t.Errorf("fractional amount: got %v, want %v", err, ledger.ErrInvalidArgument)
	}
	if _, err := core.TopUp(ctx, 9999, money.FromRubles(10)); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("missing card: got %v, want %v", err, ledger.ErrNotFound)
	}
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	core, _ := newTestCore(t)

	a := registerClient(t, core, 500)
	b := registerClient(t, core, 501)

	cardA, err := core.IssueCard(ctx, a.ID)
	if err != nil {
		t.Fatalf("issuing card A: %v", err)
	}
	cardB, err := core.IssueCard(ctx, b.ID)
	if err != nil {
		t.Fatalf("issuing card B: %v", err)
	}

	if _, err := core.TopUp(ctx, cardA.ID, money.FromRubles(100)); err != nil {
		t.Fatalf("topping up: %v", err)
	}

	from, to, err := core.Transfer(ctx, cardA.ID, cardB.Number, money.FromRubles(30))
	if err != nil {
		t.Fatalf("transferring: %v", err)
	}

	if from.Balance != money.FromRubles(70) {
		t.Errorf("wrong source balance, got %d want %d", from.Balance, money.FromRubles(70))
	}
	if to.Balance != money.FromRubles(30) {
		t.Errorf("wrong destination balance, got %d want %d", to.Balance, money.FromRubles(30))
	}
	if sum := from.Balance + to.Balance; sum != money.FromRubles(100) {
		t.Errorf("balances not conserved, got %d want %d", sum, money.FromRubles(100))
	}

	ts, err := core.TransactionsByClient(ctx, a.ID)
	if err != nil {
		t.Fatalf("querying transactions: %v", err)
	}
	var transfers int
	for _, tr := range ts {
		if tr.Type == ledger.TypeTransfer {
			transfers++
			if tr.RecipientID != b.ID {
				t.Errorf("wrong recipient, got %d want %d", tr.RecipientID, b.ID)
			}
		}
	}
	if transfers != 1 {
		t.Errorf("got %d transfer transactions, want 1", transfers)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	core, _ := newTestCore(t)

	a := registerClient(t, core, 510)
	b := registerClient(t, core, 511)

	cardA, err := core.IssueCard(ctx, a.ID)
	if err != nil {
		t.Fatalf("issuing card A: %v", err)
	}
	cardB, err := core.IssueCard(ctx, b.ID)
	if err != nil {
		t.Fatalf("issuing card B: %v", err)
	}
	if _, err := core.TopUp(ctx, cardA.ID, money.FromRubles(20)); err != nil {
		t.Fatalf("topping up: %v", err)
	}

	_, _, err = core.Transfer(ctx, cardA.ID, cardB.Number, money.FromRubles(50))
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("got %v, want %v", err, ledger.ErrInsufficientFunds)
	}

	// Nothing changed, nothing logged.
	gotA, err := core.CardByID(ctx, cardA.ID)
	if err != nil {
		t.Fatalf("querying card A: %v", err)
	}
	if gotA.Balance != money.FromRubles(20) {
		t.Errorf("source balance changed, got %d want %d", gotA.Balance, money.FromRubles(20))
	}
	gotB, err := core.CardByID(ctx, cardB.ID)
	if err != nil {
		t.Fatalf("querying card B: %v", err)
	}
	if gotB.Balance != 0 {
		t.Errorf("destination balance changed, got %d want 0", gotB.Balance)
	}

	ts, err := core.TransactionsByClient(ctx, a.ID)
	if err != nil {
		t.Fatalf("querying transactions: %v", err)
	}
	for _, tr := range ts {
		if tr.Type == ledger.TypeTransfer {
			t.Errorf("failed transfer left a transaction behind: %+v", tr)
		}
	}
}

func TestTransferValidation(t *testing.T) {
	ctx := context.Background()
	core, _ := newTestCore(t)

	a := registerClient(t, core, 520)
	cardA, err := core.IssueCard(ctx, a.ID)
	if err != nil {
		t.Fatalf("issuing card: %v", err)
	}
	if _, err := core.TopUp(ctx, cardA.ID, money.FromRubles(100)); err != nil {
		t.Fatalf("topping up: %v", err)
	}

	if _, _, err := core.Transfer(ctx, cardA.ID, cardA.Number, money.FromRubles(10)); !errors.Is(err, ledger.ErrInvalidArgument) {
		t.Errorf("same card: got %v, want %v", err, ledger.ErrInvalidArgument)
	}
	if _, _, err := core.Transfer(ctx, cardA.ID, cardA.Number, 0); !errors.Is(err, ledger.ErrInvalidArgument) {
		t.Errorf("zero amount: got %v, want %v", err, ledger.ErrInvalidArgument)
	}
	if _, _, err := core.Transfer(ctx, cardA.ID, "9999 9999 9999 9999", money.FromRubles(10)); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("unknown destination: got %v, want %v", err, ledger.ErrNotFound)
	}
}

func TestTransferConcurrentDoubleSpend(t *testing.T) {
	ctx := context.Background()
	core, _ := newTestCore(t)

	a := registerClient(t, core, 530)
	b := registerClient(t, core, 531)

	cardA, err := core.IssueCard(ctx, a.ID)
	if err != nil {
		t.Fatalf("issuing card A: %v", err)
	}
	cardB, err := core.IssueCard(ctx, b.ID)
	if err != nil {
		t.Fatalf("issuing card B: %v", err)
	}
	if _, err := core.TopUp(ctx, cardA.ID, money.FromRubles(100)); err != nil {
		t.Fatalf("topping up: %v", err)
	}

	// Two transfers of 80 against a balance of 100. Row locking must
	// let exactly one through.
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, errs[i] = core.Transfer(ctx, cardA.ID, cardB.Number, money.FromRubles(80))
		}()
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ledger.ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || insufficient != 1 {
		t.Fatalf("got %d successes and %d insufficient-funds, want 1 and 1", ok, insufficient)
	}

	gotA, err := core.CardByID(ctx, cardA.ID)
	if err != nil {
		t.Fatalf("querying card A: %v", err)
	}
	if gotA.Balance != money.FromRubles(20) {
		t.Errorf("wrong final balance, got %d want %d", gotA.Balance, money.FromRubles(20))
	}
}

func TestSettleLoan(t *testing.T) {
	ctx := context.Background()
	core, database := newTestCore(t)

	c := registerClient(t, core, 600)
	card, err := core.IssueCard(ctx, c.ID)
	if err != nil {
		t.Fatalf("issuing card: %v", err)
	}
	if _, err := core.TopUp(ctx, card.ID, money.FromRubles(100)); err != nil {
		t.Fatalf("topping up: %v", err)
	}
	loanID := seedLoan(t, database, c.ID, money.FromRubles(80))

	loan, err := core.SettleLoan(ctx, loanID, card.ID)
	if err != nil {
		t.Fatalf("settling loan: %v", err)
	}
	if loan.Amount != 0 {
		t.Errorf("wrong loan amount, got %d want 0", loan.Amount)
	}
	if loan.Status != ledger.LoanPaid {
		t.Errorf("wrong loan status, got %q want %q", loan.Status, ledger.LoanPaid)
	}

	gotCard, err := core.CardByID(ctx, card.ID)
	if err != nil {
		t.Fatalf("querying card: %v", err)
	}
	if gotCard.Balance != money.FromRubles(20) {
		t.Errorf("wrong balance, got %d want %d", gotCard.Balance, money.FromRubles(20))
	}

	ts, err := core.TransactionsByClient(ctx, c.ID)
	if err != nil {
		t.Fatalf("querying transactions: %v", err)
	}
	var loanPays int
	for _, tr := range ts {
		if tr.Type == ledger.TypeLoanPay {
			loanPays++
			if tr.Amount != money.FromRubles(80) {
				t.Errorf("wrong amount, got %d want %d", tr.Amount, money.FromRubles(80))
			}
		}
	}
	if loanPays != 1 {
		t.Errorf("got %d loan_pay transactions, want 1", loanPays)
	}

	// Settled loans stay settled.
	if _, err := core.SettleLoan(ctx, loanID, card.ID); !errors.Is(err, ledger.ErrAlreadySettled) {
		t.Errorf("settle again: got %v, want %v", err, ledger.ErrAlreadySettled)
	}
	gotCard, err = core.CardByID(ctx, card.ID)
	if err != nil {
		t.Fatalf("querying card: %v", err)
	}
	if gotCard.Balance != money.FromRubles(20) {
		t.Errorf("balance changed on failed settle, got %d want %d", gotCard.Balance, money.FromRubles(20))
	}
}

func TestSettleLoanGuards(t *testing.T) {
	ctx := context.Background()
	core, database := newTestCore(t)

	c := registerClient(t, core, 610)
	other := registerClient(t, core, 611)

	card, err := core.IssueCard(ctx, c.ID)
	if err != nil {
		t.Fatalf("issuing card: %v", err)
	}
	otherCard, err := core.IssueCard(ctx, other.ID)
	if err != nil {
		t.Fatalf("issuing other card: %v", err)
	}
	if _, err := core.TopUp(ctx, otherCard.ID, money.FromRubles(500)); err != nil {
		t.Fatalf("topping up: %v", err)
	}

	loanID := seedLoan(t, database, c.ID, money.FromRubles(80))

	if _, err := core.SettleLoan(ctx, 9999, card.ID); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("missing loan: got %v, want %v", err, ledger.ErrNotFound)
	}
	if _, err := core.SettleLoan(ctx, loanID, otherCard.ID); !errors.Is(err, ledger.ErrInvalidArgument) {
		t.Errorf("foreign card: got %v, want %v", err, ledger.ErrInvalidArgument)
	}
	if _, err := core.SettleLoan(ctx, loanID, card.ID); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("poor card: got %v, want %v", err, ledger.ErrInsufficientFunds)
	}
}

func TestActiveLoansByClient(t *testing.T) {
	ctx := context.Background()
	core, database := newTestCore(t)

	c := registerClient(t, core, 620)
	card, err := core.IssueCard(ctx, c.ID)
	if err != nil {
		t.Fatalf("issuing card: %v", err)
	}
	if _, err := core.TopUp(ctx, card.ID, money.FromRubles(100)); err != nil {
		t.Fatalf("topping up: %v", err)
	}

	first := seedLoan(t, database, c.ID, money.FromRubles(40))
	seedLoan(t, database, c.ID, money.FromRubles(60))

	if _, err := core.SettleLoan(ctx, first, card.ID); err != nil {
		t.Fatalf("settling loan: %v", err)
	}

	active, err := core.ActiveLoansByClient(ctx, c.ID)
	if err != nil {
		t.Fatalf("querying active loans: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("got %d active loans, want 1", len(active))
	}
	if active[0].Amount != money.FromRubles(60) {
		t.Errorf("wrong loan amount, got %d want %d", active[0].Amount, money.FromRubles(60))
	}
}
