package money_test

import (
	"errors"
	"testing"

	"bankbot/internal/money"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    money.Amount
		wantErr error
	}{
		{"100", 10000, nil},
		{"100.50", 10050, nil},
		{"100,50", 10050, nil},
		{" 7 ", 700, nil},
		{"0", 0, nil},
		{"0.01", 1, nil},
		{"-5", 0, money.ErrNegative},
		{"1.999", 0, money.ErrNotAnAmount},
		{"ten", 0, money.ErrNotAnAmount},
		{"", 0, money.ErrNotAnAmount},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := money.Parse(tt.in)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Parse(%q) error = %v, want %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseWhole(t *testing.T) {
	if _, err := money.ParseWhole("100.50"); !errors.Is(err, money.ErrFractional) {
		t.Errorf("ParseWhole(100.50) error = %v, want %v", err, money.ErrFractional)
	}
	a, err := money.ParseWhole("100")
	if err != nil {
		t.Fatalf("ParseWhole(100): %v", err)
	}
	if a != money.FromRubles(100) {
		t.Errorf("got %d, want %d", a, money.FromRubles(100))
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		in   money.Amount
		want string
	}{
		{10000, "100.00 ₽"},
		{10050, "100.50 ₽"},
		{5, "0.05 ₽"},
		{0, "0.00 ₽"},
	}

	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("Amount(%d).String() = %q, want %q", tt.in, got, tt.want)
		}
	}
}
