package parser

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

var testCategories = []string{
	"Food", "Transport", "Housing", "Utilities",
	"Salary", "Savings",
}

func TestParse(t *testing.T) {
	p := New(testCategories)

	tests := []struct {
		name         string
		input        string
		wantTitle    string
		wantCategory string
		wantAmount   string
		wantType     string
		wantKind     ErrorKind
		wantErr      bool
	}{
		{
			name:         "expense keeps typed negative",
			input:        "Lunch, Food, -12.50, expense",
			wantTitle:    "Lunch",
			wantCategory: "Food",
			wantAmount:   "-12.5",
			wantType:     "expense",
		},
		{
			name:         "expense negates positive amount",
			input:        "Lunch, Food, 12.50, expense",
			wantTitle:    "Lunch",
			wantCategory: "Food",
			wantAmount:   "-12.5",
			wantType:     "expense",
		},
		{
			name:         "income takes absolute value",
			input:        "Paycheck, Salary, -2000, income",
			wantTitle:    "Paycheck",
			wantCategory: "Salary",
			wantAmount:   "2000",
			wantType:     "income",
		},
		{
			name:         "category matched case-insensitively",
			input:        "Bus ticket, transport, 3, expense",
			wantTitle:    "Bus ticket",
			wantCategory: "Transport",
			wantAmount:   "-3",
			wantType:     "expense",
		},
		{
			name:         "type normalized from mixed case",
			input:        "Rent, Housing, 800, EXPENSE",
			wantTitle:    "Rent",
			wantCategory: "Housing",
			wantAmount:   "-800",
			wantType:     "expense",
		},
		{
			name:         "extra whitespace trimmed",
			input:        "  Coffee ,  Food ,  4.20 ,  expense  ",
			wantTitle:    "Coffee",
			wantCategory: "Food",
			wantAmount:   "-4.2",
			wantType:     "expense",
		},
		{
			name:         "empty title falls back to default",
			input:        ", Food, 12.50, expense",
			wantTitle:    "Telegram Transaction",
			wantCategory: "Food",
			wantAmount:   "-12.5",
			wantType:     "expense",
		},
		{
			name:     "three fields",
			input:    "Lunch, Food, 12.50",
			wantErr:  true,
			wantKind: MissingFields,
		},
		{
			name:     "empty category",
			input:    "Lunch, , 12.50, expense",
			wantErr:  true,
			wantKind: InvalidCategory,
		},
		{
			name:     "empty type after trailing comma",
			input:    "Lunch, Food, 12.50,",
			wantErr:  true,
			wantKind: InvalidType,
		},
		{
			name:     "empty input",
			input:    "",
			wantErr:  true,
			wantKind: MissingFields,
		},
		{
			name:     "unknown category",
			input:    "Lunch, Restaurants, 12.50, expense",
			wantErr:  true,
			wantKind: InvalidCategory,
		},
		{
			name:     "unknown type",
			input:    "Lunch, Food, 12.50, transfer",
			wantErr:  true,
			wantKind: InvalidType,
		},
		{
			name:     "non-numeric amount",
			input:    "Lunch, Food, twelve, expense",
			wantErr:  true,
			wantKind: InvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Parse(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) succeeded, want error", tt.input)
				}
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("Parse(%q) error = %v, want *ValidationError", tt.input, err)
				}
				if verr.Kind != tt.wantKind {
					t.Errorf("Parse(%q) error kind = %v, want %v", tt.input, verr.Kind, tt.wantKind)
				}
				if verr.UserMessage() == "" {
					t.Errorf("Parse(%q) empty user message", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.input, err)
			}
			if got.Title != tt.wantTitle {
				t.Errorf("title = %q, want %q", got.Title, tt.wantTitle)
			}
			if got.Category != tt.wantCategory {
				t.Errorf("category = %q, want %q", got.Category, tt.wantCategory)
			}
			want, _ := decimal.NewFromString(tt.wantAmount)
			if !got.Amount.Equal(want) {
				t.Errorf("amount = %s, want %s", got.Amount, want)
			}
			if got.Type != tt.wantType {
				t.Errorf("type = %q, want %q", got.Type, tt.wantType)
			}
		})
	}
}

func TestParseSignMatchesType(t *testing.T) {
	p := New(testCategories)

	inputs := []string{"5", "-5", "+5", "0.01", "-1234.56"}
	for _, amount := range inputs {
		expense, err := p.Parse("x, Food, " + amount + ", expense")
		if err != nil {
			t.Fatalf("expense parse(%s): %v", amount, err)
		}
		if expense.Amount.IsPositive() {
			t.Errorf("expense amount %s stored positive: %s", amount, expense.Amount)
		}
		income, err := p.Parse("x, Salary, " + amount + ", income")
		if err != nil {
			t.Fatalf("income parse(%s): %v", amount, err)
		}
		if income.Amount.IsNegative() {
			t.Errorf("income amount %s stored negative: %s", amount, income.Amount)
		}
		if !expense.Amount.Abs().Equal(income.Amount.Abs()) {
			t.Errorf("magnitude changed: expense %s vs income %s", expense.Amount, income.Amount)
		}
	}
}

func TestIsVerificationCode(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"ABC12X", true},
		{"A1B2C3", true},
		{"ZZZZZZ", true},
		{"000000", true},
		{"abc12x", false},
		{"ABC12", false},
		{"ABC12XY", false},
		{"ABC 2X", false},
		{"ABC-2X", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := IsVerificationCode(tt.input); got != tt.want {
				t.Errorf("IsVerificationCode(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewVerificationCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code := NewVerificationCode()
		if !IsVerificationCode(code) {
			t.Fatalf("generated code %q is not a valid verification code", code)
		}
		for _, r := range code {
			if !strings.ContainsRune(codeAlphabet, r) {
				t.Fatalf("code %q contains %q outside the alphabet", code, r)
			}
		}
	}
}
