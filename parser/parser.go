package parser

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"financeflow-bot/model"
)

// ErrorKind classifies why a message failed validation.
type ErrorKind int

const (
	MissingFields ErrorKind = iota
	InvalidCategory
	InvalidType
	InvalidAmount
)

func (k ErrorKind) String() string {
	switch k {
	case MissingFields:
		return "missing_fields"
	case InvalidCategory:
		return "invalid_category"
	case InvalidType:
		return "invalid_type"
	case InvalidAmount:
		return "invalid_amount"
	}
	return "unknown"
}

// ValidationError is a terminal, per-message parse failure.
type ValidationError struct {
	Kind   ErrorKind
	Detail string

	categories []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Kind, e.Detail)
}

// UserMessage is the reply text sent back to the sender.
func (e *ValidationError) UserMessage() string {
	switch e.Kind {
	case MissingFields:
		return "Invalid format. Please use: title, category, amount, type"
	case InvalidCategory:
		return "Invalid category. Please use one of: " + strings.Join(e.categories, ", ")
	case InvalidType:
		return "Invalid transaction type. Please use: expense or income"
	case InvalidAmount:
		return "Invalid amount. Please provide a valid number."
	}
	return "Invalid message. Please try again."
}

// Candidate is a validated, sign-normalized transaction ready to persist.
type Candidate struct {
	Title    string
	Category string
	Amount   decimal.Decimal
	Type     string
}

const defaultTitle = "Telegram Transaction"

// Parser validates free-text transaction messages against a fixed
// category set. Category matching is case-insensitive; the canonical
// spelling from the configured set is what ends up stored.
type Parser struct {
	canonical map[string]string
	names     []string
}

func New(categories []string) *Parser {
	p := &Parser{canonical: make(map[string]string, len(categories))}
	for _, c := range categories {
		norm := normalize(c)
		if _, ok := p.canonical[norm]; ok {
			continue
		}
		p.canonical[norm] = strings.TrimSpace(c)
		p.names = append(p.names, strings.TrimSpace(c))
	}
	return p
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Parse turns "title, category, amount, type" into a Candidate.
// The amount sign is re-derived from the type: expenses are stored
// negative, income positive, regardless of how the sender typed it.
func (p *Parser) Parse(text string) (Candidate, error) {
	parts := strings.Split(text, ",")
	fields := make([]string, len(parts))
	for i, part := range parts {
		fields[i] = strings.TrimSpace(part)
	}
	if len(fields) < 4 {
		return Candidate{}, &ValidationError{
			Kind:   MissingFields,
			Detail: fmt.Sprintf("got %d of 4 fields", len(fields)),
		}
	}

	title, category, amountText, typeText := fields[0], fields[1], fields[2], fields[3]

	canonical, ok := p.canonical[normalize(category)]
	if !ok {
		return Candidate{}, &ValidationError{
			Kind:       InvalidCategory,
			Detail:     fmt.Sprintf("unknown category %q", category),
			categories: p.names,
		}
	}

	txType := strings.ToLower(strings.TrimSpace(typeText))
	if txType != model.TypeExpense && txType != model.TypeIncome {
		return Candidate{}, &ValidationError{
			Kind:   InvalidType,
			Detail: fmt.Sprintf("unknown type %q", typeText),
		}
	}

	amount, err := decimal.NewFromString(amountText)
	if err != nil {
		return Candidate{}, &ValidationError{
			Kind:   InvalidAmount,
			Detail: fmt.Sprintf("cannot parse %q", amountText),
		}
	}

	switch txType {
	case model.TypeExpense:
		if amount.IsPositive() {
			amount = amount.Neg()
		}
	case model.TypeIncome:
		if amount.IsNegative() {
			amount = amount.Abs()
		}
	}

	if title == "" {
		title = defaultTitle
	}
	return Candidate{
		Title:    title,
		Category: canonical,
		Amount:   amount,
		Type:     txType,
	}, nil
}

// Categories returns the configured category names.
func (p *Parser) Categories() []string {
	return append([]string(nil), p.names...)
}

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// IsVerificationCode reports whether text looks like a linking code:
// exactly six upper-case alphanumeric characters.
func IsVerificationCode(text string) bool {
	return codePattern.MatchString(text)
}

// NewVerificationCode generates a random six-character linking code.
func NewVerificationCode() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("verification code entropy: %v", err))
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}
