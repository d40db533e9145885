package model

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types accepted over the bot.
const (
	TypeExpense = "expense"
	TypeIncome  = "income"
)

// SourceTelegram marks records created by the bot pipeline.
const SourceTelegram = "telegram"

// AccountIDLength is the fixed length of internal account identifiers.
const AccountIDLength = 28

var accountIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{28}$`)

// ValidAccountID reports whether s is a well-formed internal account
// identifier: exactly 28 alphanumeric characters.
func ValidAccountID(s string) bool {
	return accountIDPattern.MatchString(s)
}

// AccountLink maps an internal account to a Telegram identity. A link is
// created unverified with a verification code; it becomes verified when the
// matching code arrives over the bot, at which point the Telegram numeric id
// is stamped. At most one verified link exists per Telegram username.
type AccountLink struct {
	AccountID        string `gorm:"primaryKey;size:28"`
	TelegramUsername string `gorm:"index"`
	TelegramID       int64
	VerificationCode string `gorm:"size:6"`
	Verified         bool
	CreatedAt        time.Time
	VerifiedAt       *time.Time
}

// Transaction is a financial record ingested over the bot. Records are
// append-only: corrections are new records, never edits.
type Transaction struct {
	ID          string `gorm:"primaryKey"`
	AccountID   string `gorm:"index"`
	Title       string
	Description string
	Category    string
	Amount      decimal.Decimal `gorm:"type:numeric"`
	Type        string          `gorm:"size:8"`
	Timestamp   time.Time       `gorm:"index"`
	Source      string          `gorm:"size:16"`

	// Origin metadata for audit and debugging.
	ChatID        int64
	Username      string
	ProcessedAt   time.Time
	LinkAccountID string
}
