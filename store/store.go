package store

import (
	"context"
	"errors"

	"financeflow-bot/model"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("record not found")

// ErrUnavailable is returned when the backing store cannot be reached.
var ErrUnavailable = errors.New("store unavailable")

// LinkStore is the account-linking collection.
type LinkStore interface {
	// PendingByCode finds an unverified link matching both the Telegram
	// username and the verification code.
	PendingByCode(ctx context.Context, username, code string) (*model.AccountLink, error)
	// VerifiedByUsername finds the verified link for a Telegram username.
	VerifiedByUsername(ctx context.Context, username string) (*model.AccountLink, error)
	// Upsert creates or replaces the link for link.AccountID.
	Upsert(ctx context.Context, link *model.AccountLink) error
	// MarkVerified flips a link to verified and stamps the Telegram id.
	MarkVerified(ctx context.Context, accountID string, telegramID int64) error
	// Delete removes the link for an account.
	Delete(ctx context.Context, accountID string) error
}

// TransactionStore is the append-only transaction collection.
type TransactionStore interface {
	Append(ctx context.Context, tx *model.Transaction) error
	// LastByAccount returns the most recent transaction for an account,
	// used as a post-write consistency check.
	LastByAccount(ctx context.Context, accountID string) (*model.Transaction, error)
	// BackfillDescriptions copies Title into Description on records that
	// are missing one, and returns the number of rows updated.
	BackfillDescriptions(ctx context.Context) (int64, error)
}

// Pinger verifies that the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
