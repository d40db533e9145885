package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"financeflow-bot/model"
)

const testAccountID = "A1b2C3d4E5f6G7h8I9j0K1l2M3n4"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func pendingLink(code string) *model.AccountLink {
	return &model.AccountLink{
		AccountID:        testAccountID,
		TelegramUsername: "alice",
		VerificationCode: code,
	}
}

func TestLinkLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, pendingLink("ABC123")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	link, err := s.PendingByCode(ctx, "alice", "ABC123")
	if err != nil {
		t.Fatalf("PendingByCode: %v", err)
	}
	if link.AccountID != testAccountID {
		t.Errorf("account id = %q, want %q", link.AccountID, testAccountID)
	}
	if _, err := s.VerifiedByUsername(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("VerifiedByUsername before verification: err = %v, want %v", err, ErrNotFound)
	}

	if err := s.MarkVerified(ctx, testAccountID, 777); err != nil {
		t.Fatalf("MarkVerified: %v", err)
	}

	if _, err := s.PendingByCode(ctx, "alice", "ABC123"); !errors.Is(err, ErrNotFound) {
		t.Errorf("PendingByCode after verification: err = %v, want %v", err, ErrNotFound)
	}
	link, err = s.VerifiedByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("VerifiedByUsername: %v", err)
	}
	if !link.Verified {
		t.Error("link not marked verified")
	}
	if link.TelegramID != 777 {
		t.Errorf("telegram id = %d, want 777", link.TelegramID)
	}
	if link.VerifiedAt == nil {
		t.Error("verification timestamp not stamped")
	}

	if err := s.Delete(ctx, testAccountID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.VerifiedByUsername(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("VerifiedByUsername after delete: err = %v, want %v", err, ErrNotFound)
	}
	if err := s.Delete(ctx, testAccountID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete: err = %v, want %v", err, ErrNotFound)
	}
}

func TestUpsertReplacesExistingLink(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, pendingLink("AAA111")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Upsert(ctx, pendingLink("BBB222")); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	if _, err := s.PendingByCode(ctx, "alice", "AAA111"); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale code still resolves: err = %v, want %v", err, ErrNotFound)
	}
	if _, err := s.PendingByCode(ctx, "alice", "BBB222"); err != nil {
		t.Errorf("fresh code does not resolve: %v", err)
	}
}

func TestMarkVerifiedMissingLink(t *testing.T) {
	s := newTestStore(t)
	if err := s.MarkVerified(context.Background(), testAccountID, 777); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want %v", err, ErrNotFound)
	}
}

func TestAppendAndLastByAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	older := &model.Transaction{
		ID:        "tx-older",
		AccountID: testAccountID,
		Title:     "Breakfast",
		Category:  "Food",
		Amount:    decimal.RequireFromString("-4.20"),
		Type:      model.TypeExpense,
		Timestamp: base,
		Source:    model.SourceTelegram,
	}
	newer := &model.Transaction{
		ID:        "tx-newer",
		AccountID: testAccountID,
		Title:     "Lunch",
		Category:  "Food",
		Amount:    decimal.RequireFromString("-12.50"),
		Type:      model.TypeExpense,
		Timestamp: base.Add(30 * time.Minute),
		Source:    model.SourceTelegram,
	}
	for _, tx := range []*model.Transaction{older, newer} {
		if err := s.Append(ctx, tx); err != nil {
			t.Fatalf("Append(%s): %v", tx.ID, err)
		}
	}

	got, err := s.LastByAccount(ctx, testAccountID)
	if err != nil {
		t.Fatalf("LastByAccount: %v", err)
	}
	if got.ID != "tx-newer" {
		t.Errorf("last transaction = %q, want tx-newer", got.ID)
	}
	if !got.Amount.Equal(decimal.RequireFromString("-12.50")) {
		t.Errorf("amount = %s, want -12.50", got.Amount)
	}

	if _, err := s.LastByAccount(ctx, "unknownAccount0000000000000K"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown account: err = %v, want %v", err, ErrNotFound)
	}
}

func TestBackfillDescriptions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	missing := &model.Transaction{ID: "tx-missing", AccountID: testAccountID, Title: "Lunch", Timestamp: time.Now()}
	present := &model.Transaction{ID: "tx-present", AccountID: testAccountID, Title: "Dinner", Description: "team dinner", Timestamp: time.Now()}
	untitled := &model.Transaction{ID: "tx-untitled", AccountID: testAccountID, Timestamp: time.Now()}
	for _, tx := range []*model.Transaction{missing, present, untitled} {
		if err := s.Append(ctx, tx); err != nil {
			t.Fatalf("Append(%s): %v", tx.ID, err)
		}
	}

	n, err := s.BackfillDescriptions(ctx)
	if err != nil {
		t.Fatalf("BackfillDescriptions: %v", err)
	}
	if n != 1 {
		t.Errorf("updated %d rows, want 1", n)
	}

	var got model.Transaction
	if err := s.db.Where("id = ?", "tx-missing").First(&got).Error; err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got.Description != "Lunch" {
		t.Errorf("description = %q, want copied title", got.Description)
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping on a fresh store: %v", err)
	}
}
