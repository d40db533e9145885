package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"financeflow-bot/model"
)

// Store is the gorm-backed implementation of LinkStore, TransactionStore
// and Pinger over a single database.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the database at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return NewWithDB(db)
}

// NewWithDB wraps an existing gorm handle.
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&model.AccountLink{}, &model.Transaction{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) PendingByCode(ctx context.Context, username, code string) (*model.AccountLink, error) {
	var link model.AccountLink
	err := s.db.WithContext(ctx).
		Where("telegram_username = ? AND verification_code = ? AND verified = ?", username, code, false).
		First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("pending link lookup: %w", err)
	}
	return &link, nil
}

func (s *Store) VerifiedByUsername(ctx context.Context, username string) (*model.AccountLink, error) {
	var link model.AccountLink
	err := s.db.WithContext(ctx).
		Where("telegram_username = ? AND verified = ?", username, true).
		First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("verified link lookup: %w", err)
	}
	return &link, nil
}

func (s *Store) Upsert(ctx context.Context, link *model.AccountLink) error {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}},
			UpdateAll: true,
		}).
		Create(link).Error
	if err != nil {
		return fmt.Errorf("upsert link: %w", err)
	}
	return nil
}

func (s *Store) MarkVerified(ctx context.Context, accountID string, telegramID int64) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&model.AccountLink{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"verified":    true,
			"telegram_id": telegramID,
			"verified_at": &now,
		})
	if res.Error != nil {
		return fmt.Errorf("mark link verified: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, accountID string) error {
	res := s.db.WithContext(ctx).Where("account_id = ?", accountID).Delete(&model.AccountLink{})
	if res.Error != nil {
		return fmt.Errorf("delete link: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) Append(ctx context.Context, tx *model.Transaction) error {
	if err := s.db.WithContext(ctx).Create(tx).Error; err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func (s *Store) LastByAccount(ctx context.Context, accountID string) (*model.Transaction, error) {
	var tx model.Transaction
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("timestamp DESC").
		First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("last transaction lookup: %w", err)
	}
	return &tx, nil
}

func (s *Store) BackfillDescriptions(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("description = '' AND title <> ''").
		Update("description", gorm.Expr("title"))
	if res.Error != nil {
		return 0, fmt.Errorf("backfill descriptions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Ping issues limit-1 reads against both collections to confirm the store
// is reachable and the schema is in place.
func (s *Store) Ping(ctx context.Context) error {
	var link model.AccountLink
	if err := s.db.WithContext(ctx).Limit(1).Find(&link).Error; err != nil {
		return fmt.Errorf("%w: account links: %v", ErrUnavailable, err)
	}
	var tx model.Transaction
	if err := s.db.WithContext(ctx).Limit(1).Find(&tx).Error; err != nil {
		return fmt.Errorf("%w: transactions: %v", ErrUnavailable, err)
	}
	return nil
}
