package services

import (
	"context"
	"time"

	"rewards-ledger-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// appendLedgerEntry records a balance mutation that has already been applied
// inside tx and returns the balance it left behind.
func appendLedgerEntry(tx *gorm.DB, accountID string, kind models.LedgerEntryKind, delta int64, ref *string, at time.Time) (int64, error) {
	var acct models.Account
	if err := tx.Select("id", "balance").Where("id = ?", accountID).First(&acct).Error; err != nil {
		return 0, err
	}

	entry := models.LedgerEntry{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		Kind:         kind,
		Delta:        delta,
		BalanceAfter: acct.Balance,
		Reference:    ref,
		CreatedAt:    at,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// JournalService reads the ledger audit trail.
type JournalService struct {
	DB *gorm.DB
}

func NewJournalService(db *gorm.DB) *JournalService {
	return &JournalService{DB: db}
}

// History returns the newest entries for accountID first.
func (s *JournalService) History(ctx context.Context, accountID string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var entries []models.LedgerEntry
	err := s.DB.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, storageErr("load ledger history", err)
	}
	return entries, nil
}

// Sum returns the net of all journal deltas for accountID. For an account
// whose every mutation went through the engine this equals its balance.
func (s *JournalService) Sum(ctx context.Context, accountID string) (int64, error) {
	var total int64
	err := s.DB.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("account_id = ?", accountID).
		Select("COALESCE(SUM(delta), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, storageErr("sum ledger", err)
	}
	return total, nil
}
