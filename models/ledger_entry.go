package models

import "time"

// LedgerEntryKind names the operation that produced a balance change.
type LedgerEntryKind string

const (
	LedgerDaily      LedgerEntryKind = "daily"
	LedgerAd         LedgerEntryKind = "ad"
	LedgerTask       LedgerEntryKind = "task"
	LedgerReferral   LedgerEntryKind = "referral"
	LedgerWithdrawal LedgerEntryKind = "withdrawal"
	LedgerRefund     LedgerEntryKind = "refund"
)

// LedgerEntry is the append-only audit trail. One row is written in the same
// transaction as every balance mutation; rows are never updated.
type LedgerEntry struct {
	ID           string          `gorm:"primaryKey;type:uuid" json:"id"`
	AccountID    string          `gorm:"type:uuid;not null;index" json:"account_id"`
	Kind         LedgerEntryKind `gorm:"type:varchar(16);not null;index" json:"kind"`
	Delta        int64           `gorm:"not null" json:"delta"`
	BalanceAfter int64           `gorm:"not null" json:"balance_after"`
	Reference    *string         `gorm:"size:64" json:"reference,omitempty"` // task, withdrawal or referred account id
	CreatedAt    time.Time       `gorm:"not null;index" json:"created_at"`
}
