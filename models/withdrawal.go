package models

import (
	"strings"
	"time"
)

// WithdrawMethod is the payout rail a withdrawal is requested on.
type WithdrawMethod string

const (
	WithdrawMethodTON   WithdrawMethod = "TON"
	WithdrawMethodStars WithdrawMethod = "STARS"
)

// ParseWithdrawMethod accepts the method case-insensitively ("Stars", "ton").
func ParseWithdrawMethod(raw string) (WithdrawMethod, bool) {
	switch WithdrawMethod(strings.ToUpper(strings.TrimSpace(raw))) {
	case WithdrawMethodTON:
		return WithdrawMethodTON, true
	case WithdrawMethodStars:
		return WithdrawMethodStars, true
	}
	return "", false
}

// RequiresWallet reports whether payouts on this rail need an external address.
func (m WithdrawMethod) RequiresWallet() bool {
	return m == WithdrawMethodTON
}

// WithdrawalStatus is a state in the withdrawal approval workflow.
type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s WithdrawalStatus) Terminal() bool {
	return s == WithdrawalApproved || s == WithdrawalRejected
}

// WithdrawalRequest is a debit-now, pay-out-later record. The balance is
// debited when the request is created, not when it is approved.
type WithdrawalRequest struct {
	ID            string           `gorm:"primaryKey;type:uuid" json:"id"`
	AccountID     string           `gorm:"type:uuid;not null;index" json:"account_id"`
	Amount        int64            `gorm:"not null;check:amount > 0" json:"amount"`
	Method        WithdrawMethod   `gorm:"type:varchar(16);not null" json:"method"`
	WalletAddress *string          `gorm:"size:128" json:"wallet_address,omitempty"`
	Status        WithdrawalStatus `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	CreatedAt     time.Time        `gorm:"not null" json:"created_at"`
	ProcessedAt   *time.Time       `json:"processed_at,omitempty"`
	ProcessedBy   *string          `gorm:"size:64" json:"processed_by,omitempty"`
	Refunded      bool             `gorm:"not null;default:false" json:"refunded"`
	ExportedAt    *time.Time       `gorm:"index" json:"exported_at,omitempty"` // set once included in a payout manifest
}
