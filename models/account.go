package models

import (
	"time"
)

// Account is the ledger's view of one external-platform identity.
// Populated on first identity resolution; never deleted (soft-ban only).
type Account struct {
	ID         string  `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalID string  `gorm:"uniqueIndex;not null;size:64" json:"external_id"` // platform user id forwarded by the gateway
	Username   *string `json:"username,omitempty"`
	FirstName  *string `json:"first_name,omitempty"`
	LastName   *string `json:"last_name,omitempty"`
	SearchName string  `gorm:"index" json:"-"` // ASCII-folded, lowercase display fields for admin search

	Balance int64 `gorm:"not null;default:0;check:balance >= 0" json:"balance"`

	ReferralCode string  `gorm:"uniqueIndex;not null;size:16" json:"referral_code"`
	ReferredBy   *string `gorm:"type:uuid;index" json:"referred_by,omitempty"`

	LastDailyClaimAt *time.Time `json:"last_daily_claim_at,omitempty"`
	LastAdClaimAt    *time.Time `json:"last_ad_claim_at,omitempty"`

	Banned bool `gorm:"not null;default:false" json:"banned"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// ReferralSummary is the public projection of an account shown to its referrer.
type ReferralSummary struct {
	ID        string    `json:"id"`
	Username  *string   `json:"username,omitempty"`
	FirstName *string   `json:"first_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
