package models

import "time"

// SettingsID is the primary key of the singleton settings row.
const SettingsID = 1

// Settings holds reward amounts and limits. Engine operations read it once
// per call and act on that snapshot only.
type Settings struct {
	ID                   uint                     `gorm:"primaryKey" json:"-"`
	Version              int64                    `gorm:"not null;default:1" json:"version"`
	DailyRewardPoints    int64                    `gorm:"not null" json:"daily_reward_points"`
	AdRewardPoints       int64                    `gorm:"not null" json:"ad_reward_points"`
	ReferralRewardPoints int64                    `gorm:"not null" json:"referral_reward_points"`
	AdCooldownSeconds    int64                    `gorm:"not null" json:"ad_cooldown_seconds"`
	MinWithdrawByMethod  map[WithdrawMethod]int64 `gorm:"type:text;serializer:json" json:"min_withdraw_by_method"`
	AdBlockID            string                   `gorm:"size:64" json:"ad_block_id,omitempty"`
	UpdatedAt            time.Time                `json:"updated_at" gorm:"autoUpdateTime"`
}

// DefaultSettings seeds the singleton row when the table is empty.
func DefaultSettings() Settings {
	return Settings{
		ID:                   SettingsID,
		Version:              1,
		DailyRewardPoints:    100,
		AdRewardPoints:       10,
		ReferralRewardPoints: 50,
		AdCooldownSeconds:    60,
		MinWithdrawByMethod: map[WithdrawMethod]int64{
			WithdrawMethodTON:   1000,
			WithdrawMethodStars: 500,
		},
	}
}

// MinWithdraw returns the configured minimum for method. Methods without an
// entry have no minimum beyond a positive amount.
func (s Settings) MinWithdraw(method WithdrawMethod) int64 {
	if s.MinWithdrawByMethod == nil {
		return 0
	}
	return s.MinWithdrawByMethod[method]
}

// MaxAdCooldownSeconds caps the ad cooldown at one week.
const MaxAdCooldownSeconds = 7 * 24 * 60 * 60

// AdCooldown is AdCooldownSeconds as a duration, clamped to
// [0, MaxAdCooldownSeconds].
func (s Settings) AdCooldown() time.Duration {
	secs := s.AdCooldownSeconds
	if secs < 0 {
		secs = 0
	}
	if secs > MaxAdCooldownSeconds {
		secs = MaxAdCooldownSeconds
	}
	return time.Duration(secs) * time.Second
}
