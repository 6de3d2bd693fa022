package services

import (
	"context"
	"errors"
	"fmt"

	"rewards-ledger-system/logging"
	"rewards-ledger-system/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingsService owns the singleton settings row. Every write bumps Version
// so a snapshot can be told apart from the one before it.
type SettingsService struct {
	DB *gorm.DB
}

func NewSettingsService(db *gorm.DB) *SettingsService {
	return &SettingsService{DB: db}
}

// SettingsPatch carries a partial admin update; nil fields are left alone.
type SettingsPatch struct {
	DailyRewardPoints    *int64                          `json:"daily_reward_points"`
	AdRewardPoints       *int64                          `json:"ad_reward_points"`
	ReferralRewardPoints *int64                          `json:"referral_reward_points"`
	AdCooldownSeconds    *int64                          `json:"ad_cooldown_seconds"`
	MinWithdrawByMethod  map[models.WithdrawMethod]int64 `json:"min_withdraw_by_method"`
	AdBlockID            *string                         `json:"ad_block_id"`
}

// EnsureDefaults seeds the settings row if it does not exist (idempotent).
func (s *SettingsService) EnsureDefaults(ctx context.Context) error {
	defaults := models.DefaultSettings()
	res := s.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&defaults)
	if res.Error != nil {
		return storageErr("seed settings", res.Error)
	}
	if res.RowsAffected > 0 {
		logging.Logger.Info("[SETTINGS] seeded default settings")
	}
	return nil
}

// Snapshot returns the current settings.
func (s *SettingsService) Snapshot(ctx context.Context) (models.Settings, error) {
	return s.snapshot(s.DB.WithContext(ctx))
}

// snapshot reads settings through db, which may be an open transaction.
// A missing row falls back to defaults so a fresh database still works.
func (s *SettingsService) snapshot(db *gorm.DB) (models.Settings, error) {
	var settings models.Settings
	err := db.Where("id = ?", models.SettingsID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logging.Logger.Warn("[SETTINGS] settings row missing, using defaults")
		return models.DefaultSettings(), nil
	}
	if err != nil {
		return models.Settings{}, storageErr("load settings", err)
	}
	return settings, nil
}

// Update applies patch under a row lock and increments the version.
func (s *SettingsService) Update(ctx context.Context, patch SettingsPatch) (models.Settings, error) {
	if err := patch.validate(); err != nil {
		return models.Settings{}, err
	}

	var updated models.Settings
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(ptr(models.DefaultSettings())).Error; err != nil {
			return err
		}

		var current models.Settings
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", models.SettingsID).
			First(&current).Error; err != nil {
			return err
		}

		if patch.DailyRewardPoints != nil {
			current.DailyRewardPoints = *patch.DailyRewardPoints
		}
		if patch.AdRewardPoints != nil {
			current.AdRewardPoints = *patch.AdRewardPoints
		}
		if patch.ReferralRewardPoints != nil {
			current.ReferralRewardPoints = *patch.ReferralRewardPoints
		}
		if patch.AdCooldownSeconds != nil {
			current.AdCooldownSeconds = *patch.AdCooldownSeconds
		}
		if patch.AdBlockID != nil {
			current.AdBlockID = *patch.AdBlockID
		}
		if len(patch.MinWithdrawByMethod) > 0 {
			merged := make(map[models.WithdrawMethod]int64, len(current.MinWithdrawByMethod)+len(patch.MinWithdrawByMethod))
			for method, min := range current.MinWithdrawByMethod {
				merged[method] = min
			}
			for raw, min := range patch.MinWithdrawByMethod {
				method, _ := models.ParseWithdrawMethod(string(raw))
				merged[method] = min
			}
			current.MinWithdrawByMethod = merged
		}
		current.Version++

		if err := tx.Save(&current).Error; err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return models.Settings{}, passThrough("update settings", err)
	}

	logging.Logger.Info("[SETTINGS] settings updated", zap.Int64("version", updated.Version))
	return updated, nil
}

func (p SettingsPatch) validate() error {
	for name, v := range map[string]*int64{
		"daily_reward_points":    p.DailyRewardPoints,
		"ad_reward_points":       p.AdRewardPoints,
		"referral_reward_points": p.ReferralRewardPoints,
		"ad_cooldown_seconds":    p.AdCooldownSeconds,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s: %w", name, ErrInvalidAmount)
		}
	}
	if p.AdCooldownSeconds != nil && *p.AdCooldownSeconds > models.MaxAdCooldownSeconds {
		return fmt.Errorf("ad_cooldown_seconds above %d: %w", models.MaxAdCooldownSeconds, ErrInvalidAmount)
	}
	for method, min := range p.MinWithdrawByMethod {
		if _, ok := models.ParseWithdrawMethod(string(method)); !ok {
			return fmt.Errorf("%s: %w", method, ErrUnknownMethod)
		}
		if min < 0 {
			return fmt.Errorf("min_withdraw_by_method.%s: %w", method, ErrInvalidAmount)
		}
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
