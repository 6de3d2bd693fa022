package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rewards-ledger-system/logging"
	"rewards-ledger-system/models"
	"rewards-ledger-system/monitoring"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DailyClaimInterval is the fixed wait between two daily claims.
const DailyClaimInterval = 24 * time.Hour

// AdOutcome is what the client reports about the ad it tried to show. It is
// recorded only; the reward is granted whatever the display outcome.
type AdOutcome string

const (
	AdShown   AdOutcome = "shown"
	AdFailed  AdOutcome = "failed"
	AdUnknown AdOutcome = "unknown"
)

// ParseAdOutcome maps client input onto a known outcome.
func ParseAdOutcome(raw string) AdOutcome {
	switch AdOutcome(raw) {
	case AdShown, AdFailed:
		return AdOutcome(raw)
	}
	return AdUnknown
}

// ClaimResult is returned by every successful credit.
type ClaimResult struct {
	Awarded     int64      `json:"awarded"`
	NewBalance  int64      `json:"new_balance"`
	NextClaimAt *time.Time `json:"next_claim_at,omitempty"`
}

// LedgerService is the reward claim engine. Each operation is one
// transaction whose balance change is a single conditional UPDATE, so the
// eligibility check and the credit cannot be split by a concurrent request.
type LedgerService struct {
	DB       *gorm.DB
	Settings *SettingsService
	Tasks    TaskRegistry
	Events   *EventHub
	Now      func() time.Time
}

func NewLedgerService(db *gorm.DB, settings *SettingsService, tasks TaskRegistry, events *EventHub) *LedgerService {
	return &LedgerService{DB: db, Settings: settings, Tasks: tasks, Events: events, Now: time.Now}
}

func (s *LedgerService) now() time.Time {
	return s.Now().UTC()
}

// timedClaim describes a cooldown-gated credit.
type timedClaim struct {
	kind     models.LedgerEntryKind
	column   string
	last     func(models.Account) *time.Time
	points   func(models.Settings) int64
	cooldown func(models.Settings) time.Duration
}

var (
	dailyClaim = timedClaim{
		kind:     models.LedgerDaily,
		column:   "last_daily_claim_at",
		last:     func(a models.Account) *time.Time { return a.LastDailyClaimAt },
		points:   func(st models.Settings) int64 { return st.DailyRewardPoints },
		cooldown: func(models.Settings) time.Duration { return DailyClaimInterval },
	}
	adClaim = timedClaim{
		kind:     models.LedgerAd,
		column:   "last_ad_claim_at",
		last:     func(a models.Account) *time.Time { return a.LastAdClaimAt },
		points:   func(st models.Settings) int64 { return st.AdRewardPoints },
		cooldown: func(st models.Settings) time.Duration { return st.AdCooldown() },
	}
)

// ClaimDaily credits the daily reward if 24h have passed since the last one.
func (s *LedgerService) ClaimDaily(ctx context.Context, accountID string) (ClaimResult, error) {
	now := s.now()
	res, err := s.claimTimed(ctx, accountID, dailyClaim, now)
	s.recordClaim(dailyClaim.kind, accountID, res, err, now)
	return res, err
}

// ClaimAd credits the ad reward if the ad cooldown has elapsed.
func (s *LedgerService) ClaimAd(ctx context.Context, accountID string, outcome AdOutcome) (ClaimResult, error) {
	monitoring.AdDisplayTotal.WithLabelValues(string(outcome)).Inc()
	if outcome != AdShown {
		logging.Logger.Info("[LEDGER] ad claim without confirmed display",
			zap.String("account_id", accountID), zap.String("ad_outcome", string(outcome)))
	}
	now := s.now()
	res, err := s.claimTimed(ctx, accountID, adClaim, now)
	s.recordClaim(adClaim.kind, accountID, res, err, now)
	return res, err
}

func (s *LedgerService) claimTimed(ctx context.Context, accountID string, c timedClaim, now time.Time) (ClaimResult, error) {
	var result ClaimResult

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		settings, err := s.Settings.snapshot(tx)
		if err != nil {
			return err
		}
		points := c.points(settings)
		cooldown := c.cooldown(settings)

		res := tx.Model(&models.Account{}).
			Where("id = ? AND banned = ?", accountID, false).
			Where(fmt.Sprintf("(%s IS NULL OR %s <= ?)", c.column, c.column), now.Add(-cooldown)).
			Updates(map[string]interface{}{
				"balance": gorm.Expr("balance + ?", points),
				c.column:  now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return explainMiss(tx, accountID, c, now, cooldown)
		}

		balance, err := appendLedgerEntry(tx, accountID, c.kind, points, nil, now)
		if err != nil {
			return err
		}
		next := now.Add(cooldown)
		result = ClaimResult{Awarded: points, NewBalance: balance, NextClaimAt: &next}
		return nil
	})
	if err != nil {
		return ClaimResult{}, passThrough("claim "+string(c.kind), err)
	}
	return result, nil
}

// explainMiss works out why a conditional claim update matched no row.
func explainMiss(tx *gorm.DB, accountID string, c timedClaim, now time.Time, cooldown time.Duration) error {
	var acct models.Account
	err := tx.Where("id = ?", accountID).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrAccountNotFound
	}
	if err != nil {
		return err
	}
	if acct.Banned {
		return ErrAccountBanned
	}
	next := now.Add(cooldown)
	if last := c.last(acct); last != nil {
		next = last.UTC().Add(cooldown)
	}
	return &CooldownError{Kind: string(c.kind), NextAt: next}
}

// CompleteTask credits a task's reward once per account.
func (s *LedgerService) CompleteTask(ctx context.Context, accountID, taskID string) (ClaimResult, error) {
	now := s.now()
	res, err := s.completeTask(ctx, accountID, taskID, now)
	s.recordClaim(models.LedgerTask, accountID, res, err, now)
	return res, err
}

func (s *LedgerService) completeTask(ctx context.Context, accountID, taskID string, now time.Time) (ClaimResult, error) {
	task, err := s.Tasks.Task(ctx, taskID)
	if err != nil {
		return ClaimResult{}, err
	}
	if !task.Active {
		return ClaimResult{}, ErrTaskInactive
	}

	var result ClaimResult
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var acct models.Account
		if err := tx.Select("id", "banned").Where("id = ?", accountID).First(&acct).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return err
		}
		if acct.Banned {
			return ErrAccountBanned
		}

		completion := models.TaskCompletion{
			ID:          uuid.NewString(),
			AccountID:   accountID,
			TaskID:      task.ID,
			CompletedAt: now,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&completion)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyCompleted
		}

		res = tx.Model(&models.Account{}).
			Where("id = ? AND banned = ?", accountID, false).
			Update("balance", gorm.Expr("balance + ?", task.RewardPoints))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAccountBanned
		}

		balance, err := appendLedgerEntry(tx, accountID, models.LedgerTask, task.RewardPoints, &task.ID, now)
		if err != nil {
			return err
		}
		result = ClaimResult{Awarded: task.RewardPoints, NewBalance: balance}
		return nil
	})
	if err != nil {
		return ClaimResult{}, passThrough("complete task", err)
	}
	return result, nil
}

// CreditReferral adds amount to the referrer's balance. referredID is kept
// as the journal reference. Calling it more than once per referred account
// is the caller's mistake; account registration calls it exactly once.
func (s *LedgerService) CreditReferral(ctx context.Context, referrerID string, amount int64, referredID string) (int64, error) {
	now := s.now()
	var balance int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		balance, err = creditReferral(tx, referrerID, referredID, amount, now)
		return err
	})
	if err != nil {
		return 0, passThrough("credit referral", err)
	}
	publishReferral(s.Events, referrerID, amount, balance, now)
	return balance, nil
}

// creditReferral applies the referral credit inside an open transaction.
// Banned referrers are still credited; the ban gates spending, not earning
// from others' sign-ups.
func creditReferral(tx *gorm.DB, referrerID, referredID string, amount int64, now time.Time) (int64, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}
	res := tx.Model(&models.Account{}).
		Where("id = ?", referrerID).
		Update("balance", gorm.Expr("balance + ?", amount))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrAccountNotFound
	}
	var ref *string
	if referredID != "" {
		ref = &referredID
	}
	return appendLedgerEntry(tx, referrerID, models.LedgerReferral, amount, ref, now)
}

func publishReferral(events *EventHub, referrerID string, amount, balance int64, at time.Time) {
	monitoring.ReferralCreditsTotal.Inc()
	monitoring.PointsAwardedTotal.WithLabelValues(string(models.LedgerReferral)).Add(float64(amount))
	events.Publish(LedgerEvent{
		Type:      EventBalanceChanged,
		AccountID: referrerID,
		Kind:      models.LedgerReferral,
		Delta:     amount,
		Balance:   balance,
		At:        at,
	})
}

// recordClaim updates metrics, logs and publishes once the claim transaction
// has finished.
func (s *LedgerService) recordClaim(kind models.LedgerEntryKind, accountID string, res ClaimResult, err error, at time.Time) {
	monitoring.ClaimsTotal.WithLabelValues(string(kind), ErrorCode(err)).Inc()
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			logging.Logger.Error("[LEDGER] claim failed",
				zap.String("kind", string(kind)), zap.String("account_id", accountID), zap.Error(err))
		}
		return
	}

	monitoring.PointsAwardedTotal.WithLabelValues(string(kind)).Add(float64(res.Awarded))
	logging.Logger.Info("[LEDGER] points credited",
		zap.String("kind", string(kind)),
		zap.String("account_id", accountID),
		zap.Int64("awarded", res.Awarded),
		zap.Int64("balance", res.NewBalance))

	s.Events.Publish(LedgerEvent{
		Type:      EventBalanceChanged,
		AccountID: accountID,
		Kind:      kind,
		Delta:     res.Awarded,
		Balance:   res.NewBalance,
		At:        at,
	})
}
