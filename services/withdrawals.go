package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rewards-ledger-system/logging"
	"rewards-ledger-system/models"
	"rewards-ledger-system/monitoring"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RejectPolicy decides what happens to the debited amount when a
// withdrawal is rejected.
type RejectPolicy string

const (
	RejectRefund RejectPolicy = "refund" // credit the amount back
	RejectKeep   RejectPolicy = "keep"   // points stay spent
)

// WithdrawalService runs the request / approve / reject workflow.
type WithdrawalService struct {
	DB           *gorm.DB
	Settings     *SettingsService
	Events       *EventHub
	RejectPolicy RejectPolicy
	Now          func() time.Time
}

func NewWithdrawalService(db *gorm.DB, settings *SettingsService, events *EventHub, policy RejectPolicy) *WithdrawalService {
	if policy != RejectKeep {
		policy = RejectRefund
	}
	return &WithdrawalService{DB: db, Settings: settings, Events: events, RejectPolicy: policy, Now: time.Now}
}

func (s *WithdrawalService) now() time.Time {
	return s.Now().UTC()
}

// WithdrawalInput is a user's withdrawal request.
type WithdrawalInput struct {
	Amount        int64   `json:"amount"`
	Method        string  `json:"method"`
	WalletAddress *string `json:"wallet_address"`
}

// WithdrawalResult is the created request and the balance after the debit.
type WithdrawalResult struct {
	Request    models.WithdrawalRequest `json:"request"`
	NewBalance int64                    `json:"new_balance"`
}

// Request debits the amount and records a pending withdrawal, atomically.
// Checks run in a fixed order so a request failing several of them always
// reports the same error.
func (s *WithdrawalService) Request(ctx context.Context, accountID string, in WithdrawalInput) (WithdrawalResult, error) {
	res, err := s.request(ctx, accountID, in)
	monitoring.WithdrawalRequestsTotal.WithLabelValues(methodLabel(in.Method), ErrorCode(err)).Inc()
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			logging.Logger.Error("[WITHDRAW] request failed", zap.String("account_id", accountID), zap.Error(err))
		}
		return res, err
	}

	logging.Logger.Info("[WITHDRAW] request created",
		zap.String("withdrawal_id", res.Request.ID),
		zap.String("account_id", accountID),
		zap.Int64("amount", res.Request.Amount),
		zap.String("method", string(res.Request.Method)))

	at := s.now()
	s.Events.Publish(LedgerEvent{
		Type:      EventBalanceChanged,
		AccountID: accountID,
		Kind:      models.LedgerWithdrawal,
		Delta:     -res.Request.Amount,
		Balance:   res.NewBalance,
		At:        at,
	})
	s.Events.Publish(LedgerEvent{
		Type:         EventWithdrawalCreated,
		AccountID:    accountID,
		WithdrawalID: res.Request.ID,
		Status:       string(res.Request.Status),
		Balance:      res.NewBalance,
		At:           at,
	})
	return res, nil
}

// methodLabel keeps the metric label set closed: anything that is not a
// known rail is counted under UNKNOWN.
func methodLabel(raw string) string {
	if m, ok := models.ParseWithdrawMethod(raw); ok {
		return string(m)
	}
	return "UNKNOWN"
}

func (s *WithdrawalService) request(ctx context.Context, accountID string, in WithdrawalInput) (WithdrawalResult, error) {
	if in.Amount <= 0 {
		return WithdrawalResult{}, ErrInvalidAmount
	}
	method, ok := models.ParseWithdrawMethod(in.Method)
	if !ok {
		return WithdrawalResult{}, ErrUnknownMethod
	}
	var wallet *string
	if method.RequiresWallet() && in.WalletAddress != nil {
		if w := strings.TrimSpace(*in.WalletAddress); w != "" {
			wallet = &w
		}
	}

	now := s.now()
	var result WithdrawalResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		settings, err := s.Settings.snapshot(tx)
		if err != nil {
			return err
		}
		if in.Amount < settings.MinWithdraw(method) {
			return ErrBelowMinimum
		}

		var acct models.Account
		if err := tx.Select("id", "balance", "banned").Where("id = ?", accountID).First(&acct).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return err
		}
		if acct.Banned {
			return ErrAccountBanned
		}
		if in.Amount > acct.Balance {
			return ErrInsufficientBalance
		}
		if method.RequiresWallet() && wallet == nil {
			return ErrMissingWalletAddress
		}

		res := tx.Model(&models.Account{}).
			Where("id = ? AND banned = ? AND balance >= ?", accountID, false, in.Amount).
			Update("balance", gorm.Expr("balance - ?", in.Amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientBalance
		}

		req := models.WithdrawalRequest{
			ID:            uuid.NewString(),
			AccountID:     accountID,
			Amount:        in.Amount,
			Method:        method,
			WalletAddress: wallet,
			Status:        models.WithdrawalPending,
			CreatedAt:     now,
		}
		if err := tx.Create(&req).Error; err != nil {
			return err
		}

		balance, err := appendLedgerEntry(tx, accountID, models.LedgerWithdrawal, -in.Amount, &req.ID, now)
		if err != nil {
			return err
		}
		result = WithdrawalResult{Request: req, NewBalance: balance}
		return nil
	})
	if err != nil {
		return WithdrawalResult{}, passThrough("request withdrawal", err)
	}
	return result, nil
}

// ParseDecision accepts "approved"/"approve" and "rejected"/"reject".
func ParseDecision(raw string) (models.WithdrawalStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved", "approve":
		return models.WithdrawalApproved, true
	case "rejected", "reject":
		return models.WithdrawalRejected, true
	}
	return "", false
}

// Resolve moves a pending withdrawal to approved or rejected. Only one of
// any number of concurrent resolutions can succeed; the others see
// ErrInvalidTransition.
func (s *WithdrawalService) Resolve(ctx context.Context, withdrawalID string, decision models.WithdrawalStatus, adminID string) (models.WithdrawalRequest, error) {
	req, refundBalance, err := s.resolve(ctx, withdrawalID, decision, adminID)
	monitoring.WithdrawalResolutionsTotal.WithLabelValues(string(decision), ErrorCode(err)).Inc()
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			logging.Logger.Error("[WITHDRAW] resolve failed", zap.String("withdrawal_id", withdrawalID), zap.Error(err))
		}
		return req, err
	}

	logging.Logger.Info("[WITHDRAW] withdrawal resolved",
		zap.String("withdrawal_id", req.ID),
		zap.String("status", string(req.Status)),
		zap.String("admin_id", adminID),
		zap.Bool("refunded", req.Refunded))

	at := s.now()
	if req.Refunded {
		s.Events.Publish(LedgerEvent{
			Type:      EventBalanceChanged,
			AccountID: req.AccountID,
			Kind:      models.LedgerRefund,
			Delta:     req.Amount,
			Balance:   refundBalance,
			At:        at,
		})
	}
	s.Events.Publish(LedgerEvent{
		Type:         EventWithdrawalUpdated,
		AccountID:    req.AccountID,
		WithdrawalID: req.ID,
		Status:       string(req.Status),
		Balance:      refundBalance,
		At:           at,
	})
	return req, nil
}

func (s *WithdrawalService) resolve(ctx context.Context, withdrawalID string, decision models.WithdrawalStatus, adminID string) (models.WithdrawalRequest, int64, error) {
	if decision != models.WithdrawalApproved && decision != models.WithdrawalRejected {
		return models.WithdrawalRequest{}, 0, ErrInvalidDecision
	}
	if _, err := uuid.Parse(withdrawalID); err != nil {
		return models.WithdrawalRequest{}, 0, ErrWithdrawalNotFound
	}

	now := s.now()
	var processedBy *string
	if adminID != "" {
		processedBy = &adminID
	}

	var req models.WithdrawalRequest
	var balance int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.WithdrawalRequest{}).
			Where("id = ? AND status = ?", withdrawalID, models.WithdrawalPending).
			Updates(map[string]interface{}{
				"status":       decision,
				"processed_at": now,
				"processed_by": processedBy,
			})
		if res.Error != nil {
			return res.Error
		}

		err := tx.Where("id = ?", withdrawalID).First(&req).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrWithdrawalNotFound
		}
		if err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			if req.Status.Terminal() {
				return ErrInvalidTransition
			}
			return fmt.Errorf("withdrawal %s left %s by guarded update", withdrawalID, req.Status)
		}

		if decision == models.WithdrawalRejected && s.RejectPolicy == RejectRefund {
			if err := tx.Model(&models.Account{}).
				Where("id = ?", req.AccountID).
				Update("balance", gorm.Expr("balance + ?", req.Amount)).Error; err != nil {
				return err
			}
			if err := tx.Model(&req).Update("refunded", true).Error; err != nil {
				return err
			}
			balance, err = appendLedgerEntry(tx, req.AccountID, models.LedgerRefund, req.Amount, &req.ID, now)
			if err != nil {
				return err
			}
			req.Refunded = true
			return nil
		}

		var acct models.Account
		if err := tx.Select("id", "balance").Where("id = ?", req.AccountID).First(&acct).Error; err != nil {
			return err
		}
		balance = acct.Balance
		return nil
	})
	if err != nil {
		return models.WithdrawalRequest{}, 0, passThrough("resolve withdrawal", err)
	}
	return req, balance, nil
}

// ListForAccount returns the account's withdrawals, newest first.
func (s *WithdrawalService) ListForAccount(ctx context.Context, accountID string) ([]models.WithdrawalRequest, error) {
	var list []models.WithdrawalRequest
	err := s.DB.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Find(&list).Error
	if err != nil {
		return nil, storageErr("list withdrawals", err)
	}
	return list, nil
}

// List returns withdrawals for the admin queue, optionally filtered by
// status. Pending requests come oldest first so they are handled in order.
func (s *WithdrawalService) List(ctx context.Context, status models.WithdrawalStatus, limit int) ([]models.WithdrawalRequest, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.DB.WithContext(ctx).Limit(limit)
	switch status {
	case "":
		q = q.Order("created_at DESC")
	case models.WithdrawalPending:
		q = q.Where("status = ?", status).Order("created_at ASC")
	default:
		q = q.Where("status = ?", status).Order("created_at DESC")
	}

	var list []models.WithdrawalRequest
	if err := q.Find(&list).Error; err != nil {
		return nil, storageErr("list withdrawals", err)
	}
	return list, nil
}
