package services

import (
	"context"

	"rewards-ledger-system/models"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gorm.io/gorm"
)

// AdminStats is the dashboard summary shown in the admin console.
type AdminStats struct {
	Accounts           int64  `json:"accounts"`
	BannedAccounts     int64  `json:"banned_accounts"`
	PointsOutstanding  int64  `json:"points_outstanding"`
	PointsDisplay      string `json:"points_display"`
	PendingWithdrawals int64  `json:"pending_withdrawals"`
	PendingAmount      int64  `json:"pending_amount"`
	PendingDisplay     string `json:"pending_display"`
	ActiveTasks        int64  `json:"active_tasks"`
	SettingsVersion    int64  `json:"settings_version"`
}

type StatsService struct {
	DB       *gorm.DB
	Settings *SettingsService
	printer  *message.Printer
}

func NewStatsService(db *gorm.DB, settings *SettingsService) *StatsService {
	return &StatsService{DB: db, Settings: settings, printer: message.NewPrinter(language.English)}
}

func (s *StatsService) Summary(ctx context.Context) (AdminStats, error) {
	var st AdminStats
	db := s.DB.WithContext(ctx)

	if err := db.Model(&models.Account{}).Count(&st.Accounts).Error; err != nil {
		return st, storageErr("count accounts", err)
	}
	if err := db.Model(&models.Account{}).Where("banned = ?", true).Count(&st.BannedAccounts).Error; err != nil {
		return st, storageErr("count banned", err)
	}
	if err := db.Model(&models.Account{}).Select("COALESCE(SUM(balance), 0)").Scan(&st.PointsOutstanding).Error; err != nil {
		return st, storageErr("sum balances", err)
	}
	pending := db.Model(&models.WithdrawalRequest{}).Where("status = ?", models.WithdrawalPending)
	if err := pending.Count(&st.PendingWithdrawals).Error; err != nil {
		return st, storageErr("count pending withdrawals", err)
	}
	if err := db.Model(&models.WithdrawalRequest{}).
		Where("status = ?", models.WithdrawalPending).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&st.PendingAmount).Error; err != nil {
		return st, storageErr("sum pending withdrawals", err)
	}
	if err := db.Model(&models.Task{}).Where("active = ?", true).Count(&st.ActiveTasks).Error; err != nil {
		return st, storageErr("count tasks", err)
	}

	settings, err := s.Settings.Snapshot(ctx)
	if err != nil {
		return st, err
	}
	st.SettingsVersion = settings.Version
	st.PointsDisplay = s.printer.Sprintf("%d pts", st.PointsOutstanding)
	st.PendingDisplay = s.printer.Sprintf("%d pts", st.PendingAmount)
	return st, nil
}
