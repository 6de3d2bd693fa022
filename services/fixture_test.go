package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"rewards-ledger-system/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err, "open sqlite")

	// One connection serializes writers so concurrent tests never hit
	// SQLITE_BUSY; atomicity still comes from the statements themselves.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, models.AutoMigrate(db), "migrate")
	return db
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	db          *gorm.DB
	clock       *testClock
	events      *EventHub
	settings    *SettingsService
	tasks       *TaskService
	accounts    *AccountService
	ledger      *LedgerService
	withdrawals *WithdrawalService
	journal     *JournalService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupTestDB(t)
	clock := newTestClock()
	events := NewEventHub(64)
	settings := NewSettingsService(db)
	require.NoError(t, settings.EnsureDefaults(context.Background()))
	tasks := NewTaskService(db)

	f := &fixture{
		db:          db,
		clock:       clock,
		events:      events,
		settings:    settings,
		tasks:       tasks,
		accounts:    NewAccountService(db, settings, events),
		ledger:      NewLedgerService(db, settings, tasks, events),
		withdrawals: NewWithdrawalService(db, settings, events, RejectRefund),
		journal:     NewJournalService(db),
	}
	f.accounts.Now = clock.Now
	f.ledger.Now = clock.Now
	f.withdrawals.Now = clock.Now
	return f
}

func (f *fixture) register(t *testing.T, externalID string) models.Account {
	t.Helper()
	acct, created, err := f.accounts.Register(context.Background(), Identity{ExternalID: externalID})
	require.NoError(t, err)
	require.True(t, created)
	return acct
}

// fund sets a balance directly, bypassing the journal.
func (f *fixture) fund(t *testing.T, accountID string, balance int64) {
	t.Helper()
	require.NoError(t, f.db.Model(&models.Account{}).Where("id = ?", accountID).Update("balance", balance).Error)
}

func (f *fixture) balance(t *testing.T, accountID string) int64 {
	t.Helper()
	var acct models.Account
	require.NoError(t, f.db.Where("id = ?", accountID).First(&acct).Error)
	return acct.Balance
}

func (f *fixture) setSettings(t *testing.T, patch SettingsPatch) {
	t.Helper()
	_, err := f.settings.Update(context.Background(), patch)
	require.NoError(t, err)
}

func (f *fixture) createTask(t *testing.T, title string, reward int64) models.Task {
	t.Helper()
	task, err := f.tasks.Create(context.Background(), TaskInput{Title: title, RewardPoints: &reward})
	require.NoError(t, err)
	return task
}
