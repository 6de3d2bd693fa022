package services

import (
	"context"
	"errors"
	"testing"

	"rewards-ledger-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const failJournalCallback = "test:fail_journal_insert"

// failJournalWrites makes every ledger entry insert fail, which happens after
// the balance update and the withdrawal or completion insert in the same tx.
func failJournalWrites(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register(failJournalCallback, func(tx *gorm.DB) {
		if tx.Statement.Table == "ledger_entries" {
			_ = tx.AddError(errors.New("disk I/O error"))
		}
	}))
}

func restoreJournalWrites(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Callback().Create().Remove(failJournalCallback))
}

func (f *fixture) count(t *testing.T, model interface{}, accountID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Where("account_id = ?", accountID).Count(&n).Error)
	return n
}

func TestWithdrawalStorageFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.register(t, "tg-6001")
	f.fund(t, acct.ID, 2000)

	failJournalWrites(t, f.db)
	_, err := f.withdrawals.Request(ctx, acct.ID, WithdrawalInput{Amount: 1500, Method: "STARS"})
	require.ErrorIs(t, err, ErrStorageUnavailable)

	assert.Equal(t, int64(2000), f.balance(t, acct.ID))
	assert.Zero(t, f.count(t, &models.WithdrawalRequest{}, acct.ID))
	assert.Zero(t, f.count(t, &models.LedgerEntry{}, acct.ID))

	// Nothing was half-applied, so a retry succeeds normally.
	restoreJournalWrites(t, f.db)
	res, err := f.withdrawals.Request(ctx, acct.ID, WithdrawalInput{Amount: 1500, Method: "STARS"})
	require.NoError(t, err)
	assert.Equal(t, int64(500), res.NewBalance)
}

func TestTaskCompletionStorageFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.register(t, "tg-6002")
	f.fund(t, acct.ID, 2000)
	task := f.createTask(t, "Subscribe", 40)

	failJournalWrites(t, f.db)
	_, err := f.ledger.CompleteTask(ctx, acct.ID, task.ID)
	require.ErrorIs(t, err, ErrStorageUnavailable)

	assert.Equal(t, int64(2000), f.balance(t, acct.ID))
	assert.Zero(t, f.count(t, &models.TaskCompletion{}, acct.ID))
	assert.Zero(t, f.count(t, &models.LedgerEntry{}, acct.ID))

	restoreJournalWrites(t, f.db)
	res, err := f.ledger.CompleteTask(ctx, acct.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2040), res.NewBalance)
}
