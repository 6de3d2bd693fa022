package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rewards-ledger-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimScenarioDailyThenAdThenCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setSettings(t, SettingsPatch{
		DailyRewardPoints: ptr(int64(10)),
		AdRewardPoints:    ptr(int64(5)),
		AdCooldownSeconds: ptr(int64(60)),
	})
	acct := f.register(t, "tg-1001")
	require.Zero(t, acct.Balance)

	res, err := f.ledger.ClaimDaily(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.NewBalance)

	res, err = f.ledger.ClaimAd(ctx, acct.ID, AdShown)
	require.NoError(t, err)
	assert.Equal(t, int64(15), res.NewBalance)

	_, err = f.ledger.ClaimAd(ctx, acct.ID, AdShown)
	require.ErrorIs(t, err, ErrCooldownActive)
	assert.Equal(t, int64(15), f.balance(t, acct.ID))
}

func TestClaimDailyWindowBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.register(t, "tg-1002")

	first, err := f.ledger.ClaimDaily(ctx, acct.ID)
	require.NoError(t, err)
	require.NotNil(t, first.NextClaimAt)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), *first.NextClaimAt)

	f.clock.Advance(24*time.Hour - time.Second)
	_, err = f.ledger.ClaimDaily(ctx, acct.ID)
	require.ErrorIs(t, err, ErrCooldownActive)

	var cooldown *CooldownError
	require.True(t, errors.As(err, &cooldown))
	assert.Equal(t, first.NextClaimAt.UTC(), cooldown.NextAt.UTC())

	f.clock.Advance(2 * time.Second)
	res, err := f.ledger.ClaimDaily(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 2*first.Awarded, res.NewBalance)
}

func TestClaimAdAwardsRegardlessOfDisplayOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.register(t, "tg-1003")

	res, err := f.ledger.ClaimAd(ctx, acct.ID, AdFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Awarded)

	f.clock.Advance(61 * time.Second)
	res, err = f.ledger.ClaimAd(ctx, acct.ID, ParseAdOutcome("garbage"))
	require.NoError(t, err)
	assert.Equal(t, int64(20), res.NewBalance)
}

func TestClaimUsesSettingsAtCallTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.register(t, "tg-1004")

	f.setSettings(t, SettingsPatch{AdRewardPoints: ptr(int64(7)), AdCooldownSeconds: ptr(int64(0))})
	res, err := f.ledger.ClaimAd(ctx, acct.ID, AdShown)
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Awarded)

	f.setSettings(t, SettingsPatch{AdRewardPoints: ptr(int64(3))})
	res, err = f.ledger.ClaimAd(ctx, acct.ID, AdShown)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Awarded)
	assert.Equal(t, int64(10), res.NewBalance)
}

func TestClaimRejectsUnknownAndBannedAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.ClaimDaily(ctx, "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, ErrAccountNotFound)

	acct := f.register(t, "tg-1005")
	_, err = f.accounts.SetBanned(ctx, acct.ID, true)
	require.NoError(t, err)

	_, err = f.ledger.ClaimDaily(ctx, acct.ID)
	require.ErrorIs(t, err, ErrAccountBanned)
	_, err = f.ledger.ClaimAd(ctx, acct.ID, AdShown)
	require.ErrorIs(t, err, ErrAccountBanned)
	assert.Zero(t, f.balance(t, acct.ID))
}

func TestConcurrentDailyClaimsCreditOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.register(t, "tg-1006")

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.ledger.ClaimDaily(ctx, acct.ID)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, ErrCooldownActive)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, int64(100), f.balance(t, acct.ID))
}

func TestCompleteTaskIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.register(t, "tg-1007")
	task := f.createTask(t, "Join the channel", 40)

	res, err := f.ledger.CompleteTask(ctx, acct.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), res.NewBalance)

	_, err = f.ledger.CompleteTask(ctx, acct.ID, task.ID)
	require.ErrorIs(t, err, ErrAlreadyCompleted)
	assert.Equal(t, int64(40), f.balance(t, acct.ID))

	var completions int64
	require.NoError(t, f.db.Model(&models.TaskCompletion{}).Where("account_id = ?", acct.ID).Count(&completions).Error)
	assert.Equal(t, int64(1), completions)
}

func TestCompleteTaskConcurrentSingleCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.register(t, "tg-1008")
	task := f.createTask(t, "Visit site", 25)

	var wg sync.WaitGroup
	results := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.CompleteTask(ctx, acct.ID, task.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		if err == nil {
			ok++
		} else {
			require.ErrorIs(t, err, ErrAlreadyCompleted)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, int64(25), f.balance(t, acct.ID))
}

func TestCompleteTaskMissingOrInactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.register(t, "tg-1009")

	_, err := f.ledger.CompleteTask(ctx, acct.ID, "not-a-uuid")
	require.ErrorIs(t, err, ErrTaskNotFound)
	_, err = f.ledger.CompleteTask(ctx, acct.ID, "6f1c1c7e-8f6a-4d0b-9a57-0d3c1f8f0a11")
	require.ErrorIs(t, err, ErrTaskNotFound)

	task := f.createTask(t, "Old promo", 30)
	require.NoError(t, f.tasks.Deactivate(ctx, task.ID))
	_, err = f.ledger.CompleteTask(ctx, acct.ID, task.ID)
	require.ErrorIs(t, err, ErrTaskInactive)

	assert.Zero(t, f.balance(t, acct.ID))
}

func TestCreditReferralAddsAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.register(t, "tg-1010")

	balance, err := f.ledger.CreditReferral(ctx, acct.ID, 70, "")
	require.NoError(t, err)
	assert.Equal(t, int64(70), balance)

	_, err = f.ledger.CreditReferral(ctx, acct.ID, -1, "")
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.ledger.CreditReferral(ctx, "00000000-0000-0000-0000-000000000000", 5, "")
	require.ErrorIs(t, err, ErrAccountNotFound)
	assert.Equal(t, int64(70), f.balance(t, acct.ID))
}

func TestJournalMatchesBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.register(t, "tg-1011")
	task := f.createTask(t, "Follow us", 500)

	_, err := f.ledger.ClaimDaily(ctx, acct.ID)
	require.NoError(t, err)
	_, err = f.ledger.ClaimAd(ctx, acct.ID, AdShown)
	require.NoError(t, err)
	_, err = f.ledger.CompleteTask(ctx, acct.ID, task.ID)
	require.NoError(t, err)
	_, err = f.withdrawals.Request(ctx, acct.ID, WithdrawalInput{Amount: 600, Method: "stars"})
	require.NoError(t, err)

	sum, err := f.journal.Sum(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, f.balance(t, acct.ID), sum)

	entries, err := f.journal.History(ctx, acct.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	kinds := map[models.LedgerEntryKind]bool{}
	for _, e := range entries {
		kinds[e.Kind] = true
	}
	assert.True(t, kinds[models.LedgerDaily] && kinds[models.LedgerAd] && kinds[models.LedgerTask] && kinds[models.LedgerWithdrawal])
}

func TestClaimPublishesBalanceEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.register(t, "tg-1012")

	ch, cancel := f.events.Subscribe(acct.ID)
	defer cancel()

	_, err := f.ledger.ClaimDaily(ctx, acct.ID)
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, EventBalanceChanged, ev.Type)
		assert.Equal(t, models.LedgerDaily, ev.Kind)
		assert.Equal(t, int64(100), ev.Balance)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestClaimReadsClockOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.register(t, "tg-1013")
	task := f.createTask(t, "Read the rules", 5)

	var reads int
	f.ledger.Now = func() time.Time {
		reads++
		return f.clock.Now()
	}
	ch, cancel := f.events.Subscribe(acct.ID)
	defer cancel()

	_, err := f.ledger.ClaimDaily(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reads)
	assert.Equal(t, f.clock.Now(), (<-ch).At)

	// The rejected claim explains itself from the same instant.
	f.clock.Advance(time.Hour)
	reads = 0
	_, err = f.ledger.ClaimDaily(ctx, acct.ID)
	var cooldown *CooldownError
	require.True(t, errors.As(err, &cooldown))
	assert.Equal(t, 1, reads)
	assert.Equal(t, f.clock.Now().Add(23*time.Hour), cooldown.NextAt)

	reads = 0
	_, err = f.ledger.CompleteTask(ctx, acct.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reads)
}
