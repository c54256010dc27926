package staking

import (
	"context"
	"testing"
	"time"

	"tradepro/internal/config"
	"tradepro/internal/ledger"
	"tradepro/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTest(t *testing.T) (*Service, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.Wallet{}, &models.Transaction{}, &models.StakingPosition{})
	require.NoError(t, err)

	ledgerSvc := ledger.NewService(db, &config.Trading{
		InitialBalance:     1000.0,
		InitialDemoBalance: 10000.0,
	}, zap.NewNop())
	cfg := &config.Staking{DefaultAPY: 12.0, DefaultDurationDays: 30}

	return NewService(zap.NewNop(), cfg, db, ledgerSvc), db
}

func realBalance(t *testing.T, db *gorm.DB, userID uint) decimal.Decimal {
	var wallet models.Wallet
	require.NoError(t, db.Where("user_id = ?", userID).First(&wallet).Error)
	return wallet.Balance
}

func TestStake_DebitsAndRecords(t *testing.T) {
	svc, db := setupTest(t)

	position, err := svc.Stake(context.Background(), 1, decimal.NewFromInt(500), 0, decimal.Zero)

	require.NoError(t, err)
	assert.Equal(t, models.StakingStatusActive, position.Status)
	assert.Equal(t, 30, position.DurationDays) // default
	assert.True(t, position.APY.Equal(decimal.NewFromInt(12)))
	assert.True(t, realBalance(t, db, 1).Equal(decimal.NewFromInt(500)))

	var txn models.Transaction
	require.NoError(t, db.Where("type = ?", models.TxTypeStaking).First(&txn).Error)
	assert.True(t, txn.Amount.Equal(decimal.NewFromInt(-500)))
}

func TestStake_InsufficientFunds(t *testing.T) {
	svc, db := setupTest(t)

	_, err := svc.Stake(context.Background(), 1, decimal.NewFromInt(5000), 30, decimal.Zero)

	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.True(t, realBalance(t, db, 1).Equal(decimal.NewFromInt(1000)))

	var count int64
	db.Model(&models.StakingPosition{}).Count(&count)
	assert.Zero(t, count)
}

func TestAccruedRewards(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	position := &models.StakingPosition{
		Amount:       decimal.NewFromInt(1000),
		APY:          decimal.NewFromInt(12),
		DurationDays: 30,
		StartDate:    start,
		EndDate:      start.AddDate(0, 0, 30),
		Status:       models.StakingStatusActive,
	}

	// Full term: 1000 * (12/365/100) * 30 = 9.86.
	full := position.AccruedRewards(start.AddDate(0, 0, 30))
	assert.True(t, full.Equal(decimal.RequireFromString("9.86")), "got %s", full)

	// Partial: 15 whole days elapsed.
	partial := position.AccruedRewards(start.AddDate(0, 0, 15))
	assert.True(t, partial.Equal(decimal.RequireFromString("4.93")), "got %s", partial)

	// Nothing accrues before the first whole day.
	early := position.AccruedRewards(start.Add(time.Hour))
	assert.True(t, early.IsZero())
}

func TestProcessMatured_CreditsPrincipalPlusRewards(t *testing.T) {
	svc, db := setupTest(t)

	position, err := svc.Stake(context.Background(), 1, decimal.NewFromInt(500), 30, decimal.Zero)
	require.NoError(t, err)

	asOf := position.EndDate.Add(time.Hour)
	completed, err := svc.ProcessMatured(context.Background(), asOf)

	require.NoError(t, err)
	assert.Equal(t, 1, completed)

	var reloaded models.StakingPosition
	require.NoError(t, db.First(&reloaded, position.ID).Error)
	assert.Equal(t, models.StakingStatusCompleted, reloaded.Status)

	// 500 * (12/365/100) * 30 = 4.93 rewards; balance 1000 - 500 + 504.93.
	assert.True(t, reloaded.RewardsEarned.Equal(decimal.RequireFromString("4.93")),
		"got %s", reloaded.RewardsEarned)
	assert.True(t, realBalance(t, db, 1).Equal(decimal.RequireFromString("1004.93")))
}

func TestProcessMatured_DoesNotPayTwice(t *testing.T) {
	svc, db := setupTest(t)

	position, err := svc.Stake(context.Background(), 1, decimal.NewFromInt(500), 30, decimal.Zero)
	require.NoError(t, err)

	asOf := position.EndDate.Add(time.Hour)
	_, err = svc.ProcessMatured(context.Background(), asOf)
	require.NoError(t, err)
	balance := realBalance(t, db, 1)

	completed, err := svc.ProcessMatured(context.Background(), asOf)
	require.NoError(t, err)
	assert.Zero(t, completed)
	assert.True(t, realBalance(t, db, 1).Equal(balance))
}

func TestCompletePosition_LostRaceIsNotCounted(t *testing.T) {
	svc, db := setupTest(t)

	position, err := svc.Stake(context.Background(), 1, decimal.NewFromInt(500), 30, decimal.Zero)
	require.NoError(t, err)

	asOf := position.EndDate.Add(time.Hour)
	_, err = svc.ProcessMatured(context.Background(), asOf)
	require.NoError(t, err)
	balance := realBalance(t, db, 1)

	// A stale snapshot from a concurrent sweep: the row is already completed.
	stale := *position
	paid, err := svc.completePosition(&stale, asOf)

	require.NoError(t, err)
	assert.False(t, paid)
	assert.True(t, realBalance(t, db, 1).Equal(balance))
}

func TestProcessMatured_SkipsUnmatured(t *testing.T) {
	svc, _ := setupTest(t)

	_, err := svc.Stake(context.Background(), 1, decimal.NewFromInt(500), 30, decimal.Zero)
	require.NoError(t, err)

	completed, err := svc.ProcessMatured(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, completed)
}
