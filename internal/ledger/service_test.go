package ledger

import (
	"errors"
	"testing"

	"tradepro/internal/config"
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

	err = db.AutoMigrate(&models.Wallet{}, &models.Transaction{})
	require.NoError(t, err)

	cfg := &config.Trading{InitialBalance: 1000.0, InitialDemoBalance: 10000.0}
	return NewService(db, cfg, zap.NewNop()), db
}

func TestWallet_LazyCreation(t *testing.T) {
	svc, db := setupTest(t)

	wallet, err := svc.Wallet(1)
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(1000)))
	assert.True(t, wallet.DemoBalance.Equal(decimal.NewFromInt(10000)))

	// Second access returns the same wallet, not a new one.
	again, err := svc.Wallet(1)
	require.NoError(t, err)
	assert.Equal(t, wallet.ID, again.ID)

	var count int64
	db.Model(&models.Wallet{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestDebit_InsufficientFunds(t *testing.T) {
	svc, db := setupTest(t)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Debit(tx, 1, false, decimal.NewFromInt(5000))
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// Nothing mutated.
	wallet, err := svc.Wallet(1)
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(1000)))
}

func TestDebit_ByBalanceClass(t *testing.T) {
	svc, _ := setupTest(t)

	err := svc.db.Transaction(func(tx *gorm.DB) error {
		return svc.Debit(tx, 1, true, decimal.NewFromInt(250))
	})
	require.NoError(t, err)

	wallet, err := svc.Wallet(1)
	require.NoError(t, err)
	assert.True(t, wallet.DemoBalance.Equal(decimal.NewFromInt(9750)))
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(1000)), "real balance untouched by demo debit")
}

func TestDebit_InvalidAmount(t *testing.T) {
	svc, _ := setupTest(t)

	err := svc.db.Transaction(func(tx *gorm.DB) error {
		return svc.Debit(tx, 1, false, decimal.NewFromInt(-5))
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCredit(t *testing.T) {
	svc, _ := setupTest(t)

	err := svc.db.Transaction(func(tx *gorm.DB) error {
		return svc.Credit(tx, 1, false, decimal.NewFromInt(190))
	})
	require.NoError(t, err)

	wallet, err := svc.Wallet(1)
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(1190)))

	err = svc.db.Transaction(func(tx *gorm.DB) error {
		return svc.Credit(tx, 1, false, decimal.NewFromInt(-1))
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestRecord_AssignsReferenceAndStatus(t *testing.T) {
	svc, db := setupTest(t)

	txn := &models.Transaction{
		UserID: 1,
		Type:   models.TxTypeDeposit,
		Amount: decimal.NewFromInt(500),
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Record(tx, txn)
	})
	require.NoError(t, err)
	assert.NotEmpty(t, txn.Reference)
	assert.Equal(t, models.TxStatusCompleted, txn.Status)
}

// A failed unit of work must roll back both the balance change and the
// transaction record.
func TestAtomicity_RollbackOnFailure(t *testing.T) {
	svc, db := setupTest(t)

	boom := errors.New("boom")
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := svc.Debit(tx, 1, false, decimal.NewFromInt(100)); err != nil {
			return err
		}
		if err := svc.Record(tx, &models.Transaction{
			UserID: 1, Type: models.TxTypeTrade, Amount: decimal.NewFromInt(-100),
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	wallet, err := svc.Wallet(1)
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(1000)))

	var count int64
	db.Model(&models.Transaction{}).Count(&count)
	assert.Zero(t, count)
}

// Reconciliation: the sum of a balance class's transaction amounts equals
// the balance delta from the starting balance.
func TestReconciliation(t *testing.T) {
	svc, db := setupTest(t)

	apply := func(amount decimal.Decimal, txType string) {
		err := db.Transaction(func(tx *gorm.DB) error {
			if amount.Sign() < 0 {
				if err := svc.Debit(tx, 1, false, amount.Neg()); err != nil {
					return err
				}
			} else if amount.Sign() > 0 {
				if err := svc.Credit(tx, 1, false, amount); err != nil {
					return err
				}
			}
			return svc.Record(tx, &models.Transaction{
				UserID: 1, Type: txType, Amount: amount,
			})
		})
		require.NoError(t, err)
	}

	apply(decimal.NewFromInt(-100), models.TxTypeTrade)
	apply(decimal.NewFromInt(190), models.TxTypeTradeCredit)
	apply(decimal.NewFromInt(-50), models.TxTypeTrade)
	apply(decimal.Zero, models.TxTypeTradeLoss) // informational entry

	txns, err := svc.Transactions(1, 0)
	require.NoError(t, err)
	require.Len(t, txns, 4)

	sum := decimal.Zero
	for _, txn := range txns {
		sum = sum.Add(txn.Amount)
	}

	wallet, err := svc.Wallet(1)
	require.NoError(t, err)
	delta := wallet.Balance.Sub(decimal.NewFromInt(1000))
	assert.True(t, sum.Equal(delta), "transaction sum %s != balance delta %s", sum, delta)
}
