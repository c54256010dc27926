package ledger

import (
	"fmt"

	"tradepro/internal/config"
	"tradepro/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service owns wallet balances and the append-only transaction log. It is
// the only component allowed to mutate a wallet. Debit, Credit and Record
// take the caller's open transaction handle so a wallet change and its
// explaining ledger entry commit or roll back together.
type Service struct {
	db                 *gorm.DB
	logger             *zap.Logger
	initialBalance     decimal.Decimal
	initialDemoBalance decimal.Decimal
}

// NewService creates a ledger service. New wallets start with the configured
// real and demo balances.
func NewService(db *gorm.DB, cfg *config.Trading, logger *zap.Logger) *Service {
	return &Service{
		db:                 db,
		logger:             logger,
		initialBalance:     decimal.NewFromFloat(cfg.InitialBalance),
		initialDemoBalance: decimal.NewFromFloat(cfg.InitialDemoBalance),
	}
}

// Wallet returns the user's wallet, creating it with the configured starting
// balances on first access.
func (s *Service) Wallet(userID uint) (*models.Wallet, error) {
	return s.walletIn(s.db, userID)
}

func (s *Service) walletIn(tx *gorm.DB, userID uint) (*models.Wallet, error) {
	wallet := models.Wallet{
		UserID:      userID,
		Balance:     s.initialBalance,
		DemoBalance: s.initialDemoBalance,
	}
	if err := tx.Where(models.Wallet{UserID: userID}).FirstOrCreate(&wallet).Error; err != nil {
		return nil, fmt.Errorf("failed to load wallet for user %d: %w", userID, err)
	}
	return &wallet, nil
}

// Debit atomically checks and decrements a balance. On ErrInsufficientFunds
// nothing is mutated. Must be called inside a database transaction.
func (s *Service) Debit(tx *gorm.DB, userID uint, demo bool, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: debit amount %s", ErrInvalidAmount, amount)
	}

	wallet, err := s.walletIn(tx, userID)
	if err != nil {
		return err
	}

	balance := wallet.BalanceFor(demo)
	if balance.LessThan(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, balance, amount)
	}

	return s.setBalance(tx, wallet, demo, balance.Sub(amount))
}

// Credit atomically increments a balance. Amount must be non-negative; a
// zero credit is a no-op so informational entries can share the code path.
func (s *Service) Credit(tx *gorm.DB, userID uint, demo bool, amount decimal.Decimal) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: credit amount %s", ErrInvalidAmount, amount)
	}
	if amount.IsZero() {
		return nil
	}

	wallet, err := s.walletIn(tx, userID)
	if err != nil {
		return err
	}

	return s.setBalance(tx, wallet, demo, wallet.BalanceFor(demo).Add(amount))
}

// AddInvested bumps the wallet's lifetime invested total. Real money only;
// demo stakes are play money and do not count toward the figure.
func (s *Service) AddInvested(tx *gorm.DB, userID uint, amount decimal.Decimal) error {
	wallet, err := s.walletIn(tx, userID)
	if err != nil {
		return err
	}
	total := wallet.TotalInvested.Add(amount)
	if err := tx.Model(wallet).Update("total_invested", total).Error; err != nil {
		return fmt.Errorf("failed to update wallet %d: %w", wallet.ID, err)
	}
	return nil
}

func (s *Service) setBalance(tx *gorm.DB, wallet *models.Wallet, demo bool, balance decimal.Decimal) error {
	column := "balance"
	if demo {
		column = "demo_balance"
	}
	if err := tx.Model(wallet).Update(column, balance).Error; err != nil {
		return fmt.Errorf("failed to update wallet %d: %w", wallet.ID, err)
	}
	return nil
}

// Record appends an immutable transaction row. A reference is assigned when
// the caller did not supply one.
func (s *Service) Record(tx *gorm.DB, txn *models.Transaction) error {
	if txn.Reference == "" {
		txn.Reference = uuid.NewString()
	}
	if txn.Status == "" {
		txn.Status = models.TxStatusCompleted
	}
	if err := tx.Create(txn).Error; err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	s.logger.Debug("Recorded transaction",
		zap.Uint("user_id", txn.UserID),
		zap.String("type", txn.Type),
		zap.String("amount", txn.Amount.String()),
	)
	return nil
}

// Transactions returns the user's most recent ledger entries.
func (s *Service) Transactions(userID uint, limit int) ([]models.Transaction, error) {
	var txns []models.Transaction
	query := s.db.Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&txns).Error; err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txns, nil
}
