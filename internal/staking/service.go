package staking

import (
	"context"
	"fmt"
	"time"

	"tradepro/internal/config"
	"tradepro/internal/ledger"
	"tradepro/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service manages staking positions: locking funds at a fixed APY and
// crediting principal plus accrued rewards back at maturity. All money
// movement goes through the ledger with the same unit-of-work contract as
// trade settlement.
type Service struct {
	logger *zap.Logger
	cfg    *config.Staking
	db     *gorm.DB
	ledger *ledger.Service
}

// NewService creates a staking service.
func NewService(logger *zap.Logger, cfg *config.Staking, db *gorm.DB, ledgerSvc *ledger.Service) *Service {
	return &Service{logger: logger, cfg: cfg, db: db, ledger: ledgerSvc}
}

// Stake locks amount from the user's real balance for durationDays.
// Zero durationDays or apy fall back to the configured defaults.
func (s *Service) Stake(ctx context.Context, userID uint, amount decimal.Decimal, durationDays int, apy decimal.Decimal) (*models.StakingPosition, error) {
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: stake amount %s", ledger.ErrInvalidAmount, amount)
	}
	if durationDays <= 0 {
		durationDays = s.cfg.DefaultDurationDays
	}
	if apy.Sign() <= 0 {
		apy = decimal.NewFromFloat(s.cfg.DefaultAPY)
	}

	now := time.Now().UTC()
	position := &models.StakingPosition{
		UserID:       userID,
		Amount:       amount,
		APY:          apy,
		DurationDays: durationDays,
		StartDate:    now,
		EndDate:      now.AddDate(0, 0, durationDays),
		Status:       models.StakingStatusActive,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.ledger.Debit(tx, userID, false, amount); err != nil {
			return err
		}
		if err := tx.Create(position).Error; err != nil {
			return fmt.Errorf("failed to create staking position: %w", err)
		}
		return s.ledger.Record(tx, &models.Transaction{
			UserID: userID,
			Type:   models.TxTypeStaking,
			Amount: amount.Neg(),
			IsDemo: false,
			Description: fmt.Sprintf("Staked $%s for %d days at %s%% APY",
				amount.StringFixed(2), durationDays, apy.StringFixed(2)),
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Staking position opened",
		zap.Uint("position_id", position.ID),
		zap.Uint("user_id", userID),
		zap.String("amount", amount.String()),
		zap.Int("duration_days", durationDays),
	)
	return position, nil
}

// PositionsForUser returns the user's staking positions, newest first.
func (s *Service) PositionsForUser(userID uint) ([]models.StakingPosition, error) {
	var positions []models.StakingPosition
	err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&positions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list staking positions: %w", err)
	}
	return positions, nil
}

// ProcessMatured completes every active position past its end date,
// crediting principal plus full rewards. Failures on one position are
// isolated from the rest of the sweep. Returns the number completed.
func (s *Service) ProcessMatured(ctx context.Context, asOf time.Time) (int, error) {
	var matured []models.StakingPosition
	err := s.db.
		Where("status = ? AND end_date <= ?", models.StakingStatusActive, asOf).
		Find(&matured).Error
	if err != nil {
		return 0, fmt.Errorf("failed to find matured positions: %w", err)
	}

	completed := 0
	for i := range matured {
		position := &matured[i]
		paid, err := s.completePosition(position, asOf)
		if err != nil {
			s.logger.Error("Failed to complete staking position",
				zap.Uint("position_id", position.ID), zap.Error(err))
			continue
		}
		if paid {
			completed++
		}
	}
	return completed, nil
}

// completePosition pays out a single position. It reports whether this call
// actually paid: a position completed by a concurrent sweep is not an error,
// but it must not inflate the caller's count.
func (s *Service) completePosition(position *models.StakingPosition, asOf time.Time) (bool, error) {
	rewards := position.AccruedRewards(asOf)
	total := position.Amount.Add(rewards)

	paid := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		// Guard on status so a concurrent sweep cannot pay twice.
		result := tx.Model(&models.StakingPosition{}).
			Where("id = ? AND status = ?", position.ID, models.StakingStatusActive).
			Updates(map[string]interface{}{
				"status":         models.StakingStatusCompleted,
				"rewards_earned": rewards,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return nil // already completed elsewhere
		}
		paid = true

		if err := s.ledger.Credit(tx, position.UserID, false, total); err != nil {
			return err
		}
		return s.ledger.Record(tx, &models.Transaction{
			UserID: position.UserID,
			Type:   models.TxTypeStaking,
			Amount: total,
			IsDemo: false,
			Description: fmt.Sprintf("Staking matured: $%s principal + $%s rewards",
				position.Amount.StringFixed(2), rewards.StringFixed(2)),
		})
	})
	if err != nil {
		return false, err
	}
	return paid, nil
}
