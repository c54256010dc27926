package trades

import (
	"errors"
	"fmt"
	"time"

	"tradepro/internal/models"

	"gorm.io/gorm"
)

// ErrTradeNotFound is returned when no trade exists with the given id.
var ErrTradeNotFound = errors.New("trade not found")

// Store is the persistence and query surface for Trade entities.
type Store struct {
	db *gorm.DB
}

// NewStore creates a trade store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create persists a new trade inside the caller's transaction.
func (s *Store) Create(tx *gorm.DB, trade *models.Trade) error {
	if err := tx.Create(trade).Error; err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

// Get returns the trade with the given id.
func (s *Store) Get(id uint) (*models.Trade, error) {
	var trade models.Trade
	if err := s.db.First(&trade, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrTradeNotFound, id)
		}
		return nil, fmt.Errorf("failed to get trade %d: %w", id, err)
	}
	return &trade, nil
}

// FindExpiredActive returns all active trades due for settlement at asOf.
// A trade expiring exactly at asOf is due.
func (s *Store) FindExpiredActive(asOf time.Time) ([]models.Trade, error) {
	var due []models.Trade
	err := s.db.
		Where("status = ? AND expiry_time <= ?", models.TradeStatusActive, asOf).
		Order("expiry_time ASC").
		Find(&due).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find expired trades: %w", err)
	}
	return due, nil
}

// FindActiveForUser returns the user's open trades, newest first.
func (s *Store) FindActiveForUser(userID uint) ([]models.Trade, error) {
	var active []models.Trade
	err := s.db.
		Where("user_id = ? AND status = ?", userID, models.TradeStatusActive).
		Order("created_at DESC").
		Find(&active).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find active trades: %w", err)
	}
	return active, nil
}

// FindHistoryForUser returns the user's settled trades, newest first.
func (s *Store) FindHistoryForUser(userID uint, limit int) ([]models.Trade, error) {
	var history []models.Trade
	query := s.db.
		Where("user_id = ? AND status IN ?", userID, []string{
			models.TradeStatusWon, models.TradeStatusLost, models.TradeStatusCancelled,
		}).
		Order("closed_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&history).Error; err != nil {
		return nil, fmt.Errorf("failed to find trade history: %w", err)
	}
	return history, nil
}

// TryClaimForSettlement transitions a trade from active to settling.
// The conditional update is the mutual exclusion primitive for settlement:
// of any number of concurrent claimants exactly one sees an affected row.
func (s *Store) TryClaimForSettlement(id uint) (bool, error) {
	result := s.db.Model(&models.Trade{}).
		Where("id = ? AND status = ?", id, models.TradeStatusActive).
		Update("status", models.TradeStatusSettling)
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim trade %d: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ReclaimStaleSettling reverts settling trades last touched before the cutoff
// back to active, recovering claims stranded by a crash between the claim and
// the settlement unit of work. A live settler that loses its claim this way
// cannot double-settle: the terminal mark is guarded on the settling status.
func (s *Store) ReclaimStaleSettling(before time.Time) (int64, error) {
	result := s.db.Model(&models.Trade{}).
		Where("status = ? AND updated_at < ?", models.TradeStatusSettling, before).
		Update("status", models.TradeStatusActive)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reclaim stale settling trades: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ReleaseClaim reverts a settling trade to active so a later sweep can retry
// it. Called when the settlement unit of work fails after the claim.
func (s *Store) ReleaseClaim(id uint) error {
	result := s.db.Model(&models.Trade{}).
		Where("id = ? AND status = ?", id, models.TradeStatusSettling).
		Update("status", models.TradeStatusActive)
	if result.Error != nil {
		return fmt.Errorf("failed to release claim on trade %d: %w", id, result.Error)
	}
	return nil
}
