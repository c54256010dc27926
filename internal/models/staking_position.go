package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Staking position status values.
const (
	StakingStatusActive    = "active"
	StakingStatusCompleted = "completed"
	StakingStatusCancelled = "cancelled"
)

// StakingPosition locks an amount for a fixed duration at a fixed APY.
// Rewards accrue daily and the principal plus rewards is credited back
// when the position matures.
type StakingPosition struct {
	gorm.Model
	UserID        uint            `json:"user_id" gorm:"index;not null"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:decimal(10,2);not null"`
	APY           decimal.Decimal `json:"apy" gorm:"type:decimal(5,2)"`
	DurationDays  int             `json:"duration_days"`
	StartDate     time.Time       `json:"start_date"`
	EndDate       time.Time       `json:"end_date" gorm:"index"`
	Status        string          `json:"status" gorm:"index;default:'active'"`
	RewardsEarned decimal.Decimal `json:"rewards_earned" gorm:"type:decimal(10,2)"`
}

// AccruedRewards returns the rewards earned up to asOf, rounded to cents.
// Full rewards once the position has matured, otherwise pro-rated by whole
// elapsed days.
func (p *StakingPosition) AccruedRewards(asOf time.Time) decimal.Decimal {
	if p.Status != StakingStatusActive {
		return p.RewardsEarned
	}

	dailyRate := p.APY.Div(decimal.NewFromInt(365)).Div(decimal.NewFromInt(100))

	days := p.DurationDays
	if asOf.Before(p.EndDate) {
		days = int(asOf.Sub(p.StartDate).Hours() / 24)
		if days < 0 {
			days = 0
		}
	}

	return p.Amount.Mul(dailyRate).Mul(decimal.NewFromInt(int64(days))).Round(2)
}

// IsMatured reports whether the position has reached its end date.
func (p *StakingPosition) IsMatured(asOf time.Time) bool {
	return !asOf.Before(p.EndDate)
}
