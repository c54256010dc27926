package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Trade direction: a bet that the price finishes above (call) or below (put)
// the entry price at expiry.
const (
	DirectionCall = "call"
	DirectionPut  = "put"
)

// Trade status values. A trade is created active, briefly passes through
// settling while a settlement attempt holds the claim, and ends in exactly
// one of won, lost or cancelled.
const (
	TradeStatusActive    = "active"
	TradeStatusSettling  = "settling"
	TradeStatusWon       = "won"
	TradeStatusLost      = "lost"
	TradeStatusCancelled = "cancelled"
)

// Trade represents a single time-boxed directional bet on an asset price.
type Trade struct {
	gorm.Model
	UserID           uint                `json:"user_id" gorm:"index;not null"`
	Asset            string              `json:"asset" gorm:"not null"`
	Direction        string              `json:"direction" gorm:"not null"`
	Amount           decimal.Decimal     `json:"amount" gorm:"type:decimal(10,2);not null"`
	EntryPrice       decimal.Decimal     `json:"entry_price" gorm:"type:decimal(10,5);not null"`
	ExitPrice        decimal.NullDecimal `json:"exit_price" gorm:"type:decimal(10,5)"`
	ExpiryTime       time.Time           `json:"expiry_time" gorm:"index;not null"`
	Status           string              `json:"status" gorm:"index;not null;default:'active'"`
	PayoutPercentage decimal.Decimal     `json:"payout_percentage" gorm:"type:decimal(5,2)"`
	ProfitLoss       decimal.Decimal     `json:"profit_loss" gorm:"type:decimal(10,2)"`
	IsDemo           bool                `json:"is_demo" gorm:"default:true"`
	ClosedAt         *time.Time          `json:"closed_at,omitempty"`
}

// IsExpired reports whether the trade is due for settlement at the given time.
func (t *Trade) IsExpired(asOf time.Time) bool {
	return !t.ExpiryTime.After(asOf)
}

// IsTerminal reports whether the trade has reached a final state.
// Terminal trades are immutable.
func (t *Trade) IsTerminal() bool {
	switch t.Status {
	case TradeStatusWon, TradeStatusLost, TradeStatusCancelled:
		return true
	}
	return false
}

// Payout returns the profit component paid on a winning trade:
// amount * payout_percentage / 100.
func (t *Trade) Payout() decimal.Decimal {
	return t.Amount.Mul(t.PayoutPercentage).Div(decimal.NewFromInt(100)).Round(2)
}
