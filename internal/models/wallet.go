package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Wallet holds a user's funds. Real and demo balances are fully independent;
// a trade only ever touches the balance matching its IsDemo flag.
// All mutation goes through the ledger service, never direct field writes.
// TotalInvested accumulates real-money stakes at placement; TotalWithdrawn
// belongs to the payment withdrawal flow, which lives outside this service.
type Wallet struct {
	gorm.Model
	UserID         uint            `json:"user_id" gorm:"uniqueIndex;not null"`
	Balance        decimal.Decimal `json:"balance" gorm:"type:decimal(15,2)"`
	DemoBalance    decimal.Decimal `json:"demo_balance" gorm:"type:decimal(15,2)"`
	TotalInvested  decimal.Decimal `json:"total_invested" gorm:"type:decimal(15,2)"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn" gorm:"type:decimal(15,2)"`
}

// BalanceFor returns the balance for the given class.
func (w *Wallet) BalanceFor(demo bool) decimal.Decimal {
	if demo {
		return w.DemoBalance
	}
	return w.Balance
}
