package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Transaction types. TypeTradeLoss entries are informational: the stake was
// already debited at placement, so the row carries a zero amount and exists
// only so the history shows why the trade ended.
const (
	TxTypeDeposit     = "deposit"
	TxTypeWithdrawal  = "withdrawal"
	TxTypeTrade       = "trade"
	TxTypeTradeCredit = "trade_credit"
	TxTypeTradeLoss   = "trade_loss"
	TxTypeTradeRefund = "trade_refund"
	TxTypeStaking     = "staking"
	TxTypeAdjustment  = "adjustment"
)

const TxStatusCompleted = "completed"

// Transaction is an append-only ledger entry explaining a balance change.
// For any user and balance class, the sum of amounts equals the balance
// delta since the wallet was created.
type Transaction struct {
	gorm.Model
	UserID      uint            `json:"user_id" gorm:"index;not null"`
	Reference   string          `json:"reference" gorm:"uniqueIndex;not null"`
	Type        string          `json:"type" gorm:"not null"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:decimal(15,2);not null"`
	IsDemo      bool            `json:"is_demo" gorm:"default:true"`
	Description string          `json:"description"`
	Status      string          `json:"status" gorm:"default:'completed'"`
}
