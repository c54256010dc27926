package models

import "gorm.io/gorm"

// Trade control modes. Admin-set per user; a non-normal mode forces every
// settlement for that user to the chosen outcome regardless of the market.
const (
	ControlNormal       = "normal"
	ControlAlwaysLose   = "always_lose"
	ControlAlwaysProfit = "always_profit"
)

// TradeControlSetting is the per-user settlement override. Absence of a row
// means ControlNormal.
type TradeControlSetting struct {
	gorm.Model
	UserID uint   `gorm:"uniqueIndex;not null"`
	Mode   string `gorm:"not null;default:'normal'"`
}
