package settlement

import (
	"fmt"
	"strings"

	"tradepro/internal/models"

	"github.com/shopspring/decimal"
)

// TradeRequest is the validated value object for trade placement. It is
// constructed once at the system boundary so nothing downstream handles
// untyped form fields.
type TradeRequest struct {
	UserID        uint
	Asset         string
	Direction     string
	Amount        decimal.Decimal
	ExpiryMinutes int
	IsDemo        bool
}

// Normalize trims and lowercases the free-text fields in place.
func (r *TradeRequest) Normalize() {
	r.Asset = strings.ToUpper(strings.TrimSpace(r.Asset))
	r.Direction = strings.ToLower(strings.TrimSpace(r.Direction))
}

// Validate checks the request against placement rules. maxStake of zero
// means no upper bound.
func (r *TradeRequest) Validate(maxStake decimal.Decimal) error {
	if r.UserID == 0 {
		return fmt.Errorf("%w: missing user", ErrInvalidParameters)
	}
	if r.Asset == "" {
		return fmt.Errorf("%w: missing asset", ErrInvalidParameters)
	}
	if r.Direction != models.DirectionCall && r.Direction != models.DirectionPut {
		return fmt.Errorf("%w: direction must be call or put, got %q", ErrInvalidParameters, r.Direction)
	}
	if r.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: stake must be positive, got %s", ErrInvalidParameters, r.Amount)
	}
	if maxStake.Sign() > 0 && r.Amount.GreaterThan(maxStake) {
		return fmt.Errorf("%w: stake %s exceeds maximum %s", ErrInvalidParameters, r.Amount, maxStake)
	}
	if r.ExpiryMinutes < 1 {
		return fmt.Errorf("%w: expiry must be at least one minute", ErrInvalidParameters)
	}
	return nil
}
