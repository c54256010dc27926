package pricing

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrPriceUnavailable is returned when no usable price can be obtained for a
// symbol. Callers treat it as recoverable and fall back per their own policy;
// it is never surfaced to end users as a hard failure.
var ErrPriceUnavailable = errors.New("price unavailable")

// Oracle supplies a current market price for an asset symbol.
// Implementations may be a live feed or a simulator.
type Oracle interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Quote is a snapshot of market information for a symbol, used by the payout
// calculator to gauge volatility.
type Quote struct {
	Symbol        string
	Price         decimal.Decimal
	Open          decimal.Decimal
	High          decimal.Decimal
	Low           decimal.Decimal
	PreviousClose decimal.Decimal
	Change        decimal.Decimal
	ChangePercent decimal.Decimal
	Volume        int64
}

// QuoteProvider supplies full quotes. Optional: oracles that cannot provide
// quote detail simply do not implement it and the payout calculator assumes
// medium volatility.
type QuoteProvider interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
}
