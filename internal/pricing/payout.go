package pricing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// basePayouts maps assets to their base payout percentage. Lower-volatility
// instruments pay out more.
var basePayouts = map[string]float64{
	// Forex pairs
	"EURUSD": 85.0,
	"GBPUSD": 83.0,
	"USDJPY": 84.0,
	"USDCAD": 82.0,
	"AUDUSD": 81.0,

	// Cryptocurrencies
	"BTCUSD": 78.0,
	"ETHUSD": 76.0,
	"ADAUSD": 75.0,
	"DOTUSD": 74.0,

	// Commodities
	"XAUUSD": 80.0,
	"XAGUSD": 79.0,
	"CRUDE":  77.0,
	"NGAS":   76.0,

	// Stock indices
	"SPX500": 82.0,
	"NASDAQ": 81.0,
	"DOW":    83.0,
}

// defaultBasePayout is used for assets missing from basePayouts when no
// default is configured.
const defaultBasePayout = 75.0

// Payout bounds, in percent of stake.
const (
	minPayout = 65.0
	maxPayout = 95.0
)

// volatilityAdjustments maps a volatility level to a payout adjustment.
var volatilityAdjustments = map[string]float64{
	"low":     2.0,
	"medium":  0.0,
	"high":    -3.0,
	"extreme": -5.0,
}

// timeDecayAdjustments maps expiry minutes to a payout adjustment.
// Very short expiries pay slightly less, longer ones slightly more.
var timeDecayAdjustments = map[int]float64{
	1:    -2.0,
	5:    0.0,
	15:   1.0,
	30:   2.0,
	60:   3.0,
	240:  2.5,
	1440: 1.0,
}

var forexAssets = map[string]bool{
	"EURUSD": true, "GBPUSD": true, "USDJPY": true, "USDCAD": true, "AUDUSD": true,
}

var cryptoAssets = map[string]bool{
	"BTCUSD": true, "ETHUSD": true, "ADAUSD": true, "DOTUSD": true,
}

// PayoutCalculator computes the payout percentage offered on a trade from
// the asset's base payout, current volatility, time to expiry and market
// hours. The result is always within [65, 95].
type PayoutCalculator struct {
	quotes      QuoteProvider // optional; nil means medium volatility
	defaultBase float64
	logger      *zap.Logger
	now         func() time.Time
}

// NewPayoutCalculator creates a payout calculator. quotes may be nil.
// defaultBase is the base payout for assets without a table entry; zero or
// negative falls back to the built-in default.
func NewPayoutCalculator(quotes QuoteProvider, defaultBase float64, logger *zap.Logger) *PayoutCalculator {
	if defaultBase <= 0 {
		defaultBase = defaultBasePayout
	}
	return &PayoutCalculator{
		quotes:      quotes,
		defaultBase: defaultBase,
		logger:      logger,
		now:         time.Now,
	}
}

// PayoutPercentage returns the payout percentage for a trade on the asset
// expiring in expiryMinutes, rounded to one decimal place.
func (p *PayoutCalculator) PayoutPercentage(ctx context.Context, asset string, expiryMinutes int) decimal.Decimal {
	base, ok := basePayouts[asset]
	if !ok {
		base = p.defaultBase
	}

	level := p.volatilityLevel(ctx, asset)
	payout := base +
		volatilityAdjustments[level] +
		timeDecayAdjustments[expiryMinutes] +
		p.marketHoursAdjustment(asset)

	if payout < minPayout {
		payout = minPayout
	}
	if payout > maxPayout {
		payout = maxPayout
	}

	return decimal.NewFromFloat(payout).Round(1)
}

// volatilityLevel classifies current volatility from the 24h change percent.
// Quote failures degrade to medium rather than blocking trade placement.
func (p *PayoutCalculator) volatilityLevel(ctx context.Context, asset string) string {
	if p.quotes == nil {
		return "medium"
	}

	quote, err := p.quotes.GetQuote(ctx, asset)
	if err != nil {
		p.logger.Debug("Quote unavailable for volatility, assuming medium",
			zap.String("asset", asset), zap.Error(err))
		return "medium"
	}

	change := quote.ChangePercent.Abs()
	switch {
	case change.LessThan(decimal.NewFromFloat(0.5)):
		return "low"
	case change.LessThan(decimal.NewFromFloat(1.5)):
		return "medium"
	case change.LessThan(decimal.NewFromFloat(3.0)):
		return "high"
	default:
		return "extreme"
	}
}

// marketHoursAdjustment tweaks the payout by asset class and UTC hour:
// forex favours the London/NY overlap, crypto trades flat around the clock,
// everything else gets a discount outside major trading hours.
func (p *PayoutCalculator) marketHoursAdjustment(asset string) float64 {
	hour := p.now().UTC().Hour()

	switch {
	case forexAssets[asset]:
		if hour >= 7 && hour <= 17 {
			return 1.0
		}
		if hour >= 22 || hour <= 6 {
			return 0.0
		}
		return -0.5
	case cryptoAssets[asset]:
		return 0.0
	default:
		if hour >= 9 && hour <= 16 {
			return 1.0
		}
		return -1.0
	}
}
