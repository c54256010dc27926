package pricing

import (
	"context"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"
)

// basePrices are the reference prices the simulator walks from.
var basePrices = map[string]string{
	"EURUSD": "1.08450",
	"GBPUSD": "1.26320",
	"USDJPY": "148.750",
	"BTCUSD": "43250.00",
	"ETHUSD": "2650.00",
	"XAUUSD": "2025.50",
	"CRUDE":  "78.45",
	"SPX500": "4750.00",
	"NASDAQ": "15200.00",
}

// Simulator is an Oracle that never fails. Each read returns the symbol's
// last price perturbed by a small bounded variation (+/-0.05% of base),
// which keeps demo charts alive without a network feed.
type Simulator struct {
	mu   sync.Mutex
	rng  *rand.Rand
	last map[string]decimal.Decimal
}

var _ Oracle = (*Simulator)(nil)

// NewSimulator creates a simulated price feed. The seed makes runs
// reproducible in tests.
func NewSimulator(seed int64) *Simulator {
	return &Simulator{
		rng:  rand.New(rand.NewSource(seed)),
		last: make(map[string]decimal.Decimal),
	}
}

// GetPrice returns a simulated price for the symbol. Unknown symbols get a
// base price of 1.00000, mirroring the quote convention for forex pairs.
func (s *Simulator) GetPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base, ok := s.last[symbol]
	if !ok {
		raw, found := basePrices[symbol]
		if !found {
			raw = "1.00000"
		}
		base = decimal.RequireFromString(raw)
	}

	// variation in (-0.05%, +0.05%) of the base price
	variation := (s.rng.Float64() - 0.5) * 0.001
	price := base.Mul(decimal.NewFromFloat(1 + variation)).Round(5)

	s.last[symbol] = price
	return price, nil
}
