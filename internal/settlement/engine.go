package settlement

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"tradepro/internal/config"
	"tradepro/internal/ledger"
	"tradepro/internal/models"
	"tradepro/internal/pricing"
	"tradepro/internal/trades"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Outcome values accepted by ForceSettle.
const (
	OutcomeWin  = "win"
	OutcomeLoss = "loss"
)

// settlingStaleAfter is how long a trade may sit in settling before a sweep
// assumes the claim holder crashed and reclaims it. A settlement attempt
// completes in well under a minute; anything older is a stranded claim.
const settlingStaleAfter = 5 * time.Minute

// Engine drives every expired active trade to a terminal state exactly once,
// with a consistent ledger update. It is safe for concurrent use: the
// active->settling claim in the trade store serializes settlement of any
// single trade, and independent trades have no ordering requirement.
type Engine struct {
	logger   *zap.Logger
	cfg      *config.Trading
	db       *gorm.DB
	store    *trades.Store
	ledger   *ledger.Service
	oracle   pricing.Oracle
	payouts  *pricing.PayoutCalculator
	controls *Controls

	mu  sync.Mutex
	rng *rand.Rand

	sweeps         atomic.Int64
	settled        atomic.Int64
	fallbackPrices atomic.Int64
}

// Stats is a snapshot of engine counters for the status endpoint.
type Stats struct {
	Sweeps         int64 `json:"sweeps"`
	Settled        int64 `json:"settled"`
	FallbackPrices int64 `json:"fallback_prices"`
}

// NewEngine creates a settlement engine.
func NewEngine(
	logger *zap.Logger,
	cfg *config.Trading,
	db *gorm.DB,
	store *trades.Store,
	ledgerSvc *ledger.Service,
	oracle pricing.Oracle,
	payouts *pricing.PayoutCalculator,
	controls *Controls,
) *Engine {
	return &Engine{
		logger:   logger,
		cfg:      cfg,
		db:       db,
		store:    store,
		ledger:   ledgerSvc,
		oracle:   oracle,
		payouts:  payouts,
		controls: controls,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run starts the periodic settlement sweep and blocks until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	interval := time.Duration(e.cfg.SweepInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("Starting settlement sweep loop", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Stopping settlement engine...")
			return
		case <-ticker.C:
			if _, err := e.SettleDueTrades(ctx, time.Now().UTC()); err != nil {
				e.logger.Error("Settlement sweep failed", zap.Error(err))
			}
		}
	}
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Sweeps:         e.sweeps.Load(),
		Settled:        e.settled.Load(),
		FallbackPrices: e.fallbackPrices.Load(),
	}
}

// PlaceTrade validates the request, prices the entry, debits the stake and
// creates the trade, all in one unit of work. The stake debit and its
// transaction record commit atomically with the trade row.
func (e *Engine) PlaceTrade(ctx context.Context, req TradeRequest) (*models.Trade, error) {
	req.Normalize()
	if err := req.Validate(decimal.NewFromFloat(e.cfg.MaxStake)); err != nil {
		return nil, err
	}

	entryPrice, err := e.oracle.GetPrice(ctx, req.Asset)
	if err != nil {
		// Placement failures are explicit: without a live entry price
		// the bet has no reference point.
		return nil, fmt.Errorf("cannot price entry for %s: %w", req.Asset, err)
	}

	payout := e.payouts.PayoutPercentage(ctx, req.Asset, req.ExpiryMinutes)
	now := time.Now().UTC()

	trade := &models.Trade{
		UserID:           req.UserID,
		Asset:            req.Asset,
		Direction:        req.Direction,
		Amount:           req.Amount,
		EntryPrice:       entryPrice,
		ExpiryTime:       now.Add(time.Duration(req.ExpiryMinutes) * time.Minute),
		Status:           models.TradeStatusActive,
		PayoutPercentage: payout,
		ProfitLoss:       decimal.Zero,
		IsDemo:           req.IsDemo,
	}

	err = e.db.Transaction(func(tx *gorm.DB) error {
		if err := e.ledger.Debit(tx, req.UserID, req.IsDemo, req.Amount); err != nil {
			return err
		}
		if !req.IsDemo {
			if err := e.ledger.AddInvested(tx, req.UserID, req.Amount); err != nil {
				return err
			}
		}
		if err := e.store.Create(tx, trade); err != nil {
			return err
		}
		return e.ledger.Record(tx, &models.Transaction{
			UserID: req.UserID,
			Type:   models.TxTypeTrade,
			Amount: req.Amount.Neg(),
			IsDemo: req.IsDemo,
			Description: fmt.Sprintf("Trade: %s %s $%s",
				req.Asset, req.Direction, req.Amount.StringFixed(2)),
		})
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Trade placed",
		zap.Uint("trade_id", trade.ID),
		zap.Uint("user_id", trade.UserID),
		zap.String("asset", trade.Asset),
		zap.String("direction", trade.Direction),
		zap.String("amount", trade.Amount.String()),
		zap.String("entry_price", trade.EntryPrice.String()),
		zap.String("payout", payout.String()),
	)
	return trade, nil
}

// SettleDueTrades settles every active trade whose expiry has passed asOf.
// A failure settling one trade is logged and does not abort the sweep; the
// returned count is the number of trades actually settled.
func (e *Engine) SettleDueTrades(ctx context.Context, asOf time.Time) (int, error) {
	e.sweeps.Add(1)

	reclaimed, err := e.store.ReclaimStaleSettling(asOf.Add(-settlingStaleAfter))
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		e.logger.Warn("Reclaimed stranded settlement claims", zap.Int64("count", reclaimed))
	}

	due, err := e.store.FindExpiredActive(asOf)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	settled := 0
	for i := range due {
		trade := &due[i]
		claimed, err := e.store.TryClaimForSettlement(trade.ID)
		if err != nil {
			e.logger.Error("Failed to claim trade for settlement",
				zap.Uint("trade_id", trade.ID), zap.Error(err))
			continue
		}
		if !claimed {
			// Raced by another settler; their problem now.
			continue
		}
		if err := e.settleClaimed(ctx, trade, asOf, nil); err != nil {
			e.logger.Error("Failed to settle trade",
				zap.Uint("trade_id", trade.ID), zap.Error(err))
			continue
		}
		settled++
	}

	e.logger.Info("Settlement sweep complete",
		zap.Int("due", len(due)), zap.Int("settled", settled))
	return settled, nil
}

// SettleOne settles a single expired trade on demand. Returns
// ErrAlreadySettled when the trade is terminal or another settler holds the
// claim, and ErrNotEligible when it has not expired yet. On a transient
// failure the trade reverts to active and the caller may retry.
func (e *Engine) SettleOne(ctx context.Context, tradeID uint) (*models.Trade, error) {
	trade, err := e.store.Get(tradeID)
	if err != nil {
		return nil, err
	}
	if trade.IsTerminal() || trade.Status == models.TradeStatusSettling {
		return nil, fmt.Errorf("%w: trade %d is %s", ErrAlreadySettled, trade.ID, trade.Status)
	}

	asOf := time.Now().UTC()
	if !trade.IsExpired(asOf) {
		return nil, fmt.Errorf("%w: trade %d expires at %s",
			ErrNotEligible, trade.ID, trade.ExpiryTime.Format(time.RFC3339))
	}

	claimed, err := e.store.TryClaimForSettlement(trade.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("%w: trade %d claimed concurrently", ErrAlreadySettled, trade.ID)
	}

	if err := e.settleClaimed(ctx, trade, asOf, nil); err != nil {
		return nil, err
	}
	return e.store.Get(trade.ID)
}

// ForceSettle drives a still-active trade to the admin-chosen outcome,
// bypassing the trade control policy and the market. The ledger and
// terminal-marking contract is identical to market settlement.
func (e *Engine) ForceSettle(ctx context.Context, tradeID uint, outcome string) (*models.Trade, error) {
	var win bool
	switch outcome {
	case OutcomeWin:
		win = true
	case OutcomeLoss:
		win = false
	default:
		return nil, fmt.Errorf("%w: outcome must be win or loss, got %q", ErrInvalidParameters, outcome)
	}

	trade, err := e.store.Get(tradeID)
	if err != nil {
		return nil, err
	}
	if trade.Status != models.TradeStatusActive {
		return nil, fmt.Errorf("%w: trade %d is %s, want active",
			ErrInvalidTradeState, trade.ID, trade.Status)
	}

	claimed, err := e.store.TryClaimForSettlement(trade.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("%w: trade %d claimed concurrently", ErrInvalidTradeState, trade.ID)
	}

	e.logger.Warn("Admin forced settlement",
		zap.Uint("trade_id", trade.ID), zap.String("outcome", outcome))

	if err := e.settleClaimed(ctx, trade, time.Now().UTC(), &win); err != nil {
		return nil, err
	}
	return e.store.Get(trade.ID)
}

// CancelTrade voids a still-active trade and refunds the stake. Admin only.
func (e *Engine) CancelTrade(ctx context.Context, tradeID uint) (*models.Trade, error) {
	trade, err := e.store.Get(tradeID)
	if err != nil {
		return nil, err
	}
	if trade.Status != models.TradeStatusActive {
		return nil, fmt.Errorf("%w: trade %d is %s, want active",
			ErrInvalidTradeState, trade.ID, trade.Status)
	}

	claimed, err := e.store.TryClaimForSettlement(trade.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("%w: trade %d claimed concurrently", ErrInvalidTradeState, trade.ID)
	}

	now := time.Now().UTC()
	err = e.db.Transaction(func(tx *gorm.DB) error {
		if err := e.ledger.Credit(tx, trade.UserID, trade.IsDemo, trade.Amount); err != nil {
			return err
		}
		if err := e.ledger.Record(tx, &models.Transaction{
			UserID: trade.UserID,
			Type:   models.TxTypeTradeRefund,
			Amount: trade.Amount,
			IsDemo: trade.IsDemo,
			Description: fmt.Sprintf("Cancelled: %s %s trade - refunded $%s",
				trade.Asset, trade.Direction, trade.Amount.StringFixed(2)),
		}); err != nil {
			return err
		}
		return e.markTerminal(tx, trade.ID, map[string]interface{}{
			"status":      models.TradeStatusCancelled,
			"profit_loss": decimal.Zero,
			"closed_at":   now,
		})
	})
	if err != nil {
		if relErr := e.store.ReleaseClaim(trade.ID); relErr != nil {
			e.logger.Error("Failed to release claim after cancel failure",
				zap.Uint("trade_id", trade.ID), zap.Error(relErr))
		}
		return nil, fmt.Errorf("failed to cancel trade %d: %w", trade.ID, err)
	}

	e.logger.Warn("Admin cancelled trade", zap.Uint("trade_id", trade.ID))
	return e.store.Get(trade.ID)
}

// ListActive returns the user's open trades.
func (e *Engine) ListActive(userID uint) ([]models.Trade, error) {
	return e.store.FindActiveForUser(userID)
}

// ListHistory returns the user's settled trades.
func (e *Engine) ListHistory(userID uint, limit int) ([]models.Trade, error) {
	return e.store.FindHistoryForUser(userID, limit)
}

// GetWallet returns the user's wallet, creating it on first access.
func (e *Engine) GetWallet(userID uint) (*models.Wallet, error) {
	return e.ledger.Wallet(userID)
}

// settleClaimed prices and settles a trade whose settling claim the caller
// already holds. forced, when non-nil, short-circuits outcome resolution
// (admin override). On any failure the claim is released so the trade reverts
// to active for a later retry; the trade is never left half-settled.
func (e *Engine) settleClaimed(ctx context.Context, trade *models.Trade, asOf time.Time, forced *bool) error {
	control := models.ControlNormal
	if forced == nil {
		mode, err := e.controls.Get(trade.UserID)
		if err != nil {
			if relErr := e.store.ReleaseClaim(trade.ID); relErr != nil {
				e.logger.Error("Failed to release claim",
					zap.Uint("trade_id", trade.ID), zap.Error(relErr))
			}
			return err
		}
		control = mode
	}

	exitPrice, fellBack := e.exitPrice(ctx, trade, control, forced)

	var win bool
	switch {
	case forced != nil:
		win = *forced
	case control == models.ControlAlwaysLose:
		win = false
	case control == models.ControlAlwaysProfit:
		win = true
	default:
		win = marketOutcome(trade.Direction, trade.EntryPrice, exitPrice)
	}

	var profitLoss decimal.Decimal
	if win {
		profitLoss = trade.Payout()
	} else {
		profitLoss = trade.Amount.Neg()
	}

	err := e.db.Transaction(func(tx *gorm.DB) error {
		if win {
			// The stake was debited in full at placement, so a win
			// returns stake plus profit.
			totalReturn := trade.Amount.Add(profitLoss)
			if err := e.ledger.Credit(tx, trade.UserID, trade.IsDemo, totalReturn); err != nil {
				return err
			}
			if err := e.ledger.Record(tx, &models.Transaction{
				UserID: trade.UserID,
				Type:   models.TxTypeTradeCredit,
				Amount: totalReturn,
				IsDemo: trade.IsDemo,
				Description: fmt.Sprintf("Profit: %s %s trade - won $%s",
					trade.Asset, trade.Direction, profitLoss.StringFixed(2)),
			}); err != nil {
				return err
			}
		} else {
			// Stake already forfeit; the entry is informational so the
			// history explains the loss without double-counting it.
			if err := e.ledger.Record(tx, &models.Transaction{
				UserID: trade.UserID,
				Type:   models.TxTypeTradeLoss,
				Amount: decimal.Zero,
				IsDemo: trade.IsDemo,
				Description: fmt.Sprintf("Loss: %s %s trade - lost $%s",
					trade.Asset, trade.Direction, trade.Amount.StringFixed(2)),
			}); err != nil {
				return err
			}
		}

		status := models.TradeStatusLost
		if win {
			status = models.TradeStatusWon
		}
		return e.markTerminal(tx, trade.ID, map[string]interface{}{
			"status":      status,
			"exit_price":  decimal.NewNullDecimal(exitPrice),
			"profit_loss": profitLoss,
			"closed_at":   asOf,
		})
	})
	if err != nil {
		if relErr := e.store.ReleaseClaim(trade.ID); relErr != nil {
			e.logger.Error("Failed to release claim after settlement failure",
				zap.Uint("trade_id", trade.ID), zap.Error(relErr))
		}
		return fmt.Errorf("failed to settle trade %d: %w", trade.ID, err)
	}

	e.settled.Add(1)
	e.logger.Info("Trade settled",
		zap.Uint("trade_id", trade.ID),
		zap.Bool("win", win),
		zap.String("exit_price", exitPrice.String()),
		zap.String("profit_loss", profitLoss.String()),
		zap.Bool("fallback_price", fellBack),
	)
	return nil
}

// markTerminal applies the terminal update guarded on the settling status,
// so a terminal trade can never be rewritten.
func (e *Engine) markTerminal(tx *gorm.DB, tradeID uint, fields map[string]interface{}) error {
	result := tx.Model(&models.Trade{}).
		Where("id = ? AND status = ?", tradeID, models.TradeStatusSettling).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != 1 {
		return fmt.Errorf("%w: trade %d left settling state unexpectedly",
			ErrInvalidTradeState, tradeID)
	}
	return nil
}

// exitPrice reads the oracle, falling back to a synthetic price when it is
// unavailable. The fallback is explicit: warn log plus counter, never a
// silent substitution. Under an override or forced outcome the price is
// informational only, so the fallback is the plain entry price; in normal
// settlement the entry price gets a small bounded jitter so the exit does
// not mechanically tie.
func (e *Engine) exitPrice(ctx context.Context, trade *models.Trade, control string, forced *bool) (decimal.Decimal, bool) {
	price, err := e.oracle.GetPrice(ctx, trade.Asset)
	if err == nil {
		return price, false
	}

	e.fallbackPrices.Add(1)

	overridden := forced != nil || control != models.ControlNormal
	fallback := trade.EntryPrice
	if !overridden {
		e.mu.Lock()
		jitter := (e.rng.Float64()*2 - 1) * e.cfg.FallbackJitter
		e.mu.Unlock()
		fallback = trade.EntryPrice.Mul(decimal.NewFromFloat(1 + jitter)).Round(5)
	}

	e.logger.Warn("Price oracle unavailable, using fallback price",
		zap.Uint("trade_id", trade.ID),
		zap.String("asset", trade.Asset),
		zap.String("fallback_price", fallback.String()),
		zap.Error(err),
	)
	return fallback, true
}

// marketOutcome applies the documented tie policy: a call wins only strictly
// above the entry price, a put only strictly below. A tie loses either way.
func marketOutcome(direction string, entry, exit decimal.Decimal) bool {
	if direction == models.DirectionCall {
		return exit.GreaterThan(entry)
	}
	return exit.LessThan(entry)
}
