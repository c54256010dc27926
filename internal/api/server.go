package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"tradepro/internal/ledger"
	"tradepro/internal/models"
	"tradepro/internal/settlement"
	"tradepro/internal/staking"
	"tradepro/internal/trades"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Server provides the HTTP interface over the settlement engine and the
// supporting services. Handlers are thin: parse, call, encode. All policy
// lives in the services.
type Server struct {
	server    *http.Server
	engine    *settlement.Engine
	controls  *settlement.Controls
	ledger    *ledger.Service
	staking   *staking.Service
	logger    *zap.Logger
	startTime time.Time
}

// NewServer creates the API server.
func NewServer(
	port int,
	engine *settlement.Engine,
	controls *settlement.Controls,
	ledgerSvc *ledger.Service,
	stakingSvc *staking.Service,
	logger *zap.Logger,
) *Server {
	s := &Server{
		engine:    engine,
		controls:  controls,
		ledger:    ledgerSvc,
		staking:   stakingSvc,
		logger:    logger.Named("api-server"),
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/api/wallet", s.walletHandler)
	mux.HandleFunc("/api/transactions", s.transactionsHandler)
	mux.HandleFunc("/api/trades/place", s.placeTradeHandler)
	mux.HandleFunc("/api/trades/active", s.activeTradesHandler)
	mux.HandleFunc("/api/trades/history", s.tradeHistoryHandler)
	mux.HandleFunc("/api/trades/check", s.checkTradeHandler)
	mux.HandleFunc("/api/trades/sweep", s.sweepHandler)
	mux.HandleFunc("/api/staking/positions", s.stakingPositionsHandler)
	mux.HandleFunc("/api/staking/stake", s.stakeHandler)
	mux.HandleFunc("/api/admin/trades/force", s.forceSettleHandler)
	mux.HandleFunc("/api/admin/trades/cancel", s.cancelTradeHandler)
	mux.HandleFunc("/api/admin/controls", s.controlsHandler)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	return s
}

// Start runs the HTTP server in a new goroutine.
func (s *Server) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// writeError maps the service error taxonomy onto HTTP status codes.
// AlreadySettled and NotEligible are idempotency signals, not failures, so
// they come back 200 with settled=false.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, settlement.ErrAlreadySettled):
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"settled": false, "reason": "already_settled",
		})
	case errors.Is(err, settlement.ErrNotEligible):
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"settled": false, "reason": "not_eligible",
		})
	case errors.Is(err, settlement.ErrInvalidParameters),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInsufficientFunds):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, trades.ErrTradeNotFound):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, settlement.ErrInvalidTradeState):
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("Request failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"start_time": s.startTime.Format(time.RFC3339),
		"uptime":     time.Since(s.startTime).String(),
		"settlement": s.engine.Stats(),
	})
}

func userIDParam(r *http.Request) (uint, error) {
	raw := r.URL.Query().Get("user_id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: user_id %q", settlement.ErrInvalidParameters, raw)
	}
	return uint(id), nil
}

func tradeIDParam(r *http.Request) (uint, error) {
	raw := r.URL.Query().Get("trade_id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: trade_id %q", settlement.ErrInvalidParameters, raw)
	}
	return uint(id), nil
}

func (s *Server) walletHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	wallet, err := s.engine.GetWallet(userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wallet)
}

func (s *Server) transactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txns, err := s.ledger.Transactions(userID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txns)
}

type placeTradeBody struct {
	UserID        uint   `json:"user_id"`
	Asset         string `json:"asset"`
	Direction     string `json:"direction"`
	Amount        string `json:"amount"`
	ExpiryMinutes int    `json:"expiry_minutes"`
	IsDemo        *bool  `json:"is_demo"`
}

func (s *Server) placeTradeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body placeTradeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", settlement.ErrInvalidParameters, err))
		return
	}

	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: amount %q", settlement.ErrInvalidParameters, body.Amount))
		return
	}

	isDemo := true
	if body.IsDemo != nil {
		isDemo = *body.IsDemo
	}

	trade, err := s.engine.PlaceTrade(r.Context(), settlement.TradeRequest{
		UserID:        body.UserID,
		Asset:         body.Asset,
		Direction:     body.Direction,
		Amount:        amount,
		ExpiryMinutes: body.ExpiryMinutes,
		IsDemo:        isDemo,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, trade)
}

func (s *Server) activeTradesHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	active, err := s.engine.ListActive(userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, active)
}

func (s *Server) tradeHistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	history, err := s.engine.ListHistory(userID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, history)
}

// checkTradeHandler settles a single expired trade on demand, the
// user-facing "check my trade" path.
func (s *Server) checkTradeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tradeID, err := tradeIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	trade, err := s.engine.SettleOne(r.Context(), tradeID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"settled": true, "trade": trade})
}

func (s *Server) sweepHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	count, err := s.engine.SettleDueTrades(r.Context(), time.Now().UTC())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"processed": count})
}

func (s *Server) stakingPositionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	positions, err := s.staking.PositionsForUser(userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, positions)
}

type stakeBody struct {
	UserID       uint   `json:"user_id"`
	Amount       string `json:"amount"`
	DurationDays int    `json:"duration_days"`
	APY          string `json:"apy"`
}

func (s *Server) stakeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body stakeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", settlement.ErrInvalidParameters, err))
		return
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: amount %q", settlement.ErrInvalidParameters, body.Amount))
		return
	}
	apy := decimal.Zero
	if body.APY != "" {
		if apy, err = decimal.NewFromString(body.APY); err != nil {
			s.writeError(w, fmt.Errorf("%w: apy %q", settlement.ErrInvalidParameters, body.APY))
			return
		}
	}
	position, err := s.staking.Stake(r.Context(), body.UserID, amount, body.DurationDays, apy)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, position)
}

func (s *Server) forceSettleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tradeID, err := tradeIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	outcome := r.URL.Query().Get("outcome")
	trade, err := s.engine.ForceSettle(r.Context(), tradeID, outcome)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trade)
}

func (s *Server) cancelTradeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tradeID, err := tradeIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	trade, err := s.engine.CancelTrade(r.Context(), tradeID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trade)
}

// controlsHandler reads (GET) or sets (POST) a user's trade control mode.
func (s *Server) controlsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		mode, err := s.controls.Get(userID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"mode": mode})
	case http.MethodPost:
		mode := r.URL.Query().Get("mode")
		if mode == "" {
			mode = models.ControlNormal
		}
		if err := s.controls.Set(userID, mode); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"mode": mode})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
