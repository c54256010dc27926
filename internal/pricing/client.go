package pricing

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"tradepro/internal/config"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// symbolMappings translates platform symbols to the provider's notation.
// Unmapped symbols are passed through unchanged.
var symbolMappings = map[string]string{
	"EURUSD": "EUR/USD",
	"GBPUSD": "GBP/USD",
	"USDJPY": "USD/JPY",
	"USDCAD": "USD/CAD",
	"AUDUSD": "AUD/USD",
	"NZDUSD": "NZD/USD",
	"USDCHF": "USD/CHF",
	"EURGBP": "EUR/GBP",
	"EURJPY": "EUR/JPY",
	"GBPJPY": "GBP/JPY",

	"BTCUSD":  "BTC/USD",
	"ETHUSD":  "ETH/USD",
	"LTCUSD":  "LTC/USD",
	"XRPUSD":  "XRP/USD",
	"ADAUSD":  "ADA/USD",
	"DOTUSD":  "DOT/USD",
	"LINKUSD": "LINK/USD",
	"BCHUSD":  "BCH/USD",

	"XAUUSD": "XAU/USD",
	"XAGUSD": "XAG/USD",
	"CRUDE":  "BRENT",
	"WTI":    "WTI",
	"NGAS":   "NG",

	"SPX500": "SPX",
	"NASDAQ": "IXIC",
	"DOW":    "DJI",
	"FTSE":   "UKX",
	"DAX":    "DAX",
	"NIKKEI": "N225",
}

// Client is a market data client for the Twelve Data REST API.
// It implements Oracle and QuoteProvider.
type Client struct {
	client  *resty.Client
	apiKey  string
	timeout time.Duration
	logger  *zap.Logger
	limiter *rate.Limiter
}

var (
	_ Oracle        = (*Client)(nil)
	_ QuoteProvider = (*Client)(nil)
)

// NewClient creates a new market data client.
func NewClient(cfg *config.Oracle, logger *zap.Logger) *Client {
	client := resty.New().SetBaseURL(cfg.BaseURL)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &Client{
		client:  client,
		apiKey:  cfg.ApiKey,
		timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		logger:  logger,
		limiter: limiter,
	}
}

// apiError is the provider's error envelope. A 200 response can still carry
// an error body, so Status has to be checked on every call.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// priceResponse represents the response from the /price endpoint.
type priceResponse struct {
	apiError
	Price string `json:"price"`
}

// quoteResponse represents the response from the /quote endpoint.
type quoteResponse struct {
	apiError
	Symbol        string `json:"symbol"`
	Open          string `json:"open"`
	High          string `json:"high"`
	Low           string `json:"low"`
	Close         string `json:"close"`
	PreviousClose string `json:"previous_close"`
	Change        string `json:"change"`
	PercentChange string `json:"percent_change"`
	Volume        string `json:"volume"`
}

// MapSymbol returns the provider notation for a platform symbol.
func MapSymbol(symbol string) string {
	if mapped, ok := symbolMappings[symbol]; ok {
		return mapped
	}
	return symbol
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *Client) doRequest(ctx context.Context, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("url", c.client.BaseURL+url))
		resp, err = req.SetContext(ctx).Execute("GET", url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && err == nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// GetPrice fetches the current price for a symbol.
// Any failure is reported as ErrPriceUnavailable so callers can apply their
// fallback policy without inspecting transport details.
func (c *Client) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var result priceResponse
	req := c.client.R().
		SetQueryParam("symbol", MapSymbol(symbol)).
		SetQueryParam("apikey", c.apiKey).
		SetResult(&result)

	if _, err := c.doRequest(ctx, "/price", req); err != nil {
		c.logger.Warn("Failed to fetch price", zap.String("symbol", symbol), zap.Error(err))
		return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, symbol, err)
	}

	if result.Status == "error" {
		c.logger.Warn("Price feed returned error",
			zap.String("symbol", symbol),
			zap.Int("code", result.Code),
			zap.String("message", result.Message))
		return decimal.Zero, fmt.Errorf("%w: %s: %s", ErrPriceUnavailable, symbol, result.Message)
	}

	price, err := decimal.NewFromString(result.Price)
	if err != nil || price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %s: bad price %q", ErrPriceUnavailable, symbol, result.Price)
	}

	return price, nil
}

// GetQuote fetches a full quote for a symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var result quoteResponse
	req := c.client.R().
		SetQueryParam("symbol", MapSymbol(symbol)).
		SetQueryParam("apikey", c.apiKey).
		SetResult(&result)

	if _, err := c.doRequest(ctx, "/quote", req); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, symbol, err)
	}

	if result.Status == "error" || result.Symbol == "" {
		return nil, fmt.Errorf("%w: %s: %s", ErrPriceUnavailable, symbol, result.Message)
	}

	quote := &Quote{Symbol: symbol}
	quote.Price = parseDecimal(result.Close)
	quote.Open = parseDecimal(result.Open)
	quote.High = parseDecimal(result.High)
	quote.Low = parseDecimal(result.Low)
	quote.PreviousClose = parseDecimal(result.PreviousClose)
	quote.Change = parseDecimal(result.Change)
	quote.ChangePercent = parseDecimal(result.PercentChange)
	if result.Volume != "" {
		if v, err := strconv.ParseInt(result.Volume, 10, 64); err == nil {
			quote.Volume = v
		}
	}

	if quote.Price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s: bad quote price", ErrPriceUnavailable, symbol)
	}

	return quote, nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
