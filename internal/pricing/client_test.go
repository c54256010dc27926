package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// setupTestServer creates a test server and a Client configured to use it.
func setupTestServer(handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)

	c := &Client{
		client:  resty.New().SetBaseURL(server.URL),
		apiKey:  "test_api_key",
		timeout: 2 * time.Second,
		logger:  zap.NewNop(),
		limiter: rate.NewLimiter(rate.Inf, 1), // Allow all requests in tests
	}
	return c, server
}

func TestGetPrice(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/price", r.URL.Path)
			assert.Equal(t, "EUR/USD", r.URL.Query().Get("symbol"))
			assert.Equal(t, "test_api_key", r.URL.Query().Get("apikey"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"price": "1.08450"}`))
		})

		c, server := setupTestServer(handler)
		defer server.Close()

		price, err := c.GetPrice(context.Background(), "EURUSD")

		assert.NoError(t, err)
		assert.True(t, price.Equal(decimal.RequireFromString("1.08450")))
	})

	t.Run("ErrorEnvelope", func(t *testing.T) {
		// The provider reports errors inside a 200 response.
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"code": 429, "message": "run out of credits", "status": "error"}`))
		})

		c, server := setupTestServer(handler)
		defer server.Close()

		_, err := c.GetPrice(context.Background(), "EURUSD")
		assert.ErrorIs(t, err, ErrPriceUnavailable)
	})

	t.Run("BadPrice", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"price": "not-a-number"}`))
		})

		c, server := setupTestServer(handler)
		defer server.Close()

		_, err := c.GetPrice(context.Background(), "EURUSD")
		assert.ErrorIs(t, err, ErrPriceUnavailable)
	})

	t.Run("RetriesServerErrors", func(t *testing.T) {
		var calls atomic.Int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"price": "1.08450"}`))
		})

		c, server := setupTestServer(handler)
		defer server.Close()
		c.timeout = 10 * time.Second // leave room for the backoff sleep

		price, err := c.GetPrice(context.Background(), "EURUSD")

		assert.NoError(t, err)
		assert.True(t, price.Equal(decimal.RequireFromString("1.08450")))
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("ClientErrorDoesNotRetry", func(t *testing.T) {
		var calls atomic.Int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code": 400, "message": "bad symbol", "status": "error"}`))
		})

		c, server := setupTestServer(handler)
		defer server.Close()

		_, err := c.GetPrice(context.Background(), "NOPE")
		assert.ErrorIs(t, err, ErrPriceUnavailable)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestGetQuote(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"symbol": "EUR/USD",
			"open": "1.08300",
			"high": "1.08600",
			"low": "1.08100",
			"close": "1.08450",
			"previous_close": "1.08200",
			"change": "0.00250",
			"percent_change": "0.23",
			"volume": "12345"
		}`))
	})

	c, server := setupTestServer(handler)
	defer server.Close()

	quote, err := c.GetQuote(context.Background(), "EURUSD")

	assert.NoError(t, err)
	assert.Equal(t, "EURUSD", quote.Symbol)
	assert.True(t, quote.Price.Equal(decimal.RequireFromString("1.08450")))
	assert.True(t, quote.ChangePercent.Equal(decimal.RequireFromString("0.23")))
	assert.Equal(t, int64(12345), quote.Volume)
}

func TestMapSymbol(t *testing.T) {
	assert.Equal(t, "EUR/USD", MapSymbol("EURUSD"))
	assert.Equal(t, "BTC/USD", MapSymbol("BTCUSD"))
	assert.Equal(t, "BRENT", MapSymbol("CRUDE"))
	assert.Equal(t, "CUSTOM", MapSymbol("CUSTOM")) // pass-through
}

func TestSimulator(t *testing.T) {
	sim := NewSimulator(1)

	base := decimal.RequireFromString("1.08450")
	for i := 0; i < 50; i++ {
		price, err := sim.GetPrice(context.Background(), "EURUSD")
		assert.NoError(t, err)
		// Each step moves at most 0.05% from the previous price; over 50
		// steps the walk stays well inside a few percent of the base.
		diff := price.Sub(base).Abs().Div(base)
		assert.True(t, diff.LessThan(decimal.RequireFromString("0.05")),
			"price %s drifted too far from base", price)
	}

	price, err := sim.GetPrice(context.Background(), "SOMETHING")
	assert.NoError(t, err)
	assert.True(t, price.GreaterThan(decimal.Zero))
}
