package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"polybot/internal/pkg/circuit"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, srv *httptest.Server, retries int) *Client {
	t.Helper()
	c, err := NewClient(Config{
		GammaHost:        srv.URL,
		ClobHost:         srv.URL,
		Timeout:          time.Second,
		MaxRetries:       retries,
		BreakerThreshold: 3,
		BreakerCooldown:  time.Minute,
	})
	require.NoError(t, err)
	c.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}

func TestParseMarketStatus(t *testing.T) {
	cases := []struct {
		name     string
		payload  string
		resolved bool
		winner   string
		prices   map[string]float64
	}{
		{
			name:     "gamma list with string encoded arrays",
			payload:  `[{"conditionId":"0xabc","closed":true,"outcomes":"[\"Yes\",\"No\"]","outcomePrices":"[\"1\",\"0\"]","endDateIso":"2026-05-01"}]`,
			resolved: true,
			prices:   map[string]float64{"YES": 1, "NO": 0},
		},
		{
			name:     "object with winner and native arrays",
			payload:  `{"resolved":true,"winningOutcome":"No","outcomes":["Yes","No"],"outcomePrices":[0.02,0.98]}`,
			resolved: true,
			winner:   "NO",
			prices:   map[string]float64{"YES": 0.02, "NO": 0.98},
		},
		{
			name:     "open market defaults outcome names",
			payload:  `[{"closed":false,"outcome_prices":"[\"0.41\",\"0.59\"]"}]`,
			resolved: false,
			prices:   map[string]float64{"YES": 0.41, "NO": 0.59},
		},
		{
			name:     "garbage prices are ignored",
			payload:  `[{"closed":true,"outcomePrices":"not json"}]`,
			resolved: true,
			prices:   map[string]float64{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st, ok := ParseMarketStatus([]byte(tc.payload))
			require.True(t, ok)
			assert.Equal(t, tc.resolved, st.Resolved)
			assert.Equal(t, tc.winner, st.Winner())
			assert.Equal(t, tc.prices, st.OutcomePrices)
		})
	}

	st, ok := ParseMarketStatus([]byte(`[{"closed":true,"endDateIso":"2026-05-01"}]`))
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), st.EndDate)

	for _, bad := range []string{`[]`, `null`, `"x"`, `{`, `[1]`} {
		_, ok := ParseMarketStatus([]byte(bad))
		assert.False(t, ok, bad)
	}
}

func TestGetMarketStatusRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		assert.Equal(t, "0xabc", r.URL.Query().Get("condition_id"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[{"closed":true,"winningOutcome":"Yes"}]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 2)
	st := c.GetMarketStatus(context.Background(), "0xabc")
	require.NotNil(t, st)
	assert.True(t, st.Resolved)
	assert.Equal(t, "YES", st.Winner())
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestGetMarketStatusDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 3)
	assert.Nil(t, c.GetMarketStatus(context.Background(), "0xabc"))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Nil(t, c.GetMarketStatus(context.Background(), ""))
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 0)
	for i := 0; i < 3; i++ {
		assert.Nil(t, c.GetMarketStatus(context.Background(), "0xabc"))
	}
	assert.Equal(t, circuit.StateOpen, c.Breaker().State())

	assert.Nil(t, c.GetMarketStatus(context.Background(), "0xabc"))
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls), "open breaker short-circuits")
}

func TestGetLivePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/midpoint", r.URL.Path)
		switch r.URL.Query().Get("token_id") {
		case "tok-1":
			_, _ = w.Write([]byte(`{"mid":"0.415"}`))
		case "tok-2":
			_, _ = w.Write([]byte(`{"error":"no orderbook"}`))
		default:
			_, _ = w.Write([]byte(`{"mid":"7"}`))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 0)
	p := c.GetLivePrice(context.Background(), "tok-1")
	require.NotNil(t, p)
	assert.InDelta(t, 0.415, *p, 1e-9)
	assert.Nil(t, c.GetLivePrice(context.Background(), "tok-2"))
	assert.Nil(t, c.GetLivePrice(context.Background(), "tok-3"), "out of range")
}

func TestNewClientRejectsBadHost(t *testing.T) {
	_, err := NewClient(Config{GammaHost: "not a url"})
	assert.Error(t, err)
}
