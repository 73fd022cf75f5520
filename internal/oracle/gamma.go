package oracle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"polybot/internal/logger"
	"polybot/internal/pkg/circuit"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
)

const (
	defaultGammaHost = "https://gamma-api.polymarket.com"
	defaultClobHost  = "https://clob.polymarket.com"
	maxBodyBytes     = 1 << 20
)

// Config mirrors the [oracle] config section.
type Config struct {
	GammaHost        string
	ClobHost         string
	Timeout          time.Duration
	MaxRetries       int
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Client reads settlement status from the Gamma API and live prices from
// the CLOB midpoint endpoint. Every request goes through a bounded backoff
// and a shared circuit breaker.
type Client struct {
	gamma      *url.URL
	clob       *url.URL
	httpClient *http.Client
	maxRetries int
	backoff    func() backoff.BackOff
	breaker    *circuit.Breaker
	log        logger.Component
}

var _ MarketOracle = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	gamma, err := parseHost(cfg.GammaHost, defaultGammaHost)
	if err != nil {
		return nil, fmt.Errorf("oracle.gamma_host: %w", err)
	}
	clob, err := parseHost(cfg.ClobHost, defaultClobHost)
	if err != nil {
		return nil, fmt.Errorf("oracle.clob_host: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &Client{
		gamma:      gamma,
		clob:       clob,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: retries,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
		breaker: circuit.New("oracle", cfg.BreakerThreshold, cfg.BreakerCooldown),
		log:     logger.With("oracle"),
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) Breaker() *circuit.Breaker { return c.breaker }

// GetMarketStatus queries /markets?condition_id=<id>&limit=1.
func (c *Client) GetMarketStatus(ctx context.Context, marketID string) *MarketStatus {
	marketID = strings.TrimSpace(marketID)
	if marketID == "" {
		return nil
	}
	q := url.Values{}
	q.Set("condition_id", marketID)
	q.Set("limit", "1")
	raw, err := c.get(ctx, c.gamma, "/markets", q)
	if err != nil {
		c.log.Debugf("market status %s: %v", short(marketID), err)
		return nil
	}
	st, ok := ParseMarketStatus(raw)
	if !ok {
		c.log.Debugf("market status %s: unparseable payload", short(marketID))
		return nil
	}
	return st
}

// GetLivePrice returns the CLOB midpoint of a token, nil when unknown.
func (c *Client) GetLivePrice(ctx context.Context, tokenRef string) *float64 {
	tokenRef = strings.TrimSpace(tokenRef)
	if tokenRef == "" {
		return nil
	}
	q := url.Values{}
	q.Set("token_id", tokenRef)
	raw, err := c.get(ctx, c.clob, "/midpoint", q)
	if err != nil {
		c.log.Debugf("price %s: %v", short(tokenRef), err)
		return nil
	}
	mid := gjson.GetBytes(raw, "mid")
	if !mid.Exists() {
		return nil
	}
	p := mid.Float()
	if p < 0 || p > 1 {
		return nil
	}
	return &p
}

// ParseMarketStatus accepts either a list of markets (first element wins) or
// a single market object. outcomePrices and outcomes may be JSON-encoded
// strings or arrays; prices pair with names by index.
func ParseMarketStatus(raw []byte) (*MarketStatus, bool) {
	if !gjson.ValidBytes(raw) {
		return nil, false
	}
	root := gjson.ParseBytes(raw)
	var m gjson.Result
	switch {
	case root.IsArray():
		items := root.Array()
		if len(items) == 0 {
			return nil, false
		}
		m = items[0]
	case root.IsObject():
		m = root
	default:
		return nil, false
	}
	if !m.IsObject() {
		return nil, false
	}

	closed := m.Get("closed").Bool()
	st := &MarketStatus{
		Resolved:       m.Get("resolved").Bool() || closed,
		Closed:         closed,
		WinningOutcome: firstString(m, "winningOutcome", "winning_outcome"),
		OutcomePrices:  map[string]float64{},
		EndDate:        parseDate(firstString(m, "endDateIso", "endDate", "end_date_iso")),
	}

	prices := embedded(firstExisting(m, "outcomePrices", "outcome_prices"))
	names := embedded(m.Get("outcomes"))
	if !names.IsArray() {
		names = gjson.Parse(`["Yes","No"]`)
	}
	var priceList []gjson.Result
	if prices.IsArray() {
		priceList = prices.Array()
	}
	for i, name := range names.Array() {
		if i >= len(priceList) {
			break
		}
		key := strings.ToUpper(strings.TrimSpace(name.String()))
		if key == "" {
			continue
		}
		st.OutcomePrices[key] = priceList[i].Float()
	}
	return st, true
}

// get performs one GET with retry. 4xx responses are not retried.
func (c *Client) get(ctx context.Context, base *url.URL, path string, q url.Values) ([]byte, error) {
	endpoint := base.JoinPath(path)
	endpoint.RawQuery = q.Encode()

	var body []byte
	op := func() error {
		return c.breaker.Do(func() error {
			data, err := c.do(ctx, endpoint.String())
			if err != nil {
				return err
			}
			body = data
			return nil
		})
	}
	var policy backoff.BackOff = backoff.WithMaxRetries(c.backoff(), uint64(c.maxRetries))
	policy = backoff.WithContext(policy, ctx)
	err := backoff.Retry(func() error {
		err := op()
		var se *statusError
		if errors.Is(err, circuit.ErrOpen) || (errors.As(err, &se) && !se.retryable()) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	return body, err
}

func (c *Client) do(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("oracle status %d", e.code)
	}
	if len(e.body) > 200 {
		return fmt.Sprintf("oracle status %d: %s...", e.code, e.body[:200])
	}
	return fmt.Sprintf("oracle status %d: %s", e.code, e.body)
}

func (e *statusError) retryable() bool {
	return e.code >= 500 || e.code == http.StatusTooManyRequests
}

func parseHost(raw, fallback string) (*url.URL, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		raw = fallback
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid host %q", raw)
	}
	return u, nil
}

// embedded unwraps a JSON array that was shipped as a string.
func embedded(v gjson.Result) gjson.Result {
	if v.Type == gjson.String {
		return gjson.Parse(v.Str)
	}
	return v
}

func firstExisting(m gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := m.Get(k); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

func firstString(m gjson.Result, keys ...string) string {
	return strings.TrimSpace(firstExisting(m, keys...).String())
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func short(id string) string {
	if len(id) > 16 {
		return id[:16]
	}
	return id
}
