package execution

import (
	"bytes"
	"context"
	"encoding/json"
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
)

// ErrNoGateway is returned for live calls when no gateway URL is configured.
var ErrNoGateway = errors.New("execution gateway not configured")

type Config struct {
	GatewayURL string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// Gateway talks to the order-signing gateway over REST. The gateway owns the
// wallet keys; this process only sends intents.
//
//	POST   /orders/market  {token_id, amount, side}
//	POST   /orders/limit   {token_id, price, size, side}
//	DELETE /orders/{id}
//	GET    /balances       {on_chain_cash, deposited_cash}
type Gateway struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
	maxRetries int
	backoff    func() backoff.BackOff
	breaker    *circuit.Breaker
	log        logger.Component
}

var _ Client = (*Gateway)(nil)

func NewGateway(cfg Config) (*Gateway, error) {
	g := &Gateway{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		maxRetries: cfg.MaxRetries,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
		breaker: circuit.New("execution", 5, 30*time.Second),
		log:     logger.With("execution"),
	}
	if g.maxRetries < 0 {
		g.maxRetries = 0
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	g.httpClient = &http.Client{Timeout: timeout}
	if raw := strings.TrimSpace(cfg.GatewayURL); raw != "" {
		parsed, err := url.Parse(strings.TrimRight(raw, "/"))
		if err != nil {
			return nil, fmt.Errorf("parse execution.gateway_url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("invalid execution.gateway_url %q", raw)
		}
		g.baseURL = parsed
	}
	return g, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (g *Gateway) SetHTTPClient(client *http.Client) {
	g.httpClient = client
}

func (g *Gateway) Breaker() *circuit.Breaker { return g.breaker }

// Live reports whether live orders can be sent.
func (g *Gateway) Live() bool { return g != nil && g.baseURL != nil }

type marketOrderPayload struct {
	TokenID string    `json:"token_id"`
	Amount  float64   `json:"amount"`
	Side    OrderSide `json:"side"`
}

type limitOrderPayload struct {
	TokenID string    `json:"token_id"`
	Price   float64   `json:"price"`
	Size    float64   `json:"size"`
	Side    OrderSide `json:"side"`
}

type orderResponse struct {
	Success     bool    `json:"success"`
	OrderID     string  `json:"order_id"`
	FilledPrice float64 `json:"filled_price"`
	FilledSize  float64 `json:"filled_size"`
	ErrorMsg    string  `json:"error"`
}

func (g *Gateway) PlaceMarketOrder(ctx context.Context, tokenRef string, amountUSD float64, side OrderSide, dryRun bool) Result {
	g.log.Infof("%sMARKET %s $%.2f token=%s", dryPrefix(dryRun), side, amountUSD, short(tokenRef))
	if err := validateOrder(tokenRef, side, amountUSD); err != nil {
		return Result{Error: err.Error()}
	}
	if dryRun {
		return dryMarket(tokenRef, amountUSD, side)
	}
	var resp orderResponse
	if err := g.send(ctx, http.MethodPost, "/orders/market", marketOrderPayload{TokenID: tokenRef, Amount: amountUSD, Side: side}, &resp, false); err != nil {
		return Result{Error: err.Error()}
	}
	return resp.result(amountUSD)
}

func (g *Gateway) PlaceLimitOrder(ctx context.Context, tokenRef string, price, size float64, side OrderSide, dryRun bool) Result {
	g.log.Infof("%sLIMIT %s %.2f @ $%.4f token=%s", dryPrefix(dryRun), side, size, price, short(tokenRef))
	if err := validateOrder(tokenRef, side, price, size); err != nil {
		return Result{Error: err.Error()}
	}
	if price >= 1 {
		return Result{Error: fmt.Sprintf("limit price must be below 1, got %v", price)}
	}
	if dryRun {
		return dryLimit(tokenRef, price, size, side)
	}
	var resp orderResponse
	if err := g.send(ctx, http.MethodPost, "/orders/limit", limitOrderPayload{TokenID: tokenRef, Price: price, Size: size, Side: side}, &resp, false); err != nil {
		return Result{Error: err.Error()}
	}
	r := resp.result(size)
	if r.Success && r.FilledPrice == 0 {
		r.FilledPrice = price
	}
	return r
}

func (g *Gateway) CancelOrder(ctx context.Context, ref string, dryRun bool) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false
	}
	if dryRun {
		g.log.Infof("[DRY RUN] cancel order %s", ref)
		return true
	}
	var resp struct {
		Canceled bool `json:"canceled"`
	}
	if err := g.send(ctx, http.MethodDelete, "/orders/"+url.PathEscape(ref), nil, &resp, true); err != nil {
		g.log.Errorf("cancel %s failed: %v", ref, err)
		return false
	}
	return resp.Canceled
}

// Balances implements ledger.BalanceSource.
func (g *Gateway) Balances(ctx context.Context) (float64, float64, error) {
	if !g.Live() {
		return 0, 0, ErrNoGateway
	}
	var resp struct {
		OnChain   float64 `json:"on_chain_cash"`
		Deposited float64 `json:"deposited_cash"`
	}
	if err := g.send(ctx, http.MethodGet, "/balances", nil, &resp, true); err != nil {
		return 0, 0, err
	}
	return resp.OnChain, resp.Deposited, nil
}

func (r orderResponse) result(requested float64) Result {
	if !r.Success {
		msg := strings.TrimSpace(r.ErrorMsg)
		if msg == "" {
			msg = "order rejected"
		}
		return Result{Error: msg}
	}
	size := r.FilledSize
	if size == 0 {
		size = requested
	}
	return Result{Success: true, OrderRef: r.OrderID, FilledPrice: r.FilledPrice, FilledSize: size}
}

// send performs one request. Order placement is not idempotent, so it only
// retries responses that prove the gateway did not accept the order
// (429/503); idempotent calls also retry transport errors and other 5xx.
func (g *Gateway) send(ctx context.Context, method, path string, payload, out any, idempotent bool) error {
	if !g.Live() {
		return ErrNoGateway
	}
	var body []byte
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = buf
	}
	endpoint := g.baseURL.JoinPath(path).String()

	policy := backoff.WithContext(backoff.WithMaxRetries(g.backoff(), uint64(g.maxRetries)), ctx)
	return backoff.Retry(func() error {
		err := g.breaker.Do(func() error { return g.doRequest(ctx, method, endpoint, body, out) })
		if err == nil {
			return nil
		}
		if errors.Is(err, circuit.ErrOpen) || !retryable(err, idempotent) {
			return backoff.Permanent(err)
		}
		g.log.Warnf("%s %s: %v (retrying)", method, path, err)
		return err
	}, policy)
}

func (g *Gateway) doRequest(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("gateway status %d", e.code)
	}
	return fmt.Sprintf("gateway status %d: %s", e.code, e.body)
}

type transportError struct{ err error }

func (e *transportError) Error() string { return "gateway request: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func retryable(err error, idempotent bool) bool {
	var se *statusError
	if errors.As(err, &se) {
		if se.code == http.StatusTooManyRequests || se.code == http.StatusServiceUnavailable {
			return true
		}
		return idempotent && se.code >= 500
	}
	var te *transportError
	if errors.As(err, &te) {
		return idempotent
	}
	return false
}

func dryPrefix(dry bool) string {
	if dry {
		return "[DRY RUN] "
	}
	return ""
}

func short(id string) string {
	if len(id) > 16 {
		return id[:16] + "..."
	}
	return id
}
