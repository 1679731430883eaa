// Package binance is a read-only client for Binance spot market data.
package binance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// MaxKlinesPerRequest is the largest page the klines endpoint serves.
const MaxKlinesPerRequest = 1000

// Client wraps REST access to Binance.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	pageSize int
	limiter  *rate.Limiter
	weights  *WeightTracker
	log      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the endpoint, mostly for tests.
func WithBaseURL(u string) Option { return func(c *Client) { c.BaseURL = u } }

// WithHTTPClient replaces the default 10s-timeout client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.HTTPClient = h } }

// WithRateLimit sets the client-side request rate.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(r, burst) }
}

// WithPageSize sets the klines page size, capped at MaxKlinesPerRequest.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 && n <= MaxKlinesPerRequest {
			c.pageSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

// NewClient builds a REST client; use testnet to switch base URLs.
func NewClient(testnet bool, opts ...Option) *Client {
	base := "https://api.binance.com"
	if testnet {
		base = "https://testnet.binance.vision"
	}
	c := &Client{
		BaseURL:    base,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		pageSize:   MaxKlinesPerRequest,
		limiter:    rate.NewLimiter(rate.Limit(10), 5),
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.weights = NewWeightTracker(6000, time.Minute, c.log)
	return c
}

// Weights exposes the weight tracker.
func (c *Client) Weights() *WeightTracker { return c.weights }

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "/api/v3/ping", nil)
	return err
}

// ServerTime fetches Binance server time.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	body, err := c.do(ctx, "/api/v3/time", nil)
	if err != nil {
		return time.Time{}, err
	}
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(resp.ServerTime).UTC(), nil
}

// Klines fetches one page of klines. Zero start or end are omitted.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int, start, end time.Time) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if !start.IsZero() {
		params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		params.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	}

	body, err := c.do(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, err
	}
	return parseKlines(symbol, body)
}

// KlinesRange pages through every kline opening in [start, end). A zero end
// reads up to the latest kline.
func (c *Client) KlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]Kline, error) {
	var (
		out    []Kline
		cursor = start
		last   time.Time
	)
	if !end.IsZero() {
		last = end.Add(-time.Millisecond)
	}
	for {
		page, err := c.Klines(ctx, symbol, interval, c.pageSize, cursor, last)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < c.pageSize {
			break
		}
		cursor = page[len(page)-1].OpenTime.Add(time.Millisecond)
		if !end.IsZero() && !cursor.Before(end) {
			break
		}
	}
	c.log.Debug("klines fetched", "symbol", symbol, "interval", interval, "count", len(out))
	return out, nil
}

func (c *Client) do(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.weights.Wait(ctx); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := c.BaseURL + path
	if params != nil {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	c.weights.UpdateFromHeader(res.Header.Get(WeightHeader))
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if res.StatusCode >= 300 {
		return nil, &APIError{Status: res.StatusCode, Path: path, Body: string(body)}
	}
	return body, nil
}

func parseKlines(symbol string, body []byte) ([]Kline, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw [][]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	klines := make([]Kline, 0, len(raw))
	for i, item := range raw {
		// Binance returns 12 fields per kline
		if len(item) < 9 {
			return nil, fmt.Errorf("kline %d: %d fields", i, len(item))
		}
		k := Kline{Symbol: symbol}
		var err error
		if k.OpenTime, err = toTime(item[0]); err != nil {
			return nil, fmt.Errorf("kline %d open time: %w", i, err)
		}
		if k.CloseTime, err = toTime(item[6]); err != nil {
			return nil, fmt.Errorf("kline %d close time: %w", i, err)
		}
		for j, dst := range []*decimal.Decimal{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume} {
			if *dst, err = toDecimal(item[j+1]); err != nil {
				return nil, fmt.Errorf("kline %d field %d: %w", i, j+1, err)
			}
		}
		if k.QuoteVolume, err = toDecimal(item[7]); err != nil {
			return nil, fmt.Errorf("kline %d quote volume: %w", i, err)
		}
		if n, ok := item[8].(json.Number); ok {
			k.NumberOfTrades, _ = n.Int64()
		}
		klines = append(klines, k)
	}
	return klines, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case string:
		return decimal.NewFromString(t)
	case json.Number:
		return decimal.NewFromString(t.String())
	default:
		return decimal.Zero, fmt.Errorf("unexpected %T", v)
	}
}

func toTime(v any) (time.Time, error) {
	n, ok := v.(json.Number)
	if !ok {
		return time.Time{}, fmt.Errorf("unexpected %T", v)
	}
	ms, err := n.Int64()
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
