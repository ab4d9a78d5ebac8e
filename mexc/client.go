// Package mexc is the Upstream Adapter: a rate-limited, retrying HTTP
// client for MEXC's calendar, symbol, ping, time, and signed order
// endpoints, with cache-aside reads through cacheservice.
package mexc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nlarkins/mexc-sniper/apperr"
	"github.com/nlarkins/mexc-sniper/cacheservice"
	"github.com/nlarkins/mexc-sniper/telemetry"
	"github.com/rs/zerolog"
)

const (
	minRequestInterval = 100 * time.Millisecond
	maxRetries          = 3
	requestTimeout       = 10 * time.Second

	pathCalendar   = "/api/operation/new_coin_calendar"
	pathSymbolsV2  = "/api/platform/spot/market-v2/web/symbolsV2"
	pathPing       = "/api/v3/ping"
	pathServerTime = "/api/v3/time"
	pathOrder      = "/api/v3/order"
)

// Client is the Upstream Adapter. One instance owns the HTTP connection
// pool and the rate-limit clock; callers may share it freely.
type Client struct {
	baseURL       string
	apiKey        string
	secretKey     string
	httpClient    *http.Client
	cache         *cacheservice.Service
	logger        zerolog.Logger
	metrics       *telemetry.Registry

	rateMu      sync.Mutex
	lastRequest time.Time
}

// New constructs an Adapter client. apiKey/secretKey may be empty; signed
// operations fail with config-missing when secretKey is empty, and an
// empty apiKey only omits the X-MEXC-APIKEY header.
func New(baseURL, apiKey, secretKey string, cache *cacheservice.Service, logger zerolog.Logger, metrics *telemetry.Registry) *Client {
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		secretKey:  secretKey,
		httpClient: &http.Client{Transport: transport},
		cache:      cache,
		logger:     logger.With().Str("component", "mexc-adapter").Logger(),
		metrics:    metrics,
	}
}

// GetCalendar fetches announced listings, cache-aside with a 30s TTL.
// Entries failing schema validation are dropped individually and logged
// at debug; the remainder is returned.
func (c *Client) GetCalendar(ctx context.Context) ([]CalendarEntry, error) {
	const cacheKey = "all"
	var cachedRaw []json.RawMessage
	if c.cache.Get(ctx, "calendar", cacheKey, &cachedRaw) {
		return decodeCalendarEntries(cachedRaw, c.logger), nil
	}

	body, err := c.doRequest(ctx, http.MethodGet, pathCalendar, nil, false)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamDecode, "decode calendar response", err)
	}

	c.cache.Set(ctx, "calendar", cacheKey, envelope.Data, cacheservice.TypeCalendar, 0)
	return decodeCalendarEntries(envelope.Data, c.logger), nil
}

func decodeCalendarEntries(raw []json.RawMessage, logger zerolog.Logger) []CalendarEntry {
	entries := make([]CalendarEntry, 0, len(raw))
	for _, r := range raw {
		var e CalendarEntry
		if err := json.Unmarshal(r, &e); err != nil {
			logger.Debug().Err(err).Msg("dropping malformed calendar entry")
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

// GetSymbols fetches the symbol metadata feed, optionally filtered
// client-side by vcoinID. TTL 5s; the cache key includes the filter.
func (c *Client) GetSymbols(ctx context.Context, vcoinID string) ([]SymbolRecord, error) {
	cacheKey := "all"
	if vcoinID != "" {
		cacheKey = "vcoin:" + vcoinID
	}

	var cachedRaw []json.RawMessage
	if c.cache.Get(ctx, "symbols", cacheKey, &cachedRaw) {
		return filterSymbols(decodeSymbolRecords(cachedRaw, c.logger), vcoinID), nil
	}

	body, err := c.doRequest(ctx, http.MethodGet, pathSymbolsV2, nil, false)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data struct {
			Symbols []json.RawMessage `json:"symbols"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamDecode, "decode symbols response", err)
	}

	c.cache.Set(ctx, "symbols", cacheKey, envelope.Data.Symbols, cacheservice.TypeSymbols, 0)
	return filterSymbols(decodeSymbolRecords(envelope.Data.Symbols, c.logger), vcoinID), nil
}

func decodeSymbolRecords(raw []json.RawMessage, logger zerolog.Logger) []SymbolRecord {
	records := make([]SymbolRecord, 0, len(raw))
	for _, r := range raw {
		var s SymbolRecord
		if err := json.Unmarshal(r, &s); err != nil {
			logger.Debug().Err(err).Msg("dropping malformed symbol record")
			continue
		}
		records = append(records, s)
	}
	return records
}

func filterSymbols(records []SymbolRecord, vcoinID string) []SymbolRecord {
	if vcoinID == "" {
		return records
	}
	filtered := make([]SymbolRecord, 0, len(records))
	for _, r := range records {
		if r.VcoinID == vcoinID {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// Ping checks upstream reachability.
func (c *Client) Ping(ctx context.Context) bool {
	_, err := c.doRequest(ctx, http.MethodGet, pathPing, nil, false)
	return err == nil
}

// ServerTime returns the upstream's clock in epoch milliseconds, falling
// back to the local clock if the call fails.
func (c *Client) ServerTime(ctx context.Context) int64 {
	body, err := c.doRequest(ctx, http.MethodGet, pathServerTime, nil, false)
	if err != nil {
		return time.Now().UnixMilli()
	}
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return time.Now().UnixMilli()
	}
	return resp.ServerTime
}

// AccountInfoQuery fetches signed account info, TTL 60s.
func (c *Client) AccountInfoQuery(ctx context.Context) (*AccountInfo, error) {
	const cacheKey = "info"
	var cached AccountInfo
	if c.cache.Get(ctx, "account", cacheKey, &cached) {
		return &cached, nil
	}

	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/account", nil, true)
	if err != nil {
		return nil, err
	}
	var info AccountInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamDecode, "decode account info", err)
	}
	c.cache.Set(ctx, "account", cacheKey, info, cacheservice.TypeAccount, 0)
	return &info, nil
}

// PlaceMarketBuy submits a signed market-buy order for quoteQty units of
// the quote asset. Requires configured credentials.
func (c *Client) PlaceMarketBuy(ctx context.Context, symbol string, quoteQty float64) (*OrderResponse, error) {
	params := map[string]string{
		"symbol":        symbol,
		"side":          "BUY",
		"type":          "MARKET",
		"quoteOrderQty": strconv.FormatFloat(quoteQty, 'f', 8, 64),
	}
	body, err := c.doRequest(ctx, http.MethodPost, pathOrder, params, true)
	if err != nil {
		return nil, err
	}
	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamDecode, "decode order response", err)
	}
	return &resp, nil
}

// waitForRateLimit enforces the single-client 100ms minimum spacing by
// recording the last request timestamp and sleeping the deficit. The
// critical section only touches the in-memory clock.
func (c *Client) waitForRateLimit(ctx context.Context) error {
	c.rateMu.Lock()
	now := time.Now()
	elapsed := now.Sub(c.lastRequest)
	var wait time.Duration
	if elapsed < minRequestInterval {
		wait = minRequestInterval - elapsed
	}
	c.lastRequest = now.Add(wait)
	c.rateMu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return apperr.Wrap(apperr.KindCancelled, "rate limit wait cancelled", ctx.Err())
	}
}

// doRequest performs one logical call: rate limit, build request (signing
// if needed), retry on transport error with exponential backoff. Non-2xx
// responses are not retried.
func (c *Client) doRequest(ctx context.Context, method, path string, params map[string]string, signed bool) ([]byte, error) {
	if signed && c.secretKey == "" {
		return nil, apperr.New(apperr.KindConfigMissing, "MEXC_SECRET_KEY not configured")
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.waitForRateLimit(ctx); err != nil {
			return nil, err
		}

		body, err := c.attemptRequest(ctx, method, path, params, signed)
		if err == nil {
			c.metrics.CounterInc("adapter_requests_total", map[string]string{"endpoint": path, "outcome": "success"})
			return body, nil
		}
		if apperr.IsUpstreamHTTP(err) || apperr.IsRateLimited(err) {
			c.metrics.CounterInc("adapter_requests_total", map[string]string{"endpoint": path, "outcome": "error"})
			return nil, err
		}
		lastErr = err

		if attempt < maxRetries {
			backoff := time.Duration(0.5*math.Pow(2, float64(attempt))*float64(time.Second))
			c.logger.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("adapter request failed, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.metrics.CounterInc("adapter_requests_total", map[string]string{"endpoint": path, "outcome": "error"})
				return nil, apperr.Wrap(apperr.KindCancelled, "request cancelled during backoff", ctx.Err())
			}
		}
	}
	c.metrics.CounterInc("adapter_requests_total", map[string]string{"endpoint": path, "outcome": "error"})
	return nil, apperr.Wrap(apperr.KindUpstreamNetwork, "exhausted retries", lastErr)
}

func (c *Client) attemptRequest(ctx context.Context, method, path string, params map[string]string, signed bool) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	if signed {
		values.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		values.Set("signature", sign(c.secretKey, values))
	}

	fullURL := c.baseURL + path
	var req *http.Request
	var err error
	if method == http.MethodGet {
		if len(values) > 0 {
			fullURL += "?" + values.Encode()
		}
		req, err = http.NewRequestWithContext(reqCtx, method, fullURL, nil)
	} else {
		req, err = http.NewRequestWithContext(reqCtx, method, fullURL+"?"+values.Encode(), nil)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamNetwork, "build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "mexc-sniper/1.0")
	if c.apiKey != "" {
		req.Header.Set("X-MEXC-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamNetwork, "transport error", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamNetwork, "read response body", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperr.Wrap(apperr.KindRateLimited, fmt.Sprintf("status %d: %s", resp.StatusCode, string(data)), nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.Wrap(apperr.KindUpstreamHTTP, fmt.Sprintf("status %d: %s", resp.StatusCode, string(data)), nil)
	}
	return data, nil
}
