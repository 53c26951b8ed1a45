package soda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"crashsync/internal/config"
)

// StatusError is a non-2xx SODA response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("soda: upstream returned %d", e.Code)
}

// Transient reports whether the failure is worth retrying: network
// errors, 5xx and rate-limit responses.
func (e *StatusError) Transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// PageRequest asks for one page of raw records from a SODA resource.
// The client has no knowledge of record semantics.
type PageRequest struct {
	Endpoint string
	Limit    int
	Offset   int
	Where    string
	Order    string
}

// Page is one page of raw records plus the continuation cursor. Done
// marks end-of-stream (a short page).
type Page struct {
	Records    []map[string]interface{}
	NextOffset int
	Done       bool
}

// Client fetches paginated records from the Chicago Open Data SODA
// API behind a shared rate limiter and circuit breaker.
type Client struct {
	r       *resty.Client
	limiter *RateLimiter
	breaker *Breaker
	logger  *zap.Logger
}

// NewClient builds the resty-backed SODA client. Retries with
// exponential backoff (base * factor^attempt, capped) are handled
// inside resty for transient failures only; the rate limiter gates
// every attempt including retries.
func NewClient(cfg *config.SodaConfig, logger *zap.Logger) *Client {
	limiter := NewRateLimiter(cfg.RateLimitPerHour)
	breaker := NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown)

	r := resty.New().
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.BackoffBase).
		SetRetryMaxWaitTime(cfg.BackoffCap).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "crashsync/1.0")

	if cfg.Token != "" {
		r.SetHeader("X-App-Token", cfg.Token)
	}

	base := cfg.BackoffBase
	factor := cfg.BackoffFactor
	if base <= 0 {
		base = time.Second
	}
	if factor <= 1 {
		factor = 2
	}
	maxWait := cfg.BackoffCap
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}

	r.SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
		attempt := 0
		if resp != nil && resp.Request != nil {
			attempt = resp.Request.Attempt - 1
		}
		wait := time.Duration(float64(base) * math.Pow(factor, float64(attempt)))
		if wait > maxWait {
			wait = maxWait
		}
		return wait, nil
	})

	r.AddRetryCondition(func(resp *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		code := resp.StatusCode()
		return code == http.StatusTooManyRequests || code >= 500
	})

	// Every attempt, retries included, waits for rate budget.
	r.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	return &Client{
		r:       r,
		limiter: limiter,
		breaker: breaker,
		logger:  logger,
	}
}

// FetchPage returns the next page of raw records and the continuation
// offset. Transient failures are retried internally; once retries are
// exhausted (or on a non-retryable 4xx) the error propagates. While
// the circuit is open it fails fast with ErrCircuitOpen before any
// network I/O.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 1000
	}

	r := c.r.R().
		SetContext(ctx).
		SetQueryParam("$limit", strconv.Itoa(limit)).
		SetQueryParam("$offset", strconv.Itoa(req.Offset))
	if req.Where != "" {
		r.SetQueryParam("$where", req.Where)
	}
	if req.Order != "" {
		r.SetQueryParam("$order", req.Order)
	}

	resp, err := r.Get(req.Endpoint)
	if err != nil {
		// A cancelled or timed-out caller says nothing about upstream
		// health, so it never counts against the circuit.
		if ctx.Err() == nil {
			c.breaker.Record(err)
		}
		return nil, fmt.Errorf("soda request failed: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		statusErr := &StatusError{Code: resp.StatusCode(), Body: truncateBody(resp.Body())}
		if statusErr.Transient() {
			// Retries inside resty are exhausted by now.
			c.breaker.Record(statusErr)
		} else {
			// Client-side query errors do not indict the upstream.
			c.breaker.Record(nil)
		}
		c.logger.Warn("SODA fetch failed",
			zap.String("endpoint", req.Endpoint),
			zap.Int("offset", req.Offset),
			zap.Int("status", resp.StatusCode()),
		)
		return nil, statusErr
	}

	var records []map[string]interface{}
	if err := json.Unmarshal(resp.Body(), &records); err != nil {
		malformed := fmt.Errorf("soda: malformed payload: %w", err)
		c.breaker.Record(malformed)
		return nil, malformed
	}

	c.breaker.Record(nil)

	return &Page{
		Records:    records,
		NextOffset: req.Offset + len(records),
		Done:       len(records) < limit,
	}, nil
}

// probePageSize is the first-page fetch used when the COUNT query
// fails.
const probePageSize = 1000

// Count returns the total record count for an endpoint and filter.
// When the COUNT query fails it falls back to a first-page fetch: a
// full page estimates ten times its size, a short page counts exactly.
// Callers only use the result for progress estimation.
func (c *Client) Count(ctx context.Context, endpoint, where string) (int, error) {
	n, err := c.countQuery(ctx, endpoint, where)
	if err == nil {
		return n, nil
	}
	if errors.Is(err, ErrCircuitOpen) || ctx.Err() != nil {
		return 0, err
	}

	c.logger.Warn("SODA count failed, probing first page",
		zap.String("endpoint", endpoint),
		zap.Error(err))
	page, probeErr := c.FetchPage(ctx, PageRequest{Endpoint: endpoint, Limit: probePageSize, Where: where})
	if probeErr != nil {
		return 0, err
	}
	if !page.Done {
		return len(page.Records) * 10, nil
	}
	return len(page.Records), nil
}

func (c *Client) countQuery(ctx context.Context, endpoint, where string) (int, error) {
	if err := c.breaker.Allow(); err != nil {
		return 0, err
	}

	r := c.r.R().
		SetContext(ctx).
		SetQueryParam("$select", "COUNT(*) as count")
	if where != "" {
		r.SetQueryParam("$where", where)
	}

	resp, err := r.Get(endpoint)
	if err != nil {
		if ctx.Err() == nil {
			c.breaker.Record(err)
		}
		return 0, fmt.Errorf("soda count failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		statusErr := &StatusError{Code: resp.StatusCode(), Body: truncateBody(resp.Body())}
		if statusErr.Transient() {
			c.breaker.Record(statusErr)
		} else {
			c.breaker.Record(nil)
		}
		return 0, statusErr
	}

	var rows []map[string]interface{}
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		malformed := fmt.Errorf("soda: malformed count payload: %w", err)
		c.breaker.Record(malformed)
		return 0, malformed
	}
	c.breaker.Record(nil)

	if len(rows) == 0 {
		return 0, nil
	}
	switch v := rows[0]["count"].(type) {
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("soda: unparsable count %q", v)
		}
		return n, nil
	case float64:
		return int(v), nil
	}
	return 0, nil
}

// DateWhere builds the $where clause for an inclusive date window on
// the given field. Dates are YYYY-MM-DD; either side may be empty.
func DateWhere(dateField, startDate, endDate string) string {
	where := ""
	if startDate != "" {
		where = fmt.Sprintf("%s >= '%sT00:00:00'", dateField, startDate)
	}
	if endDate != "" {
		clause := fmt.Sprintf("%s < '%sT23:59:59'", dateField, endDate)
		if where != "" {
			where += " AND " + clause
		} else {
			where = clause
		}
	}
	return where
}

// SinceWhere builds the $where clause resuming strictly after a
// watermark on the given field.
func SinceWhere(dateField string, since time.Time) string {
	return fmt.Sprintf("%s > '%s'", dateField, since.Format("2006-01-02T15:04:05"))
}

// UpdatedSinceWhere builds the $where clause for incremental fetches
// using the portal's :updated_at system field.
func UpdatedSinceWhere(since time.Time) string {
	return fmt.Sprintf(":updated_at > '%s'", since.Format("2006-01-02T15:04:05"))
}

// BreakerSnapshot exposes circuit state for the health surface.
func (c *Client) BreakerSnapshot() BreakerSnapshot {
	return c.breaker.Snapshot()
}

// LimiterSnapshot exposes remaining rate budget for the health surface.
func (c *Client) LimiterSnapshot() RateLimiterSnapshot {
	return c.limiter.Snapshot()
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
