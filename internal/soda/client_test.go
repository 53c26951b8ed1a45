package soda

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"crashsync/internal/config"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	return NewClient(&config.SodaConfig{
		RateLimitPerHour: 100000,
		RequestTimeout:   5 * time.Second,
		MaxRetries:       0,
		BackoffBase:      time.Millisecond,
		BackoffFactor:    2,
		BackoffCap:       10 * time.Millisecond,
		BreakerThreshold: 2,
		BreakerCooldown:  time.Minute,
	}, zap.NewNop())
}

func TestFetchPagePassesQueryAndPaginates(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"limit":  r.URL.Query().Get("$limit"),
			"offset": r.URL.Query().Get("$offset"),
			"where":  r.URL.Query().Get("$where"),
			"order":  r.URL.Query().Get("$order"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"crash_record_id":"a"},{"crash_record_id":"b"}]`))
	}))
	defer srv.Close()

	c := testClient(t)
	page, err := c.FetchPage(context.Background(), PageRequest{
		Endpoint: srv.URL,
		Limit:    2,
		Offset:   10,
		Where:    "crash_date >= '2024-01-01T00:00:00'",
		Order:    "crash_date",
	})
	require.NoError(t, err)

	assert.Equal(t, "2", gotQuery["limit"])
	assert.Equal(t, "10", gotQuery["offset"])
	assert.Equal(t, "crash_date >= '2024-01-01T00:00:00'", gotQuery["where"])
	assert.Equal(t, "crash_date", gotQuery["order"])

	assert.Len(t, page.Records, 2)
	assert.Equal(t, 12, page.NextOffset)
	assert.False(t, page.Done, "full page should not end the stream")
}

func TestFetchPageShortPageEndsStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"crash_record_id":"a"}]`))
	}))
	defer srv.Close()

	c := testClient(t)
	page, err := c.FetchPage(context.Background(), PageRequest{Endpoint: srv.URL, Limit: 50})
	require.NoError(t, err)
	assert.True(t, page.Done)
	assert.Equal(t, 1, page.NextOffset)
}

func TestFetchPageClientErrorDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "malformed query", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := testClient(t)
	for i := 0; i < 3; i++ {
		_, err := c.FetchPage(context.Background(), PageRequest{Endpoint: srv.URL})
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusBadRequest, statusErr.Code)
		assert.False(t, statusErr.Transient())
	}
	assert.Equal(t, BreakerClosed, c.BreakerSnapshot().State)
}

func TestFetchPageServerErrorsOpenBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t)
	for i := 0; i < 2; i++ {
		_, err := c.FetchPage(context.Background(), PageRequest{Endpoint: srv.URL})
		require.Error(t, err)
	}
	require.Equal(t, BreakerOpen, c.BreakerSnapshot().State)

	// Open circuit fails fast before any network I/O.
	_, err := c.FetchPage(context.Background(), PageRequest{Endpoint: srv.URL})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestFetchPageCancelledContextSparesBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := testClient(t)
	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err := c.FetchPage(ctx, PageRequest{Endpoint: srv.URL})
		cancel()
		require.Error(t, err)
	}

	// Caller timeouts say nothing about the upstream.
	snap := c.BreakerSnapshot()
	assert.Equal(t, BreakerClosed, snap.State)
	assert.Zero(t, snap.ConsecutiveFailures)
}

func TestCountParsesStringAndNumeric(t *testing.T) {
	body := `[{"count":"1234"}]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "COUNT(*) as count", r.URL.Query().Get("$select"))
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := testClient(t)
	n, err := c.Count(context.Background(), srv.URL, "")
	require.NoError(t, err)
	assert.Equal(t, 1234, n)

	body = `[{"count":42}]`
	n, err = c.Count(context.Background(), srv.URL, "")
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestCountFallsBackToFirstPageProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("$select") != "" {
			http.Error(w, "count unsupported", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`[{"crash_record_id":"a"},{"crash_record_id":"b"},{"crash_record_id":"c"}]`))
	}))
	defer srv.Close()

	c := testClient(t)
	n, err := c.Count(context.Background(), srv.URL, "")
	require.NoError(t, err)
	// short probe page counts exactly
	assert.Equal(t, 3, n)
	assert.Equal(t, BreakerClosed, c.BreakerSnapshot().State)
}

func TestDateWhereClauses(t *testing.T) {
	assert.Equal(t,
		"crash_date >= '2024-01-01T00:00:00' AND crash_date < '2024-06-30T23:59:59'",
		DateWhere("crash_date", "2024-01-01", "2024-06-30"))
	assert.Equal(t, "crash_date >= '2024-01-01T00:00:00'", DateWhere("crash_date", "2024-01-01", ""))
	assert.Equal(t, "crash_date < '2024-06-30T23:59:59'", DateWhere("crash_date", "", "2024-06-30"))
	assert.Equal(t, "", DateWhere("crash_date", "", ""))
}

func TestSinceWhereResumesAfterWatermark(t *testing.T) {
	since := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	assert.Equal(t, "crash_date > '2024-05-01T12:30:00'", SinceWhere("crash_date", since))
}
