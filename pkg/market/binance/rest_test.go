package binance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeKlines serves one daily kline per day for 10 days, honouring
// startTime, endTime and limit.
func fakeKlines(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		q := r.URL.Query()
		start, _ := strconv.ParseInt(q.Get("startTime"), 10, 64)
		end, _ := strconv.ParseInt(q.Get("endTime"), 10, 64)
		limit, _ := strconv.Atoi(q.Get("limit"))

		var rows [][]any
		for i := 0; i < 10 && len(rows) < limit; i++ {
			open := day0.AddDate(0, 0, i).UnixMilli()
			if open < start || (end > 0 && open > end) {
				continue
			}
			price := strconv.Itoa(100 + i)
			rows = append(rows, []any{open, price, price, price, price + ".5", "10", open + 86399999, "1000", 42, "5", "500", "0"})
		}
		w.Header().Set(WeightHeader, "12")
		json.NewEncoder(w).Encode(rows)
	}))
}

func newTestClient(url string, page int) *Client {
	return NewClient(false, WithBaseURL(url), WithPageSize(page), WithRateLimit(rate.Inf, 1))
}

func TestKlinesRangePages(t *testing.T) {
	var calls atomic.Int32
	srv := fakeKlines(t, &calls)
	defer srv.Close()

	c := newTestClient(srv.URL, 3)
	got, err := c.KlinesRange(context.Background(), "BTCUSDT", "1d", day0.AddDate(0, 0, 1), day0.AddDate(0, 0, 8))
	if err != nil {
		t.Fatalf("KlinesRange: %v", err)
	}
	if len(got) != 7 {
		t.Fatalf("expected 7 klines, got %d", len(got))
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 pages, got %d", calls.Load())
	}
	for i, k := range got {
		want := day0.AddDate(0, 0, i+1)
		if !k.OpenTime.Equal(want) {
			t.Fatalf("kline %d opens at %v, want %v", i, k.OpenTime, want)
		}
	}
	if got[0].Close.String() != "101.5" || got[0].NumberOfTrades != 42 || got[0].Symbol != "BTCUSDT" {
		t.Fatalf("unexpected first kline %+v", got[0])
	}
	if used, _, _ := c.Weights().Usage(); used != 12 {
		t.Fatalf("weight header not tracked, used=%d", used)
	}
}

func TestKlinesRangeOpenEnd(t *testing.T) {
	var calls atomic.Int32
	srv := fakeKlines(t, &calls)
	defer srv.Close()

	got, err := newTestClient(srv.URL, 4).KlinesRange(context.Background(), "BTCUSDT", "1d", day0, time.Time{})
	if err != nil {
		t.Fatalf("KlinesRange: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("expected all 10 klines, got %d", len(got))
	}
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"code":-1003}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 10).Klines(context.Background(), "BTCUSDT", "1d", 10, day0, time.Time{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.RateLimited() {
		t.Fatalf("expected rate limited APIError, got %v", err)
	}
}

func TestParseKlinesRejectsGarbage(t *testing.T) {
	cases := map[string]string{
		"short row":    `[[1,"1","1"]]`,
		"bad price":    `[[1,"x","1","1","1","1",2,"1",3]]`,
		"not an array": `{"code":1}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := parseKlines("X", []byte(body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestWeightTrackerWindow(t *testing.T) {
	wt := NewWeightTracker(100, time.Minute, nil)
	now := day0
	wt.now = func() time.Time { return now }
	wt.lastReset = now

	wt.UpdateFromHeader("95")
	if !wt.ShouldDelay() {
		t.Fatalf("95%% usage should delay")
	}
	now = now.Add(2 * time.Minute)
	if wt.ShouldDelay() {
		t.Fatalf("usage should reset after the window")
	}
	if err := wt.Wait(context.Background()); err != nil {
		t.Fatalf("Wait after reset: %v", err)
	}
}
