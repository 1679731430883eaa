package monitor

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"backtest-core/internal/backtest"
	"backtest-core/internal/events"
)

type memorySink struct {
	mu   sync.Mutex
	msgs []string
}

func (s *memorySink) Send(m string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func value(m prometheus.Metric) float64 {
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		return -1
	}
	return out.GetCounter().GetValue()
}

func TestRules(t *testing.T) {
	s := backtest.Summary{Symbol: "BTC", MaxDrawdown: 0.3, TotalReturn: -0.15}
	cases := []struct {
		rule Rule
		want bool
	}{
		{DrawdownRule{Limit: 0.2}, true},
		{DrawdownRule{Limit: 0.5}, false},
		{DrawdownRule{}, false},
		{LossRule{Limit: 0.1}, true},
		{LossRule{Limit: 0.2}, false},
	}
	for _, tc := range cases {
		if fire, msg := tc.rule.Check(s); fire != tc.want || (fire && !strings.Contains(msg, "BTC")) {
			t.Fatalf("%s(%+v) = %v %q, want %v", tc.rule.Name(), tc.rule, fire, msg, tc.want)
		}
	}
}

func TestMonitorConsumesEvents(t *testing.T) {
	bus := events.NewBus()
	metrics := NewMetrics("test")
	sink := &memorySink{}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{Bus: bus, Metrics: metrics, Rules: []Rule{DrawdownRule{Limit: 0.1}}, Sink: sink}
	done := m.Start(ctx)

	bus.Publish(events.EventBacktestCompleted, events.RunCompleted{
		RunID:    "a",
		Summary:  backtest.Summary{Symbol: "X", TotalTrades: 4, MaxDrawdown: 0.25},
		Duration: time.Second,
	})
	bus.Publish(events.EventBacktestFailed, events.RunFailed{RunID: "b"})
	bus.Publish(events.EventSweepCompleted, events.SweepCompleted{SweepID: "s"})

	deadline := time.Now().Add(2 * time.Second)
	for value(metrics.SweepsTotal) < 1 || value(metrics.RunsTotal.WithLabelValues("failed")) < 1 ||
		value(metrics.TradesTotal) < 4 || sink.count() < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("events not consumed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := value(metrics.RunsTotal.WithLabelValues("completed")); got != 1 {
		t.Fatalf("completed runs = %v", got)
	}
	if sink.count() != 1 || value(metrics.AlertsTotal.WithLabelValues("max_drawdown")) != 1 {
		t.Fatalf("drawdown alert not raised")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("monitor did not stop")
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics("")
	m.ObserveFetch("csv", 10*time.Millisecond, nil)
	m.ObserveHTTP("GET", "/health", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{"backtest_data_fetch_duration_seconds", `backtest_http_requests_total{code="200",method="GET",route="/health"} 1`} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
