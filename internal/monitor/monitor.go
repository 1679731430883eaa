// Package monitor turns run lifecycle events into Prometheus metrics and alerts.
package monitor

import (
	"context"
	"log/slog"

	"backtest-core/internal/events"
)

// Monitor watches the bus, updates metrics and evaluates alert rules on
// completed runs.
type Monitor struct {
	Bus     *events.Bus
	Metrics *Metrics
	Rules   []Rule
	Sink    AlertSink
	Log     *slog.Logger
}

// Start consumes events until ctx is done. The returned channel is closed
// once the consumer goroutine exits.
func (m *Monitor) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if m.Bus == nil || m.Metrics == nil {
		close(done)
		return done
	}
	if m.Log == nil {
		m.Log = slog.Default()
	}
	if m.Sink == nil {
		m.Sink = LogSink{Log: m.Log}
	}

	stream, unsub := m.Bus.SubscribeMany([]events.Event{
		events.EventBacktestCompleted,
		events.EventBacktestFailed,
		events.EventSweepCompleted,
	}, 256)
	go func() {
		defer close(done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				m.handle(msg)
			}
		}
	}()
	return done
}

func (m *Monitor) handle(msg events.Message) {
	switch p := msg.Payload.(type) {
	case events.RunCompleted:
		m.Metrics.RunsTotal.WithLabelValues("completed").Inc()
		m.Metrics.RunDuration.Observe(p.Duration.Seconds())
		m.Metrics.TradesTotal.Add(float64(p.Summary.TotalTrades))
		for _, r := range m.Rules {
			if fire, text := r.Check(p.Summary); fire {
				m.Metrics.AlertsTotal.WithLabelValues(r.Name()).Inc()
				if err := m.Sink.Send(text); err != nil {
					m.Log.Error("alert delivery failed", "rule", r.Name(), "error", err)
				}
			}
		}
	case events.RunFailed:
		m.Metrics.RunsTotal.WithLabelValues("failed").Inc()
		m.Metrics.RunDuration.Observe(p.Duration.Seconds())
	case events.SweepCompleted:
		m.Metrics.SweepsTotal.Inc()
	}
}
