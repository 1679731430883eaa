package events

import (
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventBacktestCompleted, 1)

	bus.Publish(EventBacktestCompleted, RunCompleted{RunID: "a"})
	bus.Publish(EventBacktestCompleted, RunCompleted{RunID: "b"}) // buffer full, dropped
	bus.Publish(EventBacktestFailed, RunFailed{RunID: "c"})       // other topic

	got := (<-ch).(RunCompleted)
	if got.RunID != "a" {
		t.Fatalf("unexpected payload %+v", got)
	}
	if bus.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", bus.Dropped())
	}

	unsub()
	unsub() // idempotent
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
	bus.Publish(EventBacktestCompleted, RunCompleted{RunID: "d"}) // no subscribers, no panic
}

func TestBusSubscribeMany(t *testing.T) {
	bus := NewBus()
	msgs, unsub := bus.SubscribeMany(Topics(), 8)

	bus.Publish(EventBacktestStarted, RunStarted{RunID: "r"})
	bus.Publish(EventSweepCompleted, SweepCompleted{SweepID: "s"})

	seen := map[Event]bool{}
	timeout := time.After(time.Second)
	for len(seen) < 2 {
		select {
		case m := <-msgs:
			seen[m.Topic] = true
		case <-timeout:
			t.Fatalf("timed out, saw %v", seen)
		}
	}
	if !seen[EventBacktestStarted] || !seen[EventSweepCompleted] {
		t.Fatalf("unexpected topics %v", seen)
	}

	unsub()
	select {
	case _, ok := <-msgs:
		if ok {
			// drain any late message, the channel must still close
			for range msgs {
			}
		}
	case <-time.After(time.Second):
		t.Fatalf("merged channel not closed after unsubscribe")
	}
}
