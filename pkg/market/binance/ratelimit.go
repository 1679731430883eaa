package binance

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// WeightHeader carries the request weight used in the current minute.
const WeightHeader = "X-MBX-USED-WEIGHT-1M"

// WeightTracker tracks the API weight reported by Binance.
type WeightTracker struct {
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	mu            sync.RWMutex
	log           *slog.Logger
	now           func() time.Time
}

// NewWeightTracker creates a tracker.
// limit: maximum weight allowed (6000 for spot)
// resetInterval: time window (1 minute)
func NewWeightTracker(limit int, resetInterval time.Duration, log *slog.Logger) *WeightTracker {
	if log == nil {
		log = slog.Default()
	}
	return &WeightTracker{
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
		log:           log,
		now:           time.Now,
	}
}

// UpdateFromHeader updates the used weight from an API response header.
func (wt *WeightTracker) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	wt.mu.Lock()
	defer wt.mu.Unlock()

	if wt.now().Sub(wt.lastReset) >= wt.resetInterval {
		wt.lastReset = wt.now()
	}
	wt.usedWeight = weight

	percentage := float64(wt.usedWeight) / float64(wt.limit) * 100
	if percentage >= 95 {
		wt.log.Error("binance weight critical", "used", wt.usedWeight, "limit", wt.limit, "pct", percentage)
	} else if percentage >= 80 {
		wt.log.Warn("binance weight high", "used", wt.usedWeight, "limit", wt.limit, "pct", percentage)
	}
}

// Usage returns current usage information.
func (wt *WeightTracker) Usage() (used int, limit int, percentage float64) {
	wt.mu.RLock()
	defer wt.mu.RUnlock()

	if wt.now().Sub(wt.lastReset) >= wt.resetInterval {
		return 0, wt.limit, 0
	}
	return wt.usedWeight, wt.limit, float64(wt.usedWeight) / float64(wt.limit) * 100
}

// ShouldDelay returns true if the next request should wait for the window to reset.
func (wt *WeightTracker) ShouldDelay() bool {
	_, _, pct := wt.Usage()
	return pct >= 90
}

// Wait blocks until the weight window resets when usage is near the limit.
func (wt *WeightTracker) Wait(ctx context.Context) error {
	if !wt.ShouldDelay() {
		return nil
	}
	wt.mu.RLock()
	wait := wt.resetInterval - wt.now().Sub(wt.lastReset)
	wt.mu.RUnlock()
	if wait <= 0 {
		return nil
	}

	wt.log.Warn("binance weight near limit, pausing", "wait", wait)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
