package server

import (
	"context"
	"sync"
	"time"

	"github.com/veltro-project/blazingbarrels/internal/events"
)

const (
	// LagWarningThreshold is the number of overruns in one check window
	// that raises a warning.
	LagWarningThreshold = 5
	lagHistoryLimit     = 1000
)

// LagMonitor aggregates cycle overruns reported on the event bus.
type LagMonitor struct {
	mu sync.RWMutex

	totalEvents   int
	lastEventTime time.Time
	maxDuration   time.Duration
	sumDuration   time.Duration
	history       []LagEvent
	hourlyBuckets map[int]int
}

// LagEvent is one overrun.
type LagEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	Cycle     uint64        `json:"cycle"`
	Duration  time.Duration `json:"duration_ns"`
}

// LagReport summarizes the overruns seen so far.
type LagReport struct {
	TotalEvents    int           `json:"total_events"`
	EventsThisHour int           `json:"events_this_hour"`
	LastEventTime  time.Time     `json:"last_event_time"`
	MaxDuration    time.Duration `json:"max_duration_ns"`
	AvgDuration    time.Duration `json:"avg_duration_ns"`
	HourlyBuckets  map[int]int   `json:"hourly_buckets"`
}

// NewLagMonitor creates a monitor subscribed to cycle overruns on bus.
func NewLagMonitor(bus *events.EventBus) *LagMonitor {
	lm := &LagMonitor{
		history:       make([]LagEvent, 0, 100),
		hourlyBuckets: make(map[int]int),
	}
	bus.Subscribe(events.EventCycleOverrun, "lag_monitor", lm.handleOverrun)
	return lm
}

func (lm *LagMonitor) handleOverrun(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.CycleOverrunPayload)
	if !ok {
		return nil
	}
	lm.Record(event.Time, payload.Cycle, payload.Duration)
	return nil
}

// Record adds one overrun observed at ts.
func (lm *LagMonitor) Record(ts time.Time, cycle uint64, d time.Duration) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.totalEvents++
	lm.lastEventTime = ts
	lm.sumDuration += d
	if d > lm.maxDuration {
		lm.maxDuration = d
	}
	lm.hourlyBuckets[ts.Hour()]++

	lm.history = append(lm.history, LagEvent{Timestamp: ts, Cycle: cycle, Duration: d})
	if len(lm.history) > lagHistoryLimit {
		lm.history = lm.history[len(lm.history)-lagHistoryLimit:]
	}
}

// CountSince returns the number of overruns recorded after t.
func (lm *LagMonitor) CountSince(t time.Time) int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	n := 0
	for _, e := range lm.history {
		if e.Timestamp.After(t) {
			n++
		}
	}
	return n
}

// Report returns the aggregate figures.
func (lm *LagMonitor) Report() LagReport {
	lm.mu.RLock()
	r := LagReport{
		TotalEvents:   lm.totalEvents,
		LastEventTime: lm.lastEventTime,
		MaxDuration:   lm.maxDuration,
		HourlyBuckets: make(map[int]int, len(lm.hourlyBuckets)),
	}
	if lm.totalEvents > 0 {
		r.AvgDuration = lm.sumDuration / time.Duration(lm.totalEvents)
	}
	for h, n := range lm.hourlyBuckets {
		r.HourlyBuckets[h] = n
	}
	lm.mu.RUnlock()

	r.EventsThisHour = lm.CountSince(time.Now().Add(-time.Hour))
	return r
}

// Recent returns up to n of the latest overruns, newest last.
func (lm *LagMonitor) Recent(n int) []LagEvent {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	if n > len(lm.history) {
		n = len(lm.history)
	}
	return append([]LagEvent(nil), lm.history[len(lm.history)-n:]...)
}
