// Package health runs the periodic heartbeat and lag checks.
package health

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/veltro-project/blazingbarrels/internal/config"
	"github.com/veltro-project/blazingbarrels/internal/events"
	"github.com/veltro-project/blazingbarrels/internal/server"
	"github.com/veltro-project/blazingbarrels/internal/util"
)

// Manager runs each check on its own ticker.
type Manager struct {
	timers   config.TimerConfig
	eventBus *events.EventBus
	game     *server.Server
	lag      *server.LagMonitor
	usage    func() (util.ResourceUsage, error)
	now      func() time.Time
	logger   zerolog.Logger
}

// NewManager creates a health manager for game.
func NewManager(timers config.TimerConfig, eventBus *events.EventBus, game *server.Server, lag *server.LagMonitor) *Manager {
	return &Manager{
		timers:   timers,
		eventBus: eventBus,
		game:     game,
		lag:      lag,
		usage:    util.GetResourceUsage,
		now:      time.Now,
		logger:   util.ComponentLogger("health"),
	}
}

// Start blocks until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"heartbeat", m.timers.HeartbeatInterval, m.heartbeat},
		{"lag_health", m.timers.LagCheckInterval, func(ctx context.Context) { m.checkLagHealth(ctx) }},
	}

	started := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		started++
		go func() {
			ticker := time.NewTicker(time.Duration(check.interval) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	m.logger.Info().Int("checks", started).Msg("health manager started")
	<-ctx.Done()
	m.logger.Info().Msg("health manager stopped")
}

// heartbeat emits the current load and cycle counters.
func (m *Manager) heartbeat(ctx context.Context) {
	stats := m.game.Stats()
	payload := events.HeartbeatPayload{
		Players:  stats.Players,
		Pending:  stats.Pending,
		Cycles:   stats.Cycles,
		Overruns: stats.Overruns,
	}

	if u, err := m.usage(); err != nil {
		m.logger.Warn().Err(err).Msg("resource usage unavailable")
	} else {
		payload.CPUPercent = u.CPUPercent
		payload.MemoryPercent = u.MemoryPercent
	}

	m.logger.Debug().
		Int("players", payload.Players).
		Uint64("cycles", payload.Cycles).
		Float64("cpu_percent", payload.CPUPercent).
		Msg("heartbeat")

	m.eventBus.Emit(ctx, events.Event{
		Type:    events.EventHeartbeat,
		Source:  "health",
		Payload: payload,
	})
}

// checkLagHealth warns when the last window saw more overruns than
// server.LagWarningThreshold, and returns the count.
func (m *Manager) checkLagHealth(context.Context) int {
	window := time.Duration(m.timers.LagCheckInterval) * time.Second
	recent := m.lag.CountSince(m.now().Add(-window))
	if recent > server.LagWarningThreshold {
		m.logger.Warn().
			Int("recent_overruns", recent).
			Dur("window", window).
			Msg("elevated lag detected")
	}
	return recent
}
