// Package scheduler runs the daily history retention cleanup.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/veltro-project/blazingbarrels/internal/config"
	"github.com/veltro-project/blazingbarrels/internal/db"
	"github.com/veltro-project/blazingbarrels/internal/util"
)

// Scheduler deletes history older than the retention window once a day.
type Scheduler struct {
	cfg    config.DatabaseConfig
	store  *db.Store
	logger zerolog.Logger
}

// NewScheduler creates a scheduler for store.
func NewScheduler(cfg config.DatabaseConfig, store *db.Store) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		store:  store,
		logger: util.ComponentLogger("scheduler"),
	}
}

// Start blocks until ctx is cancelled, running the cleanup at cleanup_time.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cfg.HistoryRetentionDays <= 0 {
		s.logger.Info().Msg("history retention disabled")
		<-ctx.Done()
		return
	}

	s.logger.Info().Msg("scheduler started")
	for {
		nextRun := NextRun(s.cfg.CleanupTime, time.Now())
		sleep := time.Until(nextRun)
		if sleep <= 0 {
			sleep = 24 * time.Hour
		}

		s.logger.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleep).
			Msg("history cleanup scheduled")

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-timer.C:
			if _, err := s.RunCleanup(time.Now()); err != nil {
				s.logger.Warn().Err(err).Msg("history cleanup failed")
			}
		}
	}
}

// RunCleanup deletes closed sessions and kills older than the retention window.
func (s *Scheduler) RunCleanup(now time.Time) (db.CleanupResult, error) {
	cutoff := now.Add(-time.Duration(s.cfg.HistoryRetentionDays) * 24 * time.Hour)
	res, err := s.store.Cleanup(cutoff)
	if err != nil {
		return res, err
	}
	s.logger.Info().
		Time("cutoff", cutoff).
		Int64("sessions", res.Sessions).
		Int64("kills", res.Kills).
		Msg("history cleanup completed")
	return res, nil
}

// NextRun returns the next occurrence of the HH:MM clock time after now.
// An unparsable value falls back to 04:00.
func NextRun(clock string, now time.Time) time.Time {
	hour, minute := 4, 0
	parts := strings.Split(clock, ":")
	if len(parts) == 2 {
		var h, m int
		_, errH := fmt.Sscanf(parts[0], "%d", &h)
		_, errM := fmt.Sscanf(parts[1], "%d", &m)
		if errH == nil && errM == nil && h >= 0 && h < 24 && m >= 0 && m < 60 {
			hour, minute = h, m
		}
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
