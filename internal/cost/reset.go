package cost

import (
	"context"
	"fmt"
	"time"

	"eino_counsel/src/logger"

	"github.com/robfig/cron/v3"
)

// DefaultResetSchedule resets the budget at local midnight
const DefaultResetSchedule = "0 0 * * *"

// ResetScheduler zeroes a Guard on a cron schedule
type ResetScheduler struct {
	cron    *cron.Cron
	guard   *Guard
	timeout time.Duration
}

// NewResetScheduler registers the reset job. Start must be called to run it.
func NewResetScheduler(guard *Guard, schedule string) (*ResetScheduler, error) {
	if schedule == "" {
		schedule = DefaultResetSchedule
	}
	s := &ResetScheduler{
		cron:    cron.New(),
		guard:   guard,
		timeout: 5 * time.Second,
	}
	if _, err := s.cron.AddFunc(schedule, s.reset); err != nil {
		return nil, fmt.Errorf("invalid budget reset schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *ResetScheduler) reset() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	log := logger.Component("budget_reset")
	if err := s.guard.Reset(ctx); err != nil {
		log.Error().Err(err).Msg("failed to reset token budget")
		return
	}
	log.Info().Msg("token budget reset")
}

// Start begins running the schedule in the background
func (s *ResetScheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running reset to finish
func (s *ResetScheduler) Stop() {
	<-s.cron.Stop().Done()
}
