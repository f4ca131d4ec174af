package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Reaper removes expired sessions.
type Reaper interface {
	ReapExpired(ctx context.Context) int
}

// Scheduler runs periodic maintenance outside request handling.
type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger
}

func NewScheduler(logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// ScheduleReaper runs r every interval.
func (s *Scheduler) ScheduleReaper(r Reaper, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("reap interval must be positive, got %s", interval)
	}
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		n := r.ReapExpired(context.Background())
		s.logger.Debug().Int("reaped", n).Msg("session reap finished")
	})
	if err != nil {
		return fmt.Errorf("schedule session reaper failed: %w", err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
