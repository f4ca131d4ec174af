package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReaper struct {
	calls atomic.Int32
}

func (r *countingReaper) ReapExpired(context.Context) int {
	r.calls.Add(1)
	return 0
}

func TestScheduleReaperRuns(t *testing.T) {
	s := NewScheduler(zerolog.Nop())
	r := &countingReaper{}
	require.NoError(t, s.ScheduleReaper(r, time.Second))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return r.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestScheduleReaperRejectsBadInterval(t *testing.T) {
	s := NewScheduler(zerolog.Nop())
	assert.Error(t, s.ScheduleReaper(&countingReaper{}, 0))
}
