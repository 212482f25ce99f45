package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pointledger/internal/config"
	"pointledger/internal/jobs"
	"pointledger/internal/repository/memory"
	"pointledger/internal/service"
)

func newRunner(cfg *config.Config) *jobs.JobRunner {
	store := memory.New()
	return jobs.NewJobRunner(store, service.NewLedgerService(store, nil), cfg)
}

func TestNewScheduler(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		cfg := &config.Config{Scheduler: config.SchedulerConfig{
			ExpirePoints:      "0 5 0 * * *",
			ReconcileBalances: "0 30 3 * * 0",
		}}
		s, err := NewScheduler(newRunner(cfg))
		require.NoError(t, err)
		assert.True(t, s.IsRunning())
		assert.Len(t, s.NextRuns(), 2)

		s.Start()
		s.Stop()
	})

	t.Run("InvalidSchedule", func(t *testing.T) {
		cfg := &config.Config{Scheduler: config.SchedulerConfig{
			ExpirePoints:      "every day",
			ReconcileBalances: "0 30 3 * * 0",
		}}
		_, err := NewScheduler(newRunner(cfg))
		assert.Error(t, err)
	})
}
