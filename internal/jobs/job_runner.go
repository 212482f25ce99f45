package jobs

import (
	"time"

	"github.com/google/uuid"

	"pointledger/internal/config"
	"pointledger/internal/logger"
	"pointledger/internal/repository"
	"pointledger/internal/service"
)

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	store  repository.Store
	ledger service.LedgerService
	config *config.Config
	clock  func() time.Time
}

// BatchReport summarizes one run of a batch job.
type BatchReport struct {
	RunID    string
	Accounts int
	Failed   int
	Points   int64 // expired points, expiry runs only
	Repaired int   // drifted caches rewritten, reconcile runs only
}

// NewJobRunner creates a new job runner with all dependencies
func NewJobRunner(store repository.Store, ledger service.LedgerService, cfg *config.Config) *JobRunner {
	return &JobRunner{
		store:  store,
		ledger: ledger,
		config: cfg,
		clock:  time.Now,
	}
}

// WithClock replaces the clock that decides what is due.
func (jr *JobRunner) WithClock(clock func() time.Time) *JobRunner {
	jr.clock = clock
	return jr
}

// Config returns the runner's configuration
func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func(runID string)) {
	runID := uuid.NewString()
	log := logger.WithService("cronjob").With("job", jobName, "run_id", runID)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Job panicked", "panic", r)
		}
	}()

	log.Info("Starting job")
	start := time.Now()
	jobFunc(runID)
	log.Info("Job completed", "duration", time.Since(start))
}

// RunAll runs every job once (for manual execution)
func (jr *JobRunner) RunAll() {
	jr.ExpirePoints()
	jr.ReconcileBalances()
}

func (jr *JobRunner) concurrency() int {
	if n := jr.config.Expiration.Concurrency; n > 0 {
		return n
	}
	return 1
}

func (jr *JobRunner) accountTimeout() time.Duration {
	if s := jr.config.Expiration.AccountTimeoutSeconds; s > 0 {
		return time.Duration(s) * time.Second
	}
	return 30 * time.Second
}
