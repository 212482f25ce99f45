package jobs

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pointledger/internal/logger"
)

// ExpirePoints expires every SAVE entry that is past due, one account per
// transaction.
func (jr *JobRunner) ExpirePoints() {
	jr.runWithRecovery("ExpirePoints", func(runID string) {
		report, err := jr.RunExpiration(context.Background(), runID, jr.clock())
		if err != nil {
			logger.Error("Failed to expire points", "run_id", runID, "error", err)
			return
		}
		logger.Info("Completed point expiry",
			"run_id", runID,
			"accounts", report.Accounts,
			"failed", report.Failed,
			"points_expired", report.Points)
	})
}

// RunExpiration expires due capacity as of now across all accounts. Accounts
// run in parallel up to the configured limit; a failing account is logged and
// counted, never fatal to the rest of the run.
func (jr *JobRunner) RunExpiration(ctx context.Context, runID string, now time.Time) (*BatchReport, error) {
	accounts, err := jr.store.Ledger().ListAccountsDueForExpiry(ctx, now)
	if err != nil {
		return nil, err
	}

	report := &BatchReport{RunID: runID, Accounts: len(accounts)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(jr.concurrency())
	for _, accountID := range accounts {
		g.Go(func() error {
			actx, cancel := context.WithTimeout(ctx, jr.accountTimeout())
			defer cancel()

			expired, err := jr.ledger.ExpireAccount(actx, accountID, now)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				logger.Error("Failed to expire account", "run_id", runID, "account_id", accountID, "error", err)
				return nil
			}
			report.Points += expired
			return nil
		})
	}
	// Closures absorb per-account errors into the report.
	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}
