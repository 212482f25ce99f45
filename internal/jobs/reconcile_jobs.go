package jobs

import (
	"context"

	"pointledger/internal/logger"
)

// ReconcileBalances rebuilds every cached balance from the ledger and
// repairs the ones that drifted.
func (jr *JobRunner) ReconcileBalances() {
	jr.runWithRecovery("ReconcileBalances", func(runID string) {
		report, err := jr.RunReconciliation(context.Background(), runID)
		if err != nil {
			logger.Error("Failed to reconcile balances", "run_id", runID, "error", err)
			return
		}
		logger.Info("Completed balance reconciliation",
			"run_id", runID,
			"accounts", report.Accounts,
			"failed", report.Failed,
			"repaired", report.Repaired)
	})
}

// RunReconciliation walks accounts sequentially; each one is its own
// transaction. Consistency violations are counted as failures and logged by
// the ledger service.
func (jr *JobRunner) RunReconciliation(ctx context.Context, runID string) (*BatchReport, error) {
	accounts, err := jr.store.Balances().ListAccountIDs(ctx)
	if err != nil {
		return nil, err
	}

	report := &BatchReport{RunID: runID, Accounts: len(accounts)}
	for _, accountID := range accounts {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result, err := jr.ledger.Reconcile(ctx, accountID)
		if err != nil {
			report.Failed++
			logger.Error("Failed to reconcile account", "run_id", runID, "account_id", accountID, "error", err)
			continue
		}
		if result.Repaired {
			report.Repaired++
		}
	}
	return report, nil
}
