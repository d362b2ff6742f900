package temporal

import (
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// ReconcileInput contains the input parameters for one reconciliation sweep.
type ReconcileInput struct {
	MinAge    time.Duration `json:"min_age"`
	MaxAge    time.Duration `json:"max_age"`
	BatchSize int32         `json:"batch_size"`
}

// ReconcileResult summarizes one sweep.
type ReconcileResult struct {
	Examined     int       `json:"examined"`
	Confirmed    int       `json:"confirmed"`
	Failed       int       `json:"failed"`
	StillPending int       `json:"still_pending"`
	SweepTime    time.Time `json:"sweep_time"`
}

// ReconcilePendingWorkflow settles ledger rows stuck in PENDING. A row goes
// stale when the process died between chain broadcast and persisting the
// terminal transition; this sweep resolves each one from on-chain state.
// It is triggered by a Temporal schedule at a configured interval.
func ReconcilePendingWorkflow(ctx workflow.Context, input ReconcileInput) (*ReconcileResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ReconcilePendingWorkflow started", "min_age", input.MinAge, "max_age", input.MaxAge)

	if input.BatchSize <= 0 {
		input.BatchSize = 100
	}

	result := &ReconcileResult{SweepTime: workflow.Now(ctx)}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 60 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var stale *ListStalePendingResult
	err := workflow.ExecuteActivity(ctx, a.ListStalePending, ListStalePendingInput{
		MinAge: input.MinAge,
		Limit:  input.BatchSize,
	}).Get(ctx, &stale)
	if err != nil {
		return result, err
	}

	result.Examined = len(stale.Transactions)
	if result.Examined == 0 {
		logger.Debug("no stale pending transactions")
		return result, nil
	}

	for _, txn := range stale.Transactions {
		var reconciled *ReconcileTransactionResult
		err := workflow.ExecuteActivity(ctx, a.ReconcileTransaction, ReconcileTransactionInput{
			ID:        txn.ID,
			TxHash:    txn.TxHash,
			CreatedAt: txn.CreatedAt,
			MaxAge:    input.MaxAge,
		}).Get(ctx, &reconciled)
		if err != nil {
			// One bad row must not block the rest of the sweep; the next
			// run picks it up again.
			logger.Error("failed to reconcile transaction", "transaction_id", txn.ID, "error", err)
			continue
		}

		switch reconciled.Outcome {
		case OutcomeConfirmed:
			result.Confirmed++
		case OutcomeFailed:
			result.Failed++
		default:
			result.StillPending++
		}
	}

	logger.Info("ReconcilePendingWorkflow finished",
		"examined", result.Examined,
		"confirmed", result.Confirmed,
		"failed", result.Failed,
		"still_pending", result.StillPending,
	)
	return result, nil
}
