package temporal

import (
	"context"
	"time"
)

// ScheduleID is the fixed Temporal schedule for the reconciliation sweep.
// There is exactly one; the sweep covers the whole ledger.
const ScheduleID = "reconcile-pending"

// Scheduler manages the Temporal schedule driving ReconcilePendingWorkflow.
type Scheduler interface {
	// UpsertReconcileSchedule creates or updates the reconciliation
	// schedule so the sweep runs every interval.
	UpsertReconcileSchedule(ctx context.Context, interval, minAge, maxAge time.Duration) error

	// DeleteReconcileSchedule removes the schedule, stopping the sweep.
	DeleteReconcileSchedule(ctx context.Context) error
}
