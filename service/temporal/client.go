package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// UpsertReconcileSchedule creates or updates the reconciliation schedule.
func (c *Client) UpsertReconcileSchedule(ctx context.Context, interval, minAge, maxAge time.Duration) error {
	c.logger.Debug("upserting reconcile schedule",
		"schedule_id", ScheduleID,
		"interval", interval,
		"min_age", minAge,
		"max_age", maxAge,
	)

	handle := c.client.ScheduleClient().GetHandle(ctx, ScheduleID)
	if _, err := handle.Describe(ctx); err != nil {
		// Schedule doesn't exist yet; create it.
		return c.createSchedule(ctx, interval, minAge, maxAge)
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			if action, ok := input.Description.Schedule.Action.(*client.ScheduleWorkflowAction); ok {
				action.Args = []interface{}{ReconcileInput{MinAge: minAge, MaxAge: maxAge}}
			}
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule", "schedule_id", ScheduleID, "error", err)
		return fmt.Errorf("failed to update schedule %q: %w", ScheduleID, err)
	}

	c.logger.Info("reconcile schedule updated", "schedule_id", ScheduleID, "interval", interval)
	return nil
}

func (c *Client) createSchedule(ctx context.Context, interval, minAge, maxAge time.Duration) error {
	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: ScheduleID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{
				{Every: interval},
			},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        "reconcile-pending-sweep",
			Workflow:  "ReconcilePendingWorkflow",
			TaskQueue: c.taskQueue,
			Args: []interface{}{ReconcileInput{
				MinAge: minAge,
				MaxAge: maxAge,
			}},
		},
		Memo: map[string]interface{}{
			"created_by": "caja",
		},
	})
	if err != nil {
		c.logger.Error("failed to create schedule", "schedule_id", ScheduleID, "error", err)
		return fmt.Errorf("failed to create schedule %q: %w", ScheduleID, err)
	}

	c.logger.Info("reconcile schedule created",
		"schedule_id", ScheduleID,
		"interval", interval,
		"min_age", minAge,
		"max_age", maxAge,
	)
	return nil
}

// DeleteReconcileSchedule deletes the reconciliation schedule.
func (c *Client) DeleteReconcileSchedule(ctx context.Context) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, ScheduleID)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule", "schedule_id", ScheduleID, "error", err)
		return fmt.Errorf("failed to delete schedule %q: %w", ScheduleID, err)
	}
	c.logger.Info("reconcile schedule deleted", "schedule_id", ScheduleID)
	return nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
