package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"

	"github.com/caja-cash/caja/service/temporal"
)

func upsertScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "upsert-schedule",
		Usage: "Create or update the reconciliation sweep schedule",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Sweep interval",
				Value: 5 * time.Minute,
			},
			&cli.DurationFlag{
				Name:  "min-age",
				Usage: "Minimum PENDING age before a row is examined",
				Value: 10 * time.Minute,
			},
			&cli.DurationFlag{
				Name:  "max-age",
				Usage: "Age past which a hashless PENDING row is failed",
				Value: time.Hour,
			},
		},
		Action: func(c *cli.Context) error {
			temporalClient, err := getScheduleClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			interval := c.Duration("interval")
			minAge := c.Duration("min-age")
			maxAge := c.Duration("max-age")
			if minAge > maxAge {
				return fmt.Errorf("min-age (%v) cannot be greater than max-age (%v)", minAge, maxAge)
			}

			if err := temporalClient.UpsertReconcileSchedule(context.Background(), interval, minAge, maxAge); err != nil {
				return err
			}

			fmt.Printf("✓ Schedule ready: %s\n", temporal.ScheduleID)
			fmt.Printf("  Interval: %v\n", interval)
			fmt.Printf("  Min age:  %v\n", minAge)
			fmt.Printf("  Max age:  %v\n", maxAge)
			return nil
		},
	}
}

func describeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:    "describe-schedule",
		Usage:   "Describe the reconciliation sweep schedule",
		Aliases: []string{"desc"},
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			handle := temporalClient.ScheduleClient().GetHandle(ctx, temporal.ScheduleID)
			desc, err := handle.Describe(ctx)
			if err != nil {
				return fmt.Errorf("failed to describe schedule: %w", err)
			}

			fmt.Printf("Schedule: %s\n", temporal.ScheduleID)
			fmt.Printf("Paused:   %v\n", desc.Schedule.State.Paused)
			if desc.Schedule.State.Paused && desc.Schedule.State.Note != "" {
				fmt.Printf("Note:     %s\n", desc.Schedule.State.Note)
			}
			for _, spec := range desc.Schedule.Spec.Intervals {
				fmt.Printf("Interval: %v\n", spec.Every)
			}
			if len(desc.Info.RecentActions) > 0 {
				last := desc.Info.RecentActions[len(desc.Info.RecentActions)-1]
				fmt.Printf("Last run: %s\n", last.ActualTime.Format(time.RFC3339))
			}
			if len(desc.Info.NextActionTimes) > 0 {
				fmt.Printf("Next run: %s\n", desc.Info.NextActionTimes[0].Format(time.RFC3339))
			}
			return nil
		},
	}
}

func pauseScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "pause-schedule",
		Usage: "Pause the reconciliation sweep schedule",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why the schedule is paused",
				Value: "Paused via caja CLI",
			},
		},
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			handle := temporalClient.ScheduleClient().GetHandle(ctx, temporal.ScheduleID)
			if err := handle.Pause(ctx, client.SchedulePauseOptions{Note: c.String("note")}); err != nil {
				return fmt.Errorf("failed to pause schedule: %w", err)
			}

			fmt.Printf("✓ Schedule paused: %s\n", temporal.ScheduleID)
			return nil
		},
	}
}

func resumeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "resume-schedule",
		Usage: "Resume the reconciliation sweep schedule",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why the schedule is resumed",
				Value: "Resumed via caja CLI",
			},
		},
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			handle := temporalClient.ScheduleClient().GetHandle(ctx, temporal.ScheduleID)
			if err := handle.Unpause(ctx, client.ScheduleUnpauseOptions{Note: c.String("note")}); err != nil {
				return fmt.Errorf("failed to resume schedule: %w", err)
			}

			fmt.Printf("✓ Schedule resumed: %s\n", temporal.ScheduleID)
			return nil
		},
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete-schedule",
		Usage: "Delete the reconciliation sweep schedule",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Skip confirmation prompt",
			},
		},
		Action: func(c *cli.Context) error {
			// Confirm deletion unless --force
			if !c.Bool("force") {
				fmt.Printf("Are you sure you want to delete schedule %s? (yes/no): ", temporal.ScheduleID)
				var response string
				fmt.Scanln(&response)
				if response != "yes" {
					fmt.Println("Cancelled")
					return nil
				}
			}

			temporalClient, err := getScheduleClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			if err := temporalClient.DeleteReconcileSchedule(context.Background()); err != nil {
				return err
			}

			fmt.Printf("✓ Schedule deleted: %s\n", temporal.ScheduleID)
			return nil
		},
	}
}

func reconcileCommand() *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Run one reconciliation sweep now and wait for the result",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "min-age",
				Usage: "Minimum PENDING age before a row is examined",
				Value: 10 * time.Minute,
			},
			&cli.DurationFlag{
				Name:  "max-age",
				Usage: "Age past which a hashless PENDING row is failed",
				Value: time.Hour,
			},
		},
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			run, err := temporalClient.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
				ID:        fmt.Sprintf("reconcile-manual-%d", time.Now().Unix()),
				TaskQueue: c.String("temporal-task-queue"),
			}, "ReconcilePendingWorkflow", temporal.ReconcileInput{
				MinAge: c.Duration("min-age"),
				MaxAge: c.Duration("max-age"),
			})
			if err != nil {
				return fmt.Errorf("failed to start reconcile workflow: %w", err)
			}

			fmt.Printf("Started workflow %s, waiting for sweep to finish...\n", run.GetID())

			var result temporal.ReconcileResult
			if err := run.Get(ctx, &result); err != nil {
				return fmt.Errorf("reconcile workflow failed: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(result)
			}

			fmt.Printf("✓ Sweep complete\n")
			fmt.Printf("  Examined:      %d\n", result.Examined)
			fmt.Printf("  Confirmed:     %d\n", result.Confirmed)
			fmt.Printf("  Failed:        %d\n", result.Failed)
			fmt.Printf("  Still pending: %d\n", result.StillPending)
			return nil
		},
	}
}

// Helper function to connect to Temporal via the raw SDK client
func getTemporalClient(c *cli.Context) (client.Client, error) {
	host := c.String("temporal-host")
	if host == "" {
		host = os.Getenv("TEMPORAL_HOST")
	}
	if host == "" {
		host = "localhost:7233"
	}

	namespace := c.String("temporal-namespace")
	if namespace == "" {
		namespace = "default"
	}

	temporalClient, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	return temporalClient, nil
}

// Helper function to connect via the service's schedule-aware client
func getScheduleClient(c *cli.Context) (*temporal.Client, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		logger,
	)
}
