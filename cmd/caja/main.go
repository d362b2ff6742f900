package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	// Load .env if present (local development); environment wins in prod
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "caja",
		Usage: "Custodial wallet settlement service CLI",
		Description: `A command-line tool for managing and debugging the caja settlement service.

Use this CLI to inspect ledger state, manage handles and wallets, control the
reconciliation schedule, and exercise the HTTP API.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Database inspection and admin commands
			{
				Name:  "db",
				Usage: "Database inspection and admin commands",
				Subcommands: []*cli.Command{
					migrateCommand(),
					listTransactionsCommand(),
					getTransactionCommand(),
					listStalePendingCommand(),
					createUserCommand(),
					createWalletCommand(),
					setHandleCommand(),
				},
			},
			// Temporal reconciliation schedule management
			{
				Name:  "temporal",
				Usage: "Reconciliation schedule management",
				Subcommands: []*cli.Command{
					upsertScheduleCommand(),
					describeScheduleCommand(),
					pauseScheduleCommand(),
					resumeScheduleCommand(),
					deleteScheduleCommand(),
					reconcileCommand(),
				},
			},
			// Notification stream commands
			natsCommands(),
			// Client commands (HTTP API)
			clientCommands(),
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "temporal-task-queue",
				Usage:   "Temporal task queue",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "caja-settlement",
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Settlement server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
