package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/caja-cash/caja/service/db"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the database schema",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to apply schema: %w", err)
			}

			fmt.Println("✓ Schema applied")
			return nil
		},
	}
}

func listTransactionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-transactions",
		Usage:   "List transactions for a user",
		Aliases: []string{"txs"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "User ID (UUID)",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of transactions",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Row offset",
			},
		},
		Action: func(c *cli.Context) error {
			userID, err := uuid.Parse(c.String("user"))
			if err != nil {
				return fmt.Errorf("invalid user ID: %w", err)
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			transactions, err := store.ListTransactionsForUser(context.Background(),
				userID, int32(c.Int("limit")), int32(c.Int("offset")))
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(transactions)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tAMOUNT\tTOKEN\tFROM\tTO\tCREATED")
			for _, txn := range transactions {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
					txn.ID,
					txn.Status,
					txn.Amount,
					txn.Token,
					txn.FromAddress,
					txn.ToAddress,
					txn.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d transactions\n", len(transactions))
			return nil
		},
	}
}

func getTransactionCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-transaction",
		Usage:     "Get transaction details",
		Aliases:   []string{"get"},
		ArgsUsage: "<transaction-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction ID")
			}

			id, err := uuid.Parse(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid transaction ID: %w", err)
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			txn, err := store.GetTransaction(context.Background(), id)
			if err != nil {
				return fmt.Errorf("failed to get transaction: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(txn)
			}

			// Pretty output
			fmt.Printf("ID:               %s\n", txn.ID)
			fmt.Printf("Status:           %s\n", txn.Status)
			fmt.Printf("From:             %s\n", txn.FromAddress)
			fmt.Printf("To:               %s\n", txn.ToAddress)
			fmt.Printf("Amount:           %d %s\n", txn.Amount, txn.Token)
			fmt.Printf("Fee (wei):        %d\n", txn.FeeWei)
			fmt.Printf("Resolution:       %s\n", txn.ResolutionMethod)
			fmt.Printf("Tx Hash:          %s\n", formatOptional(txn.TxHash))
			fmt.Printf("Sponsor Tx Hash:  %s\n", formatOptional(txn.GasSponsorTxHash))
			fmt.Printf("Error:            %s\n", formatOptional(txn.ErrorMessage))
			fmt.Printf("Created:          %s\n", txn.CreatedAt.Format(time.RFC3339))
			if txn.ConfirmedAt != nil {
				fmt.Printf("Confirmed:        %s\n", txn.ConfirmedAt.Format(time.RFC3339))
			}

			return nil
		},
	}
}

func listStalePendingCommand() *cli.Command {
	return &cli.Command{
		Name:  "list-stale-pending",
		Usage: "List PENDING transactions older than a given age",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "min-age",
				Usage: "Minimum age before a PENDING row counts as stale",
				Value: 10 * time.Minute,
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of rows",
				Value:   100,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			before := time.Now().Add(-c.Duration("min-age"))
			transactions, err := store.ListStalePendingTransactions(context.Background(),
				before, int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list stale transactions: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(transactions)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tAMOUNT\tTOKEN\tTX HASH\tAGE")
			for _, txn := range transactions {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
					txn.ID,
					txn.Amount,
					txn.Token,
					formatOptional(txn.TxHash),
					time.Since(txn.CreatedAt).Round(time.Second),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d stale pending transactions\n", len(transactions))
			return nil
		},
	}
}

func createUserCommand() *cli.Command {
	return &cli.Command{
		Name:  "create-user",
		Usage: "Create a user",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "phone",
				Aliases: []string{"p"},
				Usage:   "Phone number in E.164 format (e.g. +14155551234)",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			var phone *string
			if p := c.String("phone"); p != "" {
				phone = &p
			}

			user, err := store.CreateUser(context.Background(), phone)
			if err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(user)
			}

			fmt.Printf("✓ User created: %s\n", user.ID)
			if user.Phone != nil {
				fmt.Printf("  Phone: %s\n", *user.Phone)
			}
			return nil
		},
	}
}

func createWalletCommand() *cli.Command {
	return &cli.Command{
		Name:      "create-wallet",
		Usage:     "Register a custodial wallet for a user",
		ArgsUsage: "<user-id> <address>",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:  "chain-id",
				Usage: "Chain ID",
				Value: 80002,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires exactly two arguments: user ID and wallet address")
			}

			userID, err := uuid.Parse(c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("invalid user ID: %w", err)
			}
			address := c.Args().Get(1)

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			wallet, err := store.CreateWallet(context.Background(), userID, address, c.Int64("chain-id"))
			if err != nil {
				return fmt.Errorf("failed to create wallet: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(wallet)
			}

			fmt.Printf("✓ Wallet registered: %s\n", wallet.Address)
			fmt.Printf("  User:     %s\n", wallet.UserID)
			fmt.Printf("  Chain ID: %d\n", wallet.ChainID)
			return nil
		},
	}
}

func setHandleCommand() *cli.Command {
	return &cli.Command{
		Name:      "set-handle",
		Usage:     "Register or update a user's handle",
		ArgsUsage: "<user-id> <handle> <wallet-address>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 3 {
				return fmt.Errorf("requires exactly three arguments: user ID, handle, wallet address")
			}

			userID, err := uuid.Parse(c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("invalid user ID: %w", err)
			}
			handle := c.Args().Get(1)
			address := c.Args().Get(2)

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.UpsertHandle(context.Background(), userID, handle, address); err != nil {
				return fmt.Errorf("failed to set handle: %w", err)
			}

			fmt.Printf("✓ Handle set: %s -> %s\n", handle, address)
			return nil
		},
	}
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" && c.App != nil {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool)
	closer := func() { pool.Close() }

	return store, closer, nil
}

// Helper function to output JSON
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Helper function to format optional string fields
func formatOptional(s *string) string {
	if s != nil && *s != "" {
		return *s
	}
	return "(none)"
}
