package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/caja-cash/caja/client"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP API commands",
		Subcommands: []*cli.Command{
			sendCommand(),
			historyCommand(),
			showCommand(),
			relayerStatusCommand(),
		},
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send tokens to a handle, phone number, or wallet address",
		ArgsUsage: "<recipient> <amount>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "Sender user ID (UUID)",
				EnvVars:  []string{"CAJA_USER_ID"},
				Required: true,
			},
			&cli.StringFlag{
				Name:  "token",
				Usage: "Token symbol",
				Value: "USDC",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires exactly two arguments: recipient and amount (base units)")
			}

			recipient := c.Args().Get(0)
			var amount int64
			if _, err := fmt.Sscanf(c.Args().Get(1), "%d", &amount); err != nil {
				return fmt.Errorf("invalid amount %q: %w", c.Args().Get(1), err)
			}

			apiClient := getAPIClient(c)
			result, err := apiClient.Submit(context.Background(),
				c.String("user"), recipient, amount, c.String("token"))
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(result)
			}

			fmt.Printf("✓ Transaction %s: %s\n", result.Status, result.TransactionID)
			if result.Sponsored {
				fmt.Printf("  Gas sponsored by relayer\n")
				if result.TopupTxHash != nil {
					fmt.Printf("  Top-up tx:   %s\n", *result.TopupTxHash)
				}
			}
			if result.TransferTx != nil {
				fmt.Printf("  Transfer tx: %s\n", *result.TransferTx)
			}
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show a user's transaction history",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "User ID (UUID)",
				EnvVars:  []string{"CAJA_USER_ID"},
				Required: true,
			},
			&cli.IntFlag{
				Name:  "page",
				Usage: "Page number",
				Value: 1,
			},
			&cli.IntFlag{
				Name:  "page-size",
				Usage: "Transactions per page (0 = server default)",
			},
		},
		Action: func(c *cli.Context) error {
			apiClient := getAPIClient(c)
			txns, err := apiClient.ListTransactions(context.Background(),
				c.String("user"), c.Int("page"), c.Int("page-size"))
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(txns)
			}

			if len(txns) == 0 {
				fmt.Println("No transactions found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DIRECTION\tCOUNTERPARTY\tAMOUNT\tTOKEN\tSTATUS\tCREATED")
			for _, txn := range txns {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
					txn.Direction,
					txn.Counterparty,
					txn.Amount,
					txn.Token,
					txn.Status,
					txn.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()
			return nil
		},
	}
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show a single transaction the user is a party to",
		ArgsUsage: "<transaction-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "User ID (UUID)",
				EnvVars:  []string{"CAJA_USER_ID"},
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected <transaction-id>, got %d args", c.NArg())
			}

			apiClient := getAPIClient(c)
			txn, err := apiClient.GetTransaction(context.Background(),
				c.String("user"), c.Args().Get(0))
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(txn)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ID:\t%s\n", txn.ID)
			fmt.Fprintf(w, "Direction:\t%s\n", txn.Direction)
			fmt.Fprintf(w, "Counterparty:\t%s\n", txn.Counterparty)
			fmt.Fprintf(w, "Amount:\t%d %s\n", txn.Amount, txn.Token)
			fmt.Fprintf(w, "Status:\t%s\n", txn.Status)
			fmt.Fprintf(w, "Method:\t%s\n", txn.PaymentMethod)
			if txn.TxHash != nil {
				fmt.Fprintf(w, "Tx hash:\t%s\n", *txn.TxHash)
			}
			fmt.Fprintf(w, "Created:\t%s\n", txn.CreatedAt.Format(time.RFC3339))
			if txn.ConfirmedAt != nil {
				fmt.Fprintf(w, "Confirmed:\t%s\n", txn.ConfirmedAt.Format(time.RFC3339))
			}
			w.Flush()
			return nil
		},
	}
}

func relayerStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "relayer-status",
		Usage: "Show the relayer wallet's funding status",
		Action: func(c *cli.Context) error {
			apiClient := getAPIClient(c)
			status, err := apiClient.RelayerStatus(context.Background())
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(status)
			}

			fmt.Printf("Relayer: %s\n", status.Address)
			fmt.Printf("  Balance (wei):          %s\n", status.BalanceWei)
			fmt.Printf("  Estimated sponsorships: %d\n", status.EstimatedSponsorships)
			fmt.Printf("  Level:                  %s\n", status.Level)
			return nil
		},
	}
}

// Helper function to build the API client from global flags
func getAPIClient(c *cli.Context) *client.Client {
	return client.NewClient(c.String("server-url"), nil, nil)
}
