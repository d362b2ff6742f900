package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	"github.com/caja-cash/caja/service/notify"
)

func natsCommands() *cli.Command {
	return &cli.Command{
		Name:  "nats",
		Usage: "Notification stream commands",
		Subcommands: []*cli.Command{
			subscribeCommand(),
			inspectStreamCommand(),
		},
	}
}

// subscribeCommand streams settlement notifications for a user.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to settlement notifications for a user",
		ArgsUsage: "<user-id>",
		Description: `Subscribe to settlement notifications published to NATS JetStream.

Events are published to the subject: notify.{user_id}

Example:
  caja nats subscribe 0b9f8a3e-1c2d-4e5f-8a7b-6c5d4e3f2a1b --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "caja-cli",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("user ID is required")
			}

			userID := c.Args().Get(0)
			natsURL := c.String("nats-url")
			jsonOutput := c.Bool("json")

			nc, err := nats.Connect(natsURL)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			subject := fmt.Sprintf("notify.%s", userID)

			if !jsonOutput {
				fmt.Printf("Subscribing to: %s\n", subject)
				fmt.Printf("  NATS: %s\n", natsURL)
				fmt.Printf("\nWaiting for notifications... (Ctrl-C to exit)\n\n")
			}

			consumerConfig := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
			}
			if c.Bool("durable") {
				consumerConfig.Durable = c.String("consumer-name")
				consumerConfig.Name = c.String("consumer-name")
			}

			cons, err := js.CreateOrUpdateConsumer(context.Background(), notify.StreamName, consumerConfig)
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			msgChan := make(chan jetstream.Msg, 10)
			go func() {
				_, _ = cons.Consume(func(msg jetstream.Msg) {
					msgChan <- msg
				})
			}()

			count := 0
			for {
				select {
				case msg := <-msgChan:
					var event notify.Event
					if err := json.Unmarshal(msg.Data(), &event); err != nil {
						fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
						msg.Ack()
						continue
					}
					count++

					if jsonOutput {
						data, _ := json.Marshal(event)
						fmt.Println(string(data))
					} else {
						fmt.Printf("Notification #%d: %s\n", count, event.Kind)
						fmt.Printf("  Transaction: %s\n", event.TransactionID)
						fmt.Printf("  Amount:      %d %s\n", event.Amount, event.Token)
						fmt.Printf("  Status:      %s\n", event.Status)
						if event.TxHash != nil {
							fmt.Printf("  Tx hash:     %s\n", *event.TxHash)
						}
						if event.ErrorMessage != nil {
							fmt.Printf("  Error:       %s\n", *event.ErrorMessage)
						}
						fmt.Printf("  Published:   %s\n\n", event.PublishedAt.Format(time.RFC3339))
					}

					msg.Ack()

				case <-sigChan:
					if !jsonOutput {
						fmt.Printf("\nReceived %d notification(s)\n", count)
					}
					return nil
				}
			}
		},
	}
}

// inspectStreamCommand shows the notification stream's state.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Show notification stream info",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
		},
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(context.Background(), notify.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream %q: %w", notify.StreamName, err)
			}

			info, err := stream.Info(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(info)
			}

			fmt.Printf("Stream: %s\n", info.Config.Name)
			fmt.Printf("  Subjects:  %v\n", info.Config.Subjects)
			fmt.Printf("  Messages:  %d\n", info.State.Msgs)
			fmt.Printf("  Bytes:     %d\n", info.State.Bytes)
			fmt.Printf("  Consumers: %d\n", info.State.Consumers)
			fmt.Printf("  Retention: %s\n", info.Config.MaxAge)
			return nil
		},
	}
}
