package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	natspkg "github.com/brojonat/satsforward/service/nats"
)

// subscribeCommand streams donation events for one user or for everyone.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to donation events",
		ArgsUsage: "[user_id]",
		Description: `Subscribe to invoice and outcome events published to NATS JetStream.

Events are published to the subject donations.{user_id}. Without a user id all
events are streamed. Each --jq filter is evaluated against the event and all of
them must be truthy for the event to be shown.

Example:
  satsforward nats subscribe 42 --jq '.type == "outcome"' --jq '.status != "completed"'`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter over each event (repeatable)",
			},
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "satsforward-cli",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Stop after this long (0 waits for Ctrl-C)",
			},
		},
		Action: func(c *cli.Context) error {
			subject := natspkg.StreamSubjects
			if c.NArg() == 1 {
				userID, err := strconv.ParseInt(c.Args().First(), 10, 64)
				if err != nil || userID <= 0 {
					return fmt.Errorf("invalid user id %q", c.Args().First())
				}
				subject = natspkg.Subject(userID)
			}

			filter, err := compileEventFilter(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			if d := c.Duration("timeout"); d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}

			return streamEvents(ctx, c.String("nats-url"), subject, c.Bool("durable"), c.String("consumer-name"), filter, c.Bool("json"))
		},
	}
}

// streamEvents consumes events on subject until ctx is done.
func streamEvents(ctx context.Context, natsURL, subject string, durable bool, consumerName string, filter eventFilter, jsonOutput bool) error {
	nc, err := natspkg.Connect(natsURL, "satsforward-cli")
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if !jsonOutput {
		fmt.Printf("📡 Subscribing to: %s\n", subject)
		fmt.Printf("   NATS: %s\n", natsURL)
		if durable {
			fmt.Printf("   Consumer: %s (durable)\n", consumerName)
		}
		fmt.Printf("\nWaiting for donation events... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if durable {
		consumerConfig.Durable = consumerName
		consumerConfig.Name = consumerName
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer consumeCtx.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			msg.Ack()

			var raw map[string]interface{}
			if err := json.Unmarshal(msg.Data(), &raw); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				continue
			}
			if !filter.match(raw) {
				continue
			}
			count++

			if jsonOutput {
				fmt.Println(string(msg.Data()))
				continue
			}

			var event natspkg.DonationEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				continue
			}
			printEvent(count, &event)

		case <-ctx.Done():
			if !jsonOutput {
				fmt.Printf("\n✅ Received %d events\n", count)
			}
			return nil
		}
	}
}

func printEvent(n int, event *natspkg.DonationEvent) {
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("Event #%d: %s\n", n, event.Type)
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("User:         %d\n", event.UserID)
	fmt.Printf("Amount:       %d sats\n", event.AmountSats)
	fmt.Printf("Destination:  %s\n", event.Destination)
	if event.WorkflowID != "" {
		fmt.Printf("Workflow:     %s\n", event.WorkflowID)
	}
	if event.Status != "" {
		fmt.Printf("Status:       %s\n", event.Status)
		fmt.Printf("Message:      %s\n", event.Message)
	}
	if event.FeeSats > 0 {
		fmt.Printf("Fee:          %d sats\n", event.FeeSats)
	}
	if event.Error != "" {
		fmt.Printf("Error:        %s\n", event.Error)
	}
	fmt.Printf("Published:    %s\n\n", event.PublishedAt.Format(time.RFC3339))
}

// eventFilter holds compiled jq filters. An empty filter matches everything.
type eventFilter []*gojq.Code

func compileEventFilter(filters []string) (eventFilter, error) {
	codes := make(eventFilter, 0, len(filters))
	for _, f := range filters {
		query, err := gojq.Parse(f)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", f, err)
		}
		code, err := gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", f, err)
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// match reports whether every filter's first result is truthy. Filter errors never match.
func (f eventFilter) match(event map[string]interface{}) bool {
	for _, code := range f {
		iter := code.Run(event)
		v, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

// inspectStreamCommand shows information about the NATS JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the DONATIONS JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := natspkg.Connect(c.String("nats-url"), "satsforward-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(c.Context, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(info)
			}

			fmt.Printf("Stream: %s\n", info.Config.Name)
			fmt.Printf("─────────────────────────────────────────────────────\n")
			fmt.Printf("Subjects:     %v\n", info.Config.Subjects)
			fmt.Printf("Messages:     %d\n", info.State.Msgs)
			fmt.Printf("Bytes:        %d\n", info.State.Bytes)
			fmt.Printf("Consumers:    %d\n", info.State.Consumers)
			fmt.Printf("Max Age:      %s\n", info.Config.MaxAge)
			return nil
		},
	}
}
