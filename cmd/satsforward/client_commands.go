package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/satsforward/client"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP client commands for interacting with the satsforward server",
		Subcommands: []*cli.Command{
			clientDonateCommand(),
			clientStatusCommand(),
			clientCancelCommand(),
			clientUserCommand(),
		},
	}
}

func clientDonateCommand() *cli.Command {
	return &cli.Command{
		Name:      "donate",
		Usage:     "Start a donation and print the invoice to pay",
		ArgsUsage: "<user_id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Usage: "Display name for the user"},
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Block until the donation finishes",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Status poll interval when waiting",
				Value: 3 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			userID, err := userIDArg(c)
			if err != nil {
				return err
			}

			cl := newAPIClient(c)
			inv, err := cl.StartDonation(c.Context, userID, c.String("username"))
			if err != nil {
				return fmt.Errorf("failed to start donation: %w", err)
			}

			if c.Bool("json") {
				if err := outputJSON(inv); err != nil {
					return err
				}
			} else {
				fmt.Printf("Workflow:  %s\n", inv.WorkflowID)
				fmt.Printf("Amount:    %d sats (%s BTC)\n", inv.AmountSats, inv.AmountBTC)
				fmt.Printf("To:        %s\n", inv.Destination)
				fmt.Printf("Expires:   %s\n\n", inv.ExpiresAt.Format(time.RFC3339))
				if qr, err := terminalQR(inv.PaymentRequest); err == nil {
					fmt.Print(qr)
				}
				fmt.Printf("\n%s\n", inv.PaymentRequest)
			}

			if !c.Bool("wait") {
				return nil
			}
			return awaitAndPrint(c, cl, inv.WorkflowID)
		},
	}
}

func clientStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the state of a donation",
		ArgsUsage: "<workflow_id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Block until the donation finishes",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Status poll interval when waiting",
				Value: 3 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: workflow id")
			}
			cl := newAPIClient(c)
			if c.Bool("wait") {
				return awaitAndPrint(c, cl, c.Args().First())
			}

			s, err := cl.Status(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return outputJSON(s)
			}
			printSettlement(s)
			return nil
		},
	}
}

func clientCancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel a donation that is waiting for payment",
		ArgsUsage: "<workflow_id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: workflow id")
			}
			if err := newAPIClient(c).Cancel(c.Context, c.Args().First()); err != nil {
				return err
			}
			fmt.Printf("✓ Cancellation requested for %s\n", c.Args().First())
			return nil
		},
	}
}

func clientUserCommand() *cli.Command {
	return &cli.Command{
		Name:      "user",
		Usage:     "Show a user's balance through the API",
		ArgsUsage: "<user_id>",
		Action: func(c *cli.Context) error {
			userID, err := userIDArg(c)
			if err != nil {
				return err
			}
			u, err := newAPIClient(c).User(c.Context, userID)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return outputJSON(u)
			}
			fmt.Printf("User:           %d (%s)\n", u.UserID, u.Username)
			fmt.Printf("Balance:        %d sats (%s BTC)\n", u.AccumulatedSats, u.AccumulatedBTC)
			fmt.Printf("Total Donated:  %d sats over %d donations\n", u.TotalDonatedSats, u.TotalDonationCount)
			if u.Ranks != nil {
				fmt.Printf("Ranks:          donation #%d, distance #%d, weight #%d of %d\n",
					u.Ranks.Donation, u.Ranks.Distance, u.Ranks.Weight, u.Ranks.TotalUsers)
			}
			return nil
		},
	}
}

func awaitAndPrint(c *cli.Context, cl *client.Client, workflowID string) error {
	fmt.Fprintf(os.Stderr, "Waiting for %s to finish...\n", workflowID)
	s, err := cl.Await(c.Context, workflowID, c.Duration("interval"))
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return outputJSON(s)
	}
	printSettlement(s)
	if s.Status != "completed" {
		return cli.Exit("", 1)
	}
	return nil
}

func printSettlement(s *client.Settlement) {
	fmt.Println(strings.Repeat("━", 72))
	fmt.Printf("Workflow:    %s\n", s.WorkflowID)
	fmt.Printf("Stage:       %s\n", s.Stage)
	if s.Status != "" {
		fmt.Printf("Status:      %s\n", s.Status)
	}
	fmt.Printf("Amount:      %d sats\n", s.Request.AmountSats)
	fmt.Printf("Destination: %s\n", s.Request.Destination)
	if s.Attempt != nil {
		fmt.Printf("Fee:         %d sats\n", s.Attempt.FeeSats)
	}
	if s.DonationID != 0 {
		fmt.Printf("Donation:    #%d\n", s.DonationID)
	}
	if s.Message != "" {
		fmt.Printf("Message:     %s\n", s.Message)
	}
	if s.Error != "" {
		fmt.Printf("Error:       %s\n", s.Error)
	}
	fmt.Println(strings.Repeat("━", 72))
}

func newAPIClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}
