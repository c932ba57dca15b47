package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/satsforward/service/blink"
	"github.com/brojonat/satsforward/service/lnurl"
)

func blinkFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "blink-endpoint",
			Usage:   "Blink GraphQL endpoint",
			EnvVars: []string{"BLINK_API_ENDPOINT"},
			Value:   "https://api.blink.sv/graphql",
		},
		&cli.StringFlag{
			Name:    "blink-api-key",
			Usage:   "Blink API key",
			EnvVars: []string{"BLINK_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "currency",
			Usage:   "Wallet currency",
			EnvVars: []string{"BLINK_WALLET_CURRENCY"},
			Value:   "BTC",
		},
	}
}

func lnCommands() *cli.Command {
	return &cli.Command{
		Name:  "ln",
		Usage: "Blink wallet and Lightning address commands",
		Subcommands: []*cli.Command{
			lnWalletCommand(),
			lnInvoiceCommand(),
			lnStatusCommand(),
			lnAwaitCommand(),
			lnResolveCommand(),
			lnProbeCommand(),
		},
	}
}

func lnWalletCommand() *cli.Command {
	return &cli.Command{
		Name:  "wallet",
		Usage: "Show the account wallets and the one payments use",
		Flags: blinkFlags(),
		Action: func(c *cli.Context) error {
			bc, err := getBlinkClient(c)
			if err != nil {
				return err
			}

			wallets, err := bc.Wallets(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list wallets: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(wallets)
			}

			selected, err := bc.WalletID(c.Context)
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}
			for _, w := range wallets {
				marker := " "
				if w.ID == selected {
					marker = "*"
				}
				fmt.Printf("%s %s  %-4s %d\n", marker, w.ID, w.Currency, w.Balance)
			}
			return nil
		},
	}
}

func lnInvoiceCommand() *cli.Command {
	return &cli.Command{
		Name:      "invoice",
		Usage:     "Create an invoice on the wallet",
		ArgsUsage: "<amount_sats>",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "memo", Usage: "Invoice memo"},
			&cli.BoolFlag{Name: "qr", Usage: "Print a terminal QR code"},
		}, blinkFlags()...),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: amount in sats")
			}
			var amount int64
			if _, err := fmt.Sscan(c.Args().First(), &amount); err != nil {
				return fmt.Errorf("invalid amount %q", c.Args().First())
			}

			bc, err := getBlinkClient(c)
			if err != nil {
				return err
			}
			inv, err := bc.CreateInvoice(c.Context, amount, c.String("memo"))
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(inv)
			}
			fmt.Println(inv.PaymentRequest)
			if c.Bool("qr") {
				if qr, err := terminalQR(inv.PaymentRequest); err == nil {
					fmt.Print(qr)
				}
			}
			fmt.Fprintf(os.Stderr, "hash: %s\n", inv.PaymentHash)
			return nil
		},
	}
}

func lnStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Check the payment status of an invoice",
		ArgsUsage: "<payment_request>",
		Flags:     blinkFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: payment request")
			}
			bc, err := getBlinkClient(c)
			if err != nil {
				return err
			}
			status, err := bc.InvoiceStatus(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			fmt.Println(status)
			return nil
		},
	}
}

func lnAwaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Poll an invoice until it is paid, expires or the timeout passes",
		ArgsUsage: "<payment_request>",
		Flags: append([]cli.Flag{
			&cli.DurationFlag{Name: "interval", Value: 5 * time.Second},
			&cli.DurationFlag{Name: "timeout", Aliases: []string{"t"}, Value: 5 * time.Minute},
		}, blinkFlags()...),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: payment request")
			}
			bc, err := getBlinkClient(c)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			poller := blink.NewPoller(bc, c.Duration("interval"), c.Duration("timeout"), cliLogger(), nil)
			fmt.Fprintf(os.Stderr, "Waiting for payment (%d checks)...\n", poller.Attempts())
			confirmation, err := poller.Await(ctx, c.Args().First())
			fmt.Println(confirmation)
			if err != nil && confirmation != blink.ConfirmationCancelled {
				return err
			}
			return nil
		},
	}
}

func lnResolveCommand() *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Usage:     "Fetch an invoice for a Lightning Address",
		ArgsUsage: "<user@domain> <amount_sats>",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "timeout", Value: 10 * time.Second},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires two arguments: lightning address and amount in sats")
			}
			var amount int64
			if _, err := fmt.Sscan(c.Args().Get(1), &amount); err != nil {
				return fmt.Errorf("invalid amount %q", c.Args().Get(1))
			}

			resolver := lnurl.NewResolver(lnurl.WithTimeout(c.Duration("timeout")), lnurl.WithLogger(cliLogger()))
			pr, err := resolver.Resolve(c.Context, c.Args().First(), amount)
			if err != nil {
				return err
			}
			fmt.Println(pr)
			return nil
		},
	}
}

func lnProbeCommand() *cli.Command {
	return &cli.Command{
		Name:      "probe",
		Usage:     "Estimate the routing fee to pay an invoice",
		ArgsUsage: "<payment_request | user@domain amount_sats>",
		Flags:     blinkFlags(),
		Action: func(c *cli.Context) error {
			pr := c.Args().First()
			switch c.NArg() {
			case 1:
			case 2:
				var amount int64
				if _, err := fmt.Sscan(c.Args().Get(1), &amount); err != nil {
					return fmt.Errorf("invalid amount %q", c.Args().Get(1))
				}
				resolved, err := lnurl.NewResolver(lnurl.WithLogger(cliLogger())).Resolve(c.Context, pr, amount)
				if err != nil {
					return err
				}
				pr = resolved
			default:
				return fmt.Errorf("requires a payment request or a lightning address and amount")
			}

			bc, err := getBlinkClient(c)
			if err != nil {
				return err
			}
			fmt.Printf("%d\n", bc.ProbeFee(c.Context, pr))
			return nil
		},
	}
}

func getBlinkClient(c *cli.Context) (*blink.Client, error) {
	key := c.String("blink-api-key")
	if key == "" {
		return nil, fmt.Errorf("blink-api-key is required (set BLINK_API_KEY env var or use --blink-api-key)")
	}
	return blink.NewClient(c.String("blink-endpoint"), key,
		blink.WithWalletCurrency(c.String("currency")),
		blink.WithLogger(cliLogger()),
	), nil
}

// cliLogger logs warnings and errors to stderr so stdout stays parseable.
func cliLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
