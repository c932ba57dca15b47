package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/skip2/go-qrcode"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/satsforward/service/blink"
	"github.com/brojonat/satsforward/service/config"
	"github.com/brojonat/satsforward/service/db"
	"github.com/brojonat/satsforward/service/donation"
	"github.com/brojonat/satsforward/service/lnurl"
	natspkg "github.com/brojonat/satsforward/service/nats"
)

// donateCommand settles a user's balance in this process, without the server or Temporal.
// Configuration comes from the same environment the server reads.
func donateCommand() *cli.Command {
	return &cli.Command{
		Name:      "donate",
		Usage:     "Settle a user's whole balance to the donation address",
		ArgsUsage: "<user_id>",
		Description: `Issues an invoice for the user's balance, waits for it to be paid, forwards the
sats to the configured Lightning Address and debits the ledger.

Press Ctrl-C while waiting for payment to cancel; the balance is left unchanged.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Usage: "Display name for the user"},
			&cli.BoolFlag{Name: "publish", Usage: "Also publish invoice and outcome events to NATS"},
		},
		Action: func(c *cli.Context) error {
			userID, err := userIDArg(c)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := cliLogger()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			bc := blink.NewClient(cfg.BlinkAPIEndpoint, cfg.BlinkAPIKey,
				blink.WithRetry(cfg.MaxRetries, cfg.RetryDelay),
				blink.WithRequestTimeout(cfg.RequestTimeout),
				blink.WithWalletCurrency(cfg.BlinkWalletCurrency),
				blink.WithDefaultMemo(cfg.DonationMemo),
				blink.WithLogger(logger),
			)
			orchestrator := donation.New(donation.Config{
				Destination: cfg.DonationAddress,
				Memo:        cfg.DonationMemo,
				MinSats:     cfg.MinDonation,
				MaxSats:     cfg.MaxDonation,
			}, donation.Deps{
				Issuer:   bc,
				Waiter:   blink.NewPoller(bc, cfg.PaymentCheckInterval, cfg.PaymentTimeout, logger, nil),
				Resolver: lnurl.NewResolver(lnurl.WithTimeout(cfg.LNURLTimeout), lnurl.WithLogger(logger)),
				Prober:   bc,
				Payer:    bc,
				Ledger:   db.NewStore(pool),
			}, logger, nil)

			var presenter donation.Presenter = &terminalPresenter{out: os.Stdout}
			if c.Bool("publish") {
				publisher, err := natspkg.NewPublisher(cfg.NATSURL, logger, nil)
				if err != nil {
					logger.Warn("nats unavailable, donating without events", "error", err)
				} else {
					defer publisher.Close()
					presenter = &natspkg.EventPresenter{Publisher: publisher, Next: presenter, Logger: logger}
				}
			}

			res := orchestrator.Donate(ctx, userID, c.String("username"), presenter)
			if c.Bool("json") {
				if err := outputJSON(res); err != nil {
					return err
				}
			}
			if res.Status != donation.StatusCompleted {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

// terminalPresenter prints the invoice with a QR code and the final message.
type terminalPresenter struct {
	out io.Writer
}

func (p *terminalPresenter) PresentInvoice(ctx context.Context, req donation.Request, inv *blink.Invoice) error {
	fmt.Fprintf(p.out, "Donating %d sats to %s\n\n", req.AmountSats, req.Destination)
	qr, err := terminalQR(inv.PaymentRequest)
	if err != nil {
		return fmt.Errorf("failed to render QR code: %w", err)
	}
	fmt.Fprint(p.out, qr)
	fmt.Fprintf(p.out, "\n%s\n\nWaiting for payment... (Ctrl-C to cancel)\n", inv.PaymentRequest)
	return nil
}

func (p *terminalPresenter) Notify(ctx context.Context, res *donation.Result) error {
	mark := "✗"
	if res.Status == donation.StatusCompleted {
		mark = "✓"
	}
	fmt.Fprintf(p.out, "\n%s [%s] %s\n", mark, res.Status, res.Message())
	if res.Attempt != nil && res.Attempt.FeeSats > 0 {
		fmt.Fprintf(p.out, "  Routing fee: %d sats\n", res.Attempt.FeeSats)
	}
	return nil
}

// terminalQR renders a payment request as a half-block QR code. Wallets accept
// the upper-cased form, which also encodes more compactly.
func terminalQR(paymentRequest string) (string, error) {
	q, err := qrcode.New(strings.ToUpper("lightning:"+paymentRequest), qrcode.Low)
	if err != nil {
		return "", err
	}
	return q.ToSmallString(false), nil
}
