package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/satsforward/service/db"
)

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show a user's balance and donation totals",
		Aliases:   []string{"user"},
		ArgsUsage: "<user_id>",
		Action: func(c *cli.Context) error {
			userID, err := userIDArg(c)
			if err != nil {
				return err
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			user, err := store.GetUser(context.Background(), userID)
			if err != nil {
				return fmt.Errorf("failed to get user: %w", err)
			}
			ranks, err := store.GetUserRanks(context.Background(), userID)
			if err != nil {
				return fmt.Errorf("failed to rank user: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(struct {
					*db.User
					Ranks *db.UserRanks `json:"ranks"`
				}{user, ranks})
			}

			fmt.Printf("User:           %d (%s)\n", user.UserID, user.Username)
			fmt.Printf("Balance:        %d sats\n", user.AccumulatedSats)
			fmt.Printf("Total Donated:  %d sats\n", user.TotalDonatedSats)
			fmt.Printf("Donations:      %d\n", user.TotalDonationCount)
			if user.LastActivityAt != nil {
				fmt.Printf("Last Activity:  %s\n", user.LastActivityAt.Format(time.RFC3339))
			} else {
				fmt.Printf("Last Activity:  never\n")
			}
			fmt.Printf("Created:        %s\n", user.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Donation Rank:  %d / %d\n", ranks.Donation, ranks.TotalUsers)
			fmt.Printf("Distance Rank:  %d / %d\n", ranks.Distance, ranks.TotalUsers)
			fmt.Printf("Weight Rank:    %d / %d\n", ranks.Weight, ranks.TotalUsers)
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "List a user's donations, newest first",
		ArgsUsage: "<user_id>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of donations",
				Value:   20,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of donations to skip",
			},
		},
		Action: func(c *cli.Context) error {
			userID, err := userIDArg(c)
			if err != nil {
				return err
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			donations, err := store.ListDonations(context.Background(), userID, int32(c.Int("limit")), int32(c.Int("offset")))
			if err != nil {
				return fmt.Errorf("failed to list donations: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(donations)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tAMOUNT\tFEE\tDESTINATION\tTYPE\tSTATUS\tCREATED")
			for _, d := range donations {
				fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\t%s\t%s\n",
					d.ID,
					d.AmountSats,
					d.FeeSats,
					d.LightningAddress,
					d.DonationType,
					d.Status,
					d.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d donations\n", len(donations))
			return nil
		},
	}
}

func creditCommand() *cli.Command {
	return &cli.Command{
		Name:      "credit",
		Usage:     "Credit a user for an activity",
		ArgsUsage: "<user_id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "username",
				Usage: "Display name, stored on first credit",
			},
			&cli.StringFlag{
				Name:     "kind",
				Aliases:  []string{"k"},
				Usage:    "Activity kind (walking, cycling, running, swimming, weight)",
				Required: true,
			},
			&cli.Float64Flag{
				Name:     "value",
				Usage:    "Distance in km, or weight in kg",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			userID, err := userIDArg(c)
			if err != nil {
				return err
			}
			if !db.IsActivityKind(c.String("kind")) {
				return fmt.Errorf("invalid kind %q: must be one of %v", c.String("kind"), db.ActivityKinds)
			}
			if c.Float64("value") <= 0 {
				return fmt.Errorf("value must be positive")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			act, err := store.RecordActivity(context.Background(), db.RecordActivityParams{
				UserID:   userID,
				Username: c.String("username"),
				Kind:     c.String("kind"),
				Value:    c.Float64("value"),
			})
			if errors.Is(err, db.ErrRateNotSet) {
				return fmt.Errorf("no rate set for %s: run 'satsforward db settings --set %s=<sats>' first",
					c.String("kind"), c.String("kind"))
			}
			if err != nil {
				return fmt.Errorf("failed to record activity: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(act)
			}
			unit := db.ActivityUnit(act.Kind)
			fmt.Printf("✓ Credited user %d with %d sats for %s (%g %s × %d sats/%s)\n",
				userID, act.SatsEarned, act.Kind, act.Value, unit, act.SatsPerUnit, unit)
			return nil
		},
	}
}

// settingsCommand shows or updates the sats a user pledges per km or kg.
func settingsCommand() *cli.Command {
	return &cli.Command{
		Name:      "settings",
		Usage:     "Show or set a user's sats rate per activity kind",
		ArgsUsage: "<user_id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "username",
				Usage: "Display name, stored when the user is created",
			},
			&cli.StringSliceFlag{
				Name:  "set",
				Usage: "kind=sats_per_unit, e.g. --set running=1000 (repeatable)",
			},
		},
		Action: func(c *cli.Context) error {
			userID, err := userIDArg(c)
			if err != nil {
				return err
			}
			updates, err := parseRates(c.StringSlice("set"))
			if err != nil {
				return err
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx := context.Background()
			for _, u := range updates {
				u.UserID = userID
				u.Username = c.String("username")
				if _, err := store.SetActivityRate(ctx, u); err != nil {
					return err
				}
			}

			rates, err := store.ListActivityRates(ctx, userID)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return outputJSON(rates)
			}

			if len(rates) == 0 {
				fmt.Println("No rates set.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tRATE\tUPDATED")
			for _, r := range rates {
				fmt.Fprintf(w, "%s\t%d sats/%s\t%s\n", r.Kind, r.SatsPerUnit, r.Unit, r.UpdatedAt.Format(time.RFC3339))
			}
			w.Flush()
			return nil
		},
	}
}

// parseRates parses kind=sats pairs from --set flags.
func parseRates(pairs []string) ([]db.SetActivityRateParams, error) {
	var out []db.SetActivityRateParams
	for _, p := range pairs {
		kind, value, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid rate %q: want kind=sats", p)
		}
		if !db.IsActivityKind(kind) {
			return nil, fmt.Errorf("invalid kind %q: must be one of %v", kind, db.ActivityKinds)
		}
		sats, err := strconv.ParseInt(value, 10, 64)
		if err != nil || sats <= 0 {
			return nil, fmt.Errorf("invalid rate %q: sats must be a positive integer", p)
		}
		out = append(out, db.SetActivityRateParams{Kind: kind, SatsPerUnit: sats})
	}
	return out, nil
}

func leaderboardCommand() *cli.Command {
	return &cli.Command{
		Name:  "leaderboard",
		Usage: "Rank users by donations, balance or an activity kind",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "category",
				Aliases: []string{"c"},
				Usage:   "donation, donation_count, balance, distance or an activity kind",
				Value:   db.LeaderboardDonation,
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Value:   10,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			entries, err := store.Leaderboard(context.Background(), c.String("category"), int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to load leaderboard: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(entries)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RANK\tUSER\tNAME\tSCORE")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%d\t%s\t%g\n", e.Rank, e.UserID, e.Username, e.Score)
			}
			w.Flush()
			return nil
		},
	}
}

func lookupCommand() *cli.Command {
	return &cli.Command{
		Name:      "lookup",
		Usage:     "Find the history row for a collected invoice",
		ArgsUsage: "<payment_request>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: payment request")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			d, err := store.GetDonationByInvoice(context.Background(), c.Args().First())
			if errors.Is(err, db.ErrDonationNotFound) {
				return fmt.Errorf("no donation recorded for this invoice")
			}
			if err != nil {
				return fmt.Errorf("failed to look up donation: %w", err)
			}
			return outputJSON(d)
		},
	}
}

// annotateCommand records the resolution of a held settlement. It never moves balances.
func annotateCommand() *cli.Command {
	return &cli.Command{
		Name:      "annotate",
		Usage:     "Record a held settlement that was resolved by hand",
		ArgsUsage: "<user_id>",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "amount", Usage: "Amount in sats", Required: true},
			&cli.StringFlag{Name: "invoice", Usage: "Collected payment request", Required: true},
			&cli.StringFlag{Name: "hash", Usage: "Payment hash of the collected invoice"},
			&cli.StringFlag{Name: "destination", Usage: "Lightning address", Value: "citadel@blink.sv"},
			&cli.StringFlag{
				Name:  "status",
				Usage: "completed, refunded or failed",
				Value: db.DonationStatusRefunded,
			},
			&cli.StringFlag{Name: "note", Usage: "Free-form reason"},
		},
		Action: func(c *cli.Context) error {
			userID, err := userIDArg(c)
			if err != nil {
				return err
			}
			switch c.String("status") {
			case db.DonationStatusCompleted, db.DonationStatusRefunded, db.DonationStatusFailed:
			default:
				return fmt.Errorf("invalid status %q", c.String("status"))
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			var note *string
			if n := c.String("note"); n != "" {
				note = &n
			}
			d, err := store.AppendHistory(context.Background(), db.AppendHistoryParams{
				UserID:           userID,
				AmountSats:       c.Int64("amount"),
				LightningAddress: c.String("destination"),
				PaymentRequest:   c.String("invoice"),
				PaymentHash:      c.String("hash"),
				Status:           c.String("status"),
				ErrorMessage:     note,
			})
			if err != nil {
				return err
			}
			return outputJSON(d)
		},
	}
}

func userIDArg(c *cli.Context) (int64, error) {
	if c.NArg() != 1 {
		return 0, fmt.Errorf("requires exactly one argument: user id")
	}
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", c.Args().First())
	}
	return id, nil
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
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
