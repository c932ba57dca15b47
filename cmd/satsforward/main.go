package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "satsforward",
		Usage: "Lightning donation settlement CLI",
		Description: `A command-line tool for operating and debugging the satsforward service.

Use this CLI to inspect balances and donation history, talk to the Blink wallet,
run a donation end to end, and watch donation events on NATS.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Ledger inspection and maintenance commands
			{
				Name:  "db",
				Usage: "Ledger inspection and maintenance commands",
				Subcommands: []*cli.Command{
					balanceCommand(),
					historyCommand(),
					creditCommand(),
					settingsCommand(),
					leaderboardCommand(),
					lookupCommand(),
					annotateCommand(),
				},
			},
			// Blink wallet commands
			lnCommands(),
			// In-process settlement
			donateCommand(),
			// NATS donation event commands
			{
				Name:  "nats",
				Usage: "NATS donation event commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					inspectStreamCommand(),
				},
			},
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
				Name:    "server-url",
				Usage:   "satsforward server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}
