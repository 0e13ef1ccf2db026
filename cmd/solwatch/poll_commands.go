package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/solwatch/solwatch/service/poller"
	"github.com/solwatch/solwatch/service/solana"
	"github.com/urfave/cli/v2"
)

func pollCommands() *cli.Command {
	return &cli.Command{
		Name:  "poll",
		Usage: "Polling commands",
		Subcommands: []*cli.Command{
			pollOnceCommand(),
		},
	}
}

func pollOnceCommand() *cli.Command {
	return &cli.Command{
		Name:      "once",
		Usage:     "Run a single fetch-parse-validate-persist cycle",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of recent signatures to consider",
				Value:   3,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Cycle timeout",
				Value: 2 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address to poll")
			}

			address, err := solanago.PublicKeyFromBase58(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid address: %w", err)
			}

			rpcURL := c.String("rpc-url")
			if rpcURL == "" {
				return fmt.Errorf("rpc-url is required (set SOLANA_RPC_URL env var or use --rpc-url)")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			client := solana.NewClient(solana.NewRPCClient(rpcURL), rpcURL, nil, logger)

			p := poller.New(client, store, nil, poller.Options{
				Address:        address,
				Interval:       time.Minute, // unused by a single cycle
				SignatureLimit: c.Int("limit"),
			}, nil, logger)

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			p.RunOnce(ctx)
			return nil
		},
	}
}
