package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/itchyny/gojq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/solwatch/solwatch/service/db"
	"github.com/solwatch/solwatch/service/ledger"
	"github.com/urfave/cli/v2"
)

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Create the transactions table if it does not exist",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.EnsureSchema(context.Background()); err != nil {
				return err
			}

			fmt.Println("schema ready")
			return nil
		},
	}
}

func listTransfersCommand() *cli.Command {
	return &cli.Command{
		Name:    "transactions",
		Usage:   "List stored transfer records",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "filter",
				Aliases: []string{"f"},
				Usage:   "jq expression a record must satisfy (repeatable, e.g. '.sol_amount > 1000')",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			records, err := store.ListTransfers(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list transfers: %w", err)
			}

			records, err = applyJQFilters(records, c.StringSlice("filter"))
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(records)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SIGNATURE\tSENDER\tRECEIVER\tAMOUNT\tFEE\tBLOCK TIME")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					rec.Signature,
					rec.Sender,
					rec.Receiver,
					rec.Amount,
					rec.Fee,
					time.Unix(rec.Timestamp, 0).UTC().Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d records\n", len(records))
			return nil
		},
	}
}

func countTransfersCommand() *cli.Command {
	return &cli.Command{
		Name:  "count",
		Usage: "Count stored transfer records",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			count, err := store.CountTransfers(context.Background())
			if err != nil {
				return fmt.Errorf("failed to count transfers: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]int64{"count": count})
			}
			fmt.Println(count)
			return nil
		},
	}
}

func pruneCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Delete records older than the given age",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:     "older-than",
				Usage:    "Age cutoff (e.g. 720h)",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			cutoff := time.Now().Add(-c.Duration("older-than")).Unix()
			pruned, err := store.DeleteTransfersBefore(context.Background(), cutoff)
			if err != nil {
				return fmt.Errorf("failed to prune transfers: %w", err)
			}

			fmt.Printf("pruned %d records\n", pruned)
			return nil
		},
	}
}

// applyJQFilters keeps the records for which every jq expression produces a
// truthy value.
func applyJQFilters(records []ledger.TransferRecord, filters []string) ([]ledger.TransferRecord, error) {
	if len(filters) == 0 {
		return records, nil
	}

	compiled := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		compiled[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}

	kept := make([]ledger.TransferRecord, 0, len(records))
	for _, rec := range records {
		// gojq operates on generic JSON values, so round-trip the record.
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal record: %w", err)
		}
		var value map[string]any
		if err := json.Unmarshal(data, &value); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}

		matched := true
		for _, code := range compiled {
			if !jqMatches(code, value) {
				matched = false
				break
			}
		}
		if matched {
			kept = append(kept, rec)
		}
	}
	return kept, nil
}

// jqMatches reports whether the compiled expression produces at least one
// truthy output for the value.
func jqMatches(code *gojq.Code, value map[string]any) bool {
	iter := code.Run(value)
	for {
		v, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			continue
		}
		if v != nil && v != false {
			return true
		}
	}
}

// getStore connects to the database using the global flag or environment.
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

// outputJSON writes v as indented JSON to stdout.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
