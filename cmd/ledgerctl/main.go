/*
main.go - Operator CLI for the ledger engine

PURPOSE:
  Runs ledger operations without the HTTP server, against the same store
  the server uses. Every command prints JSON on stdout.

COMMANDS:
  refund <transaction-id>   Refund a transaction and its satellites
  record <order-id>         Record the charge of an order
  quote  <order-id>         Host fee and host fee share of an order
  verify <group>            Check pair balance and net amounts of a group
  show   <group>            Print the rows of a group

FLAGS:
  --config     YAML config file (same keys as the server)
  --db         SQLite path, overrides DB_PATH
  --log-level  debug | info | warn | error

EXAMPLES:
  ledgerctl refund 42 --fee 349 --note "duplicate charge" --actor 7
  ledgerctl verify 1f0c6a9e-7d7b-4a53-9a0e-0f3c26c1e3b2
*/
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	dbPath     string
	logLevel   string
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "ledgerctl - operate the fiscal host ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")

	rootCmd.AddCommand(refundCmd(opts))
	rootCmd.AddCommand(recordCmd(opts))
	rootCmd.AddCommand(quoteCmd(opts))
	rootCmd.AddCommand(verifyCmd(opts))
	rootCmd.AddCommand(showCmd(opts))

	return rootCmd
}
