package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/warp/ledger-engine/app"
	"github.com/warp/ledger-engine/config"
	"github.com/warp/ledger-engine/contribution"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/logging"
	"github.com/warp/ledger-engine/refund"
)

// =============================================================================
// HELPERS
// =============================================================================

func openApp(cmd *cobra.Command, opts *rootOptions) (*app.App, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.dbPath != "" {
		cfg.DBDriver = config.DriverSQLite
		cfg.DBPath = opts.dbPath
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	// The CLI never publishes.
	cfg.NATSURL = ""
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return app.New(cmd.Context(), cfg, logging.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel))
}

// withApp opens the app for the duration of fn.
func withApp(opts *rootOptions, fn func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, opts)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd.Context(), cmd, a, args)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

// =============================================================================
// COMMANDS
// =============================================================================

func refundCmd(opts *rootOptions) *cobra.Command {
	var (
		fee          int64
		note         string
		actor        int64
		skipProvider bool
	)
	cmd := &cobra.Command{
		Use:   "refund <transaction-id>",
		Short: "Refund a transaction and its satellites",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if fee < 0 {
				return fmt.Errorf("--fee must not be negative")
			}
			c := refund.RefundCommand{
				TransactionID:        id,
				RefundedProcessorFee: fee,
				Note:                 note,
				SkipProvider:         skipProvider,
			}
			if actor > 0 {
				c.ActorID = &actor
			}
			res, err := a.Refunds.RefundByID(ctx, c)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		}),
	}
	cmd.Flags().Int64Var(&fee, "fee", 0, "Processor fee refunded by the payment rail, host currency minor units")
	cmd.Flags().StringVar(&note, "note", "", "Refund reason stored on the original rows")
	cmd.Flags().Int64Var(&actor, "actor", 0, "User id recorded as CreatedByUserID")
	cmd.Flags().BoolVar(&skipProvider, "skip-provider", false, "Record the refund without calling the payment rail")
	return cmd
}

type recordOutput struct {
	OrderID             int64                    `json:"order_id"`
	Group               string                   `json:"transaction_group"`
	FxRate              string                   `json:"fx_rate"`
	HostFeePercent      string                   `json:"host_fee_percent"`
	HostFeeSharePercent string                   `json:"host_fee_share_percent"`
	Pairs               map[ledger.Kind][2]int64 `json:"pairs"`
}

func recordCmd(opts *rootOptions) *cobra.Command {
	var (
		fee         int64
		description string
	)
	cmd := &cobra.Command{
		Use:   "record <order-id>",
		Short: "Record the charge of an order as a main pair and satellites",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rec, err := a.Recorder.Record(ctx, id, contribution.Charge{ProcessorFeeInHostCurrency: fee, Description: description})
			if err != nil {
				return err
			}
			out := recordOutput{
				OrderID:             rec.OrderID,
				Group:               rec.Group.String(),
				FxRate:              rec.FxRate.String(),
				HostFeePercent:      rec.HostFeePercent.String(),
				HostFeeSharePercent: rec.HostFeeSharePercent.String(),
				Pairs:               make(map[ledger.Kind][2]int64, len(rec.Pairs)),
			}
			for kind, p := range rec.Pairs {
				out.Pairs[kind] = [2]int64{p.Credit.ID, p.Debit.ID}
			}
			return printJSON(cmd, out)
		}),
	}
	cmd.Flags().Int64Var(&fee, "fee", 0, "Processor fee, host currency minor units")
	cmd.Flags().StringVar(&description, "description", "", "Description of every row")
	return cmd
}

func quoteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "quote <order-id>",
		Short: "Show the host fee and host fee share percents of an order",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			q, err := a.Resolver.QuoteForOrder(ctx, id)
			if err != nil {
				return err
			}
			a.Metrics.ObserveQuote()
			return printJSON(cmd, q)
		}),
	}
}

type verifyOutput struct {
	Group      string   `json:"transaction_group"`
	OK         bool     `json:"ok"`
	Violations []string `json:"violations"`
}

func verifyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <group>",
		Short: "Check pair balance and the net amount identity of a group",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
			group, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid group %q: %w", args[0], err)
			}
			violations, err := ledger.VerifyGroup(ctx, a.Store, group)
			if err != nil {
				return err
			}
			out := verifyOutput{Group: group.String(), OK: len(violations) == 0, Violations: []string{}}
			for _, v := range violations {
				out.Violations = append(out.Violations, v.Error())
			}
			if err := printJSON(cmd, out); err != nil {
				return err
			}
			if !out.OK {
				return fmt.Errorf("group %s has %d violations", group, len(violations))
			}
			return nil
		}),
	}
}

func showCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <group>",
		Short: "Print the rows of a group",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
			group, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid group %q: %w", args[0], err)
			}
			txs, err := a.Store.FindByGroup(ctx, group)
			if err != nil {
				return err
			}
			if len(txs) == 0 {
				return fmt.Errorf("group %s: %w", group, ledger.ErrTransactionNotFound)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(w, "ID\tKIND\tTYPE\tCOLLECTIVE\tFROM\tAMOUNT\tNET\tHOST AMOUNT\tREFUND\t")
			for _, tx := range txs {
				refundID := "-"
				if tx.RefundTransactionID != nil {
					refundID = fmt.Sprint(*tx.RefundTransactionID)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s %s\t%s\t%s %s\t%s\t\n",
					tx.ID, tx.Kind, tx.Type, tx.CollectiveID, tx.FromCollectiveID,
					humanize.Comma(tx.Amount), tx.Currency,
					humanize.Comma(tx.NetAmountInCollectiveCurrency),
					humanize.Comma(tx.AmountInHostCurrency), tx.HostCurrency,
					refundID)
			}
			return w.Flush()
		}),
	}
}
