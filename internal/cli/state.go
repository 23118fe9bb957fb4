package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"okx-core/internal/order"
	"okx-core/internal/reconciliation"
	"okx-core/internal/risk"
	"okx-core/internal/store"
)

var journalLimit int

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the persisted daemon state",
	Long: `Print the breaker state, pending orders and the most recent journal entries from
the state store. Safe to run next to a live daemon; nothing is written.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, database, st, err := openStore()
		if err != nil {
			return err
		}
		defer database.Close()
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		loc, err := cfg.Location()
		if err != nil {
			return err
		}
		breaker := risk.NewBreaker(st, loc, cfg.DailyLossLimitPct, nil)
		if err := breaker.Load(ctx); err != nil {
			return err
		}
		pending, err := st.ListPending(ctx)
		if err != nil {
			return err
		}
		if pending == nil {
			pending = []order.PendingOrder{}
		}
		journal, err := database.RecentJournal(ctx, journalLimit)
		if err != nil {
			return err
		}
		owner, _, err := st.Get(ctx, store.KeyInstanceOwner)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"owner":   owner,
			"risk":    breaker.State(),
			"pending": pending,
			"journal": journal,
		})
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation pass against OKX and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, database, st, err := openStore()
		if err != nil {
			return err
		}
		defer database.Close()
		if !cfg.ExecutionEnabled {
			return fmt.Errorf("reconcile needs OKX credentials and execution_enabled=true")
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := st.ClaimOwner(ctx, instanceID(), forceOwner); err != nil {
			return fmt.Errorf("claim state store: %w", err)
		}

		client := newOKXClient(cfg)
		if err := withTimeout(ctx, client.Bootstrap); err != nil {
			return err
		}
		engine := order.NewEngine(order.Config{TdMode: cfg.TdMode, Leverage: cfg.Leverage, NotFoundGrace: cfg.NotFoundGrace}, st, client, nil, nil, nil)
		report, err := reconciliation.NewService(st, client, engine, nil, 0, cfg.NotFoundGrace).Reconcile(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	rootCmd.AddCommand(stateCmd, reconcileCmd)
	stateCmd.Flags().IntVarP(&journalLimit, "limit", "n", 20, "journal entries to show")
	reconcileCmd.Flags().BoolVar(&forceOwner, "force-owner", false, "take over a state store owned by another host")
}
