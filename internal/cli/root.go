package cli

import (
	"log"

	"github.com/spf13/cobra"
)

var version = "v0.1.0-dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "okx-core",
	Short: "OKX perpetual swap execution daemon",
	Long: `okx-core places one order per strategy signal on OKX perpetual swaps and tracks each
order to a terminal outcome that survives restarts.

It provides:
  - an order lifecycle engine with idempotent submission and timeout cancels
  - risk-based position sizing with exchange-side take-profit and stop-loss
  - a daily loss breaker anchored to a configurable timezone
  - startup and periodic reconciliation against the exchange`,
	SilenceUsage: true,
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config (default $OKX_CONFIG)")
	rootCmd.Version = version
}
