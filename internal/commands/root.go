package commands

import (
	"github.com/spf13/cobra"
)

var (
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "crypto-monitor",
	Short: "Crypto market monitoring and signal service",
	Long: `A market monitoring service that polls OHLCV candles from multiple
data sources with automatic failover, detects chart patterns and
indicator divergences, and delivers deduplicated trading signals to a
webhook endpoint.

Features:
• Multi-source candle ingestion (Binance, CoinGecko, Alpha Vantage)
• Priority failover with health tracking and automatic recovery
• Chart pattern detection (doubles, head & shoulders, wedges, triangles)
• RSI/MACD/volume divergence detection
• Confidence-scored, deduplicated webhook signals
• Status API with per-source health`,
	Version: "1.0.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
