package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"salespilot/internal/logging"
)

var (
	// Global flags
	cfgPath string
	verbose bool

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "salespilot",
	Short: "salespilot - hybrid prompt router for sales artifacts",
	Long: `salespilot routes a natural-language sales request to one pre-authored
template out of a prompt library, negotiates the template's missing
variables, and generates the final artifact.

Pipeline: category dispatch -> filtered hybrid search (dense + sparse,
RRF fusion) -> slot-filling negotiation -> generation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.Init(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config YAML")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(indexCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
