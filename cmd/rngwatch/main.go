package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
	version = "dev" // set by build flags
)

var rootCmd = &cobra.Command{
	Use:   "rngwatch",
	Short: "Online anomaly detector for raw bit streams",
	Long: `rngwatch watches a hardware RNG device or a synthetic Bernoulli
source bit-by-bit, running the Repetition Count Test, Adaptive Proportion
Test, Sequential Probability Ratio Test, and an optional monobit Z-test
concurrently across one or more workers, and reports anomalies as they
are detected.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./rngwatch.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose operational logging")

	rootCmd.AddCommand(watchCmd)
}

// Commands are defined in separate files:
// - watchCmd in watch.go

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
