package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	jsonOutput bool
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "paworkflow",
	Short: "LLM-planned email automation",
	Long: "paworkflow turns inbound emails into capability plans, executes them step by step " +
		"and delivers a synthesized reply.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output raw JSON")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
