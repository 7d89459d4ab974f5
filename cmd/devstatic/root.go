package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// GlobalFlags are shared by every subcommand
type GlobalFlags struct {
	ConfigFile string
	LogLevel   string
}

var globalFlags GlobalFlags

var rootCmd = &cobra.Command{
	Use:   "devstatic",
	Short: "Development static file server",
	Long: `devstatic serves the output of a development build from a local
directory, an in-memory snapshot or an S3 bucket.

Responses carry validators (ETag, Last-Modified), honour conditional
requests and support single and multipart byte ranges.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&globalFlags.ConfigFile, "config", "c", "", "configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&globalFlags.LogLevel, "log-level", "", "log level: TRACE|DEBUG|INFO|WARN|ERROR")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
