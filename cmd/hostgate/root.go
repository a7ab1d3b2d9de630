package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hostgate",
	Short: "Programmable virtual-host routing engine",
	Long: `hostgate is a reconfigurable virtual-host/route dispatcher.

For each incoming request it decides whether to redirect, rewrite,
proxy, invoke a handler, or fail, driven by a declarative host and
route-table configuration that reloads live.

Quick start:
  hostgate validate   # Check the configuration
  hostgate serve      # Start serving`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "hostgate.yaml", "config file path")
}
