package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/hostgate/app"
	"github.com/artpar/hostgate/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration without serving",
	Long: `Load the configuration file, compile every route table and host
binding, and report the first error found. Exits zero when the
configuration would serve.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// A full engine build also compiles tries, regexes and geo targets.
	hc, err := cfg.HostsConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := app.New(app.EnvConfig{
		Conds:    cfg.Env.Conds,
		Subs:     cfg.Env.Subs,
		Handlers: app.BuiltinHandlers(),
		Ports:    cfg.PortsMap(),
		Logger:   zerolog.Nop(),
	}, hc); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Printf("%s: configuration OK (%d hosts, %d route tables)\n",
		cfgFile, len(cfg.Hosts), len(cfg.RouteTables))
	return nil
}
