package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/hostgate/adapters/clock"
	"github.com/artpar/hostgate/adapters/fileserver"
	httpserver "github.com/artpar/hostgate/adapters/http"
	"github.com/artpar/hostgate/adapters/metrics"
	"github.com/artpar/hostgate/app"
	"github.com/artpar/hostgate/config"
)

var hotReload bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the routing engine",
	Long: `Start the hostgate server.

The server will:
  - Load configuration from hostgate.yaml (or --config)
  - Compile host and route tables
  - Dispatch every request through the routing engine
  - Reload the configuration live on file change or SIGHUP

Examples:
  hostgate serve
  hostgate serve --config /etc/hostgate/config.yaml
  hostgate serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Println("No configuration found.")
		fmt.Println()
		fmt.Printf("Create %s or specify a config file with --config\n", cfgFile)
		return nil
	}

	initial, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	logger, err := buildLogger(initial.Logging)
	if err != nil {
		return err
	}

	holder, err := config.NewHolder(cfgFile, logger)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	cfg := holder.Get()

	hc, err := cfg.HostsConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	env := app.EnvConfig{
		Conds:    cfg.Env.Conds,
		Subs:     cfg.Env.Subs,
		Handlers: app.BuiltinHandlers(),
		Ports:    cfg.PortsMap(),
		Logger:   logger,
		Clock:    clock.Real{},
		Files:    fileserver.Local{},
		Metrics:  metrics.New(),
	}
	if cfg.Logging.Access {
		accessLogger := logger.With().Str("component", "access").Logger()
		env.RequestLogger = func(req *app.Request, status int, d time.Duration) {
			accessLogger.Info().
				Str("method", req.Method()).
				Str("host", req.Hostname()).
				Str("path", req.Path()).
				Int("status", status).
				Dur("duration", d).
				Str("req", req.ID()).
				Msg("")
		}
	}

	engine, err := app.New(env, hc)
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	holder.OnChange(func(c *config.Config) error {
		next, err := c.HostsConfig()
		if err != nil {
			return err
		}
		return engine.Reconfigure(next)
	})

	if hotReload {
		if err := holder.WatchFile(); err != nil {
			return fmt.Errorf("error watching config: %w", err)
		}
		holder.WatchSignals()
		defer holder.Stop()
	}

	server := httpserver.New(engine, httpserver.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		MetricsPort:  cfg.Server.MetricsPort,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, logger)

	return server.Run()
}

func buildLogger(lc config.LoggingConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q", lc.Level)
	}

	var logger zerolog.Logger
	if lc.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger(), nil
}
