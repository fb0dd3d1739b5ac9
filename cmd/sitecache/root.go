package main

import (
	"fmt"

	"github.com/Sternrassler/sitecache/pkg/config"
	"github.com/Sternrassler/sitecache/pkg/logging"
	"github.com/Sternrassler/sitecache/pkg/sitecache"
	"github.com/spf13/cobra"
)

// app carries the state shared by all sub-commands of one invocation.
type app struct {
	configPath string
	logLevel   string
	pretty     bool

	cfg   config.Config
	layer *sitecache.Layer
}

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "sitecache",
		Short:         "Inspect and maintain the shared site cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Path to a YAML config file")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error, disabled); overrides the config")
	flags.BoolVar(&a.pretty, "pretty", false, "Human-readable log output instead of JSON")

	cmd.AddCommand(pingCommand(a))
	cmd.AddCommand(statsCommand(a))
	cmd.AddCommand(keysCommand(a))
	cmd.AddCommand(invalidateCommand(a))
	cmd.AddCommand(rateLimitCommand(a))
	cmd.AddCommand(sessionsCommand(a))
	cmd.AddCommand(metricsCommand(a))
	return cmd
}

// open loads the configuration and builds the layer. Logs go to stderr so
// command output on stdout stays parseable.
func (a *app) open(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = logging.LogLevel(a.logLevel)
	}
	if cmd.Flags().Changed("pretty") {
		cfg.Log.Pretty = a.pretty
	}
	cfg.Log.Output = cmd.ErrOrStderr()
	if err := cfg.Log.Validate(); err != nil {
		return err
	}

	logger := logging.Setup(cfg.Log)
	layer, err := sitecache.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	a.cfg = cfg
	a.layer = layer
	return nil
}

func (a *app) close() error {
	if a.layer == nil {
		return nil
	}
	err := a.layer.Close()
	a.layer = nil
	return err
}
