// Command invoicemem processes extracted invoices against learned vendor
// memories, records reviewer feedback and serves the HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/scrypster/invoice-memory/internal/config"
	"github.com/scrypster/invoice-memory/internal/logging"
)

var (
	cfgFile string
	version = "dev"

	// cfg and logger are populated by initConfig before any subcommand runs.
	cfg    *config.Config
	logger *log.Logger

	rootCmd = &cobra.Command{
		Use:   "invoicemem",
		Short: "Memory-driven invoice normalization",
		Long: `invoicemem recalls what it has learned about a vendor, proposes corrections
to freshly extracted invoices, decides whether a human needs to look, and
learns from reviewer feedback.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "YAML config file (overrides INVOICEMEM_* environment)")
	flags.String("storage", "", "storage engine (sqlite, postgres)")
	flags.String("data-path", "", "directory holding the SQLite database")
	flags.String("postgres-dsn", "", "PostgreSQL connection string")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json, logfmt)")

	_ = viper.BindPFlag("storage.engine", flags.Lookup("storage"))
	_ = viper.BindPFlag("storage.data_path", flags.Lookup("data-path"))
	_ = viper.BindPFlag("storage.postgres_dsn", flags.Lookup("postgres-dsn"))
	_ = viper.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", flags.Lookup("log-format"))

	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(feedbackCmd())
	rootCmd.AddCommand(memoriesCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(versionCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("invoicemem")
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	c := config.FromEnv()
	applyOverrides(c, viper.GetViper())
	if err := c.Validate(); err != nil {
		return err
	}

	l, err := logging.New(os.Stderr, c.Logging.Level, c.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	log.SetDefault(l)

	cfg, logger = c, l
	return nil
}

// applyOverrides layers config file values and changed flags over the
// environment-derived configuration. Keys that are not set leave cfg alone.
func applyOverrides(c *config.Config, v *viper.Viper) {
	str := func(key string, dst *string) {
		if v.IsSet(key) && v.GetString(key) != "" {
			*dst = v.GetString(key)
		}
	}
	integer := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	float := func(key string, dst *float64) {
		if v.IsSet(key) {
			*dst = v.GetFloat64(key)
		}
	}

	str("server.host", &c.Server.Host)
	integer("server.port", &c.Server.Port)
	integer("server.max_batch_size", &c.Server.MaxBatchSize)
	integer("server.max_batch_workers", &c.Server.MaxBatchWorkers)
	if v.IsSet("server.enable_websocket") {
		c.Server.EnableWebSocket = v.GetBool("server.enable_websocket")
	}

	str("storage.engine", &c.Storage.StorageEngine)
	str("storage.data_path", &c.Storage.DataPath)
	str("storage.postgres_dsn", &c.Storage.PostgresDSN)
	integer("storage.snapshot_keep", &c.Storage.SnapshotKeep)
	if v.IsSet("storage.snapshot_interval") {
		c.Storage.SnapshotInterval = v.GetDuration("storage.snapshot_interval")
	}

	str("security.mode", &c.Security.SecurityMode)
	str("security.api_token", &c.Security.APIToken)

	str("logging.level", &c.Logging.Level)
	str("logging.format", &c.Logging.Format)

	float("engine.auto_accept_threshold", &c.Engine.AutoAcceptThreshold)
	float("engine.auto_correct_threshold", &c.Engine.AutoCorrectThreshold)
	float("engine.escalate_threshold", &c.Engine.EscalateThreshold)
	float("engine.memory_application_threshold", &c.Engine.MemoryApplicationThreshold)
	integer("engine.decay_grace_days", &c.Engine.DecayGraceDays)
	float("engine.decay_rate", &c.Engine.DecayRate)
	float("engine.recall_min_confidence", &c.Engine.RecallMinConfidence)
	integer("engine.recall_limit", &c.Engine.RecallLimit)
	integer("engine.breaker_max_failures", &c.Engine.BreakerMaxFailures)
	if v.IsSet("engine.request_timeout") {
		c.Engine.RequestTimeout = v.GetDuration("engine.request_timeout")
	}
	if v.IsSet("engine.breaker_timeout") {
		c.Engine.BreakerTimeout = v.GetDuration("engine.breaker_timeout")
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "invoicemem", version)
		},
	}
}
