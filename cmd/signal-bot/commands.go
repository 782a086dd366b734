package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ducminhle1904/crypto-signal-bot/cmd/common"
	"github.com/ducminhle1904/crypto-signal-bot/internal/config"
	"github.com/ducminhle1904/crypto-signal-bot/internal/logger"
	"github.com/ducminhle1904/crypto-signal-bot/internal/store"
	"github.com/ducminhle1904/crypto-signal-bot/pkg/reporting"
)

const appName = "signal-bot"

type rootOptions struct {
	configFile string
	envFile    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "Crypto Signal Bot - signal integration, risk gating and protected order execution",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Configuration file (.toml or .json); defaults to paper trading")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env", ".env", "Environment file with exchange and Telegram credentials")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newExportCmd(opts))
	rootCmd.AddCommand(newStatusCmd(opts))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// loadConfig reads the config file and credentials, then initializes logging
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if o.configFile != "" {
		loaded, err := config.Load(o.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	cred, err := config.LoadCredentials(o.envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Apply(cred); err != nil {
		return nil, err
	}

	if o.logLevel != "" {
		cfg.Logger.Level = o.logLevel
	}
	if err := logger.Init(cfg.Logger); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		signalsFile string
		once        bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Consume signals and trade until interrupted",
		Long: `Run builds the exchange, risk manager and executor from the configuration,
starts the order monitor and the metrics server, and feeds every signal from
Kafka or a JSON-lines file through the decision pipeline.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			defer logger.Close()
			if signalsFile != "" {
				cfg.Intake.File = signalsFile
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			a.printStartupInfo(cmd.OutOrStdout())
			return a.run(ctx, once)
		},
	}
	cmd.Flags().StringVar(&signalsFile, "signals", "", "JSON-lines signal file, overrides intake.file")
	cmd.Flags().BoolVar(&once, "once", false, "Exit after the signal file is processed and orders settle")
	return cmd
}

func openStore(opts *rootOptions) (*store.Store, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Store.Enabled {
		return nil, fmt.Errorf("history store is disabled in the configuration")
	}
	return store.Open(cfg.Store)
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		out   string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write persisted order and trade history to an Excel workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer logger.Close()
			defer st.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			orders, err := st.RecentOrders(ctx, limit)
			if err != nil {
				return err
			}
			trades, err := st.RecentTrades(ctx, limit)
			if err != nil {
				return err
			}

			if out == "" {
				out = reporting.DefaultExportPath(time.Now())
			}
			if err := reporting.WriteHistoryXLSX(out, orders, trades); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d orders and %d trades to %s\n", len(orders), len(trades), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Output .xlsx path (default results/history_<time>.xlsx)")
	cmd.Flags().IntVar(&limit, "limit", 10000, "Maximum rows per sheet")
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print recent persisted orders and trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer logger.Close()
			defer st.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			orders, err := st.RecentOrders(ctx, limit)
			if err != nil {
				return err
			}
			trades, err := st.RecentTrades(ctx, limit)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			reporting.PrintOrders(w, orders)
			reporting.PrintTrades(w, trades)
			reporting.PrintSummary(w, orders, trades)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Rows per table")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			common.PrintVersion(cmd.OutOrStdout(), appName)
		},
	}
}
