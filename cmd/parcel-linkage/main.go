package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/parcel-linkage/internal/config"
	"github.com/parcel-linkage/internal/logger"
)

var (
	configFile string
	logLevel   string
	logFormat  string
	debugMode  bool

	// Loaded once in the root PersistentPreRunE
	cfg *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "parcel-linkage",
		Short: "Parcel record linkage and spatial matching",
		Long: `Reconciles owner spreadsheets, assessor exports and parcel geometry into one
canonical record per parcel and municipality, in resumable, operator-gated batches.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(configFile); err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if logFormat != "" {
				cfg.Log.Format = logFormat
			}
			if debugMode {
				cfg.Log.Level = "debug"
			}
			logger.Init(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (console, json)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "verbose stage tracing")

	rootCmd.AddCommand(createRunCmd())
	rootCmd.AddCommand(createGeocodeCmd())
	rootCmd.AddCommand(createNormalizeCmd())
	rootCmd.AddCommand(createVerifyCmd())
	rootCmd.AddCommand(createMigrateCmd())
	rootCmd.AddCommand(createCacheCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
