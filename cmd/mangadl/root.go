package cmd

import (
	"context"
	"os"

	"github.com/kerbaras/mangadl/pkg/config"
	"github.com/kerbaras/mangadl/pkg/services"
	"github.com/kerbaras/mangadl/pkg/utils"
	"github.com/spf13/cobra"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "mangadl",
	Short:         "Download manga chapters into a local page cache",
	Long:          "Queue manga chapters, download their pages and keep them in a size-bounded disk cache",
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("cache-dir") {
			loaded.CacheDir, _ = flags.GetString("cache-dir")
		}
		if flags.Changed("db") {
			loaded.DatabasePath, _ = flags.GetString("db")
		}
		if flags.Changed("store") {
			loaded.Store, _ = flags.GetString("store")
		}
		if flags.Changed("log-level") {
			loaded.LogLevel, _ = flags.GetString("log-level")
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		if err := os.MkdirAll(loaded.HomeDir, 0o755); err != nil {
			return err
		}
		cfg = loaded
		return utils.SetupLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	},
}

func init() {
	rootCmd.PersistentFlags().String("cache-dir", "", "Chapter cache directory (default ~/.mangadl/chapter_disk_cache)")
	rootCmd.PersistentFlags().String("db", "", "DuckDB database path (default ~/.mangadl/mangadl.db)")
	rootCmd.PersistentFlags().String("store", "", "Queue store: duckdb, redis or memory")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(exportCmd)
}

func openController(ctx context.Context, opts ...services.DownloaderOption) (*services.Controller, error) {
	return services.NewController(ctx, cfg, opts...)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
