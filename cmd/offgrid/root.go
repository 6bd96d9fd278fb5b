package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mmcdole/offgrid/internal/app"
	"github.com/mmcdole/offgrid/internal/config"
	"github.com/mmcdole/offgrid/internal/logging"
)

var (
	// Global flags
	configFile string
	offline    bool
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "offgrid",
	Short: "Offline-first sync queue and map tile downloader",
	Long: `offgrid keeps working without a network.

It provides:
  • A persistent mutation queue delivered with backoff once online
  • A stale-while-revalidate response cache
  • Offline map regions downloaded as XYZ tiles with pause, resume and byte budgets`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "offgrid %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ~/.config/offgrid/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "treat the network as unreachable")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (DEBUG, INFO, WARN, ERROR)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(regionCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(serveCmd)
}

// session is one command's wired application
type session struct {
	loader *config.Loader
	logger *logging.Logger
	*app.App
}

// openSession loads config, sets up logging and wires the application.
// forceOffline overrides the network regardless of flags.
func openSession(forceOffline bool) (*session, error) {
	loader := config.NewLoader(configFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger, err := logging.SetupLogger(cfg.Logging)
	if err != nil {
		// Fall back to a discarding logger if file logging fails
		logger = logging.NewWriterLogger(io.Discard, cfg.Logging.Level)
	}
	slog.SetDefault(logger.Logger)

	a, err := app.New(cfg, logger.Logger, app.Options{Offline: offline || forceOffline})
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	return &session{loader: loader, logger: logger, App: a}, nil
}

func (s *session) Close() error {
	err := s.App.Close()
	if cerr := s.logger.Close(); err == nil {
		err = cerr
	}
	return err
}
