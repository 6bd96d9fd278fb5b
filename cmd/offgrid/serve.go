package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mmcdole/offgrid/internal/config"
	"github.com/mmcdole/offgrid/internal/domain"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Deliver the queue whenever online and stream progress over a websocket",
	Long: `Run the connectivity prober and the sync engine until interrupted.

Progress is published at ws://<feed.addr>/ws as JSON messages:
  sync_progress      queue state, pending and in-flight counts
  download_progress  per-region tile counts (regions passed with --download)

Changing logging.level in the config file takes effect without a restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		files, _ := cmd.Flags().GetStringSlice("download")
		addr, _ := cmd.Flags().GetString("addr")

		s, err := openSession(false)
		if err != nil {
			return err
		}
		defer s.Close()
		if addr != "" {
			s.Config.Feed.Addr = addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		server := s.NewFeed()
		if err := server.Start(); err != nil {
			return err
		}
		defer server.Stop()

		progress, unsubscribe := s.Sync.Subscribe()
		defer unsubscribe()
		go server.RelaySync(ctx, progress)

		s.loader.Watch(func(cfg *config.Config, err error) {
			if err != nil {
				s.Logger.Warn("ignoring invalid config change", "error", err)
				return
			}
			s.logger.SetLevel(cfg.Logging.Level)
			s.Logger.Info("config reloaded", "level", cfg.Logging.Level)
		})

		s.StartBackground(ctx)

		for _, file := range files {
			if err := startDownload(ctx, s, server.RelayDownload, file); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Progress feed on ws://%s/ws\n", server.Addr())
		fmt.Fprintf(out, "Health check: http://%s/health\n", server.Addr())
		fmt.Fprintf(out, "Network: %s\n", s.Network.Status())
		fmt.Fprintln(out, "Press Ctrl+C to stop...")

		<-ctx.Done()
		fmt.Fprintln(out, "Shutting down")
		return nil
	},
}

func startDownload(ctx context.Context, s *session, relay func(context.Context, <-chan domain.OfflineDownloadProgress), file string) error {
	def, rf, err := loadRegionFile(file)
	if err != nil {
		return err
	}
	opts := s.DownloadOptions()
	if rf.Template != "" {
		opts.Template = rf.Template
	}
	if len(rf.Subdomains) > 0 {
		opts.Subdomains = rf.Subdomains
	}
	opts.Headers = rf.Headers
	opts.SkipExisting = true

	ctl, err := s.Downloads.DownloadRegion(ctx, def, opts)
	if err != nil {
		return err
	}
	go relay(ctx, ctl.Progress())
	return nil
}

func init() {
	serveCmd.Flags().StringSlice("download", nil, "region files to download while serving (skips stored tiles)")
	serveCmd.Flags().String("addr", "", "override feed.addr")
}
