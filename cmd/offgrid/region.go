package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mmcdole/offgrid/internal/domain"
	"github.com/mmcdole/offgrid/internal/download"
	"github.com/mmcdole/offgrid/internal/geo"
	"github.com/mmcdole/offgrid/internal/search"
	"github.com/mmcdole/offgrid/internal/tui"
	"github.com/mmcdole/offgrid/internal/tui/styles"
)

var regionCmd = &cobra.Command{
	Use:   "region",
	Short: "Plan, download and manage offline map regions",
}

var regionEstimateCmd = &cobra.Command{
	Use:   "estimate -f region.yaml",
	Short: "Count the tiles and bytes a region needs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		width, _ := cmd.Flags().GetFloat64("width")
		height, _ := cmd.Flags().GetFloat64("height")

		def, _, err := loadRegionFile(file)
		if err != nil {
			return err
		}
		est := geo.EstimateRegion(def)
		center, zoom := geo.FitBounds(width, height, 16, def.Bounds, def.MaxZoom)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Region:   %s (%s)\n", def.Name, def.ID)
		fmt.Fprintf(out, "Zooms:    %d-%d\n", def.MinZoom, def.MaxZoom)
		fmt.Fprintf(out, "Tiles:    %s\n", humanize.Comma(int64(est.TileCount)))
		fmt.Fprintf(out, "Estimate: %s\n", humanize.IBytes(uint64(est.EstimatedBytes)))
		if def.MaxBytes > 0 {
			fmt.Fprintf(out, "Budget:   %s\n", humanize.IBytes(uint64(def.MaxBytes)))
			if est.EstimatedBytes > def.MaxBytes {
				fmt.Fprintln(out, styles.ErrorStyle.Render("Estimate exceeds the byte budget"))
			}
		}
		fmt.Fprintf(out, "Camera:   %.5f,%.5f z%d for a %.0fx%.0f viewport\n", center.Lat(), center.Lon(), zoom, width, height)
		return nil
	},
}

var regionDownloadCmd = &cobra.Command{
	Use:   "download -f region.yaml",
	Short: "Download every tile of a region",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		def, rf, err := loadRegionFile(file)
		if err != nil {
			return err
		}

		s, err := openSession(false)
		if err != nil {
			return err
		}
		defer s.Close()

		opts := downloadOptions(cmd, s.DownloadOptions(), rf)
		est, err := s.Downloads.Estimate(def)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ctl, err := s.Downloads.DownloadRegion(ctx, def, opts)
		if err != nil {
			return err
		}

		var final domain.OfflineDownloadProgress
		if term.IsTerminal(int(os.Stdout.Fd())) {
			final, err = runDownloadView(ctl, def.Name, est.EstimatedBytes)
			if err != nil {
				return err
			}
		} else {
			final = printDownloadProgress(cmd.OutOrStdout(), ctl)
		}

		switch final.State {
		case domain.DownloadCompleted:
			return nil
		case domain.DownloadCanceled:
			return errors.New("download canceled")
		default:
			return fmt.Errorf("download %s: %s", final.State, final.Error)
		}
	},
}

// downloadOptions layers region file and flag overrides on the config
func downloadOptions(cmd *cobra.Command, opts download.Options, rf regionFile) download.Options {
	if rf.Template != "" {
		opts.Template = rf.Template
	}
	if len(rf.Subdomains) > 0 {
		opts.Subdomains = rf.Subdomains
	}
	opts.Headers = rf.Headers

	flags := cmd.Flags()
	if flags.Changed("template") {
		opts.Template, _ = flags.GetString("template")
	}
	if flags.Changed("subdomains") {
		opts.Subdomains, _ = flags.GetStringSlice("subdomains")
	}
	if flags.Changed("concurrency") {
		opts.Concurrency, _ = flags.GetInt("concurrency")
	}
	opts.SkipExisting, _ = flags.GetBool("skip-existing")
	if hard, _ := flags.GetBool("hard-budget"); hard {
		opts.BudgetPolicy = download.BudgetHard
	}
	return opts
}

func runDownloadView(ctl *download.Controller, name string, estimate int64) (domain.OfflineDownloadProgress, error) {
	p := tea.NewProgram(tui.NewDownloadModel(ctl, name, estimate))
	if _, err := p.Run(); err != nil {
		ctl.Cancel()
		ctl.Wait()
		return domain.OfflineDownloadProgress{}, fmt.Errorf("TUI error: %w", err)
	}
	return ctl.Wait(), nil
}

// printDownloadProgress writes a line per state change and per tenth of
// the region completed
func printDownloadProgress(w io.Writer, ctl *download.Controller) domain.OfflineDownloadProgress {
	var lastState domain.DownloadState
	lastDecile := -1
	for p := range ctl.Progress() {
		decile := int(p.Fraction() * 10)
		if p.State == lastState && decile == lastDecile {
			continue
		}
		lastState, lastDecile = p.State, decile
		fmt.Fprintf(w, "%s %s: %d/%d tiles, %d failed, %s\n",
			p.RegionID, p.State, p.DownloadedTiles, p.TotalTiles, p.FailedTiles,
			humanize.IBytes(uint64(p.TotalBytes)))
	}
	return ctl.Wait()
}

var regionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List downloaded regions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(true)
		if err != nil {
			return err
		}
		defer s.Close()

		regions, err := s.Downloads.Regions()
		if err != nil {
			return err
		}
		if len(regions) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No regions downloaded")
			return nil
		}

		t := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(styles.DimStyle).
			Headers("ID", "NAME", "ZOOM", "FORMAT", "SIZE")
		for _, r := range regions {
			size, err := s.Tiles.RegionSize(r.ID)
			if err != nil {
				s.Logger.Warn("failed to size region", "regionID", r.ID, "error", err)
			}
			t.Row(r.ID, r.Name, fmt.Sprintf("%d-%d", r.MinZoom, r.MaxZoom), r.Format, humanize.IBytes(uint64(size)))
		}
		fmt.Fprintln(cmd.OutOrStdout(), t.Render())
		return nil
	},
}

var regionRmCmd = &cobra.Command{
	Use:   "rm <query>",
	Short: "Delete a downloaded region, matched by id or fuzzy name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		s, err := openSession(true)
		if err != nil {
			return err
		}
		defer s.Close()

		regions, err := s.Downloads.Regions()
		if err != nil {
			return err
		}
		target, err := search.Resolve(args[0], regions)
		if err != nil {
			return err
		}

		if !yes {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("refusing to delete %s without --yes", target.ID)
			}
			if !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("Delete region %s (%s)?", target.ID, search.Label(target))) {
				return nil
			}
		}

		if err := s.Downloads.DeleteRegion(target.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted region %s\n", target.ID)
		return nil
	},
}

// confirm asks a yes/no question, defaulting to no
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func init() {
	regionEstimateCmd.Flags().StringP("file", "f", "", "region definition file (YAML)")
	regionEstimateCmd.Flags().Float64("width", 1024, "viewport width in pixels for the suggested camera")
	regionEstimateCmd.Flags().Float64("height", 768, "viewport height in pixels for the suggested camera")
	_ = regionEstimateCmd.MarkFlagRequired("file")

	regionDownloadCmd.Flags().StringP("file", "f", "", "region definition file (YAML)")
	regionDownloadCmd.Flags().String("template", "", "tile URL template with {z} {x} {y} and optional {s}")
	regionDownloadCmd.Flags().StringSlice("subdomains", nil, "values substituted for {s}")
	regionDownloadCmd.Flags().Int("concurrency", 0, "parallel tile fetches")
	regionDownloadCmd.Flags().Bool("skip-existing", false, "keep tiles already stored")
	regionDownloadCmd.Flags().Bool("hard-budget", false, "stop the whole run when the byte budget runs out")
	_ = regionDownloadCmd.MarkFlagRequired("file")

	regionRmCmd.Flags().BoolP("yes", "y", false, "delete without asking")

	regionCmd.AddCommand(regionEstimateCmd)
	regionCmd.AddCommand(regionDownloadCmd)
	regionCmd.AddCommand(regionLsCmd)
	regionCmd.AddCommand(regionRmCmd)
}
