package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mmcdole/offgrid/internal/domain"
	"github.com/mmcdole/offgrid/internal/tui/styles"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Read through the stale-while-revalidate cache",
}

var cacheFetchCmd = &cobra.Command{
	Use:   "fetch <key> <url>",
	Short: "Print the cached body, then the revalidated one when online",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")
		key, url := args[0], args[1]

		s, err := openSession(false)
		if err != nil {
			return err
		}
		defer s.Close()

		if s.Prober != nil {
			s.Prober.Probe(cmd.Context())
		}

		out := cmd.OutOrStdout()
		if entry, ok := s.Cache.Peek(key); ok {
			age := humanize.Time(entry.LastFetched)
			if entry.IsFresh(time.Now()) {
				fmt.Fprintln(out, styles.DimStyle.Render("cached "+age+", fresh"))
			} else {
				fmt.Fprintln(out, styles.DimStyle.Render("cached "+age+", stale"))
			}
		}

		fresh := false
		s.Sync.Fetch(cmd.Context(), key, domain.Request{Method: "GET", URL: url},
			func(body []byte, found bool) {
				if !found {
					fmt.Fprintln(out, styles.DimStyle.Render("no cached copy"))
					return
				}
				printBody(out, "cached", body)
			},
			func(body []byte) {
				fresh = true
				printBody(out, "fresh", body)
			},
			ttl,
		)

		if !fresh {
			fmt.Fprintln(out, styles.DimStyle.Render(fmt.Sprintf("not revalidated (network %s)", s.Network.Status())))
		}
		return nil
	},
}

func printBody(w io.Writer, label string, body []byte) {
	fmt.Fprintln(w, styles.AccentStyle.Render(fmt.Sprintf("── %s (%s)", label, humanize.IBytes(uint64(len(body))))))
	fmt.Fprintln(w, string(body))
}

func init() {
	cacheFetchCmd.Flags().Duration("ttl", 5*time.Minute, "freshness window stored with the entry")
	cacheCmd.AddCommand(cacheFetchCmd)
}
