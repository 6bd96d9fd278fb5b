package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mmcdole/offgrid/internal/domain"
	"github.com/mmcdole/offgrid/internal/tui/styles"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and drive the mutation queue",
}

var queueLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List pending tasks in delivery order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(true)
		if err != nil {
			return err
		}
		defer s.Close()

		tasks, err := s.Sync.Tasks()
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
			return nil
		}

		t := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(styles.DimStyle).
			Headers("ID", "PRI", "REQUEST", "ATTEMPTS", "DEDUPE", "AGE")
		for _, task := range tasks {
			t.Row(
				task.ID[:min(8, len(task.ID))],
				fmt.Sprint(task.Priority),
				styles.Truncate(task.Request.Method+" "+task.Request.URL, 48),
				fmt.Sprintf("%d/%d", task.Attempts, task.MaxAttempts),
				task.DedupeKey,
				humanize.Time(task.CreatedAt),
			)
		}
		fmt.Fprintln(cmd.OutOrStdout(), t.Render())
		return nil
	},
}

var queuePushCmd = &cobra.Command{
	Use:   "push --url URL",
	Short: "Queue a request for delivery",
	Long: `Queue a request for delivery. The task is only persisted here; it is
sent by "queue flush" or a running "serve".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		method, _ := flags.GetString("method")
		url, _ := flags.GetString("url")
		body, _ := flags.GetString("body")
		headers, _ := flags.GetStringToString("header")
		priority, _ := flags.GetInt("priority")
		dedupe, _ := flags.GetString("dedupe")
		maxAttempts, _ := flags.GetInt("max-attempts")
		policy, _ := flags.GetString("policy")

		switch domain.ConflictPolicy(policy) {
		case domain.ConflictClientWins, domain.ConflictServerWins, domain.ConflictMerge:
		default:
			return fmt.Errorf("unknown conflict policy %q", policy)
		}

		s, err := openSession(true)
		if err != nil {
			return err
		}
		defer s.Close()

		task, err := s.Sync.Enqueue(cmd.Context(), domain.SyncTask{
			Priority: priority,
			Request: domain.Request{
				Method:  strings.ToUpper(method),
				URL:     url,
				Headers: headers,
				Body:    []byte(body),
			},
			MaxAttempts:    maxAttempts,
			DedupeKey:      dedupe,
			ConflictPolicy: domain.ConflictPolicy(policy),
		}, nil, nil)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Queued %s\n", task.ID)
		return nil
	},
}

var queueFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Run delivery passes until the queue drains",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		passes, _ := cmd.Flags().GetInt("passes")

		s, err := openSession(false)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if s.Prober != nil {
			s.Prober.Probe(ctx)
		}
		if s.Network.Status() != domain.NetworkOnline {
			return fmt.Errorf("network is %s, nothing delivered", s.Network.Status())
		}

		out := cmd.OutOrStdout()
		for i := 0; i < passes && ctx.Err() == nil; i++ {
			start := time.Now()
			s.Sync.ProcessQueue(ctx)

			p := s.Sync.Snapshot()
			fmt.Fprintf(out, "pass %d: %s, %d pending, %d abandoned (%s)\n",
				i+1, p.State, p.Pending, p.Abandoned, time.Since(start).Round(time.Millisecond))
			if p.LastError != "" {
				fmt.Fprintln(out, styles.ErrorStyle.Render("  last error: "+p.LastError))
			}
			if p.Pending == 0 {
				break
			}
		}
		return nil
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every pending task without sending it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(true)
		if err != nil {
			return err
		}
		defer s.Close()

		n := s.Sync.Snapshot().Pending
		if err := s.Sync.Clear(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d tasks\n", n)
		return nil
	},
}

func init() {
	queuePushCmd.Flags().String("method", "POST", "HTTP method")
	queuePushCmd.Flags().String("url", "", "request URL")
	queuePushCmd.Flags().String("body", "", "request body")
	queuePushCmd.Flags().StringToString("header", nil, "request headers, key=value")
	queuePushCmd.Flags().Int("priority", 0, "lower values are delivered first")
	queuePushCmd.Flags().String("dedupe", "", "dedupe key; replaces any queued task with the same key")
	queuePushCmd.Flags().Int("max-attempts", 0, "delivery attempts before giving up (0 = config default)")
	queuePushCmd.Flags().String("policy", string(domain.ConflictClientWins), "conflict policy: client_wins, server_wins or merge")
	_ = queuePushCmd.MarkFlagRequired("url")

	queueFlushCmd.Flags().Int("passes", 1, "maximum delivery passes")

	queueCmd.AddCommand(queueLsCmd)
	queueCmd.AddCommand(queuePushCmd)
	queueCmd.AddCommand(queueFlushCmd)
	queueCmd.AddCommand(queueClearCmd)
}
