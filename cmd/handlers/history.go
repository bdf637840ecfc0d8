package handlers

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"boorusync/internal/config"
	"boorusync/internal/logger"
	"boorusync/internal/store"
)

// NewHistoryCmd creates the history command group
func NewHistoryCmd() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past sync runs",
		Long:  `Browse the recorded sync runs and the per-post decisions each one made.`,
	}

	historyCmd.AddCommand(newHistoryListCmd())
	historyCmd.AddCommand(newHistoryShowCmd())
	historyCmd.AddCommand(newHistoryStatsCmd())
	historyCmd.AddCommand(newHistoryPruneCmd())
	return historyCmd
}

func newHistoryListCmd() *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent sync runs",
		Run: func(cmd *cobra.Command, args []string) {
			limit, _ := cmd.Flags().GetInt("limit")
			if err := runHistoryList(limit); err != nil {
				logger.Error("Failed to list history", err)
				os.Exit(1)
			}
		},
	}

	listCmd.Flags().IntP("limit", "n", 10, "Number of runs to show")
	return listCmd
}

func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show every post decision of one run",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := runHistoryShow(args[0]); err != nil {
				logger.Error("Failed to show run", err)
				os.Exit(1)
			}
		},
	}
}

func newHistoryStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show history database statistics",
		Run: func(cmd *cobra.Command, args []string) {
			if err := runHistoryStats(); err != nil {
				logger.Error("Failed to get history stats", err)
				os.Exit(1)
			}
		},
	}
}

func newHistoryPruneCmd() *cobra.Command {
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove runs older than the given age",
		Run: func(cmd *cobra.Command, args []string) {
			maxAge, _ := cmd.Flags().GetDuration("max-age")
			confirm, _ := cmd.Flags().GetBool("confirm")
			if err := runHistoryPrune(maxAge, confirm); err != nil {
				logger.Error("Failed to prune history", err)
				os.Exit(1)
			}
		},
	}

	pruneCmd.Flags().Duration("max-age", 30*24*time.Hour, "Remove runs older than this")
	pruneCmd.Flags().Bool("confirm", false, "Skip confirmation prompt")
	return pruneCmd
}

func runHistoryList(limit int) error {
	history, err := openHistory()
	if err != nil {
		return err
	}
	defer closeHistory(history)

	runs, err := history.RecentRuns(limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No sync runs recorded")
		fmt.Println("\nStart your first sync:")
		fmt.Println("  boorusync sync <url>")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "RUN\tSTARTED\tDURATION\tURLS\tCREATED\tUPDATED\tSKIPPED\tFAILED\n")
	fmt.Fprintf(w, "━━━━━━━━━━\t━━━━━━━━━━━━━━━━\t━━━━━━━━\t━━━━\t━━━━━━━\t━━━━━━━\t━━━━━━━\t━━━━━━\n")

	for _, run := range runs {
		duration := "running"
		if !run.Finished.IsZero() {
			duration = run.Finished.Sub(run.Started).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			shortID(run.ID),
			run.Started.Format("2006-01-02 15:04"),
			duration,
			len(run.URLs),
			run.Counts.Created, run.Counts.Updated, run.Counts.Skipped, run.Counts.Failed,
		)
	}
	w.Flush()

	fmt.Printf("\nTotal runs shown: %d\n", len(runs))
	fmt.Println("Use 'boorusync history show <run-id>' for per-post decisions")
	return nil
}

func runHistoryShow(runID string) error {
	history, err := openHistory()
	if err != nil {
		return err
	}
	defer closeHistory(history)

	decisions, err := history.RunDecisions(runID)
	if err != nil {
		return fmt.Errorf("failed to load decisions: %w", err)
	}

	if len(decisions) == 0 {
		fmt.Printf("No decisions recorded for run %s\n", runID)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "TIME\tPOST\tORIGIN\tACTION\tREASON\n")
	fmt.Fprintf(w, "━━━━━━━━\t━━━━━━━━\t━━━━━━━━━━\t━━━━━━\t━━━━━━━━━━━━━━━━━━━━\n")

	for _, decision := range decisions {
		reason := decision.Reason
		if len(reason) > 60 {
			reason = reason[:57] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			decision.Decided.Format("15:04:05"),
			decision.PostID,
			decision.Origin,
			decision.Action,
			reason,
		)
	}
	w.Flush()

	fmt.Printf("\nTotal decisions: %d\n", len(decisions))
	return nil
}

func runHistoryStats() error {
	fmt.Println("📊 Sync History Statistics")
	fmt.Println("==========================")

	history, err := openHistory()
	if err != nil {
		return err
	}
	defer closeHistory(history)

	stats, err := history.GetStats()
	if err != nil {
		return fmt.Errorf("failed to get history statistics: %w", err)
	}

	fmt.Printf("🏃 Runs recorded: %d\n", stats.RunCount)
	fmt.Printf("📋 Post decisions: %d\n", stats.DecisionCount)
	fmt.Printf("💾 Database size: %.2f MB\n", float64(stats.Size)/1024/1024)
	fmt.Printf("📅 Last updated: %s\n", stats.LastUpdated.Format("2006-01-02 15:04:05"))
	return nil
}

func runHistoryPrune(maxAge time.Duration, confirm bool) error {
	if !confirm {
		fmt.Printf("⚠️  This will remove every run older than %s. Continue? [y/N]: ", maxAge)
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" && response != "yes" {
			fmt.Println("Prune cancelled")
			return nil
		}
	}

	fmt.Println("🗑️  Pruning history...")

	history, err := openHistory()
	if err != nil {
		return err
	}
	defer closeHistory(history)

	if err := history.Prune(maxAge); err != nil {
		return fmt.Errorf("failed to prune history: %w", err)
	}

	fmt.Println("✅ History pruned successfully")
	return nil
}

func openHistory() (*store.Store, error) {
	history, err := store.NewStore(config.GetHistory().Directory)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}
	return history, nil
}

func closeHistory(history *store.Store) {
	if err := history.Close(); err != nil {
		logger.Error("Failed to close history store", err)
	}
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}
