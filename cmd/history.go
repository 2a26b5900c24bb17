package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"mspro-labs/koredoko/internal/db"
)

var (
	historyLimit int
	clearCache   bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect or clear past extractions",
	Long: `Extractions are recorded in the local SQLite database when
history.enabled is set. Map URLs generated by the model are cached there too.

Examples:
  koredoko history list --limit 10
  koredoko history clear
  koredoko history clear --cache`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded extractions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistoryDB(func(ctx context.Context, database *sql.DB) error {
			return listHistory(ctx, cmd.OutOrStdout(), database)
		})
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete recorded extractions (and the map URL cache with --cache)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistoryDB(func(ctx context.Context, database *sql.DB) error {
			return clearHistory(ctx, cmd.OutOrStdout(), database)
		})
	},
}

func init() {
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of entries to show")
	historyClearCmd.Flags().BoolVar(&clearCache, "cache", false, "also clear cached map URLs")
	historyCmd.AddCommand(historyListCmd, historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}

func withHistoryDB(fn func(ctx context.Context, database *sql.DB) error) error {
	env, _, err := loadSettings()
	if err != nil {
		return err
	}
	database, err := db.Connect(env.DBPath)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	defer database.Close()
	return fn(context.Background(), database)
}

func listHistory(ctx context.Context, out io.Writer, database *sql.DB) error {
	entries, err := db.ListExtractions(ctx, database, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	fmt.Fprintln(out, "📜 Extraction History")
	fmt.Fprintln(out, "------------------------------------")
	if len(entries) == 0 {
		fmt.Fprintln(out, "No history found.")
		return nil
	}

	for _, e := range entries {
		names := make([]string, 0, len(e.StoreInfo))
		for _, rec := range e.StoreInfo {
			if rec.StoreName != "" {
				names = append(names, rec.StoreName)
			}
		}
		summary := strings.Join(names, ", ")
		if summary == "" {
			summary = "(no store name)"
		}

		fmt.Fprintf(out, "[%s] %s: ", e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Filename)
		if e.Degraded {
			color.New(color.FgYellow).Fprintf(out, "%s (degraded)\n", summary)
		} else {
			color.New(color.FgGreen).Fprintln(out, summary)
		}
	}
	return nil
}

func clearHistory(ctx context.Context, out io.Writer, database *sql.DB) error {
	affected, err := db.ClearExtractions(ctx, database)
	if err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	fmt.Fprintf(out, "🗑️ Done. Removed %d extraction(s).\n", affected)

	if clearCache {
		cached, err := db.ClearMapURLCache(ctx, database)
		if err != nil {
			return fmt.Errorf("failed to clear map URL cache: %w", err)
		}
		fmt.Fprintf(out, "🗑️ Removed %d cached map URL(s).\n", cached)
	}
	return nil
}
