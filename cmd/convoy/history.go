package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"convoy/internal/history"
)

var (
	historyDBPath string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent pipeline runs",
	Long:  `List recent pipeline runs from the history database, newest first.`,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyDBPath, "db", getEnvOrDefault("CONVOY_DB_PATH", "./convoy.db"), "Path to SQLite history database")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of runs to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := history.NewStore(historyDBPath)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer store.Close()

	records, err := store.RecentRuns(cmd.Context(), historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read run history: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No pipeline runs recorded yet")
		return nil
	}

	for _, r := range records {
		line := []string{
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Outcome,
			r.Branch,
		}
		if r.Artifact != "" {
			line = append(line, r.Artifact)
		}
		if r.FailedStage != "" {
			line = append(line, "failed at "+r.FailedStage)
		}
		fmt.Println(strings.Join(line, "  "))

		if r.ErrorMessage != nil {
			fmt.Printf("    %s\n", *r.ErrorMessage)
		}
	}

	return nil
}
