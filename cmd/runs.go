package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"fabula/internal/models"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded batch refresh runs",
	Long:  `Lists the catalog refresh runs recorded in the database, newest first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		runs, err := appInstance.RunStore.ListRuns(cmd.Context(), runsLimit)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded yet. Run 'fabula refresh' to start one.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Run ID", "Metric", "Status", "Stories", "Recs", "Orphans", "Started At", "Duration"})
		table.SetBorder(true)
		table.SetRowLine(true)

		for _, run := range runs {
			table.Append([]string{
				run.ID.String(),
				run.Metric,
				colorRunStatus(run.Status),
				strconv.Itoa(run.StoriesProcessed),
				strconv.Itoa(run.RecommendationsWritten),
				strconv.Itoa(run.OrphanGenreRefs + run.OrphanTagRefs),
				run.StartedAt.Format(time.RFC3339),
				runDuration(run),
			})
		}
		table.Render()

		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one refresh run in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid run id %q: expected a UUID", args[0])
		}

		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		run, err := appInstance.RunStore.GetRun(cmd.Context(), runID)
		if err != nil {
			return fmt.Errorf("failed to load run %s: %w", runID, err)
		}

		fmt.Printf("Run:       %s\n", run.ID)
		fmt.Printf("Status:    %s\n", colorRunStatus(run.Status))
		fmt.Printf("Metric:    %s\n", run.Metric)
		fmt.Printf("Stories:   %d processed\n", run.StoriesProcessed)
		fmt.Printf("Written:   %d recommendation(s)\n", run.RecommendationsWritten)
		fmt.Printf("Orphans:   %d genre ref(s), %d tag ref(s)\n", run.OrphanGenreRefs, run.OrphanTagRefs)
		fmt.Printf("Started:   %s\n", run.StartedAt.Format(time.RFC3339))
		if run.FinishedAt != nil {
			fmt.Printf("Finished:  %s (%s)\n", run.FinishedAt.Format(time.RFC3339), runDuration(run))
		} else {
			fmt.Println("Finished:  still running")
		}
		if run.Error != nil {
			fmt.Printf("Error:     %s\n", *run.Error)
		}
		return nil
	},
}

func colorRunStatus(status string) string {
	switch status {
	case models.RunStatusCompleted:
		return color.GreenString(status)
	case models.RunStatusFailed:
		return color.RedString(status)
	case models.RunStatusRunning:
		return color.YellowString(status)
	default:
		return status
	}
}

func runDuration(run *models.BatchRun) string {
	if run.FinishedAt == nil {
		return "-"
	}
	return run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsShowCmd)

	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum number of runs to list")
}
