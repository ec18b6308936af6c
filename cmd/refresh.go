package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fabula/internal/clix"
	"fabula/internal/services"
)

var (
	refreshStoryID int64
	refreshMetric  string
	refreshAsync   bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Recompute similar-story recommendations",
	Long: `Recomputes recommendations for the whole catalog, or for a single
story with --story. By default the computation runs in-process and
blocks until done; --async enqueues it for the worker instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		metric, err := clix.ParseMetric(cmd.Flags())
		if err != nil {
			return err
		}
		if refreshStoryID < 0 {
			return fmt.Errorf("invalid story id %d: expected a positive number", refreshStoryID)
		}

		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		if refreshAsync {
			if refreshStoryID > 0 {
				info, err := appInstance.JobClient.EnqueueStoryRefresh(cmd.Context(), refreshStoryID, metric)
				if err != nil {
					return fmt.Errorf("failed to enqueue story refresh: %w", err)
				}
				fmt.Printf("Enqueued refresh for story %d (task %s, queue %s)\n", refreshStoryID, info.ID, info.Queue)
				return nil
			}
			info, err := appInstance.JobClient.EnqueueCatalogRefresh(cmd.Context(), metric)
			if err != nil {
				return fmt.Errorf("failed to enqueue catalog refresh: %w", err)
			}
			fmt.Printf("Enqueued catalog refresh (task %s, queue %s)\n", info.ID, info.Queue)
			return nil
		}

		if refreshStoryID > 0 {
			written, err := appInstance.RecommendationService.RefreshStory(cmd.Context(), refreshStoryID, services.RefreshStoryParams{Metric: metric})
			if err != nil {
				return fmt.Errorf("failed to refresh story %d: %w", refreshStoryID, err)
			}
			fmt.Printf("Story %d refreshed: %d recommendation(s) written.\n", refreshStoryID, written)
			return nil
		}

		fmt.Println("Refreshing recommendations for the whole catalog...")
		started := time.Now()

		run, err := appInstance.RecommendationService.RefreshCatalog(cmd.Context(), services.RefreshCatalogParams{Metric: metric})
		if err != nil {
			return fmt.Errorf("catalog refresh failed: %w", err)
		}

		fmt.Printf("Run:       %s\n", run.ID)
		fmt.Printf("Status:    %s\n", colorRunStatus(run.Status))
		fmt.Printf("Metric:    %s\n", run.Metric)
		fmt.Printf("Stories:   %d processed\n", run.StoriesProcessed)
		fmt.Printf("Written:   %d recommendation(s)\n", run.RecommendationsWritten)
		if run.OrphanGenreRefs > 0 || run.OrphanTagRefs > 0 {
			fmt.Printf("Orphans:   %d genre ref(s), %d tag ref(s) ignored\n", run.OrphanGenreRefs, run.OrphanTagRefs)
		}
		fmt.Printf("Duration:  %s\n", time.Since(started).Round(time.Millisecond))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)

	refreshCmd.Flags().Int64Var(&refreshStoryID, "story", 0, "Refresh a single story instead of the whole catalog")
	refreshCmd.Flags().StringVarP(&refreshMetric, "metric", "m", "", "Similarity metric to use (cosine or jaccard)")
	refreshCmd.Flags().BoolVar(&refreshAsync, "async", false, "Enqueue the refresh for the worker instead of running in-process")
}
