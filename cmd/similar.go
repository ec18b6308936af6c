package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"fabula/internal/clix"
	"fabula/internal/services"
	"fabula/internal/util"
)

var (
	similarLimit   int
	similarMetric  string
	similarLive    bool
	similarVectors bool
)

var similarCmd = &cobra.Command{
	Use:   "similar <story-id>",
	Short: "Show stories similar to the given story",
	Long: `Shows the similar-story recommendations for a story. By default this
reads the persisted recommendations from the last refresh; --live
recomputes against the current catalog, and --vectors queries the
feature-vector snapshot store instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		storyID, err := clix.ParseStoryID(args[0])
		if err != nil {
			return err
		}
		metric, err := clix.ParseMetric(cmd.Flags())
		if err != nil {
			return err
		}
		if metric != "" && !similarLive {
			return fmt.Errorf("--metric only applies with --live; persisted recommendations keep their run's metric")
		}
		if similarLive && similarVectors {
			return fmt.Errorf("--live and --vectors are mutually exclusive")
		}

		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		var results []services.SimilarStory
		switch {
		case similarVectors:
			results, err = appInstance.RecommendationService.NearestByVector(cmd.Context(), storyID, similarLimit)
		case similarLive:
			params := services.ComputeParams{Metric: metric, Limit: similarLimit}
			results, err = appInstance.RecommendationService.ComputeSimilar(cmd.Context(), storyID, params)
		default:
			results, err = appInstance.RecommendationService.SimilarStories(cmd.Context(), storyID, similarLimit)
		}
		if err != nil {
			return fmt.Errorf("failed to find stories similar to %d: %w", storyID, err)
		}

		if len(results) == 0 {
			fmt.Printf("No similar stories found for story %d. Run 'fabula refresh' to (re)compute recommendations.\n", storyID)
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Rank", "ID", "Title", "Score", "Synopsis"})
		table.SetBorder(true)
		table.SetRowLine(true)

		for _, r := range results {
			table.Append([]string{
				strconv.Itoa(r.Rank),
				strconv.FormatInt(r.Story.ID, 10),
				r.Story.Title,
				colorScore(r.Score),
				util.Snippet(r.Story.Synopsis, 80),
			})
		}
		table.Render()

		return nil
	},
}

// colorScore shades the similarity score by strength.
func colorScore(score float64) string {
	s := strconv.FormatFloat(score, 'f', 4, 64)
	switch {
	case score >= 0.75:
		return color.GreenString(s)
	case score >= 0.40:
		return color.YellowString(s)
	default:
		return s
	}
}

func init() {
	rootCmd.AddCommand(similarCmd)

	similarCmd.Flags().IntVarP(&similarLimit, "limit", "n", 10, "Maximum number of similar stories to show")
	similarCmd.Flags().StringVarP(&similarMetric, "metric", "m", "", "Similarity metric for --live (cosine or jaccard)")
	similarCmd.Flags().BoolVar(&similarLive, "live", false, "Recompute against the current catalog instead of reading persisted recommendations")
	similarCmd.Flags().BoolVar(&similarVectors, "vectors", false, "Query the feature-vector snapshot store")
}
