package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"fabula/internal/clix"
	"fabula/internal/util"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the story catalog",
	Long:  `Read-only views of the stories, genres and tags the engine computes over.`,
}

var catalogStoriesCmd = &cobra.Command{
	Use:   "stories",
	Short: "List stories in the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := clix.ParsePagination(cmd.Flags())
		if err != nil {
			return err
		}

		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		stories, err := appInstance.CatalogService.ListStories(cmd.Context(), page.Limit, page.Offset)
		if err != nil {
			return fmt.Errorf("failed to list stories: %w", err)
		}
		if len(stories) == 0 {
			fmt.Println("No stories found.")
			return nil
		}

		// Resolve genre ids to names for display.
		genres, err := appInstance.CatalogService.ListGenres(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list genres: %w", err)
		}
		genreNames := make(map[int64]string, len(genres))
		for _, g := range genres {
			genreNames[g.ID] = g.Name
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"ID", "Title", "Author", "Genre", "Status", "Synopsis"})
		table.SetBorder(true)
		table.SetRowLine(true)

		for _, st := range stories {
			genre := "-"
			if st.GenreID != nil {
				if name, ok := genreNames[*st.GenreID]; ok {
					genre = name
				} else {
					genre = fmt.Sprintf("#%d", *st.GenreID)
				}
			}
			table.Append([]string{
				strconv.FormatInt(st.ID, 10),
				st.Title,
				strconv.FormatInt(st.AuthorID, 10),
				genre,
				string(st.Status),
				util.Snippet(st.Synopsis, 60),
			})
		}
		table.Render()

		return nil
	},
}

var catalogGenresCmd = &cobra.Command{
	Use:   "genres",
	Short: "List the genre vocabulary",
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		genres, err := appInstance.CatalogService.ListGenres(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list genres: %w", err)
		}
		if len(genres) == 0 {
			fmt.Println("No genres found.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"ID", "Name"})
		table.SetBorder(true)
		for _, g := range genres {
			table.Append([]string{strconv.FormatInt(g.ID, 10), g.Name})
		}
		table.Render()
		return nil
	},
}

var catalogTagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "List the tag vocabulary",
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		tags, err := appInstance.CatalogService.ListTags(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list tags: %w", err)
		}
		if len(tags) == 0 {
			fmt.Println("No tags found.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"ID", "Name"})
		table.SetBorder(true)
		for _, t := range tags {
			table.Append([]string{strconv.FormatInt(t.ID, 10), t.Name})
		}
		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogStoriesCmd)
	catalogCmd.AddCommand(catalogGenresCmd)
	catalogCmd.AddCommand(catalogTagsCmd)

	catalogStoriesCmd.Flags().IntP("limit", "n", 20, "Maximum number of stories to list")
	catalogStoriesCmd.Flags().IntP("offset", "o", 0, "Number of stories to skip")
}
