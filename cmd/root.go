package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"fabula/internal/app"
	"fabula/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "fabula",
	Short: "Fabula similar-story engine",
	Long: `Fabula computes and serves "similar stories" recommendations for a
story catalog: stories are projected onto binary genre/tag feature
vectors and ranked by cosine or Jaccard similarity.`,
	Run: func(cmd *cobra.Command, args []string) {
		// If no subcommand is given, print help.
		cmd.Help()
	},
	// PersistentPreRunE runs before any subcommand's RunE.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Help, version and shell-completion invocations need no app.
		for c := cmd; c != nil; c = c.Parent() {
			switch c.Name() {
			case "help", "version", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
				return nil
			}
		}

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		appInstance, err := app.NewApp(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize app: %w", err)
		}

		// Store the app instance in the command's context.
		ctx := context.WithValue(cmd.Context(), appKey, appInstance)
		cmd.SetContext(ctx)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if appInstance, err := GetAppFromContext(cmd.Context()); err == nil {
			appInstance.Close()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Define a custom type for the context key to avoid collisions.
type contextKey string

const appKey contextKey = "app"

// GetAppFromContext retrieves the app instance stored by PersistentPreRunE.
func GetAppFromContext(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		// This should not happen if PersistentPreRunE ran successfully.
		return nil, fmt.Errorf("application instance not found in context")
	}
	return appInstance, nil
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check database, vector store and redis connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		appInstance, err := GetAppFromContext(ctx)
		if err != nil {
			return err
		}

		fmt.Println("Checking fabula backends...")
		failed := 0

		if err := appInstance.CatalogStore.Ping(ctx); err != nil {
			failed++
			fmt.Printf("  primary database  %s\n", color.RedString("FAIL (%v)", err))
		} else {
			fmt.Printf("  primary database  %s\n", color.GreenString("PASS"))
		}

		if appInstance.VectorStore == nil {
			fmt.Printf("  vector store      %s\n", color.YellowString("SKIP (snapshots disabled)"))
		} else if err := appInstance.VectorStore.Ping(ctx); err != nil {
			failed++
			fmt.Printf("  vector store      %s\n", color.RedString("FAIL (%v)", err))
		} else {
			fmt.Printf("  vector store      %s\n", color.GreenString("PASS"))
		}

		if err := pingRedis(ctx, appInstance.Config); err != nil {
			failed++
			fmt.Printf("  redis             %s\n", color.RedString("FAIL (%v)", err))
		} else {
			fmt.Printf("  redis             %s\n", color.GreenString("PASS"))
		}

		if failed > 0 {
			return fmt.Errorf("%d check(s) failed", failed)
		}
		fmt.Println("All checks passed.")
		return nil
	},
}

// pingRedis checks the broker asynq enqueues into. The job client itself
// connects lazily, so this is the only eager connectivity probe.
func pingRedis(ctx context.Context, cfg *config.Config) error {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}
