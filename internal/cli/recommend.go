package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/popsplit/popsplit/internal/engine"
	"github.com/popsplit/popsplit/internal/store"
	"github.com/spf13/cobra"
)

var recommendCmd = &cobra.Command{
	Use:   "recommend <name>",
	Short: "Show recommendations for a test",
	Long:  `Derive human-readable guidance from the test's current metrics and significance results.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRecommend,
}

func init() {
	rootCmd.AddCommand(recommendCmd)
}

func runRecommend(cmd *cobra.Command, args []string) error {
	return withEngine(func(s *store.SQLiteStore, eng *engine.Engine) error {
		ctx := context.Background()

		test, err := lookupTest(ctx, s, args[0])
		if err != nil {
			return err
		}

		recs, err := eng.Recommendations(ctx, test.ID)
		if err != nil {
			return fmt.Errorf("failed to get recommendations: %w", err)
		}

		if len(recs) == 0 {
			fmt.Println("No recommendations right now. The test looks healthy.")
			return nil
		}

		for _, rec := range recs {
			fmt.Printf("[%s] %s\n", strings.ToUpper(string(rec.Kind)), rec.Title)
			fmt.Printf("    %s\n", rec.Description)
		}
		return nil
	})
}
