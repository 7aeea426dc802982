package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/popsplit/popsplit/internal/engine"
	"github.com/popsplit/popsplit/internal/stats"
	"github.com/popsplit/popsplit/internal/store"
	"github.com/spf13/cobra"
)

var resultsCmd = &cobra.Command{
	Use:   "results <name>",
	Short: "Show detailed results for a test",
	Long:  `Show per-variant metrics, confidence intervals and pairwise significance.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	return withEngine(func(s *store.SQLiteStore, eng *engine.Engine) error {
		ctx := context.Background()

		test, err := lookupTest(ctx, s, args[0])
		if err != nil {
			return err
		}

		metrics, err := eng.VariantMetrics(ctx, test.ID)
		if err != nil {
			return fmt.Errorf("failed to get metrics: %w", err)
		}

		// Print header
		fmt.Printf("TEST: %s\n", test.Name)
		fmt.Printf("TYPE: %s\n", test.Type)
		fmt.Printf("STATUS: %s\n", strings.ToUpper(string(test.Status)))
		if test.WinnerVariantID != nil {
			fmt.Printf("WINNER: %s\n", creativeLabel(metrics, *test.WinnerVariantID))
		}
		fmt.Printf("CREATED: %s\n", test.CreatedAt.Format("2006-01-02"))
		fmt.Println()

		fmt.Printf("VARIANT           SPLIT  VIEWS    CONVERSIONS  RATE     %d%% CI\n", test.ConfidenceLevel)
		fmt.Println(strings.Repeat("─", 70))

		for _, m := range metrics {
			interval, ok := stats.ConfidenceInterval(m.Conversions, m.Displays, test.ConfidenceLevel)
			ciStr := "N/A"
			if ok {
				ciStr = fmt.Sprintf("[%.1f%%, %.1f%%]", interval.Lower*100, interval.Upper*100)
			}

			name := m.CreativeID
			if len(name) > 16 {
				name = name[:13] + "..."
			}

			indicator := ""
			if test.WinnerVariantID != nil && m.VariantID == *test.WinnerVariantID {
				indicator = " ← WINNER"
			}

			fmt.Printf("%-16s  %3d%%   %-7d  %-11d  %-7s  %s%s\n",
				name,
				m.TrafficSplit,
				m.Displays,
				m.Conversions,
				formatPercent(m.ConversionRate),
				ciStr,
				indicator,
			)
		}

		fmt.Println()

		results := stats.Pairwise(metrics, test.ConfidenceLevel, test.MinimumSampleSize)
		if len(results) > 0 {
			fmt.Println("PAIRWISE SIGNIFICANCE")
			for _, r := range results {
				fmt.Printf("  %s vs %s: %s\n",
					creativeLabel(metrics, r.VariantA),
					creativeLabel(metrics, r.VariantB),
					r.Message)
			}
		}

		return nil
	})
}

func creativeLabel(metrics []store.VariantMetrics, variantID string) string {
	for _, m := range metrics {
		if m.VariantID == variantID {
			return m.CreativeID
		}
	}
	return variantID
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate)
}
