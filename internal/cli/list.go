package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/popsplit/popsplit/internal/engine"
	"github.com/popsplit/popsplit/internal/store"
	"github.com/spf13/cobra"
)

var listStatus string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tests",
	Long:  `List all A/B tests with their status and aggregate counts.`,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (draft, active, paused, completed)")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withEngine(func(s *store.SQLiteStore, eng *engine.Engine) error {
		ctx := context.Background()

		tests, err := s.ListTests(ctx, store.TestStatus(listStatus))
		if err != nil {
			return fmt.Errorf("failed to list tests: %w", err)
		}

		if len(tests) == 0 {
			fmt.Println("No tests yet.")
			fmt.Println()
			fmt.Println("Create one with:")
			fmt.Println("  popsplit create <name> --variants \"popup-1,popup-2\"")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTYPE\tSTATUS\tVARIANTS\tVIEWS\tCONVERSIONS\tCREATED")

		for _, test := range tests {
			totals, err := s.VariantTotals(ctx, test.ID)
			if err != nil {
				return fmt.Errorf("failed to get totals for test %s: %w", test.Name, err)
			}

			views, conversions := 0, 0
			for _, t := range totals {
				views += t.Views
				conversions += t.Conversions
			}

			variants, err := s.GetVariants(ctx, test.ID)
			if err != nil {
				return fmt.Errorf("failed to get variants for test %s: %w", test.Name, err)
			}

			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
				test.Name,
				test.Type,
				strings.ToUpper(string(test.Status)),
				len(variants),
				formatNumber(views),
				formatNumber(conversions),
				test.CreatedAt.Format("2006-01-02"),
			)
		}

		w.Flush()
		return nil
	})
}

func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}
