package cli

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/popsplit/popsplit/internal/engine"
	"github.com/popsplit/popsplit/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newSimulateCmd())
}

func newSimulateCmd() *cobra.Command {
	var (
		visitors int
		rates    string
		seed     int64
	)

	cmd := &cobra.Command{
		Use:   "simulate <name>",
		Short: "Simulate traffic against an active test",
		Long: `Generate synthetic visitors against an active test: each visitor is
assigned through the real allocator, records a view, and converts with the
per-variant probability given by --rates (percentages, in variant order).

Useful for demos and for eyeballing that assignment proportions converge to
the configured traffic splits.

Example:
  popsplit simulate exit-popup --visitors 5000 --rates "5,8"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(s *store.SQLiteStore, eng *engine.Engine) error {
				ctx := context.Background()

				test, err := lookupTest(ctx, s, args[0])
				if err != nil {
					return err
				}

				variants, err := s.GetVariants(ctx, test.ID)
				if err != nil {
					return fmt.Errorf("failed to get variants: %w", err)
				}

				convRates, err := parseRates(rates, len(variants))
				if err != nil {
					return err
				}
				rateByVariant := make(map[string]float64, len(variants))
				for i, v := range variants {
					rateByVariant[v.ID] = convRates[i] / 100
				}

				rng := rand.New(rand.NewSource(seed))
				assigned := make(map[string]int, len(variants))

				for i := 0; i < visitors; i++ {
					visitorID := uuid.NewString()

					variantID, err := eng.AssignVariant(ctx, test.ID, visitorID)
					if err != nil {
						return fmt.Errorf("assignment failed after %d visitors: %w", i, err)
					}
					assigned[variantID]++

					if err := eng.RecordEvent(ctx, test.ID, variantID, store.EventView, "", time.Now()); err != nil {
						return fmt.Errorf("failed to record view: %w", err)
					}
					if rng.Float64() < rateByVariant[variantID] {
						if err := eng.RecordEvent(ctx, test.ID, variantID, store.EventConversion, "", time.Now()); err != nil {
							return fmt.Errorf("failed to record conversion: %w", err)
						}
					}
				}

				fmt.Printf("Simulated %d visitors against '%s':\n", visitors, test.Name)
				for _, v := range variants {
					count := assigned[v.ID]
					fmt.Printf("  %s: %d visitors (%.1f%%, configured %d%%)\n",
						v.CreativeID, count, float64(count)/float64(visitors)*100, v.TrafficSplit)
				}
				fmt.Printf("\nSee the outcome with: popsplit results %s\n", test.Name)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&visitors, "visitors", "n", 1000, "number of synthetic visitors")
	cmd.Flags().StringVarP(&rates, "rates", "r", "", "per-variant conversion rates in percent, comma-separated (default 5 for all)")
	cmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "RNG seed for conversion draws")

	return cmd
}

func parseRates(input string, variantCount int) ([]float64, error) {
	rates := make([]float64, variantCount)
	if input == "" {
		for i := range rates {
			rates[i] = 5
		}
		return rates, nil
	}

	parts := strings.Split(input, ",")
	if len(parts) != variantCount {
		return nil, fmt.Errorf("--rates needs %d values, got %d", variantCount, len(parts))
	}
	for i, part := range parts {
		r, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || r < 0 || r > 100 {
			return nil, fmt.Errorf("invalid rate %q: want a percentage 0-100", part)
		}
		rates[i] = r
	}
	return rates, nil
}
