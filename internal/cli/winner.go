package cli

import (
	"context"
	"fmt"

	"github.com/popsplit/popsplit/internal/engine"
	"github.com/popsplit/popsplit/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newWinnerCmd())
}

func newWinnerCmd() *cobra.Command {
	var variantRef string

	cmd := &cobra.Command{
		Use:   "winner <name>",
		Short: "Declare a winner for a test",
		Long: `Declare a winning variant for an active test and complete it.

This is a manual override: the variant does not need to be statistically
significant. Use 'popsplit recommend' first if you want the engine's opinion.

Example:
  popsplit winner exit-popup --variant popup-2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(s *store.SQLiteStore, eng *engine.Engine) error {
				ctx := context.Background()

				test, err := lookupTest(ctx, s, args[0])
				if err != nil {
					return err
				}

				variant, err := variantByRef(ctx, s, test.ID, variantRef)
				if err != nil {
					return err
				}

				if err := eng.DeclareWinner(ctx, test.ID, variant.ID); err != nil {
					return fmt.Errorf("failed to declare winner: %w", err)
				}

				fmt.Printf("Declared winner for test '%s': %s\n", test.Name, variant.CreativeID)
				fmt.Println("Test has been marked as completed.")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variantRef, "variant", "v", "", "winning variant (creative id, variant id or position)")
	cmd.MarkFlagRequired("variant")

	return cmd
}
