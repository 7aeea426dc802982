package cli

import (
	"context"
	"fmt"

	"github.com/popsplit/popsplit/internal/engine"
	"github.com/popsplit/popsplit/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(
		lifecycleCmd("activate", "Activate a draft or paused test",
			func(eng *engine.Engine, ctx context.Context, id string) error { return eng.Activate(ctx, id) },
			"Test '%s' is now active.\n"),
		lifecycleCmd("pause", "Pause an active test",
			func(eng *engine.Engine, ctx context.Context, id string) error { return eng.Pause(ctx, id) },
			"Test '%s' is paused. Resume it with: popsplit resume %[1]s\n"),
		lifecycleCmd("resume", "Resume a paused test",
			func(eng *engine.Engine, ctx context.Context, id string) error { return eng.Resume(ctx, id) },
			"Test '%s' is active again.\n"),
		lifecycleCmd("complete", "End a test without declaring a winner",
			func(eng *engine.Engine, ctx context.Context, id string) error { return eng.Complete(ctx, id) },
			"Test '%s' is completed (no winner declared).\n"),
	)
}

func lifecycleCmd(verb, short string, op func(*engine.Engine, context.Context, string) error, doneFmt string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(s *store.SQLiteStore, eng *engine.Engine) error {
				ctx := context.Background()

				test, err := lookupTest(ctx, s, args[0])
				if err != nil {
					return err
				}
				if err := op(eng, ctx, test.ID); err != nil {
					return fmt.Errorf("failed to %s test: %w", verb, err)
				}

				fmt.Printf(doneFmt, test.Name)
				return nil
			})
		},
	}
}
