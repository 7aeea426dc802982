package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/popsplit/popsplit/internal/engine"
	"github.com/popsplit/popsplit/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	var (
		variants    string
		testType    string
		minSample   int
		confidence  int
		autoDeclare bool
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new A/B test",
		Long: `Create a new A/B test in draft state. Variants are creative ids (popup or
form ids) with an optional traffic percentage; splits default to an even
partition and must sum to 100.

Examples:
  popsplit create exit-popup --variants "popup-1,popup-2"
  popsplit create signup --variants "form-a:70,form-b:30" --confidence 99
  popsplit create hero --variants "p1,p2,p3" --min-sample 500 --auto-winner

Run without --variants for an interactive wizard.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			testName := args[0]

			var specs []engine.VariantSpec
			var err error
			if variants == "" {
				specs, testType, confidence, autoDeclare, err = runCreateWizard()
				if err != nil {
					return err
				}
			} else {
				specs, err = parseVariantSpecs(variants)
				if err != nil {
					return err
				}
			}

			return withEngine(func(s *store.SQLiteStore, eng *engine.Engine) error {
				ctx := context.Background()

				test, err := eng.CreateTest(ctx, testName, store.TestType(testType),
					specs, minSample, confidence, autoDeclare)
				if err != nil {
					return fmt.Errorf("failed to create test: %w", err)
				}

				fmt.Printf("Created %s test '%s' with %d variants:\n", test.Type, test.Name, len(specs))
				for i, spec := range specs {
					fmt.Printf("  %d: %s (%d%%)\n", i, spec.CreativeID, spec.TrafficSplit)
				}
				fmt.Printf("  Confidence level: %d%%, minimum sample: %d views per variant\n",
					test.ConfidenceLevel, test.MinimumSampleSize)
				if test.AutoDeclareWinner {
					fmt.Println("  Auto winner declaration: enabled")
				}
				fmt.Printf("\nThe test is a draft. Start it with: popsplit activate %s\n", test.Name)

				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variants, "variants", "v", "", "comma-separated creative ids, optionally with splits (\"popup-1:60,popup-2:40\")")
	cmd.Flags().StringVarP(&testType, "type", "t", "conversion", "test type (conversion, engagement, click_through)")
	cmd.Flags().IntVar(&minSample, "min-sample", 100, "minimum views per variant before results count")
	cmd.Flags().IntVar(&confidence, "confidence", 95, "confidence level (90, 95 or 99)")
	cmd.Flags().BoolVar(&autoDeclare, "auto-winner", false, "declare the winner automatically once significant")

	return cmd
}

// parseVariantSpecs parses "creative[:split],creative[:split],...". When no
// splits are given, traffic is partitioned evenly with the remainder going to
// the first variants.
func parseVariantSpecs(input string) ([]engine.VariantSpec, error) {
	parts := strings.Split(input, ",")
	specs := make([]engine.VariantSpec, 0, len(parts))
	explicit := false

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		creative, splitStr, hasSplit := strings.Cut(part, ":")
		spec := engine.VariantSpec{CreativeID: strings.TrimSpace(creative)}
		if hasSplit {
			split, err := strconv.Atoi(strings.TrimSpace(splitStr))
			if err != nil {
				return nil, fmt.Errorf("invalid traffic split in %q", part)
			}
			spec.TrafficSplit = split
			explicit = true
		}
		specs = append(specs, spec)
	}

	if len(specs) < 2 {
		return nil, fmt.Errorf("need at least 2 variants. Example: --variants \"popup-1,popup-2\"")
	}

	if !explicit {
		base := 100 / len(specs)
		remainder := 100 % len(specs)
		for i := range specs {
			specs[i].TrafficSplit = base
			if i < remainder {
				specs[i].TrafficSplit++
			}
		}
	}

	return specs, nil
}

func runCreateWizard() (specs []engine.VariantSpec, testType string, confidence int, autoDeclare bool, err error) {
	typePrompt := promptui.Select{
		Label: "Test type",
		Items: []string{"conversion", "engagement", "click_through"},
	}
	_, testType, err = typePrompt.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			os.Exit(0)
		}
		return nil, "", 0, false, err
	}

	variantsPrompt := promptui.Prompt{
		Label: "Variants (creative ids, e.g. popup-1:50,popup-2:50)",
		Validate: func(input string) error {
			_, err := parseVariantSpecs(input)
			return err
		},
	}
	input, err := variantsPrompt.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			os.Exit(0)
		}
		return nil, "", 0, false, err
	}
	specs, err = parseVariantSpecs(input)
	if err != nil {
		return nil, "", 0, false, err
	}

	confPrompt := promptui.Select{
		Label: "Confidence level",
		Items: []string{"90", "95", "99"},
		Size:  3,
	}
	_, confStr, err := confPrompt.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			os.Exit(0)
		}
		return nil, "", 0, false, err
	}
	confidence, _ = strconv.Atoi(confStr)

	autoPrompt := promptui.Select{
		Label: "Declare the winner automatically once significant",
		Items: []string{"no", "yes"},
	}
	_, autoStr, err := autoPrompt.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			os.Exit(0)
		}
		return nil, "", 0, false, err
	}
	autoDeclare = autoStr == "yes"

	return specs, testType, confidence, autoDeclare, nil
}
