// Package recommend turns lifecycle state and statistical output into
// human-readable guidance for the admin surface. Generation is a pure
// function; it never touches storage.
package recommend

import (
	"fmt"
	"time"

	"github.com/popsplit/popsplit/internal/config"
	"github.com/popsplit/popsplit/internal/stats"
	"github.com/popsplit/popsplit/internal/store"
)

type Kind string

const (
	Success Kind = "success"
	Warning Kind = "warning"
	Info    Kind = "info"
)

type Recommendation struct {
	Kind        Kind
	Title       string
	Description string
}

// Generate evaluates the rules in order and emits every one that applies.
// now is passed in so callers (and tests) control the clock.
func Generate(test *store.Test, metrics []store.VariantMetrics, results []stats.Result, cfg config.RecommendConfig, now time.Time) []Recommendation {
	var recs []Recommendation

	undersampled := 0
	for _, m := range metrics {
		if m.Displays < test.MinimumSampleSize {
			undersampled++
		}
	}
	if undersampled > 0 {
		recs = append(recs, Recommendation{
			Kind:  Info,
			Title: "Still collecting data",
			Description: fmt.Sprintf(
				"%d of %d variants have fewer than %d views. Results are not reliable yet.",
				undersampled, len(metrics), test.MinimumSampleSize),
		})
	}

	// A significant winner while the test is still running.
	if test.Status == store.StatusActive && test.WinnerVariantID == nil {
		if win, ok := significantWin(results); ok {
			leader, improvement := win.VariantB, win.Improvement
			if improvement < 0 {
				leader, improvement = win.VariantA, -improvement
			}
			recs = append(recs, Recommendation{
				Kind:  Success,
				Title: fmt.Sprintf("Declare variant %s as winner", label(metrics, leader)),
				Description: fmt.Sprintf(
					"Variant %s converts %.1f%% better with statistical significance. Consider completing the test.",
					label(metrics, leader), improvement),
			})
		}
	}

	if allSampled(metrics, test.MinimumSampleSize) && len(results) > 0 {
		if maxAbsImprovement(results) < cfg.SimilarThresholdPct {
			recs = append(recs, Recommendation{
				Kind:  Warning,
				Title: "Variants perform similarly",
				Description: fmt.Sprintf(
					"No variant is ahead by more than %.1f%% after sufficient sampling. Consider ending the test.",
					cfg.SimilarThresholdPct),
			})
		}
	}

	if test.Status == store.StatusActive && !anySignificant(results) {
		if now.Sub(test.StartDate) > cfg.MaxTestDuration() {
			recs = append(recs, Recommendation{
				Kind:  Warning,
				Title: "Test running without a clear result",
				Description: fmt.Sprintf(
					"The test has run for more than %d days without reaching significance. Consider redesigning the variants.",
					cfg.MaxTestDurationDays),
			})
		}
	}

	return recs
}

func significantWin(results []stats.Result) (stats.Result, bool) {
	for _, r := range results {
		if r.Significant {
			return r, true
		}
	}
	return stats.Result{}, false
}

func anySignificant(results []stats.Result) bool {
	_, ok := significantWin(results)
	return ok
}

func allSampled(metrics []store.VariantMetrics, minSample int) bool {
	if len(metrics) == 0 {
		return false
	}
	for _, m := range metrics {
		if m.Displays < minSample {
			return false
		}
	}
	return true
}

func maxAbsImprovement(results []stats.Result) float64 {
	max := 0.0
	for _, r := range results {
		imp := r.Improvement
		if imp < 0 {
			imp = -imp
		}
		if imp > max {
			max = imp
		}
	}
	return max
}

// label prefers the creative id for display, falling back to the variant id.
func label(metrics []store.VariantMetrics, variantID string) string {
	for _, m := range metrics {
		if m.VariantID == variantID && m.CreativeID != "" {
			return m.CreativeID
		}
	}
	return variantID
}
