package recommend_test

import (
	"testing"
	"time"

	"github.com/popsplit/popsplit/internal/config"
	"github.com/popsplit/popsplit/internal/recommend"
	"github.com/popsplit/popsplit/internal/stats"
	"github.com/popsplit/popsplit/internal/store"
)

var cfg = config.RecommendConfig{
	SimilarThresholdPct: 2.0,
	MaxTestDurationDays: 30,
}

func activeTest(minSample int, started time.Time) *store.Test {
	return &store.Test{
		ID:                "t1",
		Name:              "exit-popup",
		Status:            store.StatusActive,
		StartDate:         started,
		MinimumSampleSize: minSample,
		ConfidenceLevel:   95,
	}
}

func vm(id string, displays, conversions int) store.VariantMetrics {
	return store.VariantMetrics{
		VariantID:      id,
		CreativeID:     "popup-" + id,
		Displays:       displays,
		Conversions:    conversions,
		ConversionRate: store.Rate(conversions, displays),
	}
}

func kinds(recs []recommend.Recommendation) []recommend.Kind {
	ks := make([]recommend.Kind, len(recs))
	for i, r := range recs {
		ks[i] = r.Kind
	}
	return ks
}

func TestGenerate_StillCollectingData(t *testing.T) {
	test := activeTest(100, time.Now().AddDate(0, 0, -1))
	metrics := []store.VariantMetrics{vm("a", 20, 1), vm("b", 25, 2)}
	results := stats.Pairwise(metrics, 95, 100)

	recs := recommend.Generate(test, metrics, results, cfg, time.Now())

	if len(recs) == 0 {
		t.Fatal("expected at least one recommendation")
	}
	if recs[0].Kind != recommend.Info {
		t.Errorf("expected info first, got %s", recs[0].Kind)
	}
}

func TestGenerate_DeclareWinner(t *testing.T) {
	test := activeTest(100, time.Now().AddDate(0, 0, -7))
	metrics := []store.VariantMetrics{vm("a", 1000, 50), vm("b", 1000, 80)}
	results := stats.Pairwise(metrics, 95, 100)

	recs := recommend.Generate(test, metrics, results, cfg, time.Now())

	found := false
	for _, r := range recs {
		if r.Kind == recommend.Success {
			found = true
			if r.Title == "" || r.Description == "" {
				t.Error("success recommendation missing text")
			}
		}
	}
	if !found {
		t.Errorf("expected a success recommendation, got %v", kinds(recs))
	}
}

func TestGenerate_NoWinnerRecForCompletedTest(t *testing.T) {
	test := activeTest(100, time.Now().AddDate(0, 0, -7))
	test.Status = store.StatusCompleted
	winner := "b"
	test.WinnerVariantID = &winner

	metrics := []store.VariantMetrics{vm("a", 1000, 50), vm("b", 1000, 80)}
	results := stats.Pairwise(metrics, 95, 100)

	recs := recommend.Generate(test, metrics, results, cfg, time.Now())
	for _, r := range recs {
		if r.Kind == recommend.Success {
			t.Error("completed test should not get a declare-winner recommendation")
		}
	}
}

func TestGenerate_SimilarVariants(t *testing.T) {
	test := activeTest(100, time.Now().AddDate(0, 0, -7))
	// 5.0% vs 5.05%: max improvement 1%, below the 2% threshold.
	metrics := []store.VariantMetrics{vm("a", 10000, 500), vm("b", 10000, 505)}
	results := stats.Pairwise(metrics, 95, 100)

	recs := recommend.Generate(test, metrics, results, cfg, time.Now())

	found := false
	for _, r := range recs {
		if r.Kind == recommend.Warning && r.Title == "Variants perform similarly" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a similar-variants warning, got %v", kinds(recs))
	}
}

func TestGenerate_LongRunningWithoutResult(t *testing.T) {
	test := activeTest(100, time.Now().AddDate(0, 0, -45))
	metrics := []store.VariantMetrics{vm("a", 1000, 50), vm("b", 1000, 53)}
	results := stats.Pairwise(metrics, 95, 100)

	recs := recommend.Generate(test, metrics, results, cfg, time.Now())

	found := false
	for _, r := range recs {
		if r.Kind == recommend.Warning && r.Title == "Test running without a clear result" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a long-running warning, got %v", kinds(recs))
	}
}

func TestGenerate_HealthyTestHasNoNoise(t *testing.T) {
	// Sufficiently sampled, meaningfully apart but not yet significant,
	// young test: nothing to say yet beyond the absence of significance.
	test := activeTest(100, time.Now().AddDate(0, 0, -2))
	metrics := []store.VariantMetrics{vm("a", 500, 25), vm("b", 500, 31)}
	results := stats.Pairwise(metrics, 95, 100)

	recs := recommend.Generate(test, metrics, results, cfg, time.Now())
	for _, r := range recs {
		if r.Kind == recommend.Success {
			t.Errorf("unexpected success recommendation: %s", r.Title)
		}
	}
}
