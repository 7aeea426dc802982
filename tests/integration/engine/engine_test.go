package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/popsplit/popsplit/internal/config"
	"github.com/popsplit/popsplit/internal/engine"
	"github.com/popsplit/popsplit/internal/store"
	"github.com/popsplit/popsplit/tests/testutil"
)

func setup(t *testing.T) (*store.SQLiteStore, *engine.Engine) {
	t.Helper()
	s := testutil.SetupTestStore(t)
	return s, engine.New(s, config.Default().Recommend)
}

func TestCreateTest_Validation(t *testing.T) {
	_, eng := setup(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		specs []engine.VariantSpec
	}{
		{"one variant", []engine.VariantSpec{{CreativeID: "a", TrafficSplit: 100}}},
		{"splits under 100", []engine.VariantSpec{{CreativeID: "a", TrafficSplit: 50}, {CreativeID: "b", TrafficSplit: 40}}},
		{"splits over 100", []engine.VariantSpec{{CreativeID: "a", TrafficSplit: 60}, {CreativeID: "b", TrafficSplit: 60}}},
		{"zero split", []engine.VariantSpec{{CreativeID: "a", TrafficSplit: 0}, {CreativeID: "b", TrafficSplit: 100}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := eng.CreateTest(ctx, "bad-"+tc.name, store.TypeConversion, tc.specs, 100, 95, false)
			if !errors.Is(err, engine.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}

	if _, err := eng.CreateTest(ctx, "bad-confidence", store.TypeConversion, []engine.VariantSpec{
		{CreativeID: "a", TrafficSplit: 50}, {CreativeID: "b", TrafficSplit: 50},
	}, 100, 80, false); !errors.Is(err, engine.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for confidence 80, got %v", err)
	}

	if _, err := eng.CreateTest(ctx, "bad-sample", store.TypeConversion, []engine.VariantSpec{
		{CreativeID: "a", TrafficSplit: 50}, {CreativeID: "b", TrafficSplit: 50},
	}, 0, 95, false); !errors.Is(err, engine.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for zero sample size, got %v", err)
	}
}

func TestLifecycle_Transitions(t *testing.T) {
	s, eng := setup(t)
	ctx := context.Background()

	test, err := eng.CreateTest(ctx, "exit-popup", store.TypeConversion, []engine.VariantSpec{
		{CreativeID: "popup-a", TrafficSplit: 50},
		{CreativeID: "popup-b", TrafficSplit: 50},
	}, 100, 95, false)
	if err != nil {
		t.Fatalf("failed to create test: %v", err)
	}

	// draft: pause and resume are invalid
	if err := eng.Pause(ctx, test.ID); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Errorf("pause on draft: expected ErrInvalidTransition, got %v", err)
	}
	if err := eng.Resume(ctx, test.ID); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Errorf("resume on draft: expected ErrInvalidTransition, got %v", err)
	}

	// draft -> active -> paused -> active -> completed
	if err := eng.Activate(ctx, test.ID); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	if err := eng.Activate(ctx, test.ID); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Errorf("activate on active: expected ErrInvalidTransition, got %v", err)
	}
	if err := eng.Pause(ctx, test.ID); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if err := eng.Resume(ctx, test.ID); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if err := eng.Complete(ctx, test.ID); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	// completed is terminal
	if err := eng.Activate(ctx, test.ID); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Errorf("activate on completed: expected ErrInvalidTransition, got %v", err)
	}

	got, err := s.GetTest(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to get test: %v", err)
	}
	if got.Status != store.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.WinnerVariantID != nil {
		t.Error("completing without a winner must leave winner unset")
	}
}

func TestDeclareWinner(t *testing.T) {
	s, eng := setup(t)
	ctx := context.Background()

	test := testutil.CreateActiveTest(t, eng, "exit-popup")
	variants, err := s.GetVariants(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to get variants: %v", err)
	}

	if err := eng.DeclareWinner(ctx, test.ID, "not-a-variant"); !errors.Is(err, engine.ErrUnknownVariant) {
		t.Errorf("expected ErrUnknownVariant, got %v", err)
	}

	if err := eng.DeclareWinner(ctx, test.ID, variants[1].ID); err != nil {
		t.Fatalf("declare winner failed: %v", err)
	}

	// Declaring again with a different variant fails and the first winner
	// stands.
	err = eng.DeclareWinner(ctx, test.ID, variants[0].ID)
	if !errors.Is(err, engine.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on second declare, got %v", err)
	}

	got, err := s.GetTest(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to get test: %v", err)
	}
	if got.Status != store.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.WinnerVariantID == nil || *got.WinnerVariantID != variants[1].ID {
		t.Errorf("winner = %v, want %s", got.WinnerVariantID, variants[1].ID)
	}
}

func TestAssignVariant_StickyAndDeterministic(t *testing.T) {
	_, eng := setup(t)
	ctx := context.Background()

	test := testutil.CreateActiveTest(t, eng, "exit-popup")

	first, err := eng.AssignVariant(ctx, test.ID, "visitor-1")
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	for i := 0; i < 20; i++ {
		got, err := eng.AssignVariant(ctx, test.ID, "visitor-1")
		if err != nil {
			t.Fatalf("repeat assign failed: %v", err)
		}
		if got != first {
			t.Fatalf("assignment changed: %s then %s", first, got)
		}
	}
}

func TestAssignVariant_SurvivesPause(t *testing.T) {
	_, eng := setup(t)
	ctx := context.Background()

	test := testutil.CreateActiveTest(t, eng, "exit-popup")

	first, err := eng.AssignVariant(ctx, test.ID, "visitor-1")
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	if err := eng.Pause(ctx, test.ID); err != nil {
		t.Fatalf("pause failed: %v", err)
	}

	// Existing assignments stay readable while paused; new visitors are
	// rejected.
	got, err := eng.AssignVariant(ctx, test.ID, "visitor-1")
	if err != nil {
		t.Fatalf("assign for existing visitor failed on paused test: %v", err)
	}
	if got != first {
		t.Errorf("assignment changed across pause: %s then %s", first, got)
	}

	if _, err := eng.AssignVariant(ctx, test.ID, "new-visitor"); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for a new visitor on a paused test, got %v", err)
	}
}

func TestAssignVariant_UnknownTest(t *testing.T) {
	_, eng := setup(t)

	_, err := eng.AssignVariant(context.Background(), "missing", "visitor-1")
	if !errors.Is(err, engine.ErrUnknownTest) {
		t.Errorf("expected ErrUnknownTest, got %v", err)
	}
}

func TestVariantMetrics_ZeroFilledAndOrdered(t *testing.T) {
	s, eng := setup(t)
	ctx := context.Background()

	test := testutil.CreateActiveTest(t, eng, "exit-popup")
	variants, err := s.GetVariants(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to get variants: %v", err)
	}

	// Events only for the first variant.
	for i := 0; i < 4; i++ {
		if err := eng.RecordEvent(ctx, test.ID, variants[0].ID, store.EventView, "", time.Now()); err != nil {
			t.Fatalf("failed to record view: %v", err)
		}
	}
	if err := eng.RecordEvent(ctx, test.ID, variants[0].ID, store.EventConversion, "", time.Now()); err != nil {
		t.Fatalf("failed to record conversion: %v", err)
	}

	metrics, err := eng.VariantMetrics(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to get metrics: %v", err)
	}
	if len(metrics) != 2 {
		t.Fatalf("expected metrics for 2 variants, got %d", len(metrics))
	}
	if metrics[0].VariantID != variants[0].ID {
		t.Error("metrics not in variant position order")
	}
	if metrics[0].Displays != 4 || metrics[0].Conversions != 1 {
		t.Errorf("variant 0 metrics = %d/%d, want 4/1", metrics[0].Displays, metrics[0].Conversions)
	}
	if metrics[0].ConversionRate != 25.0 {
		t.Errorf("conversion rate = %f, want 25.00", metrics[0].ConversionRate)
	}
	if metrics[1].Displays != 0 || metrics[1].Conversions != 0 {
		t.Errorf("variant 1 should be zero-valued, got %d/%d", metrics[1].Displays, metrics[1].Conversions)
	}
}

func TestRecordEvent_Validation(t *testing.T) {
	s, eng := setup(t)
	ctx := context.Background()

	test := testutil.CreateActiveTest(t, eng, "exit-popup")
	variants, err := s.GetVariants(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to get variants: %v", err)
	}

	if err := eng.RecordEvent(ctx, test.ID, variants[0].ID, "bogus", "", time.Now()); !errors.Is(err, engine.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for bogus event type, got %v", err)
	}
	if err := eng.RecordEvent(ctx, test.ID, "not-a-variant", store.EventView, "", time.Now()); !errors.Is(err, engine.ErrUnknownVariant) {
		t.Errorf("expected ErrUnknownVariant, got %v", err)
	}
	if err := eng.RecordEvent(ctx, "missing", variants[0].ID, store.EventView, "", time.Now()); !errors.Is(err, engine.ErrUnknownTest) {
		t.Errorf("expected ErrUnknownTest, got %v", err)
	}
}

func TestConfidenceInterval_InsufficientData(t *testing.T) {
	_, eng := setup(t)

	_, err := eng.ConfidenceInterval(store.VariantMetrics{VariantID: "v0"}, 95)
	if !errors.Is(err, engine.ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData for zero displays, got %v", err)
	}

	interval, err := eng.ConfidenceInterval(store.VariantMetrics{VariantID: "v0", Displays: 1000, Conversions: 100}, 95)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if interval.Lower >= 0.10 || interval.Upper <= 0.10 {
		t.Errorf("interval [%f, %f] does not bracket 0.10", interval.Lower, interval.Upper)
	}
}

func seedEvents(t *testing.T, eng *engine.Engine, testID, variantID string, views, conversions int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < views; i++ {
		if err := eng.RecordEvent(ctx, testID, variantID, store.EventView, "", time.Now()); err != nil {
			t.Fatalf("failed to record view: %v", err)
		}
	}
	for i := 0; i < conversions; i++ {
		if err := eng.RecordEvent(ctx, testID, variantID, store.EventConversion, "", time.Now()); err != nil {
			t.Fatalf("failed to record conversion: %v", err)
		}
	}
}

func TestEvaluateAutoWinner_DeclaresAndStaysIdempotent(t *testing.T) {
	s, eng := setup(t)
	ctx := context.Background()

	test, err := eng.CreateTest(ctx, "exit-popup", store.TypeConversion, []engine.VariantSpec{
		{CreativeID: "popup-a", TrafficSplit: 50},
		{CreativeID: "popup-b", TrafficSplit: 50},
	}, 100, 95, true)
	if err != nil {
		t.Fatalf("failed to create test: %v", err)
	}
	if err := eng.Activate(ctx, test.ID); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	variants, err := s.GetVariants(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to get variants: %v", err)
	}

	seedEvents(t, eng, test.ID, variants[0].ID, 1000, 50)
	seedEvents(t, eng, test.ID, variants[1].ID, 1000, 80)

	declared, err := eng.EvaluateAutoWinner(ctx, test.ID)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if !declared {
		t.Fatal("expected auto winner declaration")
	}

	got, err := s.GetTest(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to get test: %v", err)
	}
	if got.Status != store.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.WinnerVariantID == nil || *got.WinnerVariantID != variants[1].ID {
		t.Errorf("winner = %v, want %s", got.WinnerVariantID, variants[1].ID)
	}

	// Repeated evaluation after completion is a no-op.
	declared, err = eng.EvaluateAutoWinner(ctx, test.ID)
	if err != nil {
		t.Fatalf("second evaluation failed: %v", err)
	}
	if declared {
		t.Error("second evaluation must be a no-op")
	}
}

func TestEvaluateAutoWinner_RespectsSampleGate(t *testing.T) {
	s, eng := setup(t)
	ctx := context.Background()

	// Big rate gap but minimum sample size not reached.
	test, err := eng.CreateTest(ctx, "exit-popup", store.TypeConversion, []engine.VariantSpec{
		{CreativeID: "popup-a", TrafficSplit: 50},
		{CreativeID: "popup-b", TrafficSplit: 50},
	}, 500, 95, true)
	if err != nil {
		t.Fatalf("failed to create test: %v", err)
	}
	if err := eng.Activate(ctx, test.ID); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	variants, err := s.GetVariants(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to get variants: %v", err)
	}

	seedEvents(t, eng, test.ID, variants[0].ID, 100, 2)
	seedEvents(t, eng, test.ID, variants[1].ID, 100, 30)

	declared, err := eng.EvaluateAutoWinner(ctx, test.ID)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if declared {
		t.Error("under-sampled test must not auto-declare")
	}

	got, err := s.GetTest(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to get test: %v", err)
	}
	if got.Status != store.StatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}
}

func TestEvaluateAutoWinner_OptOut(t *testing.T) {
	s, eng := setup(t)
	ctx := context.Background()

	test := testutil.CreateActiveTest(t, eng, "exit-popup") // auto_declare off
	variants, err := s.GetVariants(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to get variants: %v", err)
	}
	seedEvents(t, eng, test.ID, variants[0].ID, 1000, 50)
	seedEvents(t, eng, test.ID, variants[1].ID, 1000, 80)

	declared, err := eng.EvaluateAutoWinner(ctx, test.ID)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if declared {
		t.Error("opted-out test must not auto-declare")
	}
}

func TestEvaluateAutoWinners_ScansActiveTests(t *testing.T) {
	s, eng := setup(t)
	ctx := context.Background()

	var winnerTestID string
	for i := 0; i < 3; i++ {
		test, err := eng.CreateTest(ctx, fmt.Sprintf("test-%d", i), store.TypeConversion, []engine.VariantSpec{
			{CreativeID: "popup-a", TrafficSplit: 50},
			{CreativeID: "popup-b", TrafficSplit: 50},
		}, 100, 95, true)
		if err != nil {
			t.Fatalf("failed to create test: %v", err)
		}
		if err := eng.Activate(ctx, test.ID); err != nil {
			t.Fatalf("activate failed: %v", err)
		}
		if i == 1 {
			winnerTestID = test.ID
			variants, err := s.GetVariants(ctx, test.ID)
			if err != nil {
				t.Fatalf("failed to get variants: %v", err)
			}
			seedEvents(t, eng, test.ID, variants[0].ID, 1000, 50)
			seedEvents(t, eng, test.ID, variants[1].ID, 1000, 80)
		}
	}

	declared, err := eng.EvaluateAutoWinners(ctx)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(declared) != 1 || declared[0] != winnerTestID {
		t.Errorf("declared = %v, want [%s]", declared, winnerTestID)
	}
}

func TestRecommendations_EndToEnd(t *testing.T) {
	s, eng := setup(t)
	ctx := context.Background()

	test := testutil.CreateActiveTest(t, eng, "exit-popup")
	variants, err := s.GetVariants(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to get variants: %v", err)
	}
	seedEvents(t, eng, test.ID, variants[0].ID, 1000, 50)
	seedEvents(t, eng, test.ID, variants[1].ID, 1000, 80)

	recs, err := eng.Recommendations(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to get recommendations: %v", err)
	}

	found := false
	for _, rec := range recs {
		if rec.Kind == "success" {
			found = true
		}
	}
	if !found {
		t.Error("expected a declare-winner recommendation for a significant split")
	}
}
