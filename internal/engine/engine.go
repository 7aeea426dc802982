// Package engine is the experiment lifecycle manager. It owns test state
// transitions, winner declaration and the orchestration of allocation,
// aggregation, statistics and recommendations. The engine is stateless
// between calls and runs no background goroutines; hosts poll
// EvaluateAutoWinners on whatever schedule suits them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/popsplit/popsplit/internal/allocator"
	"github.com/popsplit/popsplit/internal/config"
	"github.com/popsplit/popsplit/internal/recommend"
	"github.com/popsplit/popsplit/internal/stats"
	"github.com/popsplit/popsplit/internal/store"
)

type Engine struct {
	store store.Store
	alloc *allocator.Allocator
	cfg   config.RecommendConfig
	now   func() time.Time
}

func New(s store.Store, cfg config.RecommendConfig) *Engine {
	return &Engine{
		store: s,
		alloc: allocator.New(s),
		cfg:   cfg,
		now:   time.Now,
	}
}

// VariantSpec describes one variant at test creation time.
type VariantSpec struct {
	CreativeID   string
	TrafficSplit int
}

// CreateTest validates the configuration and persists a new draft test.
func (e *Engine) CreateTest(ctx context.Context, name string, testType store.TestType, specs []VariantSpec, minSample, confidence int, autoDeclare bool) (*store.Test, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if err := validateVariantSpecs(specs); err != nil {
		return nil, err
	}
	if minSample < 1 {
		return nil, fmt.Errorf("%w: minimum sample size must be at least 1", ErrInvalidConfig)
	}
	if confidence != 90 && confidence != 95 && confidence != 99 {
		return nil, fmt.Errorf("%w: confidence level must be 90, 95 or 99", ErrInvalidConfig)
	}
	switch testType {
	case store.TypeConversion, store.TypeEngagement, store.TypeClickThrough:
	default:
		return nil, fmt.Errorf("%w: unknown test type %q", ErrInvalidConfig, testType)
	}

	test := &store.Test{
		ID:                uuid.NewString(),
		Name:              name,
		Type:              testType,
		Status:            store.StatusDraft,
		StartDate:         e.now(),
		MinimumSampleSize: minSample,
		ConfidenceLevel:   confidence,
		AutoDeclareWinner: autoDeclare,
	}

	variants := make([]store.Variant, len(specs))
	for i, spec := range specs {
		variants[i] = store.Variant{
			ID:           uuid.NewString(),
			TestID:       test.ID,
			CreativeID:   spec.CreativeID,
			TrafficSplit: spec.TrafficSplit,
			Position:     i,
		}
	}

	if err := e.store.CreateTest(ctx, test, variants); err != nil {
		return nil, err
	}
	return test, nil
}

func validateVariantSpecs(specs []VariantSpec) error {
	if len(specs) < 2 {
		return fmt.Errorf("%w: a test needs at least 2 variants", ErrInvalidConfig)
	}
	total := 0
	for _, s := range specs {
		if s.TrafficSplit < 1 || s.TrafficSplit > 100 {
			return fmt.Errorf("%w: traffic split %d out of range 1-100", ErrInvalidConfig, s.TrafficSplit)
		}
		total += s.TrafficSplit
	}
	if total != 100 {
		return fmt.Errorf("%w: traffic splits sum to %d, want 100", ErrInvalidConfig, total)
	}
	return nil
}

// AssignVariant returns the sticky variant for a visitor, allocating on first
// exposure. The visitor identity is supplied by the caller; the engine never
// generates it.
func (e *Engine) AssignVariant(ctx context.Context, testID, visitorID string) (string, error) {
	if visitorID == "" {
		return "", fmt.Errorf("%w: visitor id is required", ErrInvalidConfig)
	}

	test, err := e.getTest(ctx, testID)
	if err != nil {
		return "", err
	}

	variantID, err := e.alloc.Assign(ctx, test, visitorID)
	switch {
	case errors.Is(err, allocator.ErrTestNotActive):
		return "", fmt.Errorf("%w: %s", ErrInvalidTransition, err)
	case errors.Is(err, allocator.ErrBadSplit), errors.Is(err, allocator.ErrNoVariants):
		return "", fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	case err != nil:
		return "", err
	}
	return variantID, nil
}

// RecordEvent appends one exposure/interaction/conversion event to the
// ledger. The ledger is append-only; recording is idempotency-free by design
// and aggregation does no implicit dedup.
func (e *Engine) RecordEvent(ctx context.Context, testID, variantID string, eventType store.EventType, pageURL string, at time.Time) error {
	if !store.ValidEventType(string(eventType)) {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidConfig, eventType)
	}

	test, err := e.getTest(ctx, testID)
	if err != nil {
		return err
	}
	if _, err := e.variantOf(ctx, test, variantID); err != nil {
		return err
	}

	return e.store.AppendEvent(ctx, store.Event{
		TestID:    testID,
		VariantID: variantID,
		Type:      eventType,
		PageURL:   pageURL,
		CreatedAt: at,
	})
}

// VariantMetrics aggregates the ledger into per-variant totals, in stable
// variant position order. Variants without events appear zero-valued.
func (e *Engine) VariantMetrics(ctx context.Context, testID string) ([]store.VariantMetrics, error) {
	test, err := e.getTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	variants, err := e.store.GetVariants(ctx, test.ID)
	if err != nil {
		return nil, err
	}
	totals, err := e.store.VariantTotals(ctx, test.ID)
	if err != nil {
		return nil, err
	}

	metrics := make([]store.VariantMetrics, len(variants))
	for i, v := range variants {
		t := totals[v.ID]
		metrics[i] = store.VariantMetrics{
			VariantID:      v.ID,
			CreativeID:     v.CreativeID,
			TrafficSplit:   v.TrafficSplit,
			Displays:       t.Views,
			Interactions:   t.Interactions,
			Conversions:    t.Conversions,
			ConversionRate: store.Rate(t.Conversions, t.Views),
		}
	}
	return metrics, nil
}

// DailySeries returns the per-variant daily (views, conversions) time series
// over [from, to).
func (e *Engine) DailySeries(ctx context.Context, testID string, from, to time.Time) (map[string][]store.DailyPoint, error) {
	if _, err := e.getTest(ctx, testID); err != nil {
		return nil, err
	}
	return e.store.DailySeries(ctx, testID, from, to)
}

// ConfidenceInterval computes the normal-approximation interval for one
// variant's conversion rate. This is the one place that returns
// ErrInsufficientData: the caller explicitly asked for a statistic that is
// undefined with zero displays.
func (e *Engine) ConfidenceInterval(m store.VariantMetrics, confidence int) (stats.Interval, error) {
	interval, ok := stats.ConfidenceInterval(m.Conversions, m.Displays, confidence)
	if !ok {
		return interval, fmt.Errorf("%w: variant %s has no recorded views", ErrInsufficientData, m.VariantID)
	}
	return interval, nil
}

// Significance runs a two-proportion z-test between two variants at the
// test's configured confidence level and minimum sample size.
func (e *Engine) Significance(a, b store.VariantMetrics, confidence, minSample int) stats.Result {
	return stats.Significance(a, b, confidence, minSample)
}

// PairwiseSignificance computes every pairwise comparison for the test.
func (e *Engine) PairwiseSignificance(ctx context.Context, testID string) ([]stats.Result, error) {
	test, err := e.getTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	metrics, err := e.VariantMetrics(ctx, testID)
	if err != nil {
		return nil, err
	}
	return stats.Pairwise(metrics, test.ConfidenceLevel, test.MinimumSampleSize), nil
}

// Recommendations derives guidance from the current metrics and significance
// results.
func (e *Engine) Recommendations(ctx context.Context, testID string) ([]recommend.Recommendation, error) {
	test, err := e.getTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	metrics, err := e.VariantMetrics(ctx, testID)
	if err != nil {
		return nil, err
	}
	results := stats.Pairwise(metrics, test.ConfidenceLevel, test.MinimumSampleSize)
	return recommend.Generate(test, metrics, results, e.cfg, e.now()), nil
}

func (e *Engine) getTest(ctx context.Context, testID string) (*store.Test, error) {
	test, err := e.store.GetTest(ctx, testID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTest, testID)
	}
	if err != nil {
		return nil, err
	}
	return test, nil
}

func (e *Engine) variantOf(ctx context.Context, test *store.Test, variantID string) (store.Variant, error) {
	variants, err := e.store.GetVariants(ctx, test.ID)
	if err != nil {
		return store.Variant{}, err
	}
	for _, v := range variants {
		if v.ID == variantID {
			return v, nil
		}
	}
	return store.Variant{}, fmt.Errorf("%w: %s does not belong to test %s", ErrUnknownVariant, variantID, test.Name)
}
