package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/popsplit/popsplit/internal/store"
)

// State machine: draft -> active -> {paused <-> active} -> completed.
// Completed is terminal; winner_variant_id may stay unset when a test ends
// without a winner.

// Activate transitions a draft or paused test to active, re-validating the
// variant configuration first.
func (e *Engine) Activate(ctx context.Context, testID string) error {
	test, err := e.getTest(ctx, testID)
	if err != nil {
		return err
	}
	if test.Status != store.StatusDraft && test.Status != store.StatusPaused {
		return fmt.Errorf("%w: cannot activate a %s test", ErrInvalidTransition, test.Status)
	}

	variants, err := e.store.GetVariants(ctx, test.ID)
	if err != nil {
		return err
	}
	if len(variants) < 2 {
		return fmt.Errorf("%w: a test needs at least 2 variants", ErrInvalidConfig)
	}
	total := 0
	for _, v := range variants {
		total += v.TrafficSplit
	}
	if total != 100 {
		return fmt.Errorf("%w: traffic splits sum to %d, want 100", ErrInvalidConfig, total)
	}

	return e.transition(ctx, test.ID, test.Status, store.StatusActive, nil)
}

// Pause suspends an active test. Assignments and the ledger stay intact.
func (e *Engine) Pause(ctx context.Context, testID string) error {
	test, err := e.getTest(ctx, testID)
	if err != nil {
		return err
	}
	if test.Status != store.StatusActive {
		return fmt.Errorf("%w: cannot pause a %s test", ErrInvalidTransition, test.Status)
	}
	return e.transition(ctx, test.ID, store.StatusActive, store.StatusPaused, nil)
}

// Resume is Activate restricted to paused tests.
func (e *Engine) Resume(ctx context.Context, testID string) error {
	test, err := e.getTest(ctx, testID)
	if err != nil {
		return err
	}
	if test.Status != store.StatusPaused {
		return fmt.Errorf("%w: cannot resume a %s test", ErrInvalidTransition, test.Status)
	}
	return e.Activate(ctx, testID)
}

// Complete ends an active or paused test without declaring a winner.
func (e *Engine) Complete(ctx context.Context, testID string) error {
	test, err := e.getTest(ctx, testID)
	if err != nil {
		return err
	}
	if test.Status != store.StatusActive && test.Status != store.StatusPaused {
		return fmt.Errorf("%w: cannot complete a %s test", ErrInvalidTransition, test.Status)
	}
	return e.transition(ctx, test.ID, test.Status, store.StatusCompleted, nil)
}

// DeclareWinner completes an active test with the given variant as winner.
// It is a manual override: significance is not required. The underlying
// status write is a compare-and-set, so when two callers race only one
// declaration lands and the other observes the completed state.
func (e *Engine) DeclareWinner(ctx context.Context, testID, variantID string) error {
	test, err := e.getTest(ctx, testID)
	if err != nil {
		return err
	}
	if _, err := e.variantOf(ctx, test, variantID); err != nil {
		return err
	}
	if test.Status != store.StatusActive {
		return fmt.Errorf("%w: cannot declare a winner on a %s test", ErrInvalidTransition, test.Status)
	}
	return e.transition(ctx, test.ID, store.StatusActive, store.StatusCompleted, &variantID)
}

// EvaluateAutoWinner declares the best-performing variant the winner when the
// test opted in, is active, and that variant is sufficiently sampled and
// significantly ahead of every other variant. Anything else is a no-op, which
// makes repeated polling idempotent. Returns whether a winner was declared.
func (e *Engine) EvaluateAutoWinner(ctx context.Context, testID string) (bool, error) {
	test, err := e.getTest(ctx, testID)
	if err != nil {
		return false, err
	}
	if !test.AutoDeclareWinner || test.Status != store.StatusActive {
		return false, nil
	}

	metrics, err := e.VariantMetrics(ctx, test.ID)
	if err != nil {
		return false, err
	}
	if len(metrics) < 2 {
		return false, nil
	}

	best := bestVariant(metrics)
	if best.Displays < test.MinimumSampleSize {
		return false, nil
	}

	for _, m := range metrics {
		if m.VariantID == best.VariantID {
			continue
		}
		// best already has the maximum rate, so a significant two-tailed
		// result here can only favor it.
		r := e.Significance(m, best, test.ConfidenceLevel, test.MinimumSampleSize)
		if !r.Significant {
			return false, nil
		}
	}

	err = e.transition(ctx, test.ID, store.StatusActive, store.StatusCompleted, &best.VariantID)
	if errors.Is(err, ErrInvalidTransition) {
		// A concurrent evaluator or operator completed the test first.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// EvaluateAutoWinners runs EvaluateAutoWinner over every active test and
// returns the ids of tests where a winner was declared.
func (e *Engine) EvaluateAutoWinners(ctx context.Context) ([]string, error) {
	tests, err := e.store.ListTests(ctx, store.StatusActive)
	if err != nil {
		return nil, err
	}

	var declared []string
	for _, test := range tests {
		ok, err := e.EvaluateAutoWinner(ctx, test.ID)
		if err != nil {
			return declared, err
		}
		if ok {
			declared = append(declared, test.ID)
		}
	}
	return declared, nil
}

// bestVariant picks the highest raw conversion rate by id, never by value
// equality. Ties break toward the first variant in stable position order.
func bestVariant(metrics []store.VariantMetrics) store.VariantMetrics {
	best := metrics[0]
	bestRate := rawRate(best)
	for _, m := range metrics[1:] {
		if r := rawRate(m); r > bestRate {
			best, bestRate = m, r
		}
	}
	return best
}

func rawRate(m store.VariantMetrics) float64 {
	if m.Displays == 0 {
		return 0
	}
	return float64(m.Conversions) / float64(m.Displays)
}

func (e *Engine) transition(ctx context.Context, testID string, from, to store.TestStatus, winner *string) error {
	err := e.store.SetTestStatus(ctx, testID, from, to, winner)
	if errors.Is(err, store.ErrStaleStatus) {
		return fmt.Errorf("%w: test is no longer %s", ErrInvalidTransition, from)
	}
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownTest, testID)
	}
	return err
}
