// Package allocator implements sticky, deterministic traffic allocation.
// A visitor's variant is derived from a hash of (test id, visitor id), so the
// same visitor always lands in the same bucket and the split is reproducible
// for audits without storing any RNG state.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/popsplit/popsplit/internal/store"
)

var (
	ErrTestNotActive = errors.New("test is not active")
	ErrBadSplit      = errors.New("variant traffic splits must sum to 100")
	ErrNoVariants    = errors.New("test has no variants")
)

type Allocator struct {
	store store.Store
}

func New(s store.Store) *Allocator {
	return &Allocator{store: s}
}

// Assign returns the variant id bound to visitorID for the given test,
// creating the binding on first exposure. Existing assignments are returned
// unchanged even if the variant configuration has since been edited.
func (a *Allocator) Assign(ctx context.Context, test *store.Test, visitorID string) (string, error) {
	// Sticky bucketing: an existing assignment always wins.
	if variantID, err := a.store.GetAssignment(ctx, test.ID, visitorID); err == nil {
		return variantID, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	if test.Status != store.StatusActive {
		return "", fmt.Errorf("%w: %s is %s", ErrTestNotActive, test.Name, test.Status)
	}

	variants, err := a.store.GetVariants(ctx, test.ID)
	if err != nil {
		return "", err
	}
	if len(variants) == 0 {
		return "", ErrNoVariants
	}

	variantID, err := Pick(variants, test.ID, visitorID)
	if err != nil {
		return "", err
	}

	// Insert-if-absent: under a concurrent first call the store keeps the
	// winner's row and hands it back to the loser.
	return a.store.PutAssignment(ctx, store.Assignment{
		VisitorID: visitorID,
		TestID:    test.ID,
		VariantID: variantID,
		CreatedAt: time.Now(),
	})
}

// Pick maps (testID, visitorID) onto the weighted variant partition. Variants
// are walked in position order, accumulating traffic splits, and the first
// variant whose cumulative boundary exceeds the hashed bucket value wins.
func Pick(variants []store.Variant, testID, visitorID string) (string, error) {
	total := 0
	for _, v := range variants {
		total += v.TrafficSplit
	}
	if total != 100 {
		return "", fmt.Errorf("%w: got %d", ErrBadSplit, total)
	}

	value := Bucket(testID, visitorID)
	cumulative := 0.0
	for _, v := range variants {
		cumulative += float64(v.TrafficSplit)
		if value < cumulative {
			return v.ID, nil
		}
	}

	// Unreachable when splits sum to 100, but float comparison deserves a net.
	return variants[len(variants)-1].ID, nil
}

// Bucket hashes (testID, visitorID) to a value in [0, 100). FNV-1a spreads
// adjacent visitor ids well enough for percentage bucketing and keeps the
// mapping stable across processes and restarts.
func Bucket(testID, visitorID string) float64 {
	h := fnv.New64a()
	h.Write([]byte(testID))
	h.Write([]byte{':'})
	h.Write([]byte(visitorID))
	return float64(h.Sum64()%10000) / 100
}
