package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/popsplit/popsplit/internal/config"
	"github.com/popsplit/popsplit/internal/engine"
	"github.com/popsplit/popsplit/internal/store"
)

// withEngine opens the database, builds an engine from the config thresholds,
// executes the function, and handles cleanup.
func withEngine(fn func(*store.SQLiteStore, *engine.Engine) error) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	return fn(s, engine.New(s, cfg.Recommend))
}

// lookupTest resolves a CLI test reference: by name first, then by id.
func lookupTest(ctx context.Context, s *store.SQLiteStore, ref string) (*store.Test, error) {
	test, err := s.GetTestByName(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		test, err = s.GetTest(ctx, ref)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("test '%s' not found", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get test: %w", err)
	}
	return test, nil
}

// variantByRef resolves a variant of a test by creative id, variant id or
// position index.
func variantByRef(ctx context.Context, s *store.SQLiteStore, testID, ref string) (*store.Variant, error) {
	variants, err := s.GetVariants(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to get variants: %w", err)
	}
	for i := range variants {
		v := &variants[i]
		if v.CreativeID == ref || v.ID == ref || fmt.Sprintf("%d", v.Position) == ref {
			return v, nil
		}
	}
	return nil, fmt.Errorf("variant '%s' not found (use a creative id, variant id or position)", ref)
}
