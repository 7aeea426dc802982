package store

import (
	"context"
	"time"
)

// Store defines the persistence operations the engine consumes. Transactional
// guarantees are the store's responsibility; the engine only requires atomic
// conditional writes for assignments and test status.
type Store interface {
	// Test operations
	CreateTest(ctx context.Context, test *Test, variants []Variant) error
	GetTest(ctx context.Context, id string) (*Test, error)
	GetTestByName(ctx context.Context, name string) (*Test, error)
	ListTests(ctx context.Context, status TestStatus) ([]*Test, error)
	// SetTestStatus is a compare-and-set on test.status. It returns
	// ErrStaleStatus when the stored status no longer matches from.
	SetTestStatus(ctx context.Context, id string, from, to TestStatus, winnerVariantID *string) error
	DeleteTest(ctx context.Context, id string) error

	// Variant operations
	GetVariants(ctx context.Context, testID string) ([]Variant, error)

	// Assignment operations. PutAssignment is insert-if-absent: under a
	// first-assignment race the loser's write is ignored and the stored
	// variant id is returned.
	GetAssignment(ctx context.Context, testID, visitorID string) (string, error)
	PutAssignment(ctx context.Context, a Assignment) (string, error)

	// Ledger operations
	AppendEvent(ctx context.Context, e Event) error
	GetEvents(ctx context.Context, testID string) ([]*Event, error)
	VariantTotals(ctx context.Context, testID string) (map[string]Totals, error)
	DailySeries(ctx context.Context, testID string, from, to time.Time) (map[string][]DailyPoint, error)

	Close() error
}

// Totals are the raw per-variant event counts from the ledger.
type Totals struct {
	Views        int
	Interactions int
	Conversions  int
}
