package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrStaleStatus is returned by SetTestStatus when the stored status no
	// longer matches the expected one (a concurrent writer got there first).
	ErrStaleStatus = errors.New("test status changed concurrently")
)

type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS tests (
    id TEXT PRIMARY KEY,
    name TEXT UNIQUE NOT NULL,
    test_type TEXT NOT NULL DEFAULT 'conversion',
    status TEXT NOT NULL DEFAULT 'draft',
    start_date INTEGER NOT NULL,
    end_date INTEGER,
    minimum_sample_size INTEGER NOT NULL DEFAULT 100,
    confidence_level INTEGER NOT NULL DEFAULT 95,
    auto_declare_winner INTEGER NOT NULL DEFAULT 0,
    winner_variant_id TEXT,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_tests_status ON tests(status);

CREATE TABLE IF NOT EXISTS variants (
    id TEXT PRIMARY KEY,
    test_id TEXT NOT NULL,
    creative_id TEXT NOT NULL,
    traffic_split INTEGER NOT NULL,
    position INTEGER NOT NULL,
    FOREIGN KEY (test_id) REFERENCES tests(id)
);

CREATE INDEX IF NOT EXISTS idx_variants_test ON variants(test_id, position);

CREATE TABLE IF NOT EXISTS assignments (
    visitor_id TEXT NOT NULL,
    test_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    PRIMARY KEY (visitor_id, test_id)
);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    test_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    page_url TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_events_test ON events(test_id);
CREATE INDEX IF NOT EXISTS idx_events_test_variant ON events(test_id, variant_id, event_type);
`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateTest(ctx context.Context, test *Test, variants []Variant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	var endDate sql.NullInt64
	if test.EndDate != nil {
		endDate = sql.NullInt64{Int64: test.EndDate.Unix(), Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tests (id, name, test_type, status, start_date, end_date,
		   minimum_sample_size, confidence_level, auto_declare_winner, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		test.ID, test.Name, string(test.Type), string(test.Status),
		test.StartDate.Unix(), endDate, test.MinimumSampleSize,
		test.ConfidenceLevel, boolToInt(test.AutoDeclareWinner), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert test: %w", err)
	}

	for _, v := range variants {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO variants (id, test_id, creative_id, traffic_split, position)
			 VALUES (?, ?, ?, ?, ?)`,
			v.ID, test.ID, v.CreativeID, v.TrafficSplit, v.Position,
		)
		if err != nil {
			return fmt.Errorf("failed to insert variant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit test: %w", err)
	}

	test.CreatedAt = time.Unix(now, 0)
	test.UpdatedAt = time.Unix(now, 0)
	return nil
}

const testColumns = `id, name, test_type, status, start_date, end_date,
	minimum_sample_size, confidence_level, auto_declare_winner, winner_variant_id,
	created_at, updated_at`

func (s *SQLiteStore) GetTest(ctx context.Context, id string) (*Test, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+testColumns+` FROM tests WHERE id = ?`, id)
	return scanTest(row)
}

func (s *SQLiteStore) GetTestByName(ctx context.Context, name string) (*Test, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+testColumns+` FROM tests WHERE name = ?`, name)
	return scanTest(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTest(row rowScanner) (*Test, error) {
	var (
		test        Test
		testType    string
		status      string
		startDate   int64
		endDate     sql.NullInt64
		autoDeclare int
		winner      sql.NullString
		createdAt   int64
		updatedAt   int64
	)

	err := row.Scan(&test.ID, &test.Name, &testType, &status, &startDate,
		&endDate, &test.MinimumSampleSize, &test.ConfidenceLevel,
		&autoDeclare, &winner, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan test: %w", err)
	}

	test.Type = TestType(testType)
	test.Status = TestStatus(status)
	test.StartDate = time.Unix(startDate, 0)
	if endDate.Valid {
		t := time.Unix(endDate.Int64, 0)
		test.EndDate = &t
	}
	test.AutoDeclareWinner = autoDeclare != 0
	if winner.Valid {
		w := winner.String
		test.WinnerVariantID = &w
	}
	test.CreatedAt = time.Unix(createdAt, 0)
	test.UpdatedAt = time.Unix(updatedAt, 0)

	return &test, nil
}

func (s *SQLiteStore) ListTests(ctx context.Context, status TestStatus) ([]*Test, error) {
	query := `SELECT ` + testColumns + ` FROM tests ORDER BY created_at DESC`
	args := []any{}
	if status != "" {
		query = `SELECT ` + testColumns + ` FROM tests WHERE status = ? ORDER BY created_at DESC`
		args = append(args, string(status))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}
	defer rows.Close()

	var tests []*Test
	for rows.Next() {
		test, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		tests = append(tests, test)
	}
	return tests, rows.Err()
}

// SetTestStatus performs a compare-and-set on the status column. When two
// evaluators race to complete a test, the loser's UPDATE matches zero rows
// and gets ErrStaleStatus back.
func (s *SQLiteStore) SetTestStatus(ctx context.Context, id string, from, to TestStatus, winnerVariantID *string) error {
	now := time.Now().Unix()

	var (
		result sql.Result
		err    error
	)
	if winnerVariantID != nil {
		result, err = s.db.ExecContext(ctx,
			`UPDATE tests SET status = ?, winner_variant_id = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			string(to), *winnerVariantID, now, id, string(from),
		)
	} else {
		result, err = s.db.ExecContext(ctx,
			`UPDATE tests SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(to), now, id, string(from),
		)
	}
	if err != nil {
		return fmt.Errorf("failed to update test status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing test from a lost race.
		if _, getErr := s.GetTest(ctx, id); getErr != nil {
			return getErr
		}
		return ErrStaleStatus
	}
	return nil
}

func (s *SQLiteStore) DeleteTest(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM events WHERE test_id = ?`,
		`DELETE FROM assignments WHERE test_id = ?`,
		`DELETE FROM variants WHERE test_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to delete test data: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM tests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete test: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetVariants(ctx context.Context, testID string) ([]Variant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, test_id, creative_id, traffic_split, position
		 FROM variants WHERE test_id = ? ORDER BY position`, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to get variants: %w", err)
	}
	defer rows.Close()

	var variants []Variant
	for rows.Next() {
		var v Variant
		if err := rows.Scan(&v.ID, &v.TestID, &v.CreativeID, &v.TrafficSplit, &v.Position); err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

func (s *SQLiteStore) GetAssignment(ctx context.Context, testID, visitorID string) (string, error) {
	var variantID string
	err := s.db.QueryRowContext(ctx,
		`SELECT variant_id FROM assignments WHERE test_id = ? AND visitor_id = ?`,
		testID, visitorID,
	).Scan(&variantID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get assignment: %w", err)
	}
	return variantID, nil
}

// PutAssignment inserts the assignment if absent. The primary key on
// (visitor_id, test_id) makes the insert conditional: under a first-assignment
// race the loser's INSERT OR IGNORE is a no-op and the re-read below returns
// the winner's variant, so at most one variant is ever bound to a visitor.
func (s *SQLiteStore) PutAssignment(ctx context.Context, a Assignment) (string, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO assignments (visitor_id, test_id, variant_id, created_at)
		 VALUES (?, ?, ?, ?)`,
		a.VisitorID, a.TestID, a.VariantID, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to put assignment: %w", err)
	}

	return s.GetAssignment(ctx, a.TestID, a.VisitorID)
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, e Event) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (test_id, variant_id, event_type, page_url, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.TestID, e.VariantID, string(e.Type), e.PageURL, createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetEvents(ctx context.Context, testID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, test_id, variant_id, event_type, page_url, created_at
		 FROM events WHERE test_id = ? ORDER BY created_at DESC`, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			e         Event
			eventType string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.TestID, &e.VariantID, &eventType, &e.PageURL, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = EventType(eventType)
		e.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// VariantTotals is a pure reduction over the ledger: plain counts grouped by
// variant and type, no dedup, so replaying the same event set yields the same
// totals regardless of order.
func (s *SQLiteStore) VariantTotals(ctx context.Context, testID string) (map[string]Totals, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			variant_id,
			COUNT(CASE WHEN event_type = 'view' THEN 1 END) as views,
			COUNT(CASE WHEN event_type = 'interaction' THEN 1 END) as interactions,
			COUNT(CASE WHEN event_type = 'conversion' THEN 1 END) as conversions
		FROM events
		WHERE test_id = ?
		GROUP BY variant_id
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to get variant totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]Totals)
	for rows.Next() {
		var (
			variantID string
			t         Totals
		)
		if err := rows.Scan(&variantID, &t.Views, &t.Interactions, &t.Conversions); err != nil {
			return nil, fmt.Errorf("failed to scan totals: %w", err)
		}
		totals[variantID] = t
	}
	return totals, rows.Err()
}

func (s *SQLiteStore) DailySeries(ctx context.Context, testID string, from, to time.Time) (map[string][]DailyPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			variant_id,
			date(created_at, 'unixepoch') as day,
			COUNT(CASE WHEN event_type = 'view' THEN 1 END) as views,
			COUNT(CASE WHEN event_type = 'conversion' THEN 1 END) as conversions
		FROM events
		WHERE test_id = ? AND created_at >= ? AND created_at < ?
		GROUP BY variant_id, day
		ORDER BY variant_id, day
	`, testID, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to get daily series: %w", err)
	}
	defer rows.Close()

	series := make(map[string][]DailyPoint)
	for rows.Next() {
		var (
			variantID string
			p         DailyPoint
		)
		if err := rows.Scan(&variantID, &p.Date, &p.Views, &p.Conversions); err != nil {
			return nil, fmt.Errorf("failed to scan series point: %w", err)
		}
		series[variantID] = append(series[variantID], p)
	}
	return series, rows.Err()
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
