package store

// #region imports
import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// #endregion

// #region errors

// Collaborator failure taxonomy surfaced to the pipeline and driver.
var (
	// ErrUnavailable wraps any storage-engine failure the caller may retry.
	ErrUnavailable = errors.New("data service unavailable")
	// ErrConflict marks unique-constraint violations (e.g. duplicate promotion code).
	ErrConflict = errors.New("data service conflict")
	// ErrNotFound marks lookups of rows that do not exist.
	ErrNotFound = errors.New("not found")
)

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if strings.Contains(err.Error(), "UNIQUE constraint") {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

// #endregion

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS inventory (
	location_id   INTEGER NOT NULL,
	product_id    INTEGER NOT NULL,
	quantity      INTEGER NOT NULL,
	capacity      INTEGER NOT NULL DEFAULT 0,
	base_price    REAL NOT NULL,
	base_cost     REAL NOT NULL,
	category      TEXT NOT NULL DEFAULT 'general',
	updated_at    TEXT NOT NULL,
	PRIMARY KEY (location_id, product_id)
);

CREATE TABLE IF NOT EXISTS sales (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	location_id   INTEGER NOT NULL,
	product_id    INTEGER NOT NULL,
	promotion_id  INTEGER,
	units         INTEGER NOT NULL,
	revenue       REAL NOT NULL,
	sold_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sales_target ON sales(location_id, product_id, sold_at);
CREATE INDEX IF NOT EXISTS idx_sales_promotion ON sales(promotion_id);

CREATE TABLE IF NOT EXISTS promotions (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	code                TEXT NOT NULL UNIQUE,
	location_id         INTEGER NOT NULL,
	product_id          INTEGER NOT NULL,
	promotion_type      TEXT NOT NULL,
	discount_type       TEXT NOT NULL,
	discount_value      REAL NOT NULL,
	original_price      REAL NOT NULL,
	promotional_price   REAL NOT NULL,
	margin_percent      REAL NOT NULL,
	valid_from          TEXT NOT NULL,
	valid_until         TEXT NOT NULL,
	target_radius_km    REAL,
	expected_units      INTEGER NOT NULL DEFAULT 0,
	expected_revenue    REAL NOT NULL DEFAULT 0,
	reason              TEXT,
	status              TEXT NOT NULL DEFAULT 'active',
	retract_reason      TEXT,
	retracted_at        TEXT,
	created_at          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_promotions_status ON promotions(status);

CREATE TABLE IF NOT EXISTS pending_promotions (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	location_id         INTEGER NOT NULL,
	product_id          INTEGER NOT NULL,
	promotion_type      TEXT NOT NULL,
	discount_type       TEXT NOT NULL,
	discount_value      REAL NOT NULL,
	original_price      REAL NOT NULL,
	promotional_price   REAL NOT NULL,
	margin_percent      REAL NOT NULL,
	proposed_valid_from TEXT NOT NULL,
	proposed_valid_until TEXT NOT NULL,
	target_radius_km    REAL,
	expected_units      INTEGER NOT NULL DEFAULT 0,
	expected_revenue    REAL NOT NULL DEFAULT 0,
	reasoning           TEXT,
	market_data         TEXT,
	status              TEXT NOT NULL DEFAULT 'pending',
	reviewed_by         TEXT,
	review_note         TEXT,
	reviewed_at         TEXT,
	promotion_id        INTEGER,
	created_at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS decision_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	stage         TEXT NOT NULL,
	location_id   INTEGER NOT NULL,
	product_id    INTEGER NOT NULL,
	decision_type TEXT NOT NULL,
	reasoning     TEXT,
	data_json     TEXT,
	outcome       TEXT NOT NULL,
	promotion_id  INTEGER,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS evaluator_scores (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	location_id    INTEGER NOT NULL,
	product_id     INTEGER NOT NULL,
	evaluator      TEXT NOT NULL,
	score          REAL NOT NULL,
	concerns_json  TEXT,
	adjustments_json TEXT,
	verdict        TEXT NOT NULL,
	arbitration    TEXT NOT NULL,
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS optimization_iterations (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	location_id     INTEGER NOT NULL,
	product_id      INTEGER NOT NULL,
	iteration       INTEGER NOT NULL,
	params_json     TEXT NOT NULL,
	objective       TEXT NOT NULL,
	objective_value REAL NOT NULL,
	feasible        INTEGER NOT NULL DEFAULT 0,
	selected        INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS token_usage (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	agent             TEXT NOT NULL,
	operation         TEXT NOT NULL,
	model             TEXT NOT NULL,
	prompt_tokens     INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens      INTEGER NOT NULL,
	estimated_cost    REAL NOT NULL,
	location_id       INTEGER,
	product_id        INTEGER,
	created_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS performance_metrics (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	promotion_id      INTEGER NOT NULL,
	units_sold        INTEGER NOT NULL,
	revenue           REAL NOT NULL,
	performance_ratio REAL NOT NULL,
	notes             TEXT,
	created_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS driver_cursor (
	id                INTEGER PRIMARY KEY CHECK (id = 1),
	cycle_id          INTEGER NOT NULL,
	next_target_index INTEGER NOT NULL,
	paused            INTEGER NOT NULL DEFAULT 1,
	updated_at        TEXT NOT NULL
);
`

// #endregion schema

// #region store-struct
// Store is the SQLite-backed data service consumed by the pipeline, the
// driver, the approval gateway, and the monitoring loop.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// Open opens (or creates) the database and runs migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for packages that own their own tables
// (decision priors, approval feedback).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping verifies the database is reachable. Used by the driver's fatal check
// and the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

// #endregion db-accessor
