package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/seirprior/dprior/internal/prior"
)

// ErrNoActiveTable is returned by GetCurrent before a table has been seeded.
var ErrNoActiveTable = errors.New("no active prior table")

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS prior_tables (
	version_id    TEXT PRIMARY KEY,
	parent_id     TEXT,
	label         TEXT,
	entries_json  TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES prior_tables(version_id)
);

CREATE TABLE IF NOT EXISTS active_table (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	version_id    TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES prior_tables(version_id)
);

CREATE TABLE IF NOT EXISTS evaluation_log (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id         TEXT NOT NULL,
	table_version  TEXT,
	non_finite_policy TEXT,
	symbol         TEXT NOT NULL,
	give_log       INTEGER NOT NULL,
	params_json    TEXT NOT NULL,
	layout_json    TEXT,
	result         REAL,
	error_kind     TEXT,
	reason         TEXT,
	created_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS evaluation_log_run ON evaluation_log(run_id);
`

// addedColumns were introduced after evaluation_log first shipped; older
// databases gain them on open.
var addedColumns = []struct{ table, column, decl string }{
	{"evaluation_log", "non_finite_policy", "TEXT"},
	{"evaluation_log", "layout_json", "TEXT"},
}

// #endregion schema

// #region store-struct
// Store manages versioned prior tables in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := addMissingColumns(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func addMissingColumns(db *sql.DB) error {
	for _, c := range addedColumns {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, c.table, c.column).Scan(&n)
		if err != nil {
			return fmt.Errorf("inspect %s: %w", c.table, err)
		}
		if n > 0 {
			continue
		}
		if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", c.table, c.column, c.decl)); err != nil {
			return fmt.Errorf("add %s.%s: %w", c.table, c.column, err)
		}
	}
	return nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion db-accessor

// #region create-initial
// CreateInitialTable stores t as a root version and makes it active.
func (s *Store) CreateInitialTable(label string, t *prior.Table) (TableRecord, error) {
	rec := NewTableRecord("", label, t)

	entriesJSON, err := json.Marshal(rec.Entries)
	if err != nil {
		return TableRecord{}, fmt.Errorf("marshal entries: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return TableRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO prior_tables (version_id, parent_id, label, entries_json, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.VersionID, nil, nullIfEmpty(label), string(entriesJSON), rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return TableRecord{}, fmt.Errorf("insert version: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO active_table (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		rec.VersionID,
	)
	if err != nil {
		return TableRecord{}, fmt.Errorf("set active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return TableRecord{}, fmt.Errorf("commit: %w", err)
	}

	return rec, nil
}

// #endregion create-initial

// #region get-current
// GetCurrent reads the active table version.
func (s *Store) GetCurrent() (TableRecord, error) {
	var versionID string
	err := s.db.QueryRow(`SELECT version_id FROM active_table WHERE id = 1`).Scan(&versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return TableRecord{}, ErrNoActiveTable
	}
	if err != nil {
		return TableRecord{}, fmt.Errorf("get active: %w", err)
	}
	return s.GetVersion(versionID)
}

// #endregion get-current

// #region get-version
// GetVersion retrieves a specific table version by ID.
func (s *Store) GetVersion(id string) (TableRecord, error) {
	row := s.db.QueryRow(
		`SELECT version_id, parent_id, label, entries_json, created_at
		 FROM prior_tables WHERE version_id = ?`, id,
	)
	rec, err := scanRecord(row)
	if err != nil {
		return TableRecord{}, fmt.Errorf("get version %s: %w", id, err)
	}
	return rec, nil
}

// #endregion get-version

// #region commit-table
// CommitTable validates and inserts a new version, then moves the active
// pointer to it atomically.
func (s *Store) CommitTable(rec TableRecord) error {
	if _, err := rec.Table(); err != nil {
		return fmt.Errorf("commit %s: %w", rec.VersionID, err)
	}
	if rec.VersionID == "" {
		rec.VersionID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	entriesJSON, err := json.Marshal(rec.Entries)
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO prior_tables (version_id, parent_id, label, entries_json, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.VersionID, nullIfEmpty(rec.ParentID), nullIfEmpty(rec.Label), string(entriesJSON),
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO active_table (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		rec.VersionID,
	)
	if err != nil {
		return fmt.Errorf("update active: %w", err)
	}

	return tx.Commit()
}

// #endregion commit-table

// #region ensure-table
// EnsureTable returns the stored version whose entries equal t's, inserting t
// as a new root version when none exists. The active pointer is left alone,
// so tables loaded from files can be referenced by logged evaluations.
func (s *Store) EnsureTable(label string, t *prior.Table) (TableRecord, error) {
	rec := NewTableRecord("", label, t)
	entriesJSON, err := json.Marshal(rec.Entries)
	if err != nil {
		return TableRecord{}, fmt.Errorf("marshal entries: %w", err)
	}

	row := s.db.QueryRow(
		`SELECT version_id, parent_id, label, entries_json, created_at
		 FROM prior_tables WHERE entries_json = ? ORDER BY rowid DESC LIMIT 1`, string(entriesJSON),
	)
	existing, err := scanRecord(row)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, sql.ErrNoRows):
		return TableRecord{}, fmt.Errorf("find table: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO prior_tables (version_id, parent_id, label, entries_json, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.VersionID, nil, nullIfEmpty(label), string(entriesJSON), rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return TableRecord{}, fmt.Errorf("insert version: %w", err)
	}
	return rec, nil
}

// #endregion ensure-table

// #region rollback
// Rollback sets the active pointer to a previous version.
func (s *Store) Rollback(targetVersionID string) error {
	var exists int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM prior_tables WHERE version_id = ?`, targetVersionID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("version %s not found", targetVersionID)
	}

	_, err = s.db.Exec(
		`INSERT INTO active_table (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		targetVersionID,
	)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// #endregion rollback

// #region list-versions
// ListVersions returns the most recent table versions with usage counts.
func (s *Store) ListVersions(limit int) ([]VersionSummary, error) {
	rows, err := s.db.Query(
		`SELECT t.version_id, t.parent_id, t.label, t.entries_json, t.created_at,
		        COALESCE(a.id, 0),
		        (SELECT COUNT(*) FROM evaluation_log e WHERE e.table_version = t.version_id)
		 FROM prior_tables t
		 LEFT JOIN active_table a ON a.version_id = t.version_id
		 ORDER BY t.rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []VersionSummary
	for rows.Next() {
		var sum VersionSummary
		var active int
		rec, err := scanRecord(rows, &active, &sum.Evaluations)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		sum.TableRecord = rec
		sum.Active = active == 1
		out = append(out, sum)
	}
	return out, rows.Err()
}

// #endregion list-versions

// #region helpers
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner, extra ...any) (TableRecord, error) {
	var rec TableRecord
	var parentID, label sql.NullString
	var entriesJSON, createdStr string

	dest := append([]any{&rec.VersionID, &parentID, &label, &entriesJSON, &createdStr}, extra...)
	if err := row.Scan(dest...); err != nil {
		return TableRecord{}, err
	}
	rec.ParentID = parentID.String
	rec.Label = label.String
	if err := json.Unmarshal([]byte(entriesJSON), &rec.Entries); err != nil {
		return TableRecord{}, fmt.Errorf("unmarshal entries: %w", err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
