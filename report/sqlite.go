package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		index_name TEXT NOT NULL,
		ground_truth TEXT NOT NULL,
		measure TEXT NOT NULL,
		k INTEGER NOT NULL,
		query_count INTEGER NOT NULL,
		dimensions INTEGER NOT NULL,
		recall REAL NOT NULL,
		payload TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reports_index_name ON reports(index_name)`,
}

// SQLiteStore keeps reports in a local SQLite database. Scalar columns are
// kept for ad-hoc SQL; the full report is stored as JSON in payload.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at dsn and applies
// migrations. ":memory:" gives a private in-memory database.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "data/recallx.db"
	}

	if dsn != ":memory:" {
		dir := filepath.Dir(dsn)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, errors.Wrap(err, "create data directory")
			}
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	for _, m := range sqliteMigrations {
		if _, err := db.Exec(m); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, r Report) error {
	if r.ID == "" {
		return errors.New("report: missing id")
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "marshal report")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO reports (
			id, created_at, index_name, ground_truth, measure,
			k, query_count, dimensions, recall, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CreatedAt.UTC().Format(time.RFC3339Nano), r.Index, r.GroundTruth, r.Measure,
		r.K, r.QueryCount, r.Dimensions, r.Recall, string(payload),
	)
	if err != nil {
		return errors.Wrapf(err, "insert report %s", r.ID)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Report, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM reports WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Report{}, errors.Wrapf(ErrNotFound, "id %s", id)
	}
	if err != nil {
		return Report{}, errors.Wrapf(err, "query report %s", id)
	}
	return decodePayload(payload)
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Report, error) {
	query := `SELECT payload FROM reports ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query reports")
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "scan report")
		}
		r, err := decodePayload(payload)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, errors.Wrap(rows.Err(), "iterate reports")
}

func decodePayload(payload string) (Report, error) {
	var r Report
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return Report{}, errors.Wrap(err, "unmarshal report")
	}
	return r, nil
}
