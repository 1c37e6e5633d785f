package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/mailpost/internal/model"
)

// SQLiteStore implements the Ledger interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SchemaVersion returns the highest applied migration.
func (s *SQLiteStore) SchemaVersion() (int, error) {
	var v int
	if err := s.db.Get(&v, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		currentVersion, err = s.SchemaVersion()
		if err != nil {
			return err
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// RecordDispatch appends one entry to the ledger. If the record has no ID,
// a new UUID is generated.
func (s *SQLiteStore) RecordDispatch(ctx context.Context, rec model.DispatchRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.DispatchedAt.IsZero() {
		rec.DispatchedAt = time.Now()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO dispatches (
			id, run_id, rule, url, mailbox, uid,
			message_id, status_code, digest, error, dispatched_at
		) VALUES (
			:id, :run_id, :rule, :url, :mailbox, :uid,
			:message_id, :status_code, :digest, :error, :dispatched_at
		)`,
		recordRow(rec),
	)
	if err != nil {
		return fmt.Errorf("recording dispatch %s/%d: %w", rec.Mailbox, rec.UID, err)
	}
	return nil
}

// recordRow normalises times to UTC before they are written.
func recordRow(rec model.DispatchRecord) model.DispatchRecord {
	rec.DispatchedAt = rec.DispatchedAt.UTC()
	return rec
}

func (f DispatchFilter) where() (string, []any) {
	var conditions []string
	var args []any

	if f.RunID != nil {
		conditions = append(conditions, "run_id = ?")
		args = append(args, *f.RunID)
	}
	if f.Rule != nil {
		conditions = append(conditions, "rule = ?")
		args = append(args, *f.Rule)
	}
	if f.Mailbox != nil {
		conditions = append(conditions, "mailbox = ?")
		args = append(args, *f.Mailbox)
	}
	if f.Failed != nil {
		if *f.Failed {
			conditions = append(conditions, "error <> ''")
		} else {
			conditions = append(conditions, "error = ''")
		}
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// RecentDispatches returns ledger entries matching filter, newest first.
func (s *SQLiteStore) RecentDispatches(ctx context.Context, filter DispatchFilter) ([]model.DispatchRecord, error) {
	where, args := filter.where()
	query := "SELECT id, run_id, rule, url, mailbox, uid, message_id, status_code, digest, error, dispatched_at FROM dispatches" +
		where + " ORDER BY dispatched_at DESC, rowid DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	var records []model.DispatchRecord
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("querying dispatches: %w", err)
	}
	return records, nil
}

// CountDispatches returns the number of ledger entries matching filter.
// Limit and Offset are ignored.
func (s *SQLiteStore) CountDispatches(ctx context.Context, filter DispatchFilter) (int, error) {
	where, args := filter.where()
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM dispatches"+where, args...); err != nil {
		return 0, fmt.Errorf("counting dispatches: %w", err)
	}
	return n, nil
}

// PruneDispatches deletes entries dispatched before the given time and
// returns how many were removed.
func (s *SQLiteStore) PruneDispatches(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM dispatches WHERE dispatched_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning dispatches: %w", err)
	}
	return res.RowsAffected()
}
