package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/quote-sourcing/internal/model"
)

// SQLiteStore implements CallStore using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS call_history (
	call_id        TEXT PRIMARY KEY,
	batch_id       TEXT NOT NULL DEFAULT '',
	vendor_id      TEXT NOT NULL,
	state          TEXT NOT NULL,
	failure_reason TEXT NOT NULL DEFAULT '',
	session        TEXT NOT NULL,
	started_at     DATETIME NOT NULL,
	ended_at       DATETIME
);

CREATE INDEX IF NOT EXISTS idx_call_history_batch ON call_history(batch_id);
CREATE INDEX IF NOT EXISTS idx_call_history_vendor ON call_history(vendor_id);
CREATE INDEX IF NOT EXISTS idx_call_history_started ON call_history(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveCall(ctx context.Context, cs model.CallSession) error {
	data, err := json.Marshal(cs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal call")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO call_history (call_id, batch_id, vendor_id, state, failure_reason, session, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(call_id) DO UPDATE SET
		   state = excluded.state,
		   failure_reason = excluded.failure_reason,
		   session = excluded.session,
		   ended_at = excluded.ended_at`,
		cs.CallID, cs.BatchID, cs.VendorID, string(cs.State), string(cs.FailureReason),
		string(data), cs.StartedAt.UTC(), nullTime(cs.EndedAt),
	)
	return eris.Wrapf(err, "sqlite: save call %s", cs.CallID)
}

func (s *SQLiteStore) GetCall(ctx context.Context, callID string) (*model.CallSession, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT session FROM call_history WHERE call_id = ?`, callID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get call %s", callID)
	}
	return decodeSession([]byte(data))
}

func (s *SQLiteStore) ListCalls(ctx context.Context, filter CallFilter) ([]model.CallSession, error) {
	where, args := buildCallFilter(filter, func(int) string { return "?" })
	query := `SELECT session FROM call_history` + where + ` ORDER BY started_at DESC, call_id LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list calls")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CallSession
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan call")
		}
		cs, err := decodeSession([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, *cs)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate calls")
}

// buildCallFilter renders the WHERE clause; placeholder maps a 1-based
// argument index to the driver's bind syntax.
func buildCallFilter(f CallFilter, placeholder func(int) string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, cond+placeholder(len(args)))
	}
	if f.VendorID != "" {
		add("vendor_id = ", f.VendorID)
	}
	if f.BatchID != "" {
		add("batch_id = ", f.BatchID)
	}
	if f.State != "" {
		add("state = ", string(f.State))
	}
	if !f.StartedAfter.IsZero() {
		add("started_at >= ", f.StartedAfter.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func decodeSession(data []byte) (*model.CallSession, error) {
	var cs model.CallSession
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, eris.Wrap(err, "store: decode call session")
	}
	return &cs, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
