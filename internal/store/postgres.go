package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/quote-sourcing/internal/model"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore. pgxmock pools
// satisfy it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements CallStore using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS call_history (
	call_id        TEXT PRIMARY KEY,
	batch_id       TEXT NOT NULL DEFAULT '',
	vendor_id      TEXT NOT NULL,
	state          TEXT NOT NULL,
	failure_reason TEXT NOT NULL DEFAULT '',
	session        JSONB NOT NULL,
	started_at     TIMESTAMPTZ NOT NULL,
	ended_at       TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_call_history_batch ON call_history(batch_id);
CREATE INDEX IF NOT EXISTS idx_call_history_vendor ON call_history(vendor_id);
CREATE INDEX IF NOT EXISTS idx_call_history_started ON call_history(started_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveCall(ctx context.Context, cs model.CallSession) error {
	data, err := json.Marshal(cs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal call")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO call_history (call_id, batch_id, vendor_id, state, failure_reason, session, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (call_id) DO UPDATE SET
		   state = EXCLUDED.state,
		   failure_reason = EXCLUDED.failure_reason,
		   session = EXCLUDED.session,
		   ended_at = EXCLUDED.ended_at`,
		cs.CallID, cs.BatchID, cs.VendorID, string(cs.State), string(cs.FailureReason),
		data, cs.StartedAt.UTC(), nullTime(cs.EndedAt),
	)
	return eris.Wrapf(err, "postgres: save call %s", cs.CallID)
}

func (s *PostgresStore) GetCall(ctx context.Context, callID string) (*model.CallSession, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT session FROM call_history WHERE call_id = $1`, callID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get call %s", callID)
	}
	return decodeSession(data)
}

func (s *PostgresStore) ListCalls(ctx context.Context, filter CallFilter) ([]model.CallSession, error) {
	where, args := buildCallFilter(filter, func(i int) string { return fmt.Sprintf("$%d", i) })
	args = append(args, limitOrDefault(filter.Limit))
	query := fmt.Sprintf(`SELECT session FROM call_history%s ORDER BY started_at DESC, call_id LIMIT $%d`, where, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list calls")
	}
	defer rows.Close()

	var out []model.CallSession
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan call")
		}
		cs, err := decodeSession(data)
		if err != nil {
			return nil, err
		}
		out = append(out, *cs)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate calls")
}
