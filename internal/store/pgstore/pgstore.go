// Package pgstore implements the store contract on PostgreSQL. Rows live in
// per-kind tables as a jsonb document keyed by id; the change feed rides on
// LISTEN/NOTIFY with trigger-emitted before/after row images.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tanklink/tanklink/internal/platform/db"
	"github.com/tanklink/tanklink/internal/store"
)

const notifyChannel = "tanklink_changes"

// undefinedTable is the PostgreSQL error code for a missing relation.
const undefinedTable = "42P01"

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	pool     *pgxpool.Pool
	logger   *slog.Logger
	notifier *notifier
}

// New constructs a Store over an existing pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		pool:     pool,
		logger:   logger,
		notifier: newNotifier(pool, logger),
	}
}

// EnsureSchema creates the document tables and the change-notification
// triggers for the given table names.
func (s *Store) EnsureSchema(ctx context.Context, tables []string) error {
	const fn = `
		CREATE OR REPLACE FUNCTION tanklink_notify_change() RETURNS trigger AS $$
		DECLARE
			payload jsonb;
		BEGIN
			payload := jsonb_build_object(
				'table', TG_TABLE_NAME,
				'kind', lower(TG_OP),
				'before', CASE WHEN TG_OP = 'INSERT' THEN NULL ELSE OLD.doc END,
				'after',  CASE WHEN TG_OP = 'DELETE' THEN NULL ELSE NEW.doc END
			);
			PERFORM pg_notify('` + notifyChannel + `', payload::text);
			RETURN NULL;
		END;
		$$ LANGUAGE plpgsql;
	`
	if _, err := s.pool.Exec(ctx, fn); err != nil {
		return fmt.Errorf("pgstore: create notify function: %w", err)
	}
	for _, table := range tables {
		ident := pgx.Identifier{table}.Sanitize()
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id text PRIMARY KEY, doc jsonb NOT NULL)`, ident)
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("pgstore: create table %s: %w", table, err)
		}
		trigger := fmt.Sprintf(`
			DROP TRIGGER IF EXISTS %s ON %s;
			CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s
			FOR EACH ROW EXECUTE FUNCTION tanklink_notify_change();
		`, pgx.Identifier{table + "_notify"}.Sanitize(), ident,
			pgx.Identifier{table + "_notify"}.Sanitize(), ident)
		if _, err := s.pool.Exec(ctx, trigger); err != nil {
			return fmt.Errorf("pgstore: create trigger on %s: %w", table, err)
		}
	}
	return nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, table, id string) (store.Row, error) {
	query := fmt.Sprintf(`SELECT doc FROM %s WHERE id = $1`, pgx.Identifier{table}.Sanitize())
	var doc []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNoRow
		}
		return nil, describePgErr("get", table, err)
	}
	return decodeRow(doc)
}

// Select implements store.Store.
func (s *Store) Select(ctx context.Context, table string, q store.Query) ([]store.Row, error) {
	ident := pgx.Identifier{table}.Sanitize()
	query := fmt.Sprintf(`SELECT doc FROM %s`, ident)
	var args []any
	if q.Filter != nil {
		args = append(args, fmt.Sprint(q.Filter.Value))
		query += fmt.Sprintf(` WHERE doc->>%s = $1`, quoteLiteral(q.Filter.Column))
	}
	sortColumn, direction := "id", "ASC"
	if q.Sort != nil {
		sortColumn = q.Sort.Column
		if q.Sort.Desc {
			direction = "DESC"
		}
	}
	query += fmt.Sprintf(` ORDER BY doc->>%s %s, id ASC`, quoteLiteral(sortColumn), direction)
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}
	if q.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, q.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, describePgErr("select", table, err)
	}
	defer rows.Close()
	var out []store.Row
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		row, err := decodeRow(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, describePgErr("select", table, err)
	}
	return out, nil
}

// Upsert implements store.Store.
func (s *Store) Upsert(ctx context.Context, table, id string, row store.Row) error {
	return upsert(ctx, s.pool, table, id, row)
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, table, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, pgx.Identifier{table}.Sanitize())
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return describePgErr("delete", table, err)
	}
	return nil
}

// Watch implements store.Store. All watches share one LISTEN connection.
func (s *Store) Watch(ctx context.Context, req store.WatchRequest, fn store.EventFunc) (store.UnwatchFunc, error) {
	return s.notifier.watch(ctx, req, fn)
}

// RunAtomic implements store.Atomic with one repeatable-read transaction.
func (s *Store) RunAtomic(ctx context.Context, fn func(store.Store) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&txStore{tx: tx, outer: s})
	})
}

// txStore runs writes inside an open transaction. Watch is not available in
// a transaction scope.
type txStore struct {
	tx    pgx.Tx
	outer *Store
}

func (t *txStore) Get(ctx context.Context, table, id string) (store.Row, error) {
	query := fmt.Sprintf(`SELECT doc FROM %s WHERE id = $1`, pgx.Identifier{table}.Sanitize())
	var doc []byte
	err := t.tx.QueryRow(ctx, query, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNoRow
		}
		return nil, describePgErr("get", table, err)
	}
	return decodeRow(doc)
}

func (t *txStore) Select(ctx context.Context, table string, q store.Query) ([]store.Row, error) {
	return t.outer.Select(ctx, table, q)
}

func (t *txStore) Upsert(ctx context.Context, table, id string, row store.Row) error {
	return upsert(ctx, t.tx, table, id, row)
}

func (t *txStore) Delete(ctx context.Context, table, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, pgx.Identifier{table}.Sanitize())
	if _, err := t.tx.Exec(ctx, query, id); err != nil {
		return describePgErr("delete", table, err)
	}
	return nil
}

func (t *txStore) Watch(context.Context, store.WatchRequest, store.EventFunc) (store.UnwatchFunc, error) {
	return nil, store.ErrWatchUnsupported
}

// execer covers both the pool and an open transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsert(ctx context.Context, db execer, table, id string, row store.Row) error {
	stored := row.Clone()
	if stored == nil {
		stored = store.Row{}
	}
	stored["id"] = id
	doc, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("pgstore: encode row: %w", err)
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (id, doc) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`,
		pgx.Identifier{table}.Sanitize())
	if _, err := db.Exec(ctx, query, id, doc); err != nil {
		return describePgErr("upsert", table, err)
	}
	return nil
}

func decodeRow(doc []byte) (store.Row, error) {
	var row store.Row
	if err := json.Unmarshal(doc, &row); err != nil {
		return nil, fmt.Errorf("pgstore: decode row: %w", err)
	}
	return row, nil
}

// describePgErr adds a readable hint for the most common operational
// failure, a table that was never created.
func describePgErr(op, table string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
		return fmt.Errorf("pgstore: %s %s: table missing, run EnsureSchema first: %w", op, table, err)
	}
	return fmt.Errorf("pgstore: %s %s: %w", op, table, err)
}

// quoteLiteral quotes a JSON key for use behind the ->> operator.
func quoteLiteral(s string) string {
	out := make([]rune, 0, len(s)+2)
	out = append(out, '\'')
	for _, r := range s {
		if r == '\'' {
			out = append(out, '\'')
		}
		out = append(out, r)
	}
	return string(append(out, '\''))
}
