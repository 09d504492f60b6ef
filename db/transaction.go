package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/maxpert/fieldsync/telemetry"
	"github.com/rs/zerolog/log"
)

// sqlBuilder is any goqu dataset that renders to SQL
type sqlBuilder interface {
	ToSQL() (string, []interface{}, error)
}

type txKey struct{}

// txState is the transaction carried by a context, plus work deferred
// until the outermost transaction ends.
type txState struct {
	store       *Store
	tx          *sql.Tx
	afterCommit []func()
	onFinish    []func()
}

// RunInTransaction runs fn inside a transaction. A context already carrying
// a transaction of this store joins it; only the outermost call commits.
// Hooks registered with AfterCommit run once after that commit and are
// discarded on rollback.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if st, ok := ctx.Value(txKey{}).(*txState); ok && st.store == s {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	st := &txState{store: s, tx: tx}
	txCtx := context.WithValue(ctx, txKey{}, st)

	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				log.Error().Err(rbErr).Msg("Unable to roll back transaction")
			}
		}
		for _, hook := range st.onFinish {
			hook()
		}
	}()

	if err = fn(txCtx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	for _, hook := range st.afterCommit {
		hook()
	}
	return nil
}

// AfterCommit schedules hook to run after the transaction carried by ctx
// commits. Outside a transaction the hook runs immediately.
func AfterCommit(ctx context.Context, hook func()) {
	if st, ok := ctx.Value(txKey{}).(*txState); ok {
		st.afterCommit = append(st.afterCommit, hook)
		return
	}
	hook()
}

// onTransactionFinish schedules hook for when the outermost transaction
// ends, whether it committed or not.
func onTransactionFinish(ctx context.Context, hook func()) {
	if st, ok := ctx.Value(txKey{}).(*txState); ok {
		st.onFinish = append(st.onFinish, hook)
		return
	}
	hook()
}

func (s *Store) txFrom(ctx context.Context) (*sql.Tx, error) {
	st, ok := ctx.Value(txKey{}).(*txState)
	if !ok || st.store != s {
		return nil, fmt.Errorf("no transaction in context")
	}
	return st.tx, nil
}

func (s *Store) exec(ctx context.Context, b sqlBuilder) (sql.Result, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build statement: %w", err)
	}
	return s.execRaw(ctx, query, args...)
}

func (s *Store) execRaw(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	tx, err := s.txFrom(ctx)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %q: %w", query, err)
	}
	return res, nil
}

// queryMaps runs a select and returns each row keyed by column name
func (s *Store) queryMaps(ctx context.Context, b sqlBuilder) ([]map[string]interface{}, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	tx, err := s.txFrom(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", query, err)
	}
	er := &EnhancedRows{rows}
	defer er.Finalize()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		m := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				m[c] = string(b)
			} else {
				m[c] = vals[i]
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// queryInt scans a single integer result, treating NULL as zero
func (s *Store) queryInt(ctx context.Context, b sqlBuilder) (int64, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}
	tx, err := s.txFrom(ctx)
	if err != nil {
		return 0, err
	}
	var n sql.NullInt64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to query %q: %w", query, err)
	}
	return n.Int64, nil
}

// instrument records latency and outcome of a row operation
func instrument(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	telemetry.RowOperationDurationSeconds.With(op).Observe(time.Since(start).Seconds())
	telemetry.RowOperationsTotal.With(op, resultLabel(err)).Inc()
	return err
}

// instrumentTable records latency and outcome of a table operation
func instrumentTable(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	telemetry.TableOperationDurationSeconds.With(op).Observe(time.Since(start).Seconds())
	telemetry.TableOperationsTotal.With(op, resultLabel(err)).Inc()
	return err
}
