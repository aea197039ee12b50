package repo

import (
	"context"
	"errors"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"mediagen/internal/infra"
)

type call struct {
	query string
	args  []any
}

// stubExecutor scripts one response per method and records every call.
type stubExecutor struct {
	execTag  pgconn.CommandTag
	execErr  error
	row      []any
	rowErr   error
	rows     [][]any
	queryErr error

	execs   []call
	queries []call
	txCount int
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.execs = append(s.execs, call{query: query, args: args})
	return s.execTag, s.execErr
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.queries = append(s.queries, call{query: query, args: args})
	return stubRow{values: s.row, err: s.rowErr}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	s.queries = append(s.queries, call{query: query, args: args})
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return &stubRows{values: s.rows, idx: -1}, nil
}

func (s *stubExecutor) InTx(ctx context.Context, fn func(tx infra.SQLExecutor) error) error {
	s.txCount++
	return fn(s)
}

type stubRow struct {
	values []any
	err    error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if r.values == nil {
		return pgx.ErrNoRows
	}
	return assign(dest, r.values)
}

type stubRows struct {
	values [][]any
	idx    int
}

func (r *stubRows) Close()                                       {}
func (r *stubRows) Err() error                                   { return nil }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Values() ([]any, error)                       { return r.values[r.idx], nil }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	r.idx++
	return r.idx < len(r.values)
}

func (r *stubRows) Scan(dest ...any) error {
	return assign(dest, r.values[r.idx])
}

func assign(dest []any, values []any) error {
	if len(dest) != len(values) {
		return errors.New("stub: column count mismatch")
	}
	for i, v := range values {
		target := reflect.ValueOf(dest[i]).Elem()
		if v == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(v))
	}
	return nil
}
