package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// RunReadOnly executes a query the database itself refuses to write with:
// PRAGMA query_only on SQLite, a READ ONLY transaction on Postgres. At most
// maxRows rows are returned; Truncated reports whether more were available.
// Callers must still gate the statement; this is the second line of defence.
func (s *Store) RunReadOnly(ctx context.Context, query string, maxRows int) (ResultSet, error) {
	if maxRows <= 0 {
		maxRows = 100
	}

	switch s.dialect {
	case DialectPostgres:
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return ResultSet{}, fmt.Errorf("beginning read-only transaction: %w", err)
		}
		defer tx.Rollback()

		rows, err := tx.QueryContext(ctx, query)
		if err != nil {
			return ResultSet{}, fmt.Errorf("running read-only query: %w", err)
		}
		return collectRows(rows, maxRows)

	default:
		conn, err := s.db.Conn(ctx)
		if err != nil {
			return ResultSet{}, fmt.Errorf("acquiring connection: %w", err)
		}
		defer conn.Close()

		if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
			return ResultSet{}, fmt.Errorf("enabling query_only: %w", err)
		}
		defer func() {
			if _, err := conn.ExecContext(context.Background(), "PRAGMA query_only = OFF"); err != nil {
				slog.Error("failed to reset query_only pragma", "error", err)
			}
		}()

		rows, err := conn.QueryContext(ctx, query)
		if err != nil {
			return ResultSet{}, fmt.Errorf("running read-only query: %w", err)
		}
		return collectRows(rows, maxRows)
	}
}

func collectRows(rows *sql.Rows, maxRows int) (ResultSet, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return ResultSet{}, fmt.Errorf("reading columns: %w", err)
	}
	rs := ResultSet{Columns: cols, Rows: [][]any{}}

	for rows.Next() {
		if len(rs.Rows) == maxRows {
			rs.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return ResultSet{}, fmt.Errorf("scanning row: %w", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		rs.Rows = append(rs.Rows, vals)
	}
	return rs, rows.Err()
}
