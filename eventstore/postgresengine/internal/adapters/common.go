package adapters

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// stdRows wraps standard library sql.Rows to implement DBRows interface.
type stdRows struct {
	rows *sql.Rows
}

// Next advances to the next row.
func (s *stdRows) Next() bool {
	return s.rows.Next()
}

// Scan copies row values into provided destinations.
func (s *stdRows) Scan(dest ...any) error {
	return s.rows.Scan(dest...)
}

func (s *stdRows) Err() error {
	return s.rows.Err()
}

// Close closes the rows iterator.
func (s *stdRows) Close() error {
	return s.rows.Close()
}

// stdResult wraps standard library sql.Result to implement DBResult interface.
type stdResult struct {
	result sql.Result
}

// RowsAffected returns the number of rows affected by the command.
func (s *stdResult) RowsAffected() (int64, error) {
	return s.result.RowsAffected()
}

// stdTx wraps sql.Tx to implement the DBTx interface.
// The context arguments of Commit and Rollback are unused, database/sql binds the context in BeginTx.
type stdTx struct {
	tx *sql.Tx
}

func (s *stdTx) Query(ctx context.Context, query string) (DBRows, error) {
	rows, err := s.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdRows{rows: rows}, nil
}

func (s *stdTx) Exec(ctx context.Context, query string) (DBResult, error) {
	result, err := s.tx.ExecContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdResult{result: result}, nil
}

func (s *stdTx) Commit(_ context.Context) error {
	return s.tx.Commit()
}

func (s *stdTx) Rollback(_ context.Context) error {
	return s.tx.Rollback()
}

func toStdTxOptions(options TxOptions) *sql.TxOptions {
	stdOptions := &sql.TxOptions{ReadOnly: options.ReadOnly}

	switch options.Isolation {
	case Serializable:
		stdOptions.Isolation = sql.LevelSerializable
	case RepeatableRead:
		stdOptions.Isolation = sql.LevelRepeatableRead
	default:
		stdOptions.Isolation = sql.LevelReadCommitted
	}

	return stdOptions
}

// stdTextArray scans Postgres text[] columns for database/sql based adapters.
func stdTextArray(dest *[]string) any {
	return pq.Array(dest)
}
