package adapters

import "context"

// IsolationLevel is the transaction isolation level requested from BeginTx.
type IsolationLevel int

const (
	ReadCommitted IsolationLevel = iota
	RepeatableRead
	Serializable
)

// TxOptions configures a transaction started with BeginTx.
type TxOptions struct {
	Isolation  IsolationLevel
	ReadOnly   bool
	UseReplica bool
}

// DBQuerier defines the statement execution shared by connections and transactions.
type DBQuerier interface {
	Query(ctx context.Context, query string) (DBRows, error)
	Exec(ctx context.Context, query string) (DBResult, error)
}

// DBAdapter defines the interface for database operations needed by the event store.
type DBAdapter interface {
	DBQuerier
	BeginTx(ctx context.Context, options TxOptions) (DBTx, error)

	// TextArray returns a scan destination for a Postgres text[] column.
	TextArray(dest *[]string) any
}

// DBTx is a running transaction.
type DBTx interface {
	DBQuerier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DBRows defines the interface for query result rows.
type DBRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// DBResult defines the interface for execution results.
type DBResult interface {
	RowsAffected() (int64, error)
}
