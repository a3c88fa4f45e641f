package storesql

import (
	"context"
	"database/sql"
)

type txContextKey struct{}

// withTx attaches tx to ctx so a nested Engine.WithTx call (same goroutine, same
// request) detects it is already inside a transaction and opens a savepoint
// instead of a fresh BEGIN.
func withTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

func txFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txContextKey{}).(*sql.Tx)
	return tx, ok
}
