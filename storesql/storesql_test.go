package storesql_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smallnest/memorigo/storesql"
)

func TestDialectPlaceholder(t *testing.T) {
	require.Equal(t, "?", storesql.DialectSQLite.Placeholder(1))
	require.Equal(t, "?", storesql.DialectMySQL.Placeholder(3))
	require.Equal(t, "$1", storesql.DialectPostgres.Placeholder(1))
	require.Equal(t, "$7", storesql.DialectPostgres.Placeholder(7))
}

func TestDialectBoolLiteral(t *testing.T) {
	require.Equal(t, true, storesql.DialectPostgres.BoolLiteral(true))
	require.Equal(t, false, storesql.DialectPostgres.BoolLiteral(false))
	require.Equal(t, 1, storesql.DialectSQLite.BoolLiteral(true))
	require.Equal(t, 0, storesql.DialectSQLite.BoolLiteral(false))
	require.Equal(t, 1, storesql.DialectMySQL.BoolLiteral(true))
	require.Equal(t, 0, storesql.DialectMySQL.BoolLiteral(false))
}

func TestIsBooleanColumn(t *testing.T) {
	cases := map[string]bool{
		"is_permanent_context": true,
		"has_entities":         true,
		"auto_processed":       true,
		"promotion_eligible":   true,
		"namespace":            false,
		"memory_id":            false,
	}
	for name, want := range cases {
		require.Equal(t, want, storesql.IsBooleanColumn(name), name)
	}
}

func TestRetryPolicyDoRetriesTransientErrors(t *testing.T) {
	transient := errors.New("transient")
	attempts := 0
	policy := storesql.RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		IsRetryable:  func(error) bool { return true },
	}

	err := policy.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return transient
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetryPolicyDoGivesUpOnNonRetryable(t *testing.T) {
	permanent := errors.New("syntax error")
	attempts := 0
	policy := storesql.RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		IsRetryable:  func(error) bool { return false },
	}

	err := policy.Do(context.Background(), func() error {
		attempts++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, attempts, "a non-retryable error must not be retried")
}

func TestRetryPolicyDoExhaustsAttempts(t *testing.T) {
	transient := errors.New("always transient")
	attempts := 0
	policy := storesql.RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		IsRetryable:  func(error) bool { return true },
	}

	err := policy.Do(context.Background(), func() error {
		attempts++
		return transient
	})
	require.Error(t, err)
	require.Equal(t, 3, attempts)
}

func TestOpenSQLiteInstallsSchemaAndFTS(t *testing.T) {
	ctx := context.Background()
	engine, err := storesql.Open(ctx, "sqlite://:memory:")
	require.NoError(t, err)
	defer engine.Close()

	require.Equal(t, storesql.DialectSQLite, engine.Dialect)

	var n int
	err = engine.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='long_term_memory'`).Scan(&n)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	err = engine.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE name='memory_fts'`).Scan(&n)
	require.NoError(t, err)
	require.Equal(t, 1, n, "fts5 virtual table must be installed")
}

func TestWithTxCommitsAndRollsBack(t *testing.T) {
	ctx := context.Background()
	engine, err := storesql.Open(ctx, "sqlite://:memory:")
	require.NoError(t, err)
	defer engine.Close()

	err = engine.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO chat_history (chat_id, namespace, session_id, user_input, ai_output, model, tokens, metadata, created_at)
VALUES ('c1', 'acme', 's1', 'hi', 'hello', 'gpt-4', 1, '{}', ?)`, time.Now())
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, engine.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_history`).Scan(&count))
	require.Equal(t, 1, count)

	boom := errors.New("boom")
	err = engine.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO chat_history (chat_id, namespace, session_id, user_input, ai_output, model, tokens, metadata, created_at)
VALUES ('c2', 'acme', 's1', 'hi', 'hello', 'gpt-4', 1, '{}', ?)`, time.Now())
		if err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, engine.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_history`).Scan(&count))
	require.Equal(t, 1, count, "a failed transaction must roll back its insert")
}

func TestWithTxNestedUsesSavepoints(t *testing.T) {
	ctx := context.Background()
	engine, err := storesql.Open(ctx, "sqlite://:memory:")
	require.NoError(t, err)
	defer engine.Close()

	innerErr := errors.New("inner failure")
	err = engine.WithTx(ctx, func(outerCtx context.Context, outerTx *sql.Tx) error {
		_, err := outerTx.ExecContext(outerCtx, `INSERT INTO chat_history (chat_id, namespace, session_id, user_input, ai_output, model, tokens, metadata, created_at)
VALUES ('outer', 'acme', 's1', 'hi', 'hello', 'gpt-4', 1, '{}', ?)`, time.Now())
		if err != nil {
			return err
		}

		// A nested WithTx call must use a savepoint rather than a second BEGIN
		// (sqlite3 rejects nested BEGIN on one connection).
		return engine.WithTx(outerCtx, func(innerCtx context.Context, innerTx *sql.Tx) error {
			_, err := innerTx.ExecContext(innerCtx, `INSERT INTO chat_history (chat_id, namespace, session_id, user_input, ai_output, model, tokens, metadata, created_at)
VALUES ('inner', 'acme', 's1', 'hi', 'hello', 'gpt-4', 1, '{}', ?)`, time.Now())
			if err != nil {
				return err
			}
			return innerErr
		})
	})
	require.ErrorIs(t, err, innerErr)

	var count int
	require.NoError(t, engine.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_history`).Scan(&count))
	require.Equal(t, 0, count, "the outer transaction must also roll back since WithTx propagated the inner error")
}

func TestWithTxNestedSavepointRollbackIsPartial(t *testing.T) {
	ctx := context.Background()
	engine, err := storesql.Open(ctx, "sqlite://:memory:")
	require.NoError(t, err)
	defer engine.Close()

	innerErr := errors.New("inner failure")
	err = engine.WithTx(ctx, func(outerCtx context.Context, outerTx *sql.Tx) error {
		_, err := outerTx.ExecContext(outerCtx, `INSERT INTO chat_history (chat_id, namespace, session_id, user_input, ai_output, model, tokens, metadata, created_at)
VALUES ('outer', 'acme', 's1', 'hi', 'hello', 'gpt-4', 1, '{}', ?)`, time.Now())
		if err != nil {
			return err
		}

		// The outer function swallows the inner failure: only the savepoint's
		// work should be undone, not the outer insert already made.
		innerTxErr := engine.WithTx(outerCtx, func(innerCtx context.Context, innerTx *sql.Tx) error {
			_, err := innerTx.ExecContext(innerCtx, `INSERT INTO chat_history (chat_id, namespace, session_id, user_input, ai_output, model, tokens, metadata, created_at)
VALUES ('inner', 'acme', 's1', 'hi', 'hello', 'gpt-4', 1, '{}', ?)`, time.Now())
			if err != nil {
				return err
			}
			return innerErr
		})
		require.ErrorIs(t, innerTxErr, innerErr)
		return nil
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, engine.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_history`).Scan(&count))
	require.Equal(t, 1, count, "only the savepoint's insert rolls back; the outer insert commits")

	var chatID string
	require.NoError(t, engine.DB.QueryRowContext(ctx, `SELECT chat_id FROM chat_history`).Scan(&chatID))
	require.Equal(t, "outer", chatID)
}
