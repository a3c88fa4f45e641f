// Package storesql is the storage-engine abstraction: a
// single CRUD + full-text-search surface running over one of three SQL dialects
// (embedded SQLite, networked PostgreSQL, networked MySQL).
//
// Rather than giving PostgreSQL a pgxpool-native type and SQLite a
// database/sql-native type with two different method surfaces, storesql uses
// database/sql uniformly across all three dialects (PostgreSQL via
// jackc/pgx/v5's stdlib adapter). One Engine type serves every dialect; only
// placeholder style, boolean literal translation, and full-text setup SQL vary
// per Dialect.
package storesql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/smallnest/memorigo/internal/log"
)

// Dialect names the SQL dialect an Engine is running against.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// Placeholder returns the nth (1-indexed) bound-parameter placeholder for this
// dialect: "?" for SQLite/MySQL, "$N" for PostgreSQL.
func (d Dialect) Placeholder(n int) string {
	if d == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// BoolLiteral translates a Go bool into the value this dialect's driver expects:
// PostgreSQL accepts native bool; SQLite and MySQL (via their Go drivers) are given
// 0/1.
func (d Dialect) BoolLiteral(b bool) any {
	if d == DialectPostgres {
		return b
	}
	if b {
		return 1
	}
	return 0
}

// IsBooleanColumn recognizes the column-name patterns the boolean translator
// keys on: is_, has_, *_processed, *_eligible.
func IsBooleanColumn(name string) bool {
	n := strings.ToLower(name)
	return strings.HasPrefix(n, "is_") ||
		strings.HasPrefix(n, "has_") ||
		strings.HasSuffix(n, "_processed") ||
		strings.HasSuffix(n, "_eligible")
}

// SearchHit is one row returned by a dialect's full-text search, annotated with the
// strategy that produced it and its relevance score.
type SearchHit struct {
	MemoryID string
	Tier     string // "short_term" | "long_term"
	Strategy string // "fts" | "like" | "recent"
	Score    float64
}

// FullTextIndex is the per-dialect full-text capability: install once at open,
// then answer ranked-id-list queries that the search path joins back against
// the memory tables.
type FullTextIndex interface {
	// Install creates whatever auxiliary structures (virtual tables, triggers,
	// generated columns, composite indexes) this dialect needs. Idempotent.
	Install(ctx context.Context, db *sql.DB) error
	// Search returns ranked hits for query within namespace, optionally filtered by
	// category, capped at limit. now is compared against short_term_memory's
	// expires_at so an expired, non-permanent row never surfaces.
	// If native full-text search is unavailable at runtime it returns
	// ErrFullTextUnavailable so the caller falls back to LIKE.
	Search(ctx context.Context, db *sql.DB, namespace, query, category string, limit int, now time.Time) ([]SearchHit, error)
}

// ErrFullTextUnavailable signals that native full-text search could not run (the
// virtual-table extension is missing, the index was never installed, …) and the
// caller should fall back to a validated LIKE query.
var ErrFullTextUnavailable = errors.New("storesql: native full-text search unavailable")

// RetryPolicy is the transaction retry policy: transient errors
// (timeout, deadlock, serialization conflict) are retried, up to MaxAttempts
// attempts in all (three by default), with exponential backoff starting at
// 100ms; everything else propagates immediately.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	IsRetryable  func(error) bool
}

// DefaultRetryPolicy returns the standard transient-error policy for the given
// dialect: up to three attempts, exponential backoff starting at 100ms.
func DefaultRetryPolicy(d Dialect) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		IsRetryable:  retryableFor(d),
	}
}

// Do runs fn, retrying transient failures per the policy. Non-retryable errors
// propagate on the first attempt.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := p.InitialDelay
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if p.IsRetryable == nil || !p.IsRetryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		log.Debug("storesql: retrying after transient error (attempt %d/%d): %v", attempt, p.MaxAttempts, err)
		jitter := time.Duration(float64(delay) * 0.25 * (2*rand.Float64() - 1)) //nolint:gosec // jitter only, not security sensitive
		select {
		case <-time.After(delay + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = time.Duration(math.Min(float64(p.MaxDelay), float64(delay)*2))
	}
	return fmt.Errorf("storesql: exhausted %d retries: %w", p.MaxAttempts, lastErr)
}

// Engine is the uniform handle the rest of the pipeline programs against.
type Engine struct {
	DB      *sql.DB
	Dialect Dialect
	FTS     FullTextIndex
	Retry   RetryPolicy

	savepointSeq int64
}

// WithTx runs fn inside a transaction, committing on success and rolling back on
// error or panic, with guaranteed release on all exit paths. Nested calls
// (detected via ctx) use savepoints: true nested transactions don't exist in
// any of the three dialects, but named savepoints (SAVEPOINT sp_N, which all
// three support, SQLite included) give equivalent partial-rollback semantics
// at any nesting depth.
func (e *Engine) WithTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if tx, ok := txFromContext(ctx); ok {
		return e.withSavepoint(ctx, tx, fn)
	}

	return e.Retry.Do(ctx, func() error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("storesql: begin transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback() // no-op if already committed
		}()

		if err := fn(withTx(ctx, tx), tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("storesql: commit: %w", err)
		}
		return nil
	})
}

func (e *Engine) withSavepoint(ctx context.Context, tx *sql.Tx, fn func(ctx context.Context, tx *sql.Tx) error) error {
	name := fmt.Sprintf("sp_%d", atomic.AddInt64(&e.savepointSeq, 1))

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		// SQLite supports SAVEPOINT too, so this only fails for genuine errors.
		return fmt.Errorf("storesql: create savepoint %s: %w", name, err)
	}

	if err := fn(ctx, tx); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("storesql: rollback to savepoint %s after %v: %w", name, err, rbErr)
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("storesql: release savepoint %s: %w", name, err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (e *Engine) Close() error {
	return e.DB.Close()
}
