// Package store is the persistence layer. Every function takes a DBTX so the
// same calls work on the pool and inside a transaction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidToken   = errors.New("invalid token")
	ErrAlreadySettled = errors.New("order already settled")
	ErrDuplicateKey   = errors.New("duplicate key")
	ErrStockChanged   = errors.New("stock changed since it was read")
)

// ValidationError reports a caller-supplied value the store refuses to write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// WithTx runs fn inside one transaction, committing only when fn returns nil.
// The pool opens transactions with BEGIN IMMEDIATE, so reads inside fn see
// the rows fn later writes.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// InsufficientStockError is returned when a decrement would take stock below zero.
type InsufficientStockError struct {
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: available %d, requested %d", e.Available, e.Requested)
}

// DuplicateKeyError names the key that collided. It matches ErrDuplicateKey.
type DuplicateKeyError struct {
	Field string
	Key   string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s '%s' already exists", e.Field, e.Key)
}

func (e *DuplicateKeyError) Unwrap() error { return ErrDuplicateKey }

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
