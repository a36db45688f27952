// Package store is the PostgreSQL backend of the import profiles. It
// preloads lookup data and commits batches of records, one transaction per
// batch, so a batch either persists completely or not at all.
package store

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed schema.sql
var schemaSQL string

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Pool is a DBTX that can start transactions, such as *pgxpool.Pool.
type Pool interface {
	DBTX
	Begin(context.Context) (pgx.Tx, error)
}

// Store runs queries against a Pool.
type Store struct {
	pool   Pool
	logger *slog.Logger
}

func New(pool Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger.With("component", "store")}
}

// EnsureSchema creates the tables the profiles and run history use.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// insertReturning runs query once per argument list inside one transaction
// and returns the id each statement returned, in order.
func (s *Store) insertReturning(ctx context.Context, query string, args [][]any) (ids []int64, err error) {
	if len(args) == 0 {
		return nil, nil
	}

	err = s.inTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, a := range args {
			batch.Queue(query, a...)
		}

		br := tx.SendBatch(ctx, batch)
		ids = make([]int64, len(args))
		for i := range args {
			if err := br.QueryRow().Scan(&ids[i]); err != nil {
				_ = br.Close()
				return fmt.Errorf("record %d: %w", i, err)
			}
		}
		return br.Close()
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// execEach runs query once per argument list inside one transaction. Every
// statement must affect exactly one row.
func (s *Store) execEach(ctx context.Context, query string, args [][]any) error {
	if len(args) == 0 {
		return nil
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, a := range args {
			batch.Queue(query, a...)
		}

		br := tx.SendBatch(ctx, batch)
		for i := range args {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return fmt.Errorf("record %d: %w", i, err)
			}
			if tag.RowsAffected() != 1 {
				_ = br.Close()
				return fmt.Errorf("record %d: %w", i, ErrNotFound)
			}
		}
		return br.Close()
	})
}

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
