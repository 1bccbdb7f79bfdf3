// Package store provides persistence for organizations, source connections,
// and the synchronized mirror of external equipment records.
package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrOrgNotFound is returned when an organization does not exist.
	ErrOrgNotFound = errors.New("organization not found")

	// ErrRecordNotFound is returned when a mirror record does not exist.
	ErrRecordNotFound = errors.New("record not found")

	// ErrConnectionNotFound is returned when an organization has no source
	// connection row, i.e. it has never been synced.
	ErrConnectionNotFound = errors.New("source connection not found")
)

// Store runs queries against the application database.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by the given connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying connection pool for callers that manage their
// own transactions.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}
