package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Generic repository errors, matched with errors.Is by handlers.
var (
	ErrNotFound   = errors.New("requested item not found")
	ErrConflict   = errors.New("item already exists or conflict")
	ErrBadRequest = errors.New("invalid request data")
)

// Identity resolution errors surfaced by the ingest pipeline. Callers
// (ingestion workers) are expected to log and retry at their own
// cadence; only transient uniqueness races are retried internally.
var (
	ErrMissingAddress           = errors.New("report has no usable address")
	ErrMissingGeocoordinates    = errors.New("report has no geocoordinates")
	ErrInvalidCountryData       = errors.New("invalid country data")
	ErrInvalidCityData          = errors.New("invalid city data")
	ErrSlugConflictUnresolvable = errors.New("slug conflict could not be resolved")
	ErrUniqueConstraintRace     = errors.New("uniqueness race not resolved after retries")
)

// Merge manager errors.
var (
	ErrAlreadyMerged = errors.New("venue already carries a merge redirect")
	// ErrMergeChainRejected wraps ErrAlreadyMerged: a redirected venue
	// used as merge primary is both "already merged" and a would-be
	// redirect chain, and callers match either sentinel.
	ErrMergeChainRejected = fmt.Errorf("merge would create a redirect chain: %w", ErrAlreadyMerged)
	ErrAlreadyRejected    = errors.New("pair already has a standing rejection")
	ErrMergeConflict      = errors.New("concurrent merge in progress, retry after re-reading state")
)

// Postgres error codes the repositories branch on.
const (
	PGUniqueViolation  = "23505"
	PGLockNotAvailable = "55P03"
)

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation, optionally on a specific constraint name.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != PGUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// IsLockNotAvailable reports whether err is a failed NOWAIT row lock,
// i.e. a concurrent transaction holds the row.
func IsLockNotAvailable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == PGLockNotAvailable
}

// PGXPool is the subset of pgxpool.Pool the repositories use. Declared
// as an interface so repository tests can substitute a pgxmock pool.
type PGXPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}
