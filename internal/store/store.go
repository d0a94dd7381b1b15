// Package store persists canonical parcel records. The Writer applies a
// linkage plan against any Store; PostgresStore is the production backend and
// MemStore mirrors its constraint behaviour for tests and dry runs.
package store

import (
	"context"
	"errors"

	"github.com/lib/pq"

	"github.com/parcel-linkage/internal/parcel"
)

// ErrDuplicate is returned by MemStore when a (parcel, municipality) key
// already exists
var ErrDuplicate = errors.New("duplicate parcel key")

// ErrNotFound is returned when an update targets a key that does not exist
var ErrNotFound = errors.New("parcel not found")

const uniqueViolation = pq.ErrorCode("23505")

// Store is the canonical record port
type Store interface {
	// Load returns every record of a municipality ordered by parcel identifier
	Load(ctx context.Context, municipality string) ([]parcel.Record, error)
	// FindByParcelIDs returns records in any municipality carrying one of ids
	FindByParcelIDs(ctx context.Context, ids []string) ([]parcel.Record, error)
	// InsertBatch inserts all of recs or none of them
	InsertBatch(ctx context.Context, recs []parcel.Record) error
	Insert(ctx context.Context, rec parcel.Record) error
	// Update replaces the record with rec's key
	Update(ctx context.Context, rec parcel.Record) error
	Count(ctx context.Context, municipality string) (int, error)
}

// IsUniqueViolation reports whether err is a composite key collision
func IsUniqueViolation(err error) bool {
	if errors.Is(err, ErrDuplicate) {
		return true
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
