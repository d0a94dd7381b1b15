package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcel-linkage/internal/parcel"
)

func fp(v float64) *float64 { return &v }

func record(id, muni, addr, owner string) parcel.Record {
	return parcel.Record{
		Key:        parcel.Key{ParcelID: id, Municipality: muni},
		Attributes: parcel.Attributes{Address: addr, OwnerName: owner},
		Provenance: string(parcel.SourceSpreadsheet),
	}
}

func newWriter(s Store, batch int) *Writer {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return NewWriter(s, WriterOptions{
		BatchSize: batch,
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return fixed },
	})
}

func TestApplyInsertsInBatches(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	w := newWriter(s, 2)

	rep := w.Apply(ctx, []parcel.Record{
		record("1", "Goshen", "1 ELM STREET", "A"),
		record("2", "Goshen", "2 ELM STREET", "B"),
		record("3", "Goshen", "3 ELM STREET", "C"),
	}, nil)

	assert.Equal(t, 3, rep.Inserted)
	assert.Empty(t, rep.Errors)
	n, err := s.Count(ctx, "goshen")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	recs, err := s.Load(ctx, "Goshen")
	require.NoError(t, err)
	assert.Equal(t, 2026, recs[0].LastUpdated.Year())
}

func TestApplyCollisionFallsBackToMerge(t *testing.T) {
	ctx := context.Background()
	existing := record("141/5/72", "Torrington", "12 MARGERIE STREET", "SMITH JOHN")
	s := NewMemStore(existing)
	w := newWriter(s, 10)

	incoming := record("141/5/72", "Torrington", "", "")
	incoming.YearBuilt = intp(1952)

	rep := w.Apply(ctx, []parcel.Record{
		record("141/5/90", "Torrington", "90 MARGERIE STREET", ""),
		incoming,
	}, nil)

	assert.Equal(t, 1, rep.Inserted, "the rest of the batch still lands")
	assert.Equal(t, 1, rep.Merged)
	assert.Equal(t, 0, rep.Skipped)

	got, err := s.FindByParcelIDs(ctx, []string{"141/5/72"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "SMITH JOHN", got[0].OwnerName, "empty values never overwrite")
	assert.Equal(t, 1952, *got[0].YearBuilt)
	assert.Equal(t, "Torrington", got[0].Municipality)
}

func TestApplySameIdentifierInAnotherMunicipalityIsInserted(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(record("7", "Goshen", "7 OAK HILL", "A"))
	rep := newWriter(s, 10).Apply(ctx, []parcel.Record{record("7", "Litchfield", "7 MAIN STREET", "B")}, nil)
	assert.Equal(t, 1, rep.Inserted)

	got, err := s.FindByParcelIDs(ctx, []string{"7"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

// legacyStore enforces a unique index on parcel_id alone, as older
// deployments of the table did
type legacyStore struct {
	*MemStore
}

func (s legacyStore) taken(ctx context.Context, recs []parcel.Record) bool {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ParcelID
	}
	found, _ := s.FindByParcelIDs(ctx, ids)
	return len(found) > 0
}

func (s legacyStore) InsertBatch(ctx context.Context, recs []parcel.Record) error {
	if s.taken(ctx, recs) {
		return ErrDuplicate
	}
	return s.MemStore.InsertBatch(ctx, recs)
}

func (s legacyStore) Insert(ctx context.Context, rec parcel.Record) error {
	return s.InsertBatch(ctx, []parcel.Record{rec})
}

func TestApplyCrossMunicipalityCollisionIsSkipped(t *testing.T) {
	ctx := context.Background()
	s := legacyStore{NewMemStore(record("7", "Goshen", "7 OAK HILL", "A"))}

	rep := newWriter(s, 10).Apply(ctx, []parcel.Record{
		record("7", "Litchfield", "7 MAIN STREET", "B"),
		record("8", "Litchfield", "8 MAIN STREET", "C"),
	}, nil)

	assert.Equal(t, 1, rep.Inserted)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 0, rep.Merged)

	got, err := s.FindByParcelIDs(ctx, []string{"7"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Goshen", got[0].Municipality, "the other municipality's record is untouched")
}

func TestNewWriterCapsBatchAtBindLimit(t *testing.T) {
	w := NewWriter(NewMemStore(), WriterOptions{BatchSize: 10000})
	assert.LessOrEqual(t, w.opt.BatchSize*len(writeColumns), 65535)
}

func TestApplyUpdates(t *testing.T) {
	ctx := context.Background()
	existing := record("141/5/72", "Torrington", "12 MARGERIE STREET", "SMITH JOHN")
	existing.AssessedTotal = fp(100000)
	s := NewMemStore(existing)
	w := newWriter(s, 10)

	tests := []struct {
		name      string
		incoming  parcel.Record
		auth      bool
		wantOwner string
		check     func(*testing.T, WriteReport)
	}{
		{
			name:      "identical input is unchanged",
			incoming:  existing,
			auth:      true,
			wantOwner: "SMITH JOHN",
			check:     func(t *testing.T, r WriteReport) { assert.Equal(t, 1, r.Unchanged) },
		},
		{
			name:      "supplementary owner does not replace",
			incoming:  record("141/5/72", "Torrington", "", "SMYTH J"),
			auth:      false,
			wantOwner: "SMITH JOHN",
			check:     func(t *testing.T, r WriteReport) { assert.Equal(t, 0, r.Updated) },
		},
		{
			name:      "spreadsheet owner refreshes",
			incoming:  record("141/5/72", "Torrington", "12 MARGERIE STREET", "JONES MARY"),
			auth:      true,
			wantOwner: "JONES MARY",
			check:     func(t *testing.T, r WriteReport) { assert.Equal(t, 1, r.Updated) },
		},
		{
			name:      "municipality change is rejected",
			incoming:  record("141/5/72", "Winchester", "12 MARGERIE STREET", "X"),
			auth:      true,
			wantOwner: "JONES MARY",
			check: func(t *testing.T, r WriteReport) {
				assert.Equal(t, 1, r.Skipped)
				require.Len(t, r.Errors, 1)
				assert.ErrorIs(t, r.Errors[0], parcel.ErrMunicipalityConflict)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := s.Load(ctx, "Torrington")
			require.NoError(t, err)
			require.Len(t, recs, 1)

			rep := w.Apply(ctx, nil, []Update{{Existing: recs[0], Incoming: tt.incoming, Authoritative: tt.auth}})
			tt.check(t, rep)

			recs, err = s.Load(ctx, "Torrington")
			require.NoError(t, err)
			assert.Equal(t, tt.wantOwner, recs[0].OwnerName)
			assert.Equal(t, "Torrington", recs[0].Municipality)
		})
	}
}

func TestDryRunLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	w := NewWriter(s, WriterOptions{DryRun: true, Logger: zerolog.Nop()})

	rep := w.Apply(ctx, []parcel.Record{record("1", "Goshen", "1 ELM STREET", "")}, nil)
	assert.Equal(t, 1, rep.Inserted)
	n, _ := s.Count(ctx, "Goshen")
	assert.Zero(t, n)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.True(t, IsUniqueViolation(errors.Join(errors.New("insert"), ErrDuplicate)))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
}

func TestInsertSQLPlaceholders(t *testing.T) {
	q := insertSQL(2)
	assert.Contains(t, q, "($1, $2,")
	assert.Contains(t, q, "ST_GeomFromText($21, 4326)")
	assert.Contains(t, q, "ST_GeomFromText($47, 4326)")
	assert.Contains(t, q, "$52)")

	u := updateSQL()
	assert.Contains(t, u, "address = $3")
	assert.Contains(t, u, "WHERE parcel_id = $1 AND lower(municipality) = lower($2)")
	assert.Len(t, recordArgs(record("1", "Goshen", "", "")), len(writeColumns))
}

func intp(v int) *int { return &v }
