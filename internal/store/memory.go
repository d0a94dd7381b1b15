package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/parcel-linkage/internal/parcel"
)

// MemStore is an in-process Store enforcing the same composite key as the
// canonical_property table
type MemStore struct {
	mu      sync.RWMutex
	records map[parcel.Key]parcel.Record
}

// NewMemStore returns a store seeded with recs
func NewMemStore(recs ...parcel.Record) *MemStore {
	s := &MemStore{records: make(map[parcel.Key]parcel.Record)}
	for _, r := range recs {
		s.records[memKey(r.Key)] = r
	}
	return s
}

// municipality compares case-insensitively, matching the lower(municipality)
// unique index
func memKey(k parcel.Key) parcel.Key {
	return parcel.Key{ParcelID: k.ParcelID, Municipality: strings.ToUpper(k.Municipality)}
}

func (s *MemStore) Load(_ context.Context, municipality string) ([]parcel.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []parcel.Record
	for _, r := range s.records {
		if strings.EqualFold(r.Municipality, municipality) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParcelID < out[j].ParcelID })
	return out, nil
}

func (s *MemStore) FindByParcelIDs(_ context.Context, ids []string) ([]parcel.Record, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []parcel.Record
	for _, r := range s.records {
		if want[r.ParcelID] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out, nil
}

func (s *MemStore) InsertBatch(_ context.Context, recs []parcel.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[parcel.Key]bool, len(recs))
	for _, r := range recs {
		k := memKey(r.Key)
		if _, ok := s.records[k]; ok || seen[k] {
			return fmt.Errorf("insert %s: %w", r.Key, ErrDuplicate)
		}
		seen[k] = true
	}
	for _, r := range recs {
		s.records[memKey(r.Key)] = r
	}
	return nil
}

func (s *MemStore) Insert(ctx context.Context, rec parcel.Record) error {
	return s.InsertBatch(ctx, []parcel.Record{rec})
}

func (s *MemStore) Update(_ context.Context, rec parcel.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := memKey(rec.Key)
	if _, ok := s.records[k]; !ok {
		return fmt.Errorf("update %s: %w", rec.Key, ErrNotFound)
	}
	s.records[k] = rec
	return nil
}

func (s *MemStore) Count(_ context.Context, municipality string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.records {
		if strings.EqualFold(r.Municipality, municipality) {
			n++
		}
	}
	return n, nil
}
