package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/parcel-linkage/internal/metrics"
	"github.com/parcel-linkage/internal/parcel"
)

// Update pairs an existing canonical record with the values to merge into it
type Update struct {
	Existing      parcel.Record
	Incoming      parcel.Record
	Authoritative bool
}

// WriteReport counts what Apply did
type WriteReport struct {
	Inserted  int
	Updated   int
	Unchanged int
	Merged    int // inserts that collided with an existing same-municipality key
	Skipped   int
	Errors    []error
}

// Add accumulates other into r
func (r *WriteReport) Add(other WriteReport) {
	r.Inserted += other.Inserted
	r.Updated += other.Updated
	r.Unchanged += other.Unchanged
	r.Merged += other.Merged
	r.Skipped += other.Skipped
	r.Errors = append(r.Errors, other.Errors...)
}

// maxBindParams is the Postgres limit on parameters in one statement
const maxBindParams = 65535

// WriterOptions configures a Writer
type WriterOptions struct {
	BatchSize int
	DryRun    bool
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Writer applies inserts and updates to a Store. It is used by one
// municipality at a time; writes are never issued concurrently.
type Writer struct {
	store Store
	opt   WriterOptions
}

// NewWriter builds a writer over s
func NewWriter(s Store, opt WriterOptions) *Writer {
	if opt.BatchSize <= 0 {
		opt.BatchSize = 500
	}
	if limit := maxBindParams / len(writeColumns); opt.BatchSize > limit {
		opt.BatchSize = limit
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Writer{store: s, opt: opt}
}

// Apply writes updates first, then inserts in bounded batches. A batch that
// hits a unique violation is retried row by row: a collision with the same
// municipality becomes a merge, anything else is skipped and logged.
func (w *Writer) Apply(ctx context.Context, inserts []parcel.Record, updates []Update) WriteReport {
	var rep WriteReport

	for _, u := range updates {
		if err := ctx.Err(); err != nil {
			rep.Errors = append(rep.Errors, err)
			return rep
		}
		w.update(ctx, u.Existing, u.Incoming, u.Authoritative, &rep, false)
	}

	for start := 0; start < len(inserts); start += w.opt.BatchSize {
		if err := ctx.Err(); err != nil {
			rep.Errors = append(rep.Errors, err)
			return rep
		}
		end := start + w.opt.BatchSize
		if end > len(inserts) {
			end = len(inserts)
		}
		w.insertBatch(ctx, inserts[start:end], &rep)
	}

	w.opt.Metrics.Written("insert", rep.Inserted)
	w.opt.Metrics.Written("update", rep.Updated)
	w.opt.Metrics.Written("merge", rep.Merged)
	w.opt.Metrics.Written("unchanged", rep.Unchanged)
	w.opt.Metrics.Written("skip", rep.Skipped)
	return rep
}

func (w *Writer) insertBatch(ctx context.Context, batch []parcel.Record, rep *WriteReport) {
	now := w.opt.Now().UTC()
	stamped := make([]parcel.Record, len(batch))
	for i, r := range batch {
		r.LastUpdated = now
		stamped[i] = r
	}

	if w.opt.DryRun {
		rep.Inserted += len(stamped)
		return
	}

	err := w.store.InsertBatch(ctx, stamped)
	if err == nil {
		rep.Inserted += len(stamped)
		return
	}
	if !IsUniqueViolation(err) {
		w.opt.Logger.Error().Err(err).Int("rows", len(stamped)).Msg("batch insert failed")
		rep.Errors = append(rep.Errors, err)
		rep.Skipped += len(stamped)
		return
	}

	w.opt.Logger.Warn().Err(err).Int("rows", len(stamped)).Msg("batch insert collided, retrying row by row")
	for _, r := range stamped {
		w.insertRow(ctx, r, rep)
	}
}

func (w *Writer) insertRow(ctx context.Context, rec parcel.Record, rep *WriteReport) {
	err := w.store.Insert(ctx, rec)
	if err == nil {
		rep.Inserted++
		return
	}
	if !IsUniqueViolation(err) {
		w.opt.Logger.Error().Err(err).Str("parcel", rec.Key.String()).Msg("insert failed")
		rep.Errors = append(rep.Errors, err)
		rep.Skipped++
		return
	}

	found, err := w.store.FindByParcelIDs(ctx, []string{rec.ParcelID})
	if err != nil {
		rep.Errors = append(rep.Errors, err)
		rep.Skipped++
		return
	}
	for _, existing := range found {
		if strings.EqualFold(existing.Municipality, rec.Municipality) {
			w.update(ctx, existing, rec, rec.HasProvenance(string(parcel.SourceSpreadsheet)), rep, true)
			return
		}
	}

	// only reachable when the table carries an identifier-only unique index
	w.opt.Logger.Warn().
		Str("parcel", rec.ParcelID).
		Str("municipality", rec.Municipality).
		Msg("parcel identifier collides with another municipality, skipped")
	rep.Skipped++
}

// update merges incoming into existing and writes the result if anything
// changed. collided marks an insert that fell back to an update.
func (w *Writer) update(ctx context.Context, existing, incoming parcel.Record, authoritative bool, rep *WriteReport, collided bool) {
	merged, changed, err := parcel.Merge(existing, incoming, authoritative)
	if err != nil {
		w.opt.Logger.Warn().Err(err).Msg("update rejected")
		rep.Errors = append(rep.Errors, err)
		rep.Skipped++
		return
	}
	if !changed {
		rep.Unchanged++
		return
	}

	merged.LastUpdated = w.opt.Now().UTC()
	if incoming.MatchMethod != "" {
		merged.MatchMethod = incoming.MatchMethod
	}
	merged.LowConfidence = incoming.LowConfidence
	merged.OverThreshold = incoming.OverThreshold

	if !w.opt.DryRun {
		if err := w.store.Update(ctx, merged); err != nil {
			w.opt.Logger.Error().Err(err).Str("parcel", merged.Key.String()).Msg("update failed")
			rep.Errors = append(rep.Errors, fmt.Errorf("update %s: %w", merged.Key, err))
			rep.Skipped++
			return
		}
	}
	if collided {
		rep.Merged++
	} else {
		rep.Updated++
	}
}
