package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/parcel-linkage/internal/cache"
	"github.com/parcel-linkage/internal/config"
	"github.com/parcel-linkage/internal/debug"
	"github.com/parcel-linkage/internal/geocode"
	"github.com/parcel-linkage/internal/linkage"
	"github.com/parcel-linkage/internal/metrics"
	"github.com/parcel-linkage/internal/parcel"
	"github.com/parcel-linkage/internal/source"
	"github.com/parcel-linkage/internal/spatial"
	"github.com/parcel-linkage/internal/store"
)

// Options configures a Runner
type Options struct {
	ChunkSize        int
	Workers          int
	MaxDistance      float64
	StrictSpatial    bool
	CacheDecimals    int
	GeohashPrecision uint

	// CacheDir holds the per-municipality spatial caches; empty keeps them in
	// memory
	CacheDir string
	// DryRun skips verification, since nothing was written
	DryRun bool

	Debug   bool
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// OptionsFromConfig maps the batch and spatial sections onto Options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ChunkSize:        cfg.Batch.ChunkSize,
		Workers:          cfg.Batch.Workers,
		MaxDistance:      cfg.Spatial.MaxDistanceMeters,
		StrictSpatial:    cfg.Spatial.StrictReject,
		CacheDecimals:    cfg.Spatial.CacheDecimals,
		GeohashPrecision: cfg.Spatial.GeohashPrecision,
		CacheDir:         cfg.Paths.CacheDir,
	}
}

// Runner executes the per-municipality stages. The stages of one
// municipality run in order; Runner itself holds no per-municipality state.
type Runner struct {
	manifest *source.Manifest
	geocoder *geocode.Geocoder
	store    store.Store
	writer   *store.Writer
	opt      Options
}

// NewRunner wires the stages. geocoder may be nil, in which case rows without
// coordinates are matched without the spatial strategy.
func NewRunner(m *source.Manifest, g *geocode.Geocoder, s store.Store, w *store.Writer, opt Options) *Runner {
	if opt.ChunkSize <= 0 {
		opt.ChunkSize = 1000
	}
	if opt.Workers <= 0 {
		opt.Workers = 1
	}
	if opt.MaxDistance <= 0 {
		opt.MaxDistance = 150
	}
	if opt.CacheDecimals <= 0 {
		opt.CacheDecimals = 5
	}
	return &Runner{manifest: m, geocoder: g, store: s, writer: w, opt: opt}
}

// Load reads the spreadsheet, the supplementary export and the geometry
// layer. A declared input that does not exist yields source.ErrInputMissing.
func (r *Runner) Load(ctx context.Context, mu source.Municipality) (*Job, error) {
	defer debug.Timing(r.opt.Debug, "load "+mu.Name)()
	log := r.opt.Logger.With().Str("municipality", mu.Name).Logger()
	job := &Job{Municipality: mu, Stats: Stats{ByMethod: make(map[string]int)}}

	primary, err := source.ReadSpreadsheet(mu.Spreadsheet, mu.Name)
	if err != nil {
		return nil, err
	}
	job.Stats.SpreadsheetRows = len(primary)

	raw := primary
	if mu.Supplementary != "" {
		supp, err := source.ReadSupplementary(mu.Supplementary, mu.Name)
		if err != nil {
			return nil, err
		}
		job.Stats.SupplementaryRows = len(supp)
		raw, job.Stats.Supplement = source.MergeSupplementary(primary, supp)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: %w", mu.Name, ErrNoUsableRows)
	}

	var parcels []spatial.Parcel
	if spec, ok := r.manifest.GeometryFor(mu); ok {
		parcels, job.Stats.Geometry, err = source.LoadGeometry(spec, mu.Name)
		if err != nil {
			return nil, err
		}
	}
	job.Parcels = spatial.NewIndex(parcels, r.opt.GeohashPrecision)
	job.Stats.Parcels = job.Parcels.Len()

	job.Raw = raw
	job.Rows = make([]linkage.Row, len(raw))
	for i, rr := range raw {
		job.Rows[i] = linkage.NewRow(rr)
	}

	log.Info().
		Int("spreadsheet", job.Stats.SpreadsheetRows).
		Int("supplementary", job.Stats.SupplementaryRows).
		Int("attached", job.Stats.Supplement.Attached).
		Int("parcels", job.Stats.Parcels).
		Msg("inputs loaded")
	return job, ctx.Err()
}

// needsGeocode reports whether a row has neither a coordinate nor a parcel in
// the geometry layer to take one from
func (j *Job) needsGeocode(row linkage.Row) bool {
	if row.Lon != nil && row.Lat != nil {
		return false
	}
	if id := strings.TrimSpace(row.Raw.ParcelID); id != "" {
		if _, ok := j.Parcels.Parcel(id); ok {
			return false
		}
	}
	return row.AddressKey != ""
}

// Geocode resolves coordinates for rows lacking them. Each distinct address
// is geocoded once. Failures are counted and sampled; they never fail the
// stage.
func (r *Runner) Geocode(ctx context.Context, job *Job) error {
	if r.geocoder == nil {
		return nil
	}
	defer debug.Timing(r.opt.Debug, "geocode "+job.Name())()
	log := r.opt.Logger.With().Str("municipality", job.Name()).Logger()

	byKey := make(map[string][]int)
	var keys []string
	for i, row := range job.Rows {
		if !job.needsGeocode(row) {
			continue
		}
		k := geocode.CacheKey(row.Raw.Address, job.Name())
		if _, ok := byKey[k]; !ok {
			keys = append(keys, k)
		}
		byKey[k] = append(byKey[k], i)
	}
	if len(keys) == 0 {
		return nil
	}

	results := make([]geocode.Result, len(keys))
	errs := make([]error, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.geocoder.Concurrency())
	for n, k := range keys {
		n, row := n, job.Rows[byKey[k][0]]
		g.Go(func() error {
			results[n], errs[n] = r.geocoder.Geocode(gctx, row.Raw.Address, job.Name())
			if gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}
	waitErr := g.Wait()

	if err := r.geocoder.Cache().Flush(); err != nil {
		log.Warn().Err(err).Msg("geocode cache flush failed")
	}
	if waitErr != nil {
		return waitErr
	}

	for n, k := range keys {
		idx := byKey[k]
		switch {
		case errs[n] != nil:
			if !errors.Is(errs[n], geocode.ErrNoAddress) {
				job.recordFailure(job.Rows[idx[0]].Raw.Address, errs[n])
			}
		case results[n].NotFound:
			job.Stats.GeocodeNotFound++
		default:
			for _, i := range idx {
				lon, lat := results[n].Lon, results[n].Lat
				job.Rows[i].Lon, job.Rows[i].Lat = &lon, &lat
			}
			job.Stats.Geocoded++
		}
	}

	log.Info().
		Int("addresses", len(keys)).
		Int("geocoded", job.Stats.Geocoded).
		Int("not_found", job.Stats.GeocodeNotFound).
		Int("failed", job.Stats.GeocodeFailed).
		Msg("geocoding complete")
	return nil
}

// Match loads the municipality's canonical records, matches rows in parallel
// chunks, and builds the write plan. Workers share the read-only index and a
// snapshot of the spatial cache; the entries each chunk computes are merged
// and flushed after every wave of chunks.
func (r *Runner) Match(ctx context.Context, job *Job) error {
	defer debug.Timing(r.opt.Debug, "match "+job.Name())()
	log := r.opt.Logger.With().Str("municipality", job.Name()).Logger()

	local, err := r.store.Load(ctx, job.Name())
	if err != nil {
		return err
	}
	foreign, err := r.store.FindByParcelIDs(ctx, rowIDs(job.Rows))
	if err != nil {
		return err
	}
	job.Index = linkage.NewIndex(job.Name(), local, foreign)

	sc, err := r.spatialCache(job.Name(), log)
	if err != nil {
		return err
	}

	outcomes := make([]linkage.Outcome, len(job.Rows))
	chunks := chunkBounds(len(job.Rows), r.opt.ChunkSize)
	opt := linkage.Options{StrictSpatial: r.opt.StrictSpatial}

	for wave := 0; wave < len(chunks); wave += r.opt.Workers {
		end := wave + r.opt.Workers
		if end > len(chunks) {
			end = len(chunks)
		}
		snapshot := sc.Snapshot()
		lookups := make([]*spatial.Lookup, end-wave)

		g, gctx := errgroup.WithContext(ctx)
		for c := wave; c < end; c++ {
			c := c
			lookups[c-wave] = spatial.NewLookup(job.Parcels, snapshot, r.opt.CacheDecimals, r.opt.MaxDistance)
			g.Go(func() error {
				var lookup linkage.SpatialLookup
				if job.Parcels.Len() > 0 {
					lookup = lookups[c-wave]
				}
				m := linkage.NewMatcher(job.Index, lookup, opt)
				for i := chunks[c][0]; i < chunks[c][1]; i++ {
					if i%256 == 0 && gctx.Err() != nil {
						return gctx.Err()
					}
					outcomes[i] = m.Match(job.Rows[i])
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for _, l := range lookups {
			hits, misses := l.Stats()
			job.Stats.SpatialHits += hits
			job.Stats.SpatialMisses += misses
			r.opt.Metrics.Spatial(hits, misses)
			if err := sc.Merge(l.Fresh()); err != nil {
				log.Warn().Err(err).Msg("spatial cache merge failed")
			}
		}
		if err := sc.Flush(); err != nil {
			log.Warn().Err(err).Msg("spatial cache flush failed")
		}
		debug.Output(r.opt.Debug, "%s: matched %d/%d rows", job.Name(), chunks[end-1][1], len(job.Rows))
	}

	for i, o := range outcomes {
		r.opt.Metrics.Match(string(o.Kind), string(o.Method))
		if job.Parcels.Len() > 0 && spatialFailed(job.Rows[i], o) {
			job.Stats.SpatialFailed++
		}
		switch o.Kind {
		case linkage.KindNew:
			job.Stats.New++
		case linkage.KindUpdate:
			job.Stats.Updates++
		case linkage.KindSkipped:
			job.Stats.Skipped++
		}
		job.Stats.ByMethod[string(o.Method)]++
	}

	job.Plan = linkage.BuildPlan(job.Rows, outcomes, job.Parcels.Parcel)
	job.Stats.Collapsed = job.Plan.Collapsed
	job.Stats.Flagged = job.Plan.Flagged
	job.Stats.Ambiguous = job.Plan.Ambiguous

	log.Info().
		Int("new", job.Stats.New).
		Int("update", job.Stats.Updates).
		Int("skipped", job.Stats.Skipped).
		Int("inserts", len(job.Plan.Inserts)).
		Int("updates", len(job.Plan.Updates)).
		Int("collapsed", job.Plan.Collapsed).
		Int("over_threshold", job.Plan.Flagged).
		Int("spatial_failed", job.Stats.SpatialFailed).
		Int("low_confidence", job.Plan.Ambiguous).
		Msg("matching complete")
	return nil
}

// Write applies the plan. Updates pair each planned merge with the record the
// index was built from.
func (r *Runner) Write(ctx context.Context, job *Job) error {
	defer debug.Timing(r.opt.Debug, "write "+job.Name())()

	updates := make([]store.Update, 0, len(job.Plan.Updates))
	for _, u := range job.Plan.Updates {
		existing, ok := job.Index.Record(u.Key.ParcelID)
		if !ok {
			return fmt.Errorf("planned update for unknown parcel %s", u.Key)
		}
		updates = append(updates, store.Update{Existing: existing, Incoming: u.Incoming, Authoritative: u.Authoritative})
	}

	job.Stats.Write = r.writer.Apply(ctx, job.Plan.Inserts, updates)

	r.opt.Logger.Info().
		Str("municipality", job.Name()).
		Int("inserted", job.Stats.Write.Inserted).
		Int("updated", job.Stats.Write.Updated).
		Int("unchanged", job.Stats.Write.Unchanged).
		Int("merged", job.Stats.Write.Merged).
		Int("skipped", job.Stats.Write.Skipped).
		Int("errors", len(job.Stats.Write.Errors)).
		Msg("write complete")
	return ctx.Err()
}

// Verify re-counts the municipality's canonical records. The expected count
// is the manifest figure when given, otherwise the records present before the
// run plus the planned inserts. A shortfall is recorded, not returned.
func (r *Runner) Verify(ctx context.Context, job *Job) error {
	job.Stats.Expected = job.Municipality.ExpectedRows
	if job.Stats.Expected == 0 {
		job.Stats.Expected = job.Index.Len() + len(job.Plan.Inserts)
	}
	if r.opt.DryRun {
		return nil
	}

	n, err := r.store.Count(ctx, job.Name())
	if err != nil {
		return err
	}
	job.Stats.Counted = n
	job.Stats.Verified = true
	if n < job.Stats.Expected {
		job.Stats.Shortfall = job.Stats.Expected - n
		r.opt.Logger.Warn().
			Str("municipality", job.Name()).
			Int("expected", job.Stats.Expected).
			Int("counted", n).
			Msg("canonical row count short of expected")
	}
	return nil
}

func (r *Runner) spatialCache(municipality string, log zerolog.Logger) (*cache.Store[spatial.Match], error) {
	if r.opt.CacheDir == "" {
		return cache.Memory[spatial.Match](), nil
	}
	path := filepath.Join(r.opt.CacheDir, "spatial-"+slug(municipality)+".jsonl")
	return cache.Open[spatial.Match](path, cache.WithLogger(log))
}

func rowIDs(rows []linkage.Row) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, row := range rows {
		id := strings.TrimSpace(row.Raw.ParcelID)
		if id != "" && !parcel.IsDerived(id) && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// chunkBounds splits n rows into [start, end) ranges of at most size
func chunkBounds(n, size int) [][2]int {
	var out [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

// spatialFailed reports a row that reached the nearest-parcel strategy and
// still ended up unresolved
func spatialFailed(r linkage.Row, o linkage.Outcome) bool {
	return strings.TrimSpace(r.Raw.ParcelID) == "" && r.Lon != nil && r.Lat != nil &&
		o.Kind == linkage.KindNew && o.Method == linkage.MethodNone
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(r))
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}
