package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/parcel-linkage/internal/parcel"
)

//go:embed schema.sql
var schema string

// Migrate creates the canonical_property table and its indexes if missing
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// writeColumns are bound in this order by recordArgs
var writeColumns = []string{
	"parcel_id", "municipality", "address", "owner_name", "co_owner",
	"mailing_address", "mailing_city", "mailing_state", "mailing_zip",
	"assessed_total", "assessed_land", "assessed_building", "property_class",
	"living_area", "year_built", "bedrooms", "bathrooms", "lot_acres",
	"lon", "lat", "geom", "provenance", "match_method",
	"low_confidence", "over_threshold", "last_updated",
}

const selectColumns = `parcel_id, municipality, address, owner_name, co_owner,
	mailing_address, mailing_city, mailing_state, mailing_zip,
	assessed_total, assessed_land, assessed_building, property_class,
	living_area, year_built, bedrooms, bathrooms, lot_acres,
	lon, lat, COALESCE(ST_AsText(geom), ''), provenance, match_method,
	low_confidence, over_threshold, last_updated`

// PostgresStore keeps canonical records in the canonical_property table
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open pool
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Load(ctx context.Context, municipality string) ([]parcel.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM canonical_property
		WHERE lower(municipality) = lower($1)
		ORDER BY parcel_id
	`, municipality)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", municipality, err)
	}
	return scanRecords(rows)
}

func (s *PostgresStore) FindByParcelIDs(ctx context.Context, ids []string) ([]parcel.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM canonical_property
		WHERE parcel_id = ANY($1)
		ORDER BY parcel_id, municipality
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to look up parcel identifiers: %w", err)
	}
	return scanRecords(rows)
}

func (s *PostgresStore) InsertBatch(ctx context.Context, recs []parcel.Record) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	args := make([]interface{}, 0, len(recs)*len(writeColumns))
	for _, r := range recs {
		args = append(args, recordArgs(r)...)
	}
	if _, err := tx.ExecContext(ctx, insertSQL(len(recs)), args...); err != nil {
		return fmt.Errorf("failed to insert %d records: %w", len(recs), err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec parcel.Record) error {
	if _, err := s.db.ExecContext(ctx, insertSQL(1), recordArgs(rec)...); err != nil {
		return fmt.Errorf("failed to insert %s: %w", rec.Key, err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, rec parcel.Record) error {
	res, err := s.db.ExecContext(ctx, updateSQL(), recordArgs(rec)...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", rec.Key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update %s: %w", rec.Key, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context, municipality string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM canonical_property WHERE lower(municipality) = lower($1)`,
		municipality).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", municipality, err)
	}
	return n, nil
}

// insertSQL renders a multi-row INSERT for n records
func insertSQL(n int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO canonical_property (")
	b.WriteString(strings.Join(writeColumns, ", "))
	b.WriteString(") VALUES ")

	p := 1
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, col := range writeColumns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(placeholder(col, p))
			p++
		}
		b.WriteByte(')')
	}
	return b.String()
}

func updateSQL() string {
	var sets []string
	for i, col := range writeColumns[2:] {
		sets = append(sets, col+" = "+placeholder(col, i+3))
	}
	return "UPDATE canonical_property SET " + strings.Join(sets, ", ") +
		" WHERE parcel_id = $1 AND lower(municipality) = lower($2)"
}

func placeholder(col string, n int) string {
	if col == "geom" {
		// ST_GeomFromText is strict, so a NULL argument stores NULL
		return fmt.Sprintf("ST_GeomFromText($%d, 4326)", n)
	}
	return fmt.Sprintf("$%d", n)
}

func recordArgs(r parcel.Record) []interface{} {
	geom := sql.NullString{String: r.GeometryWKT, Valid: r.GeometryWKT != ""}
	a := r.Attributes
	return []interface{}{
		r.ParcelID, r.Municipality, a.Address, a.OwnerName, a.CoOwner,
		a.MailingAddress, a.MailingCity, a.MailingState, a.MailingZip,
		a.AssessedTotal, a.AssessedLand, a.AssessedBuilding, a.PropertyClass,
		a.LivingArea, a.YearBuilt, a.Bedrooms, a.Bathrooms, a.LotAcres,
		r.Lon, r.Lat, geom, r.Provenance, r.MatchMethod,
		r.LowConfidence, r.OverThreshold, r.LastUpdated,
	}
}

func scanRecords(rows *sql.Rows) ([]parcel.Record, error) {
	defer rows.Close()

	var out []parcel.Record
	for rows.Next() {
		var r parcel.Record
		a := &r.Attributes
		err := rows.Scan(
			&r.ParcelID, &r.Municipality, &a.Address, &a.OwnerName, &a.CoOwner,
			&a.MailingAddress, &a.MailingCity, &a.MailingState, &a.MailingZip,
			&a.AssessedTotal, &a.AssessedLand, &a.AssessedBuilding, &a.PropertyClass,
			&a.LivingArea, &a.YearBuilt, &a.Bedrooms, &a.Bathrooms, &a.LotAcres,
			&r.Lon, &r.Lat, &r.GeometryWKT, &r.Provenance, &r.MatchMethod,
			&r.LowConfidence, &r.OverThreshold, &r.LastUpdated,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan canonical record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read canonical records: %w", err)
	}
	return out, nil
}
