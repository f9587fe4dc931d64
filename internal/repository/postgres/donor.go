// Package postgres implements the persistence interfaces against
// PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/brightwell/donorhub/internal/domain"
	"github.com/brightwell/donorhub/internal/importer"
)

const donorColumns = `
	id, organization_id, first_name, last_name,
	COALESCE(email, ''), COALESCE(phone, ''), COALESCE(address, ''),
	COALESCE(city, ''), COALESCE(state, ''), COALESCE(zip, ''),
	COALESCE(donor_type, ''), COALESCE(engagement_level, ''),
	COALESCE(gift_tier, ''), COALESCE(student_name, ''), alumni_year,
	lifetime_value, donation_count, last_gift_amount, last_gift_at,
	first_gift_at, active, COALESCE(notes, ''), created_at, updated_at`

// DonorRepo implements importer.DonorStore and dedup.DonorLookup.
type DonorRepo struct{ db *sql.DB }

// NewDonorRepo creates a Postgres-backed donor repository.
func NewDonorRepo(db *sql.DB) *DonorRepo { return &DonorRepo{db: db} }

func (r *DonorRepo) Create(ctx context.Context, d *domain.Donor) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO donors (
			id, organization_id, first_name, last_name, email, phone,
			address, city, state, zip, donor_type, engagement_level,
			gift_tier, student_name, alumni_year, active, notes,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, TRUE, $16, NOW(), NOW())
	`, d.ID, d.OrganizationID, d.FirstName, d.LastName, d.Email, d.Phone,
		d.Address, d.City, d.State, d.Zip, d.DonorType, d.EngagementLevel,
		d.GiftTier, d.StudentName, d.AlumniYear, d.Notes)
	if err != nil {
		return wrapStoreErr("create donor", err)
	}
	return nil
}

func (r *DonorRepo) Update(ctx context.Context, d *domain.Donor) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE donors
		SET first_name = $1, last_name = $2, email = $3, phone = $4,
		    address = $5, city = $6, state = $7, zip = $8,
		    donor_type = $9, engagement_level = $10, gift_tier = $11,
		    student_name = $12, alumni_year = $13, notes = $14,
		    updated_at = NOW()
		WHERE id = $15 AND organization_id = $16
	`, d.FirstName, d.LastName, d.Email, d.Phone, d.Address, d.City,
		d.State, d.Zip, d.DonorType, d.EngagementLevel, d.GiftTier,
		d.StudentName, d.AlumniYear, d.Notes, d.ID, d.OrganizationID)
	if err != nil {
		return wrapStoreErr("update donor", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update donor: %s not found", d.ID)
	}
	return nil
}

// Get returns a donor by ID, or nil when not found.
func (r *DonorRepo) Get(ctx context.Context, orgID, id string) (*domain.Donor, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT`+donorColumns+`
		FROM donors
		WHERE id = $1 AND organization_id = $2
	`, id, orgID)
	d, err := scanDonor(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr("get donor", err)
	}
	return d, nil
}

// FindByEmail looks up active donors by normalized email. Indexed.
func (r *DonorRepo) FindByEmail(ctx context.Context, orgID, email string) ([]domain.Donor, error) {
	return r.queryDonors(ctx, `
		SELECT`+donorColumns+`
		FROM donors
		WHERE organization_id = $1 AND active = TRUE
		  AND LOWER(TRIM(email)) = $2
	`, orgID, email)
}

// FindByPhone looks up active donors by digits-only phone. Relies on a
// stored phone_digits column kept in sync by trigger.
func (r *DonorRepo) FindByPhone(ctx context.Context, orgID, phoneDigits string) ([]domain.Donor, error) {
	return r.queryDonors(ctx, `
		SELECT`+donorColumns+`
		FROM donors
		WHERE organization_id = $1 AND active = TRUE
		  AND phone_digits = $2
	`, orgID, phoneDigits)
}

// FindByName returns active donors with the exact (case-insensitive)
// first and last name, bounded.
func (r *DonorRepo) FindByName(ctx context.Context, orgID, firstName, lastName string, limit int) ([]domain.Donor, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.queryDonors(ctx, `
		SELECT`+donorColumns+`
		FROM donors
		WHERE organization_id = $1 AND active = TRUE
		  AND LOWER(first_name) = LOWER($2) AND LOWER(last_name) = LOWER($3)
		LIMIT $4
	`, orgID, strings.TrimSpace(firstName), strings.TrimSpace(lastName), limit)
}

// FindByCity returns a bounded slice of active donors in a city, used
// as the fuzzy-name candidate pool.
func (r *DonorRepo) FindByCity(ctx context.Context, orgID, city string, limit int) ([]domain.Donor, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.queryDonors(ctx, `
		SELECT`+donorColumns+`
		FROM donors
		WHERE organization_id = $1 AND active = TRUE
		  AND LOWER(city) = LOWER($2)
		LIMIT $3
	`, orgID, strings.TrimSpace(city), limit)
}

// QueryBySegment runs a compiled segment fragment against the donor
// table. The fragment's own args come first; the org filter is appended.
func (r *DonorRepo) QueryBySegment(ctx context.Context, orgID, fragment string, args []any, limit int) ([]domain.Donor, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
		SELECT%s
		FROM donors
		WHERE (%s) AND organization_id = $%d
		ORDER BY created_at DESC
		LIMIT $%d`, donorColumns, fragment, len(args)+1, len(args)+2)
	args = append(args, orgID, limit)
	return r.queryDonors(ctx, query, args...)
}

// CountBySegment counts donors matching a compiled segment fragment.
func (r *DonorRepo) CountBySegment(ctx context.Context, orgID, fragment string, args []any) (int, error) {
	query := fmt.Sprintf(
		"SELECT COUNT(*) FROM donors WHERE (%s) AND organization_id = $%d",
		fragment, len(args)+1)
	args = append(args, orgID)

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, wrapStoreErr("count by segment", err)
	}
	return count, nil
}

func (r *DonorRepo) queryDonors(ctx context.Context, query string, args ...any) ([]domain.Donor, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreErr("query donors", err)
	}
	defer rows.Close()

	var out []domain.Donor
	for rows.Next() {
		d, err := scanDonor(rows)
		if err != nil {
			return nil, wrapStoreErr("scan donor", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanDonor(row rowScanner) (*domain.Donor, error) {
	d := &domain.Donor{}
	var donorType, engagement string
	err := row.Scan(
		&d.ID, &d.OrganizationID, &d.FirstName, &d.LastName,
		&d.Email, &d.Phone, &d.Address, &d.City, &d.State, &d.Zip,
		&donorType, &engagement, &d.GiftTier, &d.StudentName, &d.AlumniYear,
		&d.LifetimeValue, &d.DonationCount, &d.LastGiftAmount, &d.LastGiftAt,
		&d.FirstGiftAt, &d.Active, &d.Notes, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.DonorType = domain.DonorType(donorType)
	d.EngagementLevel = domain.EngagementLevel(engagement)
	return d, nil
}

// wrapStoreErr translates driver-level connection failures into the
// orchestrator's catastrophic sentinel; everything else wraps normally.
func wrapStoreErr(op string, err error) error {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%s: %w: %v", op, importer.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
