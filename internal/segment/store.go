package segment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store persists named segment definitions and their cached estimates.
type Store struct {
	db *sql.DB
}

// NewStore creates a segment definition store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create compiles and persists a new definition, caching its generated
// SQL fragment and an initial match-count estimate. The count is only
// recalculated here, on Update, or on an explicit Refresh — never as a
// side effect of donor writes.
func (s *Store) Create(ctx context.Context, def *Definition, rules Group) error {
	filter, err := Compile(rules)
	if err != nil {
		return err
	}

	def.ID = uuid.New().String()
	def.CreatedAt = time.Now()
	def.UpdatedAt = def.CreatedAt

	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	def.Rules = rulesJSON

	frag, args := filter.SQL()
	def.GeneratedSQL = frag

	count, err := s.countMatching(ctx, def.OrganizationID, frag, args)
	if err != nil {
		return fmt.Errorf("estimate count: %w", err)
	}
	def.EstimatedCount = count
	now := time.Now()
	def.LastCalculatedAt = &now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO donor_segments (
			id, organization_id, name, description, rules, generated_sql,
			estimated_count, last_calculated_at, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, def.ID, def.OrganizationID, def.Name, def.Description, def.Rules,
		def.GeneratedSQL, def.EstimatedCount, def.LastCalculatedAt,
		nullable(def.CreatedBy), def.CreatedAt, def.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert segment: %w", err)
	}
	return nil
}

// Update replaces a definition's rules and recalculates its estimate.
func (s *Store) Update(ctx context.Context, def *Definition, rules Group) error {
	filter, err := Compile(rules)
	if err != nil {
		return err
	}

	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	def.Rules = rulesJSON

	frag, args := filter.SQL()
	def.GeneratedSQL = frag

	count, err := s.countMatching(ctx, def.OrganizationID, frag, args)
	if err != nil {
		return fmt.Errorf("estimate count: %w", err)
	}
	def.EstimatedCount = count
	now := time.Now()
	def.LastCalculatedAt = &now
	def.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
		UPDATE donor_segments
		SET name = $1, description = $2, rules = $3, generated_sql = $4,
		    estimated_count = $5, last_calculated_at = $6, updated_at = $7
		WHERE id = $8 AND organization_id = $9
	`, def.Name, def.Description, def.Rules, def.GeneratedSQL,
		def.EstimatedCount, def.LastCalculatedAt, def.UpdatedAt,
		def.ID, def.OrganizationID)
	if err != nil {
		return fmt.Errorf("update segment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Refresh recalculates the cached estimate for an existing definition.
func (s *Store) Refresh(ctx context.Context, orgID, id string) (*Definition, error) {
	def, err := s.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, nil
	}

	filter, err := CompileJSON(def.Rules)
	if err != nil {
		return nil, fmt.Errorf("compile stored rules: %w", err)
	}

	frag, args := filter.SQL()
	count, err := s.countMatching(ctx, orgID, frag, args)
	if err != nil {
		return nil, fmt.Errorf("estimate count: %w", err)
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		UPDATE donor_segments
		SET estimated_count = $1, last_calculated_at = $2, generated_sql = $3
		WHERE id = $4 AND organization_id = $5
	`, count, now, frag, id, orgID)
	if err != nil {
		return nil, fmt.Errorf("refresh segment: %w", err)
	}

	def.EstimatedCount = count
	def.LastCalculatedAt = &now
	def.GeneratedSQL = frag
	return def, nil
}

// Get retrieves a definition by ID, returning nil when not found.
func (s *Store) Get(ctx context.Context, orgID, id string) (*Definition, error) {
	def := &Definition{}
	var createdBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, COALESCE(description, ''), rules,
		       COALESCE(generated_sql, ''), estimated_count, last_calculated_at,
		       created_by, created_at, updated_at
		FROM donor_segments
		WHERE id = $1 AND organization_id = $2
	`, id, orgID).Scan(
		&def.ID, &def.OrganizationID, &def.Name, &def.Description, &def.Rules,
		&def.GeneratedSQL, &def.EstimatedCount, &def.LastCalculatedAt,
		&createdBy, &def.CreatedAt, &def.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}
	def.CreatedBy = createdBy.String
	return def, nil
}

// List returns all definitions for an organization, newest first.
func (s *Store) List(ctx context.Context, orgID string) ([]Definition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name, COALESCE(description, ''), rules,
		       COALESCE(generated_sql, ''), estimated_count, last_calculated_at,
		       created_by, created_at, updated_at
		FROM donor_segments
		WHERE organization_id = $1
		ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var out []Definition
	for rows.Next() {
		var def Definition
		var createdBy sql.NullString
		if err := rows.Scan(
			&def.ID, &def.OrganizationID, &def.Name, &def.Description, &def.Rules,
			&def.GeneratedSQL, &def.EstimatedCount, &def.LastCalculatedAt,
			&createdBy, &def.CreatedAt, &def.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		def.CreatedBy = createdBy.String
		out = append(out, def)
	}
	return out, rows.Err()
}

// Delete removes a definition.
func (s *Store) Delete(ctx context.Context, orgID, id string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM donor_segments WHERE id = $1 AND organization_id = $2
	`, id, orgID)
	if err != nil {
		return fmt.Errorf("delete segment: %w", err)
	}
	return nil
}

// countMatching runs the compiled fragment as a COUNT against the donor
// table. The org filter is appended after the fragment's own args.
func (s *Store) countMatching(ctx context.Context, orgID, frag string, args []any) (int, error) {
	query := fmt.Sprintf(
		"SELECT COUNT(*) FROM donors WHERE (%s) AND organization_id = $%d",
		frag, len(args)+1)
	args = append(args, orgID)

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
