// Package segment provides the donor segmentation engine: a recursive
// boolean rule tree compiled once into a canonical filter that can be
// evaluated in-process against a donor or emitted as a parameterized
// SQL fragment for the donor store. Both paths share one expression
// tree so their operator semantics cannot drift apart.
package segment

import (
	"encoding/json"
	"time"
)

// ==========================================
// OPERATORS
// ==========================================

// Operator represents a comparison operator in a segment rule.
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "not_equals"
	OpGreaterThan        Operator = "greater_than"
	OpLessThan           Operator = "less_than"
	OpGreaterThanOrEqual Operator = "greater_than_or_equal"
	OpLessThanOrEqual    Operator = "less_than_or_equal"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "not_contains"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "not_in"
	OpBetween            Operator = "between"
	OpIsNull             Operator = "is_null"
	OpIsNotNull          Operator = "is_not_null"
	OpInLastDays         Operator = "in_last_days"
	OpNotInLastDays      Operator = "not_in_last_days"
)

// ==========================================
// LOGIC
// ==========================================

// Combinator joins sibling rules within a group.
type Combinator string

const (
	CombinatorAnd Combinator = "AND"
	CombinatorOr  Combinator = "OR"
)

// ==========================================
// RULE TREE (API input)
// ==========================================

// Rule is a single {field, operator, value} leaf.
type Rule struct {
	Field    string `json:"field"`
	Operator Operator `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// Group is a recursive boolean combination of rules and nested groups.
type Group struct {
	Combinator Combinator `json:"combinator"`
	Not        bool       `json:"not,omitempty"`
	Rules      []Rule     `json:"rules,omitempty"`
	Groups     []Group    `json:"groups,omitempty"`
}

// ==========================================
// FIELD REGISTRY
// ==========================================

// FieldKind is the data type a donor attribute carries for comparison.
type FieldKind int

const (
	KindString FieldKind = iota
	KindNumber
	KindDate
	KindBool
)

type fieldSpec struct {
	Column string
	Kind   FieldKind
}

// donorFields is the allow-list of attributes a rule may reference.
// Anything outside this map is rejected at compile time.
var donorFields = map[string]fieldSpec{
	"first_name":       {Column: "first_name", Kind: KindString},
	"last_name":        {Column: "last_name", Kind: KindString},
	"email":            {Column: "email", Kind: KindString},
	"phone":            {Column: "phone", Kind: KindString},
	"address":          {Column: "address", Kind: KindString},
	"city":             {Column: "city", Kind: KindString},
	"state":            {Column: "state", Kind: KindString},
	"zip":              {Column: "zip", Kind: KindString},
	"donor_type":       {Column: "donor_type", Kind: KindString},
	"engagement_level": {Column: "engagement_level", Kind: KindString},
	"gift_tier":        {Column: "gift_tier", Kind: KindString},
	"student_name":     {Column: "student_name", Kind: KindString},
	"alumni_year":      {Column: "alumni_year", Kind: KindNumber},
	"lifetime_value":   {Column: "lifetime_value", Kind: KindNumber},
	"donation_count":   {Column: "donation_count", Kind: KindNumber},
	"last_gift_amount": {Column: "last_gift_amount", Kind: KindNumber},
	"last_gift_at":     {Column: "last_gift_at", Kind: KindDate},
	"first_gift_at":    {Column: "first_gift_at", Kind: KindDate},
	"created_at":       {Column: "created_at", Kind: KindDate},
}

// Fields returns the names of all allow-listed donor attributes.
func Fields() []string {
	out := make([]string, 0, len(donorFields))
	for name := range donorFields {
		out = append(out, name)
	}
	return out
}

// ==========================================
// SEGMENT DEFINITIONS
// ==========================================

// Definition is a named, persisted segment with a cached estimate.
type Definition struct {
	ID               string          `json:"id" db:"id"`
	OrganizationID   string          `json:"organization_id" db:"organization_id"`
	Name             string          `json:"name" db:"name"`
	Description      string          `json:"description,omitempty" db:"description"`
	Rules            json.RawMessage `json:"rules" db:"rules"`
	GeneratedSQL     string          `json:"generated_sql,omitempty" db:"generated_sql"`
	EstimatedCount   int             `json:"estimated_count" db:"estimated_count"`
	LastCalculatedAt *time.Time      `json:"last_calculated_at,omitempty" db:"last_calculated_at"`
	CreatedBy        string          `json:"created_by,omitempty" db:"created_by"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}
