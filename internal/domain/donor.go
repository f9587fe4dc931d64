package domain

import "time"

// DonorType classifies how a donor relates to the school.
type DonorType string

const (
	DonorAlumni    DonorType = "alumni"
	DonorParent    DonorType = "parent"
	DonorFaculty   DonorType = "faculty"
	DonorFoundation DonorType = "foundation"
	DonorCommunity DonorType = "community"
)

// EngagementLevel buckets donors by how involved they are.
type EngagementLevel string

const (
	EngagementHigh   EngagementLevel = "high"
	EngagementMedium EngagementLevel = "medium"
	EngagementLow    EngagementLevel = "low"
	EngagementLapsed EngagementLevel = "lapsed"
)

// Donor represents a single donor record.
type Donor struct {
	ID             string          `json:"id" db:"id"`
	OrganizationID string          `json:"organization_id" db:"organization_id"`
	FirstName      string          `json:"first_name" db:"first_name"`
	LastName       string          `json:"last_name" db:"last_name"`
	Email          string          `json:"email" db:"email"`
	Phone          string          `json:"phone" db:"phone"`
	Address        string          `json:"address" db:"address"`
	City           string          `json:"city" db:"city"`
	State          string          `json:"state" db:"state"`
	Zip            string          `json:"zip" db:"zip"`

	DonorType       DonorType       `json:"donor_type" db:"donor_type"`
	EngagementLevel EngagementLevel `json:"engagement_level" db:"engagement_level"`
	GiftTier        string          `json:"gift_tier" db:"gift_tier"`
	StudentName     string          `json:"student_name" db:"student_name"`
	AlumniYear      *int            `json:"alumni_year,omitempty" db:"alumni_year"`

	// Derived analytics, maintained by donation ingestion, never set directly
	// by the import or segmentation paths.
	LifetimeValue  float64    `json:"lifetime_value" db:"lifetime_value"`
	DonationCount  int        `json:"donation_count" db:"donation_count"`
	LastGiftAmount float64    `json:"last_gift_amount" db:"last_gift_amount"`
	LastGiftAt     *time.Time `json:"last_gift_at,omitempty" db:"last_gift_at"`
	FirstGiftAt    *time.Time `json:"first_gift_at,omitempty" db:"first_gift_at"`

	Active    bool      `json:"active" db:"active"`
	Notes     string    `json:"notes,omitempty" db:"notes"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FullName joins first and last names for display.
func (d *Donor) FullName() string {
	if d.FirstName == "" {
		return d.LastName
	}
	if d.LastName == "" {
		return d.FirstName
	}
	return d.FirstName + " " + d.LastName
}
