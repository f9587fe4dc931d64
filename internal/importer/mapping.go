package importer

import (
	"strconv"
	"strings"

	"github.com/brightwell/donorhub/internal/dedup"
	"github.com/brightwell/donorhub/internal/domain"
)

// Target attributes a field mapping may populate.
var targetAttributes = []string{
	"first_name", "last_name", "email", "phone", "address", "city",
	"state", "zip", "donor_type", "engagement_level", "gift_tier",
	"student_name", "alumni_year", "notes",
}

// Common header spellings for auto-mapping suggestions.
var headerAliases = map[string][]string{
	"first_name":   {"first_name", "firstname", "first", "fname", "given_name"},
	"last_name":    {"last_name", "lastname", "last", "lname", "surname", "family_name"},
	"email":        {"email", "email_address", "e-mail", "emailaddress", "mail"},
	"phone":        {"phone", "phone_number", "phonenumber", "mobile", "cell", "telephone", "tel"},
	"address":      {"address", "street", "street_address", "address1", "address_line_1"},
	"city":         {"city", "town", "locality"},
	"state":        {"state", "state_province", "province", "region"},
	"zip":          {"zip", "zipcode", "zip_code", "postal_code", "postalcode", "postcode"},
	"donor_type":   {"donor_type", "donortype", "type", "constituent_type"},
	"gift_tier":    {"gift_tier", "gifttier", "tier", "giving_level"},
	"student_name": {"student_name", "studentname", "student", "child_name"},
	"alumni_year":  {"alumni_year", "alumniyear", "class_year", "class_of", "grad_year", "graduation_year"},
	"notes":        {"notes", "note", "comments", "remarks"},
}

// SuggestMapping auto-maps file headers to donor attributes by alias.
// Unrecognized headers are left unmapped for the user to resolve.
func SuggestMapping(headers []string) map[string]string {
	mapping := make(map[string]string)
	for _, header := range headers {
		normalized := normalizeHeader(header)
		for target, aliases := range headerAliases {
			if _, taken := mapping[target]; taken {
				continue
			}
			for _, alias := range aliases {
				if normalized == alias {
					mapping[target] = header
					break
				}
			}
		}
	}
	return mapping
}

func normalizeHeader(header string) string {
	normalized := strings.ToLower(strings.TrimSpace(header))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")
	return normalized
}

// MappedRow is a row after field mapping: strongly typed, sanitized,
// and structurally validated before any business logic sees it.
type MappedRow struct {
	FirstName       string
	LastName        string
	Email           string
	Phone           string
	Address         string
	City            string
	State           string
	Zip             string
	DonorType       string
	EngagementLevel string
	GiftTier        string
	StudentName     string
	Notes           string
	AlumniYear      *int
}

// MapRow applies the job's field mapping to one parsed row. Values are
// sanitized against spreadsheet formula injection; missing required
// attributes quarantine the row with a *ValidationError.
func MapRow(mapping map[string]string, row Row, rowNum int) (*MappedRow, error) {
	get := func(target string) string {
		source, ok := mapping[target]
		if !ok {
			return ""
		}
		return sanitizeCell(row[source])
	}

	m := &MappedRow{
		FirstName:       get("first_name"),
		LastName:        get("last_name"),
		Email:           get("email"),
		Phone:           get("phone"),
		Address:         get("address"),
		City:            get("city"),
		State:           get("state"),
		Zip:             get("zip"),
		DonorType:       get("donor_type"),
		EngagementLevel: get("engagement_level"),
		GiftTier:        get("gift_tier"),
		StudentName:     get("student_name"),
		Notes:           get("notes"),
	}

	if raw := get("alumni_year"); raw != "" {
		year, err := strconv.Atoi(strings.TrimPrefix(raw, "'"))
		if err != nil {
			return nil, &ValidationError{RowNum: rowNum, Field: "alumni_year", Reason: "is not a year"}
		}
		m.AlumniYear = &year
	}

	if m.FirstName == "" {
		return nil, &ValidationError{RowNum: rowNum, Field: "first_name", Reason: "is required"}
	}
	if m.LastName == "" {
		return nil, &ValidationError{RowNum: rowNum, Field: "last_name", Reason: "is required"}
	}

	return m, nil
}

// sanitizeCell neutralizes values a spreadsheet would execute as a
// formula by prefixing a quote character.
func sanitizeCell(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return v
	}
	switch v[0] {
	case '=', '+', '-', '@':
		return "'" + v
	}
	return v
}

// Candidate converts the row into the detector's attribute set.
func (m *MappedRow) Candidate() dedup.Candidate {
	return dedup.Candidate{
		FirstName:   m.FirstName,
		LastName:    m.LastName,
		Email:       m.Email,
		Phone:       m.Phone,
		Address:     m.Address,
		City:        m.City,
		State:       m.State,
		Zip:         m.Zip,
		StudentName: m.StudentName,
	}
}

// Donor builds a fresh donor record from the row.
func (m *MappedRow) Donor(orgID string) *domain.Donor {
	return &domain.Donor{
		OrganizationID:  orgID,
		FirstName:       m.FirstName,
		LastName:        m.LastName,
		Email:           m.Email,
		Phone:           m.Phone,
		Address:         m.Address,
		City:            m.City,
		State:           m.State,
		Zip:             m.Zip,
		DonorType:       domain.DonorType(m.DonorType),
		EngagementLevel: domain.EngagementLevel(m.EngagementLevel),
		GiftTier:        m.GiftTier,
		StudentName:     m.StudentName,
		Notes:           m.Notes,
		AlumniYear:      m.AlumniYear,
		Active:          true,
	}
}

// MergeInto applies the documented update policy to an existing donor:
// incoming non-empty values overwrite, empty or absent values preserve
// what is already on record. Derived analytics are never touched.
func (m *MappedRow) MergeInto(existing *domain.Donor) {
	setIf := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setIf(&existing.FirstName, m.FirstName)
	setIf(&existing.LastName, m.LastName)
	setIf(&existing.Email, m.Email)
	setIf(&existing.Phone, m.Phone)
	setIf(&existing.Address, m.Address)
	setIf(&existing.City, m.City)
	setIf(&existing.State, m.State)
	setIf(&existing.Zip, m.Zip)
	setIf(&existing.GiftTier, m.GiftTier)
	setIf(&existing.StudentName, m.StudentName)
	setIf(&existing.Notes, m.Notes)
	if m.DonorType != "" {
		existing.DonorType = domain.DonorType(m.DonorType)
	}
	if m.EngagementLevel != "" {
		existing.EngagementLevel = domain.EngagementLevel(m.EngagementLevel)
	}
	if m.AlumniYear != nil {
		existing.AlumniYear = m.AlumniYear
	}
}
