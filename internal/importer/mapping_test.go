package importer

import (
	"errors"
	"testing"

	"github.com/brightwell/donorhub/internal/domain"
)

var testMapping = map[string]string{
	"first_name":  "First Name",
	"last_name":   "Last Name",
	"email":       "Email",
	"phone":       "Phone",
	"city":        "City",
	"alumni_year": "Class Of",
	"notes":       "Notes",
}

func TestMapRow(t *testing.T) {
	row := Row{
		"First Name": "Maria",
		"Last Name":  "Santos",
		"Email":      "maria@example.org",
		"Phone":      "(503) 555-0142",
		"City":       "Portland",
		"Class Of":   "2004",
		"Notes":      "prefers mail",
	}
	m, err := MapRow(testMapping, row, 1)
	if err != nil {
		t.Fatalf("MapRow: %v", err)
	}
	if m.FirstName != "Maria" || m.LastName != "Santos" || m.City != "Portland" {
		t.Errorf("mapped row = %+v", m)
	}
	if m.AlumniYear == nil || *m.AlumniYear != 2004 {
		t.Errorf("alumni year = %v", m.AlumniYear)
	}
}

func TestMapRowRequiresNames(t *testing.T) {
	cases := []struct {
		row   Row
		field string
	}{
		{Row{"Last Name": "Santos"}, "first_name"},
		{Row{"First Name": "Maria"}, "last_name"},
		{Row{"First Name": "  ", "Last Name": "Santos"}, "first_name"},
	}
	for _, tc := range cases {
		_, err := MapRow(testMapping, tc.row, 7)
		var valErr *ValidationError
		if !errors.As(err, &valErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if valErr.Field != tc.field || valErr.RowNum != 7 {
			t.Errorf("error = %+v, want field %s row 7", valErr, tc.field)
		}
	}
}

func TestMapRowRejectsBadAlumniYear(t *testing.T) {
	row := Row{"First Name": "Maria", "Last Name": "Santos", "Class Of": "two thousand"}
	_, err := MapRow(testMapping, row, 3)
	var valErr *ValidationError
	if !errors.As(err, &valErr) || valErr.Field != "alumni_year" {
		t.Errorf("expected alumni_year validation error, got %v", err)
	}
}

func TestSanitizeCellNeutralizesFormulas(t *testing.T) {
	cases := map[string]string{
		"=SUM(A1:A9)":    "'=SUM(A1:A9)",
		"+1-555":         "'+1-555",
		"-cmd":           "'-cmd",
		"@import":        "'@import",
		"plain value":    "plain value",
		"  =trimmed":     "'=trimmed",
		"":               "",
		"中文 value":       "中文 value",
	}
	for in, want := range cases {
		if got := sanitizeCell(in); got != want {
			t.Errorf("sanitizeCell(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSuggestMapping(t *testing.T) {
	headers := []string{"First Name", "SURNAME", "E-Mail", "Cell", "Postal Code", "Grad Year", "mystery_column"}
	mapping := SuggestMapping(headers)

	want := map[string]string{
		"first_name":  "First Name",
		"last_name":   "SURNAME",
		"email":       "E-Mail",
		"phone":       "Cell",
		"zip":         "Postal Code",
		"alumni_year": "Grad Year",
	}
	for target, header := range want {
		if mapping[target] != header {
			t.Errorf("mapping[%s] = %q, want %q", target, mapping[target], header)
		}
	}
	for target, header := range mapping {
		if header == "mystery_column" {
			t.Errorf("unrecognized header was mapped to %s", target)
		}
	}
}

func TestMergeIntoPreservesExistingValues(t *testing.T) {
	year := 1998
	existing := domain.Donor{
		ID:             "d-1",
		FirstName:      "Maria",
		LastName:       "Santos",
		Email:          "maria@example.org",
		Phone:          "5035550142",
		City:           "Portland",
		AlumniYear:     &year,
		LifetimeValue:  2500,
		DonationCount:  12,
		LastGiftAmount: 250,
	}

	incoming := &MappedRow{
		FirstName: "Maria",
		LastName:  "Santos-Reyes",
		Phone:     "", // absent in the file
		City:      "Salem",
	}
	incoming.MergeInto(&existing)

	if existing.LastName != "Santos-Reyes" || existing.City != "Salem" {
		t.Errorf("non-empty incoming values should overwrite: %+v", existing)
	}
	if existing.Phone != "5035550142" || existing.Email != "maria@example.org" {
		t.Errorf("empty incoming values should preserve: %+v", existing)
	}
	if existing.AlumniYear == nil || *existing.AlumniYear != 1998 {
		t.Errorf("absent alumni year should preserve: %v", existing.AlumniYear)
	}
	if existing.LifetimeValue != 2500 || existing.DonationCount != 12 || existing.LastGiftAmount != 250 {
		t.Errorf("derived analytics must never change: %+v", existing)
	}
}
