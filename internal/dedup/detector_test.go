package dedup

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/brightwell/donorhub/internal/domain"
)

// fakeLookup is an in-memory DonorLookup over a fixed donor slice.
type fakeLookup struct {
	donors []domain.Donor
	calls  map[string]int
}

func newFakeLookup(donors ...domain.Donor) *fakeLookup {
	return &fakeLookup{donors: donors, calls: make(map[string]int)}
}

func (f *fakeLookup) FindByEmail(ctx context.Context, orgID, email string) ([]domain.Donor, error) {
	f.calls["email"]++
	var out []domain.Donor
	for _, d := range f.donors {
		if NormalizeEmail(d.Email) == email {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeLookup) FindByPhone(ctx context.Context, orgID, digits string) ([]domain.Donor, error) {
	f.calls["phone"]++
	var out []domain.Donor
	for _, d := range f.donors {
		if NormalizePhone(d.Phone) == digits {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeLookup) FindByName(ctx context.Context, orgID, firstName, lastName string, limit int) ([]domain.Donor, error) {
	f.calls["name"]++
	var out []domain.Donor
	for _, d := range f.donors {
		if strings.EqualFold(d.FirstName, firstName) && strings.EqualFold(d.LastName, lastName) {
			out = append(out, d)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeLookup) FindByCity(ctx context.Context, orgID, city string, limit int) ([]domain.Donor, error) {
	f.calls["city"]++
	var out []domain.Donor
	for _, d := range f.donors {
		if strings.EqualFold(d.City, city) {
			out = append(out, d)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func TestExactEmailMatchIsHighConfidence(t *testing.T) {
	existing := domain.Donor{ID: "d-1", FirstName: "Jane", LastName: "Doe", Email: "jane@example.com", Active: true}
	det := NewDetector(newFakeLookup(existing), DefaultOptions())

	// Case and whitespace differences must not matter.
	matches, err := det.FindDuplicates(context.Background(), "org-1",
		Candidate{FirstName: "Jane", LastName: "Doe", Email: " Jane@Example.COM "}, nil)
	if err != nil {
		t.Fatalf("FindDuplicates: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	m := matches[0]
	if m.Donor.ID != "d-1" || m.Score != 1.0 || m.Confidence != ConfidenceHigh {
		t.Errorf("match = %+v, want donor d-1 score 1.0 high", m)
	}
	if len(m.Reasons) == 0 || m.Reasons[0] != "exact email match" {
		t.Errorf("reasons = %v", m.Reasons)
	}
}

func TestExactHitSkipsNamePhase(t *testing.T) {
	existing := domain.Donor{ID: "d-1", FirstName: "Jane", LastName: "Doe", Email: "jane@example.com", City: "Portland", Active: true}
	lookup := newFakeLookup(existing)
	det := NewDetector(lookup, DefaultOptions())

	_, err := det.FindDuplicates(context.Background(), "org-1",
		Candidate{FirstName: "Jane", LastName: "Doe", Email: "jane@example.com", City: "Portland"}, nil)
	if err != nil {
		t.Fatalf("FindDuplicates: %v", err)
	}
	if lookup.calls["name"] != 0 || lookup.calls["city"] != 0 {
		t.Errorf("name phase ran after an exact hit: calls = %v", lookup.calls)
	}
}

func TestReconfirmNamesRunsNamePhaseAnyway(t *testing.T) {
	existing := domain.Donor{ID: "d-1", FirstName: "Jane", LastName: "Doe", Email: "jane@example.com", Active: true}
	lookup := newFakeLookup(existing)
	det := NewDetector(lookup, Options{ReconfirmNames: true})

	_, err := det.FindDuplicates(context.Background(), "org-1",
		Candidate{FirstName: "Jane", LastName: "Doe", Email: "jane@example.com"}, nil)
	if err != nil {
		t.Fatalf("FindDuplicates: %v", err)
	}
	if lookup.calls["name"] == 0 {
		t.Error("name phase should run when ReconfirmNames is set")
	}
}

func TestFuzzyNameBelowGateIsDropped(t *testing.T) {
	existing := domain.Donor{ID: "d-1", FirstName: "Robert", LastName: "Williams", City: "Portland", Active: true}
	det := NewDetector(newFakeLookup(existing), DefaultOptions())

	matches, err := det.FindDuplicates(context.Background(), "org-1",
		Candidate{FirstName: "Susan", LastName: "Chen", City: "Portland"}, nil)
	if err != nil {
		t.Fatalf("FindDuplicates: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("dissimilar name matched: %+v", matches)
	}
}

func TestExactNameWithZipScoresFull(t *testing.T) {
	existing := domain.Donor{ID: "d-1", FirstName: "Maria", LastName: "Santos", City: "Portland", Zip: "97201", Active: true}
	det := NewDetector(newFakeLookup(existing), DefaultOptions())

	matches, err := det.FindDuplicates(context.Background(), "org-1",
		Candidate{FirstName: "Maria", LastName: "Santos", Zip: "97201"}, nil)
	if err != nil {
		t.Fatalf("FindDuplicates: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Score != 1.0 || matches[0].Confidence != ConfidenceHigh {
		t.Errorf("match = score %v confidence %v, want 1.0 high", matches[0].Score, matches[0].Confidence)
	}
}

func TestWeightedScoreAcrossStrategies(t *testing.T) {
	// Same phone, fuzzy name. The final score is the weighted average of
	// the contributing strategies, not their sum.
	existing := domain.Donor{
		ID: "d-1", FirstName: "Katherine", LastName: "OBrien",
		Phone: "(503) 555-0142", City: "Portland", Active: true,
	}
	det := NewDetector(newFakeLookup(existing), Options{ReconfirmNames: true})

	matches, err := det.FindDuplicates(context.Background(), "org-1",
		Candidate{FirstName: "Catherine", LastName: "OBrien", Phone: "5035550142", City: "Portland"}, nil)
	if err != nil {
		t.Fatalf("FindDuplicates: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	m := matches[0]
	if m.Score <= 0.9 || m.Score > 1.0 {
		t.Errorf("combined score = %v, want in (0.9, 1.0]", m.Score)
	}
	if len(m.Reasons) < 2 {
		t.Errorf("expected reasons from both strategies, got %v", m.Reasons)
	}
}

func TestStudentLinkage(t *testing.T) {
	parent := domain.Donor{
		ID: "d-1", FirstName: "Wei", LastName: "Zhang", City: "Portland",
		DonorType: domain.DonorParent, StudentName: "Lily Zhang", Active: true,
	}
	det := NewDetector(newFakeLookup(parent), DefaultOptions())

	matches, err := det.FindDuplicates(context.Background(), "org-1",
		Candidate{FirstName: "Wei", LastName: "Zhang", City: "Portland", StudentName: "Lily Zhang"}, nil)
	if err != nil {
		t.Fatalf("FindDuplicates: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	found := false
	for _, r := range matches[0].Reasons {
		if r == "student name match" {
			found = true
		}
	}
	if !found {
		t.Errorf("student strategy did not contribute: %v", matches[0].Reasons)
	}
}

func TestResultCapAndOrdering(t *testing.T) {
	var donors []domain.Donor
	for i := 0; i < 15; i++ {
		donors = append(donors, domain.Donor{
			ID:        fmt.Sprintf("d-%02d", i),
			FirstName: "Jordan", LastName: "Lee",
			Email:  fmt.Sprintf("jordan%d@example.org", i),
			City:   "Portland",
			Active: true,
		})
	}
	det := NewDetector(newFakeLookup(donors...), Options{PoolLimit: 50, MaxResults: 10})

	matches, err := det.FindDuplicates(context.Background(), "org-1",
		Candidate{FirstName: "Jordan", LastName: "Lee", City: "Portland"}, nil)
	if err != nil {
		t.Fatalf("FindDuplicates: %v", err)
	}
	if len(matches) != 10 {
		t.Fatalf("expected result cap of 10, got %d", len(matches))
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Score > matches[i-1].Score {
			t.Errorf("matches not sorted by score desc at %d", i)
		}
	}
}

func TestConfidenceBuckets(t *testing.T) {
	cases := map[float64]Confidence{
		0.95: ConfidenceHigh,
		0.90: ConfidenceHigh,
		0.80: ConfidenceMedium,
		0.70: ConfidenceMedium,
		0.60: ConfidenceLow,
		0.50: ConfidenceLow,
	}
	for score, want := range cases {
		if got := bucket(score); got != want {
			t.Errorf("bucket(%v) = %v, want %v", score, got, want)
		}
	}
}

func TestStrategySubset(t *testing.T) {
	existing := domain.Donor{ID: "d-1", FirstName: "Jane", LastName: "Doe", Email: "jane@example.com", Active: true}
	lookup := newFakeLookup(existing)
	det := NewDetector(lookup, DefaultOptions())

	// Only the phone strategy enabled: the email index must not be hit.
	matches, err := det.FindDuplicates(context.Background(), "org-1",
		Candidate{FirstName: "Jane", LastName: "Doe", Email: "jane@example.com"},
		[]Strategy{StrategyPhone})
	if err != nil {
		t.Fatalf("FindDuplicates: %v", err)
	}
	if lookup.calls["email"] != 0 {
		t.Error("email lookup ran with only phone strategy enabled")
	}
	if len(matches) != 0 {
		t.Errorf("unexpected matches: %+v", matches)
	}
}
