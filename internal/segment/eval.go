package segment

import (
	"strings"
	"time"

	"github.com/brightwell/donorhub/internal/domain"
)

// Evaluate runs the compiled filter against a single donor in-process.
// Soft-deleted donors never match, regardless of the rule tree.
func (f *Filter) Evaluate(d *domain.Donor, now time.Time) bool {
	if d == nil || !d.Active {
		return false
	}
	return evalGroup(f.root, d, now)
}

func evalGroup(g *groupNode, d *domain.Donor, now time.Time) bool {
	// An empty group constrains nothing.
	result := true
	if len(g.children) > 0 {
		if g.and {
			result = true
			for _, c := range g.children {
				if !evalChild(c, d, now) {
					result = false
					break
				}
			}
		} else {
			result = false
			for _, c := range g.children {
				if evalChild(c, d, now) {
					result = true
					break
				}
			}
		}
	}
	// NOT applies to the combined result, not distributed over children.
	if g.not {
		return !result
	}
	return result
}

func evalChild(n node, d *domain.Donor, now time.Time) bool {
	switch c := n.(type) {
	case *groupNode:
		return evalGroup(c, d, now)
	case *ruleNode:
		return evalRule(c, d, now)
	}
	return false
}

func evalRule(r *ruleNode, d *domain.Donor, now time.Time) bool {
	switch r.spec.Kind {
	case KindString:
		return evalString(r, stringField(d, r.field))
	case KindNumber:
		v, present := numberField(d, r.field)
		return evalNumber(r, v, present)
	case KindDate:
		return evalDate(r, dateField(d, r.field), now)
	}
	return false
}

func evalString(r *ruleNode, v string) bool {
	switch r.op {
	case OpEquals:
		return v == r.str
	case OpNotEquals:
		return v != r.str
	case OpContains:
		return r.str != "" && strings.Contains(strings.ToLower(v), strings.ToLower(r.str))
	case OpNotContains:
		return r.str == "" || !strings.Contains(strings.ToLower(v), strings.ToLower(r.str))
	case OpIn:
		for _, s := range r.strs {
			if v == s {
				return true
			}
		}
		return false
	case OpNotIn:
		for _, s := range r.strs {
			if v == s {
				return false
			}
		}
		return true
	case OpIsNull:
		return v == ""
	case OpIsNotNull:
		return v != ""
	}
	return false
}

func evalNumber(r *ruleNode, v float64, present bool) bool {
	switch r.op {
	case OpIsNull:
		return !present
	case OpIsNotNull:
		return present
	}
	if !present {
		return false
	}
	switch r.op {
	case OpEquals:
		return v == r.num
	case OpNotEquals:
		return v != r.num
	case OpGreaterThan:
		return v > r.num
	case OpLessThan:
		return v < r.num
	case OpGreaterThanOrEqual:
		return v >= r.num
	case OpLessThanOrEqual:
		return v <= r.num
	case OpBetween:
		return v >= r.numPair[0] && v <= r.numPair[1]
	case OpIn:
		for _, n := range r.nums {
			if v == n {
				return true
			}
		}
		return false
	case OpNotIn:
		for _, n := range r.nums {
			if v == n {
				return false
			}
		}
		return true
	}
	return false
}

func evalDate(r *ruleNode, v *time.Time, now time.Time) bool {
	switch r.op {
	case OpIsNull:
		return v == nil
	case OpIsNotNull:
		return v != nil
	case OpNotInLastDays:
		// A donor with no date on record has, by definition, no activity
		// inside the window.
		if v == nil {
			return true
		}
		threshold := now.AddDate(0, 0, -r.days)
		return v.Before(threshold)
	}
	if v == nil {
		return false
	}
	switch r.op {
	case OpEquals:
		return v.Equal(r.t)
	case OpNotEquals:
		return !v.Equal(r.t)
	case OpGreaterThan:
		return v.After(r.t)
	case OpLessThan:
		return v.Before(r.t)
	case OpGreaterThanOrEqual:
		return !v.Before(r.t)
	case OpLessThanOrEqual:
		return !v.After(r.t)
	case OpBetween:
		return !v.Before(r.tPair[0]) && !v.After(r.tPair[1])
	case OpInLastDays:
		threshold := now.AddDate(0, 0, -r.days)
		return !v.Before(threshold)
	}
	return false
}

// ==========================================
// DONOR FIELD ACCESS
// ==========================================

func stringField(d *domain.Donor, field string) string {
	switch field {
	case "first_name":
		return d.FirstName
	case "last_name":
		return d.LastName
	case "email":
		return d.Email
	case "phone":
		return d.Phone
	case "address":
		return d.Address
	case "city":
		return d.City
	case "state":
		return d.State
	case "zip":
		return d.Zip
	case "donor_type":
		return string(d.DonorType)
	case "engagement_level":
		return string(d.EngagementLevel)
	case "gift_tier":
		return d.GiftTier
	case "student_name":
		return d.StudentName
	}
	return ""
}

func numberField(d *domain.Donor, field string) (float64, bool) {
	switch field {
	case "alumni_year":
		if d.AlumniYear == nil {
			return 0, false
		}
		return float64(*d.AlumniYear), true
	case "lifetime_value":
		return d.LifetimeValue, true
	case "donation_count":
		return float64(d.DonationCount), true
	case "last_gift_amount":
		return d.LastGiftAmount, true
	}
	return 0, false
}

func dateField(d *domain.Donor, field string) *time.Time {
	switch field {
	case "last_gift_at":
		return d.LastGiftAt
	case "first_gift_at":
		return d.FirstGiftAt
	case "created_at":
		t := d.CreatedAt
		if t.IsZero() {
			return nil
		}
		return &t
	}
	return nil
}
