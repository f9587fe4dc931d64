package dedup

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/brightwell/donorhub/internal/domain"
	"github.com/brightwell/donorhub/internal/pkg/metrics"
)

// DonorLookup is the slice of the donor store the detector needs.
// Exact lookups are expected to be indexed; the city scan is bounded by
// the limit argument. Implementations return active donors only.
type DonorLookup interface {
	FindByEmail(ctx context.Context, orgID, email string) ([]domain.Donor, error)
	FindByPhone(ctx context.Context, orgID, phoneDigits string) ([]domain.Donor, error)
	FindByName(ctx context.Context, orgID, firstName, lastName string, limit int) ([]domain.Donor, error)
	FindByCity(ctx context.Context, orgID, city string, limit int) ([]domain.Donor, error)
}

// Options tunes detector cost bounds.
type Options struct {
	// PoolLimit caps how many records the fuzzy name phase will score.
	PoolLimit int
	// MaxResults caps the ranked result list.
	MaxResults int
	// ReconfirmNames runs the name phase even when an exact email or
	// phone hit already identified the donor.
	ReconfirmNames bool
}

// DefaultOptions mirrors the documented cost bounds.
func DefaultOptions() Options {
	return Options{PoolLimit: 50, MaxResults: 10}
}

// Detector finds likely-duplicate donors for a candidate attribute set.
type Detector struct {
	store DonorLookup
	opts  Options
}

// NewDetector creates a detector over the given donor lookup.
func NewDetector(store DonorLookup, opts Options) *Detector {
	if opts.PoolLimit <= 0 {
		opts.PoolLimit = 50
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 10
	}
	return &Detector{store: store, opts: opts}
}

// accumulator collects weighted strategy contributions per donor.
type accumulator struct {
	donor       domain.Donor
	scoreWeight float64
	totalWeight float64
	reasons     []string
}

func (a *accumulator) add(score, weight float64, reason string) {
	a.scoreWeight += score * weight
	a.totalWeight += weight
	a.reasons = append(a.reasons, reason)
}

// FindDuplicates runs the enabled strategies cheap-first and returns at
// most MaxResults matches, ranked by weighted score descending.
func (d *Detector) FindDuplicates(ctx context.Context, orgID string, c Candidate, strategies []Strategy) ([]Match, error) {
	start := time.Now()
	defer func() { metrics.ObserveDedupScan(time.Since(start)) }()

	if len(strategies) == 0 {
		strategies = AllStrategies
	}
	enabled := make(map[Strategy]bool, len(strategies))
	for _, s := range strategies {
		enabled[s] = true
	}

	acc := make(map[string]*accumulator)
	exactHit := false

	// Phase 1: exact lookups against indexed columns.
	if enabled[StrategyEmail] {
		if email := NormalizeEmail(c.Email); email != "" {
			donors, err := d.store.FindByEmail(ctx, orgID, email)
			if err != nil {
				return nil, fmt.Errorf("email lookup: %w", err)
			}
			for _, donor := range donors {
				d.accum(acc, donor).add(1.0, weightEmail, "exact email match")
				exactHit = true
			}
		}
	}
	if enabled[StrategyPhone] {
		if digits := NormalizePhone(c.Phone); digits != "" {
			donors, err := d.store.FindByPhone(ctx, orgID, digits)
			if err != nil {
				return nil, fmt.Errorf("phone lookup: %w", err)
			}
			for _, donor := range donors {
				d.accum(acc, donor).add(1.0, weightPhone, "exact phone match")
				exactHit = true
			}
		}
	}

	// Phase 2: name-based matching over a bounded candidate pool.
	// Skipped once an exact identifier already hit, unless the caller
	// asked for reconfirmation.
	if enabled[StrategyName] && (!exactHit || d.opts.ReconfirmNames) {
		if err := d.runNamePhase(ctx, orgID, c, acc); err != nil {
			return nil, err
		}
	}

	// Phase 3: student linkage for parent donors.
	if enabled[StrategyStudent] && strings.TrimSpace(c.StudentName) != "" {
		if err := d.runStudentPhase(ctx, orgID, c, acc); err != nil {
			return nil, err
		}
	}

	return d.rank(acc), nil
}

func (d *Detector) runNamePhase(ctx context.Context, orgID string, c Candidate, acc map[string]*accumulator) error {
	if strings.TrimSpace(c.FirstName) == "" && strings.TrimSpace(c.LastName) == "" {
		return nil
	}

	pool, err := d.namePool(ctx, orgID, c)
	if err != nil {
		return err
	}

	for _, donor := range pool {
		nameSim := nameSimilarity(c.FirstName, c.LastName, donor.FirstName, donor.LastName)
		if nameSim < nameGate {
			continue
		}
		addrSim := addressSimilarity(c.Address, c.City, c.Zip, donor.Address, donor.City, donor.Zip)

		// Strongest applicable signal wins for this phase; the three
		// name signals overlap and must not stack for one donor.
		exactName := strings.EqualFold(strings.TrimSpace(c.FirstName), strings.TrimSpace(donor.FirstName)) &&
			strings.EqualFold(strings.TrimSpace(c.LastName), strings.TrimSpace(donor.LastName))
		zipMatch := c.Zip != "" && strings.TrimSpace(c.Zip) == strings.TrimSpace(donor.Zip)

		switch {
		case exactName && zipMatch:
			d.accum(acc, donor).add(1.0, weightNameAddress, "exact name with matching ZIP")
		case addrSim >= addressGate:
			d.accum(acc, donor).add((nameSim+addrSim)/2.0, weightNameAddress, "name and address match")
		default:
			d.accum(acc, donor).add(nameSim, weightNameOnly, "similar name")
		}
	}
	return nil
}

// namePool gathers exact-name hits plus a bounded same-city scan.
func (d *Detector) namePool(ctx context.Context, orgID string, c Candidate) ([]domain.Donor, error) {
	seen := make(map[string]bool)
	var pool []domain.Donor

	byName, err := d.store.FindByName(ctx, orgID, c.FirstName, c.LastName, d.opts.PoolLimit)
	if err != nil {
		return nil, fmt.Errorf("name lookup: %w", err)
	}
	for _, donor := range byName {
		if !seen[donor.ID] {
			seen[donor.ID] = true
			pool = append(pool, donor)
		}
	}

	if c.City != "" && len(pool) < d.opts.PoolLimit {
		byCity, err := d.store.FindByCity(ctx, orgID, c.City, d.opts.PoolLimit-len(pool))
		if err != nil {
			return nil, fmt.Errorf("city scan: %w", err)
		}
		for _, donor := range byCity {
			if !seen[donor.ID] {
				seen[donor.ID] = true
				pool = append(pool, donor)
			}
		}
	}

	if len(pool) > d.opts.PoolLimit {
		pool = pool[:d.opts.PoolLimit]
	}
	return pool, nil
}

func (d *Detector) runStudentPhase(ctx context.Context, orgID string, c Candidate, acc map[string]*accumulator) error {
	// Scored against donors already surfaced plus the bounded name pool,
	// so the phase adds no unbounded scans of its own.
	pool, err := d.namePool(ctx, orgID, c)
	if err != nil {
		return err
	}
	candidates := make(map[string]domain.Donor, len(acc)+len(pool))
	for id, a := range acc {
		candidates[id] = a.donor
	}
	for _, donor := range pool {
		candidates[donor.ID] = donor
	}

	for _, donor := range candidates {
		if strings.TrimSpace(donor.StudentName) == "" {
			continue
		}
		sim := Similarity(c.StudentName, donor.StudentName)
		if sim >= studentGate {
			d.accum(acc, donor).add(sim, weightStudent, "student name match")
		}
	}
	return nil
}

func (d *Detector) accum(acc map[string]*accumulator, donor domain.Donor) *accumulator {
	a, ok := acc[donor.ID]
	if !ok {
		a = &accumulator{donor: donor}
		acc[donor.ID] = a
	}
	return a
}

// rank finalizes weighted scores, drops weak matches, and caps output.
func (d *Detector) rank(acc map[string]*accumulator) []Match {
	matches := make([]Match, 0, len(acc))
	for _, a := range acc {
		if a.totalWeight == 0 {
			continue
		}
		score := a.scoreWeight / a.totalWeight
		if score < minMatchScore {
			continue
		}
		matches = append(matches, Match{
			Donor:      a.donor,
			Score:      score,
			Reasons:    a.reasons,
			Confidence: bucket(score),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Donor.ID < matches[j].Donor.ID
	})

	if len(matches) > d.opts.MaxResults {
		matches = matches[:d.opts.MaxResults]
	}
	return matches
}
