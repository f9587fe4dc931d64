package dedup

import "github.com/brightwell/donorhub/internal/domain"

// Strategy identifies one matching technique the detector can run.
type Strategy string

const (
	StrategyEmail   Strategy = "email"
	StrategyPhone   Strategy = "phone"
	StrategyName    Strategy = "name"
	StrategyStudent Strategy = "student"
)

// AllStrategies enables every matching phase.
var AllStrategies = []Strategy{StrategyEmail, StrategyPhone, StrategyName, StrategyStudent}

// Confidence buckets a numeric score qualitatively.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Candidate is the incoming attribute set to check against the store.
type Candidate struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
	City        string `json:"city"`
	State       string `json:"state"`
	Zip         string `json:"zip"`
	StudentName string `json:"student_name"`
}

// Match is one likely-duplicate result. Matches are computed on demand
// and never persisted.
type Match struct {
	Donor      domain.Donor `json:"donor"`
	Score      float64      `json:"score"`
	Reasons    []string     `json:"reasons"`
	Confidence Confidence   `json:"confidence"`
}

// Strategy weights and gates.
const (
	weightEmail       = 3.0
	weightPhone       = 2.5
	weightNameAddress = 2.0
	weightNameOnly    = 1.5
	weightStudent     = 2.0

	nameGate    = 0.8
	addressGate = 0.7
	studentGate = 0.9

	// Scores below this never surface as matches.
	minMatchScore = 0.5
)

func bucket(score float64) Confidence {
	switch {
	case score >= 0.9:
		return ConfidenceHigh
	case score >= 0.7:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
