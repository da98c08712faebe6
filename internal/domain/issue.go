package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank orders severities, critical first
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	}
	return 3
}

type Category string

const (
	CategoryDatabase    Category = "database"
	CategoryBackend     Category = "backend"
	CategoryFrontend    Category = "frontend"
	CategoryIntegration Category = "integration"
)

// Categories in report order
var Categories = []Category{CategoryDatabase, CategoryBackend, CategoryFrontend, CategoryIntegration}

func (c Category) Valid() bool {
	switch c {
	case CategoryDatabase, CategoryBackend, CategoryFrontend, CategoryIntegration:
		return true
	}
	return false
}

// CategoryOf maps a component to the issue category reported for it
func CategoryOf(c Component) Category {
	return Category(c)
}

type IssueStatus string

const (
	IssueStatusOpen       IssueStatus = "open"
	IssueStatusInProgress IssueStatus = "in-progress"
	IssueStatusResolved   IssueStatus = "resolved"
)

func (s IssueStatus) Valid() bool {
	switch s {
	case IssueStatusOpen, IssueStatusInProgress, IssueStatusResolved:
		return true
	}
	return false
}

type Issue struct {
	ID              string      `json:"id" yaml:"id" db:"id"`
	Title           string      `json:"title" yaml:"title" db:"title"`
	Severity        Severity    `json:"severity" yaml:"severity" db:"severity"`
	Category        Category    `json:"category" yaml:"category" db:"category"`
	Description     string      `json:"description" yaml:"description" db:"description"`
	Status          IssueStatus `json:"status" yaml:"status" db:"status"`
	DetectedAt      time.Time   `json:"detectedAt" yaml:"detectedAt" db:"detected_at"`
	FirstDetectedAt time.Time   `json:"firstDetectedAt" yaml:"firstDetectedAt" db:"first_detected_at"`
	ResolvedAt      *time.Time  `json:"resolvedAt,omitempty" yaml:"resolvedAt,omitempty" db:"resolved_at"`
	Occurrences     int         `json:"occurrences" yaml:"occurrences" db:"occurrences"`
}

// NewIssue builds an open issue with its stable id
func NewIssue(category Category, severity Severity, title, description string, at time.Time) Issue {
	return Issue{
		ID:              IssueID(category, title),
		Title:           title,
		Severity:        severity,
		Category:        category,
		Description:     description,
		Status:          IssueStatusOpen,
		DetectedAt:      at,
		FirstDetectedAt: at,
		Occurrences:     1,
	}
}

// IssueID hashes category and normalized title, so recurring failures share an id
func IssueID(category Category, title string) string {
	sum := sha256.Sum256([]byte(string(category) + "|" + NormalizeTitle(title)))
	return hex.EncodeToString(sum[:8])
}

// NormalizeTitle lowercases and collapses whitespace
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// IssueObservation is one immutable sighting of an issue during a run
type IssueObservation struct {
	IssueID     string    `json:"issueId" db:"issue_id"`
	RunID       string    `json:"runId" db:"run_id"`
	Severity    Severity  `json:"severity" db:"severity"`
	Description string    `json:"description" db:"description"`
	ObservedAt  time.Time `json:"observedAt" db:"observed_at"`
}
