package model

import "time"

// Severity classifies a contradiction. Critical contradictions
// unconditionally block automatic approval.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Rank orders severities for queue sorting (higher sorts first).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Contradiction is a detected conflict between resolved fields or against a
// business rule.
type Contradiction struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Fields   []string `json:"fields"`
	Message  string   `json:"message"`
}

// Resolution flags.
const (
	FlagMissing       = "missing"
	FlagLowConfidence = "lowConfidence"
	FlagPenalized     = "penalized"
	FlagUncalibrated  = "uncalibrated"
)

// Alternative is a ranked runner-up value retained for audit and review.
type Alternative struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// ResolvedField is the chosen value for one field after consensus resolution,
// cross-field validation, and confidence calibration.
//
// Confidence is the working score: consensus-boosted, then rule-penalized,
// then calibrated. RawConfidence freezes the consensus-boosted score before
// penalties and calibration touch it; it is the predictor recorded in the
// calibration ledger and the key for bucket lookups.
type ResolvedField struct {
	Field         string        `json:"field"`
	Value         string        `json:"value"`
	Raw           string        `json:"raw,omitempty"`
	Confidence    float64       `json:"confidence"`
	RawConfidence float64       `json:"raw_confidence"`
	Flags         []string      `json:"flags,omitempty"`
	Alternatives  []Alternative `json:"alternatives,omitempty"`
	Explanation   string        `json:"explanation"`
	CandidateIDs  []ArtifactID  `json:"candidate_ids,omitempty"`
}

// HasFlag reports whether the field carries the given flag.
func (f ResolvedField) HasFlag(flag string) bool {
	for _, fl := range f.Flags {
		if fl == flag {
			return true
		}
	}
	return false
}

// Resolution is the full resolved-field set for one document pass.
type Resolution struct {
	DocumentID     string                   `json:"document_id"`
	VendorID       string                   `json:"vendor_id,omitempty"`
	Fields         map[string]ResolvedField `json:"fields"`
	Contradictions []Contradiction          `json:"contradictions,omitempty"`
	ResolvedAt     time.Time                `json:"resolved_at"`
}

// MaxSeverity returns the highest contradiction severity present, or "" when
// there are none.
func (r *Resolution) MaxSeverity() Severity {
	var max Severity
	for _, c := range r.Contradictions {
		if c.Severity.Rank() > max.Rank() {
			max = c.Severity
		}
	}
	return max
}

// HasCritical reports whether any critical contradiction is present.
func (r *Resolution) HasCritical() bool {
	return r.MaxSeverity() == SeverityCritical
}

// Snapshot is the immutable field-snapshot record emitted for an approved
// case. Downstream write failures never mutate or roll back a snapshot.
type Snapshot struct {
	ID             string                   `json:"id"`
	CaseID         string                   `json:"case_id"`
	DocumentID     string                   `json:"document_id"`
	Fields         map[string]ResolvedField `json:"fields"`
	Contradictions []Contradiction          `json:"contradictions,omitempty"`
	ExportedAt     time.Time                `json:"exported_at"`
}
