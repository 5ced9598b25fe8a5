package model

import "time"

// CaseState is the review lifecycle state of a document.
type CaseState string

const (
	StatePending  CaseState = "pending"
	StateInReview CaseState = "in_review"
	StateApproved CaseState = "approved"
	StateRejected CaseState = "rejected"
	StateArchived CaseState = "archived"
)

// CaseAction is a reviewer-initiated transition request.
type CaseAction string

const (
	ActionStartReview CaseAction = "start_review"
	ActionApprove     CaseAction = "approve"
	ActionReject      CaseAction = "reject"
	ActionArchive     CaseAction = "archive"
	ActionReopen      CaseAction = "reopen"
)

// AuditEntry records one state transition. The audit trail is append-only:
// every transition appends exactly one entry and entries are never edited.
type AuditEntry struct {
	Actor  string     `json:"actor"`
	Action CaseAction `json:"action"`
	From   CaseState  `json:"from"`
	To     CaseState  `json:"to"`
	Reason string     `json:"reason,omitempty"`
	At     time.Time  `json:"at"`
}

// ReviewCase is the unit of work for a document awaiting or having received
// human disposition. Version implements optimistic locking: a transition
// carrying a stale version is rejected, never silently overwritten.
type ReviewCase struct {
	ID         string       `json:"id"`
	DocumentID string       `json:"document_id"`
	VendorID   string       `json:"vendor_id,omitempty"`
	State      CaseState    `json:"state"`
	Version    int64        `json:"version"`
	Severity   Severity     `json:"severity,omitempty"`
	Resolution *Resolution  `json:"resolution,omitempty"`
	Audit      []AuditEntry `json:"audit"`
	Reopened   bool         `json:"reopened"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}
