package review

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/billscan/billscan/internal/model"
)

// Transition errors. Callers compare with eris.Is.
var (
	// ErrIllegalTransition means the requested action is not legal from the
	// case's current state.
	ErrIllegalTransition = eris.New("review: illegal transition")
	// ErrStaleVersion means the caller acted on an out-of-date copy of the
	// case and must refetch before retrying.
	ErrStaleVersion = eris.New("review: stale case version")
	// ErrReasonRequired means the action needs an explanation from the
	// reviewer.
	ErrReasonRequired = eris.New("review: reason required")
	// ErrAlreadyReopened means the case has used its single reopen.
	ErrAlreadyReopened = eris.New("review: case already reopened once")
)

// transitions is the full legality table. Anything absent is illegal.
var transitions = map[model.CaseState]map[model.CaseAction]model.CaseState{
	model.StatePending: {
		model.ActionStartReview: model.StateInReview,
	},
	model.StateInReview: {
		model.ActionApprove: model.StateApproved,
		model.ActionReject:  model.StateRejected,
	},
	model.StateApproved: {
		model.ActionArchive: model.StateArchived,
		model.ActionReopen:  model.StateInReview,
	},
	model.StateRejected: {
		model.ActionArchive: model.StateArchived,
	},
}

// Request carries one transition attempt against a case.
type Request struct {
	Action  model.CaseAction
	Actor   string
	Reason  string
	Version int64
	At      time.Time
}

// NewCase creates a pending case for a gate-blocked document.
func NewCase(docID, vendorID string, res *model.Resolution, now time.Time) *model.ReviewCase {
	return &model.ReviewCase{
		ID:         uuid.NewString(),
		DocumentID: docID,
		VendorID:   vendorID,
		State:      model.StatePending,
		Version:    1,
		Severity:   res.MaxSeverity(),
		Resolution: res,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Apply performs one transition on a copy of the case and returns the new
// value. The input is never mutated; a transition appends exactly one audit
// entry and bumps the version. A stale request version yields ErrStaleVersion
// and the caller must refetch and retry.
func Apply(c *model.ReviewCase, req Request) (*model.ReviewCase, error) {
	if req.Actor == "" {
		return nil, eris.New("review: actor required")
	}
	if req.Version != c.Version {
		return nil, eris.Wrapf(ErrStaleVersion, "have %d, case at %d", req.Version, c.Version)
	}
	if req.Action == model.ActionReject && req.Reason == "" {
		return nil, eris.Wrap(ErrReasonRequired, "reject")
	}
	if req.Action == model.ActionReopen && c.Reopened {
		return nil, eris.Wrapf(ErrAlreadyReopened, "case %s", c.ID)
	}

	next, ok := transitions[c.State][req.Action]
	if !ok {
		return nil, eris.Wrapf(ErrIllegalTransition, "%s from %s", req.Action, c.State)
	}

	at := req.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	out := *c
	out.Audit = make([]model.AuditEntry, len(c.Audit), len(c.Audit)+1)
	copy(out.Audit, c.Audit)
	out.Audit = append(out.Audit, model.AuditEntry{
		Actor:  req.Actor,
		Action: req.Action,
		From:   c.State,
		To:     next,
		Reason: req.Reason,
		At:     at,
	})
	out.State = next
	out.Version = c.Version + 1
	out.UpdatedAt = at
	if req.Action == model.ActionReopen {
		out.Reopened = true
	}
	return &out, nil
}

// SortQueue orders cases for review: highest contradiction severity first,
// then oldest first, then document id so the order is fully deterministic.
func SortQueue(cases []*model.ReviewCase) {
	sort.SliceStable(cases, func(i, j int) bool {
		if ri, rj := cases[i].Severity.Rank(), cases[j].Severity.Rank(); ri != rj {
			return ri > rj
		}
		if !cases[i].CreatedAt.Equal(cases[j].CreatedAt) {
			return cases[i].CreatedAt.Before(cases[j].CreatedAt)
		}
		return cases[i].DocumentID < cases[j].DocumentID
	})
}
