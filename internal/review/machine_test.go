package review

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billscan/billscan/internal/model"
)

var caseNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func pendingCase() *model.ReviewCase {
	res := &model.Resolution{
		DocumentID: "doc-1",
		Contradictions: []model.Contradiction{
			{Rule: "arithmetic_balance", Severity: model.SeverityWarning},
		},
	}
	return NewCase("doc-1", "v-1", res, caseNow)
}

func step(t *testing.T, c *model.ReviewCase, action model.CaseAction, reason string) *model.ReviewCase {
	t.Helper()
	next, err := Apply(c, Request{
		Action:  action,
		Actor:   "reviewer-7",
		Reason:  reason,
		Version: c.Version,
		At:      caseNow.Add(time.Minute),
	})
	require.NoError(t, err)
	return next
}

func TestApprovalPathRecordsAudit(t *testing.T) {
	c := pendingCase()
	assert.Equal(t, model.StatePending, c.State)
	assert.Equal(t, model.SeverityWarning, c.Severity)

	c = step(t, c, model.ActionStartReview, "")
	assert.Equal(t, model.StateInReview, c.State)

	c = step(t, c, model.ActionApprove, "")
	assert.Equal(t, model.StateApproved, c.State)

	require.Len(t, c.Audit, 2)
	assert.Equal(t, "reviewer-7", c.Audit[1].Actor)
	assert.Equal(t, model.StateInReview, c.Audit[1].From)
	assert.Equal(t, model.StateApproved, c.Audit[1].To)
	assert.False(t, c.Audit[1].At.IsZero())
	// The approved case still carries its warning for the exported snapshot.
	assert.Equal(t, model.SeverityWarning, c.Resolution.MaxSeverity())
}

func TestRejectRequiresReason(t *testing.T) {
	c := step(t, pendingCase(), model.ActionStartReview, "")

	_, err := Apply(c, Request{Action: model.ActionReject, Actor: "reviewer-7", Version: c.Version})
	assert.True(t, eris.Is(err, ErrReasonRequired))

	c = step(t, c, model.ActionReject, "vendor name unreadable")
	assert.Equal(t, model.StateRejected, c.State)
	assert.Equal(t, "vendor name unreadable", c.Audit[len(c.Audit)-1].Reason)
}

func TestIllegalTransitions(t *testing.T) {
	tests := []struct {
		state  model.CaseState
		action model.CaseAction
	}{
		{model.StatePending, model.ActionApprove},
		{model.StatePending, model.ActionReject},
		{model.StatePending, model.ActionArchive},
		{model.StateInReview, model.ActionStartReview},
		{model.StateInReview, model.ActionArchive},
		{model.StateRejected, model.ActionReopen},
		{model.StateRejected, model.ActionApprove},
		{model.StateArchived, model.ActionStartReview},
		{model.StateArchived, model.ActionReopen},
		{model.StateArchived, model.ActionArchive},
	}
	for _, tt := range tests {
		c := pendingCase()
		c.State = tt.state
		_, err := Apply(c, Request{Action: tt.action, Actor: "r", Reason: "x", Version: c.Version})
		assert.True(t, eris.Is(err, ErrIllegalTransition), "%s from %s", tt.action, tt.state)
	}
}

func TestReopenExactlyOnce(t *testing.T) {
	c := pendingCase()
	c = step(t, c, model.ActionStartReview, "")
	c = step(t, c, model.ActionApprove, "")

	c = step(t, c, model.ActionReopen, "totals look wrong")
	assert.Equal(t, model.StateInReview, c.State)
	assert.True(t, c.Reopened)

	c = step(t, c, model.ActionApprove, "")
	_, err := Apply(c, Request{Action: model.ActionReopen, Actor: "r", Reason: "again", Version: c.Version})
	assert.True(t, eris.Is(err, ErrAlreadyReopened))
}

func TestStaleVersionConflict(t *testing.T) {
	c := pendingCase()
	fresh := step(t, c, model.ActionStartReview, "")

	// A second reviewer still holds the pending copy.
	_, err := Apply(fresh, Request{Action: model.ActionApprove, Actor: "r2", Version: c.Version})
	assert.True(t, eris.Is(err, ErrStaleVersion))
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	c := pendingCase()
	next := step(t, c, model.ActionStartReview, "")

	assert.Equal(t, model.StatePending, c.State)
	assert.Empty(t, c.Audit)
	assert.Equal(t, int64(1), c.Version)
	assert.Equal(t, int64(2), next.Version)
}

func TestArchiveIsTerminal(t *testing.T) {
	c := pendingCase()
	c = step(t, c, model.ActionStartReview, "")
	c = step(t, c, model.ActionReject, "duplicate bill")
	c = step(t, c, model.ActionArchive, "")
	assert.Equal(t, model.StateArchived, c.State)
	assert.Len(t, c.Audit, 3)
}

func TestSortQueueOrder(t *testing.T) {
	older := caseNow.Add(-time.Hour)
	mk := func(doc string, sev model.Severity, at time.Time) *model.ReviewCase {
		return &model.ReviewCase{DocumentID: doc, Severity: sev, CreatedAt: at}
	}
	cases := []*model.ReviewCase{
		mk("doc-c", model.SeverityWarning, older),
		mk("doc-b", model.SeverityCritical, caseNow),
		mk("doc-a", model.SeverityCritical, caseNow),
		mk("doc-d", model.SeverityCritical, older),
	}
	SortQueue(cases)

	got := make([]string, len(cases))
	for i, c := range cases {
		got[i] = c.DocumentID
	}
	assert.Equal(t, []string{"doc-d", "doc-a", "doc-b", "doc-c"}, got)
}
